package text

import (
	"strings"
	"unicode/utf8"

	"docqa/internal/domain"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// boundaries are tried in order; the first kind found inside the window wins.
var boundaries = []string{". ", "! ", "? ", "\n\n", "\n"}

// Chunk splits text into overlapping windows of at most chunkSize runes,
// snapping each window end to the last sentence or line boundary inside it.
//
// Blank text yields no chunks. Non-blank text that fits in one window yields a
// single chunk holding the input unchanged. Otherwise chunk texts are trimmed
// and whitespace-only windows are dropped.
func Chunk(text string, chunkSize, overlap int) []domain.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}

	runes := []rune(text)
	n := len(runes)
	if n <= chunkSize {
		return []domain.Chunk{{Text: text, Start: 0, End: n, Index: 0}}
	}

	var chunks []domain.Chunk
	start := 0
	for start < n {
		// end runs past the text on the last windows; the overlap is taken
		// from it so the tail window still advances by the full step.
		end := start + chunkSize
		if end < n {
			end = snapToBoundary(runes, start, end)
		}
		stop := min(end, n)

		piece := strings.TrimSpace(string(runes[start:stop]))
		if piece != "" {
			chunks = append(chunks, domain.Chunk{
				Text:  piece,
				Start: start,
				End:   stop,
				Index: len(chunks),
			})
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// snapToBoundary returns the offset just past the last boundary found strictly
// after start within runes[start:end], or end when there is none.
func snapToBoundary(runes []rune, start, end int) int {
	window := string(runes[start:end])
	for _, b := range boundaries {
		i := strings.LastIndex(window, b)
		if i < 0 {
			continue
		}
		offset := utf8.RuneCountInString(window[:i])
		if offset > 0 {
			return start + offset + utf8.RuneCountInString(b)
		}
	}
	return end
}
