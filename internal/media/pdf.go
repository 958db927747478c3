package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

const DefaultOCRMinChars = 50

type PDFPage struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
	CharCount  int    `json:"char_count"`
}

type PDFMetadata struct {
	Title   string `json:"title,omitempty"`
	Author  string `json:"author,omitempty"`
	Subject string `json:"subject,omitempty"`
	Creator string `json:"creator,omitempty"`
	Pages   int    `json:"pages"`
}

type PDFResult struct {
	Text      string
	Pages     []PDFPage
	PageCount int
	WordCount int
	CharCount int
	Metadata  PDFMetadata
	OCRUsed   bool
	// Error is set when OCR was needed but failed; Text is then empty.
	Error string
}

// PDFExtractor pulls the text layer out of a PDF with poppler and falls back
// to tesseract OCR for scanned documents.
type PDFExtractor struct {
	runner   CommandRunner
	tools    Tools
	minChars int
}

func NewPDFExtractor(runner CommandRunner, tools Tools, minChars int) *PDFExtractor {
	if minChars <= 0 {
		minChars = DefaultOCRMinChars
	}
	return &PDFExtractor{runner: runner, tools: tools, minChars: minChars}
}

func (e *PDFExtractor) Extract(ctx context.Context, path string) (*PDFResult, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	res := &PDFResult{Metadata: e.metadata(ctx, path)}

	out, err := e.runner.Run(ctx, e.tools.PDFToText, "-enc", "UTF-8", path, "-")
	if err != nil {
		slog.WarnContext(ctx, "pdf text layer unreadable, trying OCR", "path", path, "error", err)
	}
	res.Pages = splitPages(string(out))
	res.Text = joinPages(res.Pages)

	if utf8.RuneCountInString(res.Text) < e.minChars {
		res.OCRUsed = true
		pages, err := e.ocr(ctx, path)
		if err != nil {
			slog.WarnContext(ctx, "ocr failed", "path", path, "error", err)
			res.Text = ""
			res.Pages = nil
			res.Error = fmt.Sprintf("OCR failed: %v", err)
		} else {
			res.Pages = pages
			res.Text = joinPages(pages)
		}
	}

	res.PageCount = res.Metadata.Pages
	if res.PageCount == 0 {
		res.PageCount = len(res.Pages)
	}
	res.WordCount = len(strings.Fields(res.Text))
	res.CharCount = utf8.RuneCountInString(res.Text)
	return res, nil
}

// splitPages cuts pdftotext output on form feeds, one per page.
func splitPages(out string) []PDFPage {
	if out == "" {
		return nil
	}
	parts := strings.Split(out, "\f")
	if len(parts) > 1 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}
	pages := make([]PDFPage, len(parts))
	for i, p := range parts {
		pages[i] = PDFPage{PageNumber: i + 1, Text: p, CharCount: utf8.RuneCountInString(p)}
	}
	return pages
}

func joinPages(pages []PDFPage) string {
	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = p.Text
	}
	return strings.TrimSpace(strings.Join(texts, "\n\n"))
}

func (e *PDFExtractor) metadata(ctx context.Context, path string) PDFMetadata {
	var meta PDFMetadata
	out, err := e.runner.Run(ctx, e.tools.PDFInfo, path)
	if err != nil {
		slog.WarnContext(ctx, "pdfinfo failed", "path", path, "error", err)
		return meta
	}

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Title":
			meta.Title = value
		case "Author":
			meta.Author = value
		case "Subject":
			meta.Subject = value
		case "Creator":
			meta.Creator = value
		case "Pages":
			meta.Pages, _ = strconv.Atoi(value)
		}
	}
	return meta
}

// ocr rasterizes every page at 300 dpi and reads each image with tesseract.
func (e *PDFExtractor) ocr(ctx context.Context, path string) ([]PDFPage, error) {
	dir, err := os.MkdirTemp("", "docqa-ocr-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	if _, err := e.runner.Run(ctx, e.tools.PDFToPPM, "-r", "300", "-png", path, filepath.Join(dir, "page")); err != nil {
		return nil, fmt.Errorf("rasterize: %w", err)
	}

	images, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, errors.New("rasterize: no pages rendered")
	}
	// pdftoppm zero-pads page numbers to a common width.
	sort.Strings(images)

	pages := make([]PDFPage, 0, len(images))
	for i, img := range images {
		out, err := e.runner.Run(ctx, e.tools.Tesseract, img, "stdout")
		if err != nil {
			return nil, fmt.Errorf("tesseract page %d: %w", i+1, err)
		}
		text := string(out)
		pages = append(pages, PDFPage{PageNumber: i + 1, Text: text, CharCount: utf8.RuneCountInString(text)})
	}
	return pages, nil
}
