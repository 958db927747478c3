package domain

// Chunk is a contiguous slice of a document's text. Start and End are rune
// offsets of the window the text was cut from.
type Chunk struct {
	Text      string   `json:"text"`
	Start     int      `json:"start"`
	End       int      `json:"end"`
	Index     int      `json:"chunk_index"`
	StartTime *float64 `json:"start_time,omitempty"`
	EndTime   *float64 `json:"end_time,omitempty"`
}

type ScoredChunk struct {
	Chunk
	Score float32 `json:"score"`
}

// TimestampSegment is a time-bounded span of a transcript. Topic is an
// optional label; positional grouping leaves it empty.
type TimestampSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Topic string  `json:"topic,omitempty"`
}

type RankedTimestamp struct {
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Text           string  `json:"text"`
	RelevanceScore float32 `json:"relevance_score"`
}
