package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Recognition is the raw output of a speech recognition backend.
type Recognition struct {
	Text     string
	Language string
	Segments []Segment
}

type SpeechRecognizer interface {
	Recognize(ctx context.Context, audioPath string) (*Recognition, error)
}

type Transcript struct {
	Text     string
	Segments []Segment
	Duration float64
	Language string
}

type Transcriber struct {
	recognizer SpeechRecognizer
	runner     CommandRunner
	ffmpeg     string
}

func NewTranscriber(recognizer SpeechRecognizer, runner CommandRunner, ffmpeg string) *Transcriber {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return &Transcriber{recognizer: recognizer, runner: runner, ffmpeg: ffmpeg}
}

func (t *Transcriber) TranscribeAudio(ctx context.Context, path string) (*Transcript, error) {
	rec, err := t.recognizer.Recognize(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}

	segments := make([]Segment, len(rec.Segments))
	for i, s := range rec.Segments {
		segments[i] = Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)}
	}

	tr := &Transcript{
		Text:     strings.TrimSpace(rec.Text),
		Segments: segments,
		Language: rec.Language,
	}
	if tr.Language == "" {
		tr.Language = "en"
	}
	if len(segments) > 0 {
		tr.Duration = segments[len(segments)-1].End
	}
	return tr, nil
}

// TranscribeVideo demuxes the audio track to 16 kHz mono PCM and transcribes
// it. The intermediate file is removed on every path.
func (t *Transcriber) TranscribeVideo(ctx context.Context, path string) (*Transcript, error) {
	tmp, err := os.CreateTemp("", "docqa-audio-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp audio: %w", err)
	}
	audioPath := tmp.Name()
	tmp.Close()
	defer func() {
		if err := os.Remove(audioPath); err != nil && !os.IsNotExist(err) {
			slog.WarnContext(ctx, "failed to remove temp audio", "path", audioPath, "error", err)
		}
	}()

	_, err = t.runner.Run(ctx, t.ffmpeg,
		"-i", path,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		"-y", audioPath,
	)
	if err != nil {
		return nil, fmt.Errorf("extract audio: %w", err)
	}

	return t.TranscribeAudio(ctx, audioPath)
}
