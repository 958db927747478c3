package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner runs an external tool and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 -- tool paths come from config
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
	}
	return stdout.Bytes(), nil
}

// Tools names the external binaries used for extraction.
type Tools struct {
	PDFToText string
	PDFInfo   string
	PDFToPPM  string
	Tesseract string
	FFmpeg    string
}

func DefaultTools() Tools {
	return Tools{
		PDFToText: "pdftotext",
		PDFInfo:   "pdfinfo",
		PDFToPPM:  "pdftoppm",
		Tesseract: "tesseract",
		FFmpeg:    "ffmpeg",
	}
}

// CheckAvailable returns the tools that cannot be found on PATH.
func (t Tools) CheckAvailable() []string {
	var missing []string
	for _, name := range []string{t.PDFToText, t.PDFInfo, t.PDFToPPM, t.Tesseract, t.FFmpeg} {
		if _, err := exec.LookPath(name); err != nil {
			missing = append(missing, name)
		}
	}
	return missing
}
