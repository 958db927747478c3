package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnknownDocumentType = errors.New("unknown document type")

// DocumentType is the closed set of media kinds the ingestion pipeline accepts.
type DocumentType string

const (
	TypePDF   DocumentType = "pdf"
	TypeAudio DocumentType = "audio"
	TypeVideo DocumentType = "video"
)

func ParseDocumentType(s string) (DocumentType, error) {
	switch DocumentType(strings.ToLower(strings.TrimSpace(s))) {
	case TypePDF:
		return TypePDF, nil
	case TypeAudio:
		return TypeAudio, nil
	case TypeVideo:
		return TypeVideo, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDocumentType, s)
}

var extensionTypes = map[string]DocumentType{
	".pdf":  TypePDF,
	".mp3":  TypeAudio,
	".wav":  TypeAudio,
	".m4a":  TypeAudio,
	".flac": TypeAudio,
	".ogg":  TypeAudio,
	".mp4":  TypeVideo,
	".webm": TypeVideo,
	".mkv":  TypeVideo,
	".avi":  TypeVideo,
	".mov":  TypeVideo,
}

// DocumentTypeFromExtension maps an upload file extension (with the dot) to its type.
func DocumentTypeFromExtension(ext string) (DocumentType, error) {
	if t, ok := extensionTypes[strings.ToLower(ext)]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: extension %q", ErrUnknownDocumentType, ext)
}

// IsMedia reports whether the document carries a time axis.
func (t DocumentType) IsMedia() bool {
	return t == TypeAudio || t == TypeVideo
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

type Document struct {
	ID               string             `json:"id"`
	Filename         string             `json:"filename"`
	OriginalFilename string             `json:"original_filename"`
	Type             DocumentType       `json:"document_type"`
	Status           Status             `json:"status"`
	FilePath         string             `json:"-"`
	FileSize         int64              `json:"file_size"`
	ContentHash      string             `json:"-"`
	Text             *string            `json:"text_content,omitempty"`
	Duration         *float64           `json:"duration,omitempty"`
	Timestamps       []TimestampSegment `json:"timestamps"`
	Error            *string            `json:"processing_error,omitempty"`
	Summary          *string            `json:"summary,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// StatusUpdate carries the fields committed by one state transition.
// Only the fields that belong to Status are written.
type StatusUpdate struct {
	Status     Status
	Text       string
	Duration   *float64
	Timestamps []TimestampSegment
	Error      string
}
