package stt

import (
	"context"
	"fmt"
	"io"
)

// Segment is a time-aligned slice of the recognized speech
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result carries the full transcription output of a provider
type Result struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
}

// ProviderError preserves the provider's status code and message without
// assuming any vendor-specific error shape beyond that
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("speech provider error (status=%d code=%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("speech provider error (status=%d): %s", e.StatusCode, e.Message)
}

// Transcriber represents a generic interface for speech-to-text providers
type Transcriber interface {
	// Transcribe sends the media binary and returns text plus time-aligned
	// segments; languageHint is best-effort and may be empty
	Transcribe(ctx context.Context, media io.Reader, filename, languageHint string) (*Result, error)
}
