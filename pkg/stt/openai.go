package stt

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// OpenAITranscriber implements Transcriber on the OpenAI audio API
type OpenAITranscriber struct {
	client *openai.Client
	model  string
	logger *logrus.Logger
}

// NewOpenAITranscriber creates a whisper-backed transcriber; baseURL may
// point at any compatible endpoint
func NewOpenAITranscriber(apiKey, baseURL, model string, logger *logrus.Logger) *OpenAITranscriber {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.Whisper1
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &OpenAITranscriber{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}
}

// Transcribe requests verbose JSON so the response carries segments
func (t *OpenAITranscriber) Transcribe(ctx context.Context, media io.Reader, filename, languageHint string) (*Result, error) {
	req := openai.AudioRequest{
		Model:    t.model,
		Reader:   media,
		FilePath: filename,
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: languageHint,
	}

	resp, err := t.client.CreateTranscription(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			t.logger.WithFields(logrus.Fields{
				"status": apiErr.HTTPStatusCode,
				"code":   apiErr.Code,
			}).Error("transcription request rejected")
			return nil, &ProviderError{
				StatusCode: apiErr.HTTPStatusCode,
				Code:       fmt.Sprintf("%v", apiErr.Code),
				Message:    apiErr.Message,
			}
		}
		return nil, &ProviderError{Message: err.Error()}
	}

	segments := make([]Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segments = append(segments, Segment{
			Start:      s.Start,
			End:        s.End,
			Text:       s.Text,
			Confidence: 1 - s.NoSpeechProb,
		})
	}

	t.logger.WithFields(logrus.Fields{
		"language": resp.Language,
		"segments": len(segments),
	}).Info("transcription completed")

	return &Result{
		Text:     resp.Text,
		Segments: segments,
		Language: resp.Language,
	}, nil
}
