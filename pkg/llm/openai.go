package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// ProviderError carries the provider's status and message
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm provider error (status=%d): %s", e.StatusCode, e.Message)
}

// OpenAIHandler implements the LLM interface for OpenAI-compatible endpoints
type OpenAIHandler struct {
	client    *openai.Client
	model     string
	systemMsg string
	logger    *logrus.Logger
}

// NewOpenAIHandler creates a new OpenAI-compatible handler
func NewOpenAIHandler(apiKey, baseURL, model, systemPrompt string, logger *logrus.Logger) *OpenAIHandler {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &OpenAIHandler{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		systemMsg: systemPrompt,
		logger:    logger,
	}
}

// Query queries the model with text and gets a response
func (h *OpenAIHandler) Query(ctx context.Context, prompt string) (string, error) {
	return h.query(ctx, prompt, nil)
}

// QueryJSON forces a JSON object response from the provider
func (h *OpenAIHandler) QueryJSON(ctx context.Context, prompt string) (string, error) {
	return h.query(ctx, prompt, &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	})
}

func (h *OpenAIHandler) query(ctx context.Context, prompt string, format *openai.ChatCompletionResponseFormat) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: h.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: h.systemMsg},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: format,
	}

	resp, err := h.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			h.logger.WithField("status", apiErr.HTTPStatusCode).Error("llm request rejected")
			return "", &ProviderError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
		}
		return "", &ProviderError{Message: err.Error()}
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Message: "empty completion"}
	}
	return resp.Choices[0].Message.Content, nil
}
