// File: internal/llmclient/openai_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/config"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// chatCompleter is the slice of the OpenAI SDK the client needs. Tests swap
// in a fake.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient implements the LLMClient interface against any
// OpenAI-compatible chat completion API (OpenAI itself, Groq).
type OpenAIClient struct {
	api       chatCompleter
	model     string
	maxTokens int
	limiter   *rate.Limiter
	logger    *zap.Logger
}

func NewOpenAIClient(cfg config.LLMConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", cfg.Provider)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	switch {
	case cfg.Endpoint != "":
		clientCfg.BaseURL = cfg.Endpoint
	case cfg.Provider == config.ProviderGroq:
		clientCfg.BaseURL = groqBaseURL
	}
	if cfg.APITimeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.APITimeout}
	}

	return &OpenAIClient{
		api:       openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		limiter:   newLimiter(cfg.RequestsPerMinute),
		logger:    logger.Named("llm_client." + cfg.Provider),
	}, nil
}

// Generate sends the prompts to the chat completion endpoint. When the
// backend rejects the JSON response format with a 400, the request is
// replayed once without it; some Groq models do not support it.
func (c *OpenAIClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: float32(req.Temperature),
		MaxTokens:   c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.ForceJSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil && req.ForceJSON && isBadRequest(err) {
		c.logger.Warn("Backend rejected JSON response format, retrying without it.", zap.Error(err))
		chatReq.ResponseFormat = nil
		resp, err = c.api.CreateChatCompletion(ctx, chatReq)
	}
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model %q returned no choices", c.model)
	}

	c.logger.Debug("LLM generation complete.",
		zap.Duration("duration", time.Since(start)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))
	return resp.Choices[0].Message.Content, nil
}

func isBadRequest(err error) bool {
	var apiErr *openai.APIError
	return errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusBadRequest
}

func newLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(rpm))/60.0, 1)
}
