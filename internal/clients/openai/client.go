package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/yungbote/neurobridge-lifecycle/internal/platform/envutil"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

// Client is the slice of the OpenAI API the service uses.
type Client interface {
	// GenerateJSON runs a chat completion constrained to a JSON object response.
	GenerateJSON(ctx context.Context, system string, user string) (string, error)
	Model() string
}

type client struct {
	log     *logger.Logger
	api     *goopenai.Client
	model   string
	timeout time.Duration
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := envutil.String("OPENAI_API_KEY", "")
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL := envutil.String("OPENAI_BASE_URL", ""); baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	timeout := envutil.Seconds("OPENAI_TIMEOUT_SECONDS", 120*time.Second)
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &client{
		log:     log.With("service", "OpenAIClient"),
		api:     goopenai.NewClientWithConfig(cfg),
		model:   envutil.String("OPENAI_MODEL", "gpt-4o-mini"),
		timeout: timeout,
	}, nil
}

func (c *client) Model() string { return c.model }

func (c *client) GenerateJSON(ctx context.Context, system string, user string) (string, error) {
	req := goopenai.ChatCompletionRequest{
		Model: c.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: system},
			{Role: goopenai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		c.log.Warn("OpenAI chat completion failed", "model", c.model, "error", err)
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("openai returned empty content (finish_reason=%s)", resp.Choices[0].FinishReason)
	}
	return text, nil
}

// IsRetryable classifies an API error: rate limits, server errors and transport
// failures are worth retrying, other client errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	// no status: network or decode failure
	return true
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500 || code == 0
}
