package openai

import (
	"context"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/sashabaranov/go-openai"

	domai "github.com/bryanwahyu/profile-insight/internal/domain/ai"
	domain "github.com/bryanwahyu/profile-insight/internal/domain/analysis"
	"github.com/bryanwahyu/profile-insight/internal/infra/ai/prompt"
	"github.com/bryanwahyu/profile-insight/internal/logger"
)

const (
	defaultModel = "gpt-4o-mini"
	maxTokens    = 512
)

type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
}

// Client implements the analysis Generator. It never retries; a failed call
// is terminal for the delivery that made it.
type Client struct {
	*openai.Client
	Model       string
	Temperature float32
}

func NewClient(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Client{Client: openai.NewClientWithConfig(oc), Model: model, Temperature: cfg.Temperature}
}

func (c *Client) Generate(ctx context.Context, in domain.Input) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.Model,
		Temperature: c.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.GetSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: prompt.GetUserPrompt(in)},
		},
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if isReasoningModel(c.Model) {
		req.MaxCompletionTokens = maxTokens
		req.Temperature = 0
	} else {
		req.MaxTokens = maxTokens
	}

	logger.FromContext(ctx).Debug("Generating analysis with OpenAI")

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", providerError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.Mark(domai.ErrEmptyResponse, domain.ErrProvider)
	}
	msg := strings.TrimSpace(resp.Choices[0].Message.Content)
	if msg == "" {
		return "", errors.Mark(domai.ErrEmptyResponse, domain.ErrProvider)
	}
	return msg, nil
}

func isReasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

func providerError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		err = errors.Mark(err, domai.ErrQuotaExceeded)
	}
	return errors.Mark(err, domain.ErrProvider)
}
