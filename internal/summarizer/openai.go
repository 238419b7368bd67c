package summarizer

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/DeafMist/pneumo-triage/backend/internal/models"
	"github.com/DeafMist/pneumo-triage/backend/internal/pdftext"
)

// OpenAI summarises reports through a chat completion endpoint. PDFs are
// reduced to their text layer first since the endpoint takes no documents.
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float32
	budget      *TokenBudget
	log         *slog.Logger
}

// OpenAIOptions configures the OpenAI provider.
type OpenAIOptions struct {
	APIKey          string
	Model           string
	BaseURL         string
	Temperature     float32
	MaxPromptTokens int
}

// NewOpenAI creates a chat completion summarizer.
func NewOpenAI(opts OpenAIOptions, log *slog.Logger) *OpenAI {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if log == nil {
		log = slog.Default()
	}

	return &OpenAI{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		temperature: opts.Temperature,
		budget:      NewTokenBudget(opts.Model, opts.MaxPromptTokens),
		log:         log,
	}
}

// Summarize implements Summarizer.
func (o *OpenAI) Summarize(ctx context.Context, input Input) (string, error) {
	body := input.Text
	if input.Kind == models.KindPDF {
		text, err := pdftext.Extract(input.Data)
		if err != nil {
			return "", &Error{Op: "Summarize", Message: "failed to read pdf text", Err: err}
		}
		body = text
	}

	body, truncated, err := o.budget.Fit(body)
	if err != nil {
		return "", &Error{Op: "Summarize", Message: "failed to apply prompt budget", Err: err}
	}
	if truncated {
		o.log.Warn("report truncated to prompt budget", "name", input.Name, "model", o.model)
	}

	prompt := BuildPrompt(Input{Kind: models.KindText, Name: input.Name, Text: body})
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: o.temperature,
	})
	if err != nil {
		return "", handleOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Op: "Summarize", Message: "no response from model"}
	}

	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	if summary == "" {
		return "", &Error{Op: "Summarize", Message: "empty response from model"}
	}
	return summary, nil
}

func handleOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 400:
			return &Error{Op: "Summarize", Message: "invalid request", Err: err}
		case 401:
			return &Error{Op: "Summarize", Message: "invalid api key", Err: err}
		case 429:
			return &Error{Op: "Summarize", Message: "provider rate limit exceeded", Err: err}
		case 500, 502, 503:
			return &Error{Op: "Summarize", Message: "provider unavailable", Err: err}
		}
	}
	return &Error{Op: "Summarize", Message: "chat completion failed", Err: err}
}
