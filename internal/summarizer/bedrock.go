package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/DeafMist/pneumo-triage/backend/internal/models"
)

// documentName must only hold alphanumerics, single spaces, hyphens,
// parentheses and square brackets.
const documentName = "medical-report"

type converser interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Bedrock summarises reports with the Converse API. PDFs are attached as
// document blocks so the model reads the original file.
type Bedrock struct {
	client      converser
	model       string
	maxTokens   int32
	temperature float32
	budget      *TokenBudget
	log         *slog.Logger
}

// BedrockOptions configures the Bedrock provider.
type BedrockOptions struct {
	Region          string
	Model           string
	MaxTokens       int32
	Temperature     float32
	MaxPromptTokens int
}

// NewBedrock loads AWS credentials from the default chain and creates a
// Converse-backed summarizer.
func NewBedrock(ctx context.Context, opts BedrockOptions, log *slog.Logger) (*Bedrock, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newBedrock(bedrockruntime.NewFromConfig(cfg), opts, log), nil
}

func newBedrock(client converser, opts BedrockOptions, log *slog.Logger) *Bedrock {
	if log == nil {
		log = slog.Default()
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Bedrock{
		client:      client,
		model:       opts.Model,
		maxTokens:   maxTokens,
		temperature: opts.Temperature,
		budget:      NewTokenBudget(opts.Model, opts.MaxPromptTokens),
		log:         log,
	}
}

// Summarize implements Summarizer.
func (b *Bedrock) Summarize(ctx context.Context, input Input) (string, error) {
	var content []types.ContentBlock

	if input.Kind == models.KindPDF {
		if len(input.Data) == 0 {
			return "", &Error{Op: "Summarize", Message: "empty pdf payload"}
		}
		content = append(content, &types.ContentBlockMemberDocument{
			Value: types.DocumentBlock{
				Format: types.DocumentFormatPdf,
				Name:   aws.String(documentName),
				Source: &types.DocumentSourceMemberBytes{Value: input.Data},
			},
		})
	} else {
		text, truncated, err := b.budget.Fit(input.Text)
		if err != nil {
			return "", &Error{Op: "Summarize", Message: "failed to apply prompt budget", Err: err}
		}
		if truncated {
			b.log.Warn("report truncated to prompt budget", "name", input.Name, "model", b.model)
		}
		input.Text = text
	}

	content = append(content, &types.ContentBlockMemberText{Value: BuildPrompt(input)})

	out, err := b.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(b.model),
		Messages: []types.Message{
			{Role: types.ConversationRoleUser, Content: content},
		},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(b.maxTokens),
			Temperature: aws.Float32(b.temperature),
		},
	})
	if err != nil {
		return "", handleBedrockError(err)
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", &Error{Op: "Summarize", Message: "no message in model output"}
	}

	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}

	summary := strings.TrimSpace(sb.String())
	if summary == "" {
		return "", &Error{Op: "Summarize", Message: "empty response from model"}
	}
	return summary, nil
}

func handleBedrockError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ValidationException":
			return &Error{Op: "Summarize", Message: "invalid request", Err: err}
		case "AccessDeniedException", "UnrecognizedClientException":
			return &Error{Op: "Summarize", Message: "access denied", Err: err}
		case "ThrottlingException", "ServiceQuotaExceededException":
			return &Error{Op: "Summarize", Message: "provider rate limit exceeded", Err: err}
		case "InternalServerException", "ServiceUnavailableException", "ModelNotReadyException":
			return &Error{Op: "Summarize", Message: "provider unavailable", Err: err}
		}
	}
	return &Error{Op: "Summarize", Message: "converse failed", Err: err}
}
