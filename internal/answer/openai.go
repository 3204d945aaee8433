package answer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ent0n29/kiosk/internal/observability"
)

const DefaultModel = "gpt-4o-mini"

// OpenAIAnswerer answers through an OpenAI-compatible chat completions API.
type OpenAIAnswerer struct {
	client  oai.Client
	model   string
	prompts PromptBuilder
}

func NewOpenAIAnswerer(apiKey, model, baseURL string, timeout time.Duration, prompts PromptBuilder) (*OpenAIAnswerer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}
	if strings.TrimSpace(baseURL) != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: timeout}))
	}

	return &OpenAIAnswerer{
		client:  oai.NewClient(reqOpts...),
		model:   model,
		prompts: prompts,
	}, nil
}

func (a *OpenAIAnswerer) Answer(ctx context.Context, req Request) (resp Response, err error) {
	lang := NormalizeLanguage(req.Language)
	ctx, span := observability.StartSpan(ctx, "answer.openai",
		trace.WithAttributes(
			attribute.String("answer.model", a.model),
			attribute.String("answer.language", lang),
		),
	)
	defer func() { observability.EndSpan(span, err) }()

	completion, err := a.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(a.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(a.prompts.System(lang)),
			oai.UserMessage(req.Text),
		},
	})
	if err != nil {
		return Response{}, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Response{}, errors.New("openai: empty choices in response")
	}
	return Response{
		Reply:    strings.TrimSpace(completion.Choices[0].Message.Content),
		Language: lang,
	}, nil
}
