package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/latestcomment/expert-dialogue/internal/models"
)

const DefaultOpenAIModel = "gpt-4o-mini"

// ImpersonatorSystemPrompt steers the OpenAI persona toward the citation rules.
const ImpersonatorSystemPrompt = "You are a careful expert impersonator. Follow the user's instructions exactly, especially about citing only real papers authored or referenced by the expert."

type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string // optional; point at any OpenAI-compatible router
	MaxTokens   int    // 0 leaves the vendor default
	Temperature float64
	MaxRetries  int
	HTTPClient  *http.Client
}

// OpenAI is backend A.
type OpenAI struct {
	client      openai.Client
	model       string
	maxTokens   int64
	temperature float64
	configured  bool
}

func NewOpenAI(conf OpenAIConfig) *OpenAI {
	if conf.Model == "" {
		conf.Model = DefaultOpenAIModel
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(conf.APIKey),
		option.WithMaxRetries(conf.MaxRetries),
	}
	if conf.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(conf.BaseURL))
	}
	if conf.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(conf.HTTPClient))
	}

	return &OpenAI{
		client:      openai.NewClient(reqOpts...),
		model:       conf.Model,
		maxTokens:   int64(conf.MaxTokens),
		temperature: conf.Temperature,
		configured:  conf.APIKey != "",
	}
}

func (o *OpenAI) ID() models.Backend { return models.BackendOpenAI }

func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	if !o.configured {
		return "", fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(ImpersonatorSystemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(o.temperature),
	}
	if o.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(o.maxTokens)
	}
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
