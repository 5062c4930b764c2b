package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/latestcomment/expert-dialogue/internal/models"
)

const DefaultClaudeModel = "claude-3-5-sonnet-20241022"

type ClaudeConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	MaxRetries  int
	HTTPClient  *http.Client
}

// Claude is backend B.
type Claude struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
	configured  bool
}

func NewClaude(conf ClaudeConfig) *Claude {
	if conf.Model == "" {
		conf.Model = DefaultClaudeModel
	}
	if conf.MaxTokens <= 0 {
		conf.MaxTokens = 600
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

	return &Claude{
		client:      anthropic.NewClient(reqOpts...),
		model:       conf.Model,
		maxTokens:   int64(conf.MaxTokens),
		temperature: conf.Temperature,
		configured:  conf.APIKey != "",
	}
}

func (c *Claude) ID() models.Backend { return models.BackendClaude }

func (c *Claude) Generate(ctx context.Context, prompt string) (string, error) {
	if !c.configured {
		return "", fmt.Errorf("claude: %w", ErrMissingAPIKey)
	}
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude: messages: %w", err)
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", nil
}
