package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/recallbench/internal/retry"
)

// Anthropic is a Completer backed by the Anthropic Messages API.
type Anthropic struct {
	client       anthropic.Client
	defaultModel string
}

var _ Completer = (*Anthropic)(nil)

// NewAnthropic creates an Anthropic backend. SDK-level retries are
// disabled so the retry client owns the attempt budget.
func NewAnthropic(cfg Config) *Anthropic {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey(cfg.APIKey, "ANTHROPIC_API_KEY")),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	return &Anthropic{
		client:       anthropic.NewClient(opts...),
		defaultModel: pickModel(cfg.Model, "claude-sonnet-4-20250514"),
	}
}

// Name returns the provider name.
func (p *Anthropic) Name() string {
	return ProviderAnthropic
}

// Complete sends a single user message with the context as system prompt.
func (p *Anthropic) Complete(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	model := pickModel(req.Model, p.defaultModel)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultConfig().MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))},
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapAnthropicError(err, model)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if len(msg.Content) == 0 {
		return nil, malformed(ProviderAnthropic, model, "response has no content blocks")
	}
	return &Response{
		Text:         text.String(),
		Model:        pickModel(string(msg.Model), model),
		Provider:     ProviderAnthropic,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

func wrapAnthropicError(err error, model string) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return NewProviderError(ProviderAnthropic, model, err)
	}
	pe := NewProviderError(ProviderAnthropic, model, err).WithStatus(apiErr.StatusCode)
	pe.Message = ""

	var body struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if raw := apiErr.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &body) == nil {
		if body.Error.Type != "" {
			pe = pe.WithCode(body.Error.Type)
		}
		pe.Message = body.Error.Message
	}
	if apiErr.Response != nil {
		pe = pe.WithRetryAfter(retry.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"), time.Now()))
	}
	return pe
}
