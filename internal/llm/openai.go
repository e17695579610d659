package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI is a Completer for OpenAI and OpenAI-compatible chat endpoints.
type OpenAI struct {
	client       *openai.Client
	defaultModel string
}

var _ Completer = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI backend.
func NewOpenAI(cfg Config) *OpenAI {
	clientCfg := openai.DefaultConfig(apiKey(cfg.APIKey, "OPENAI_API_KEY"))
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.BaseURL = strings.TrimRight(base, "/")
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAI{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: pickModel(cfg.Model, "gpt-4o"),
	}
}

// Name returns the provider name.
func (p *OpenAI) Name() string {
	return ProviderOpenAI
}

// Complete sends a chat completion with a system and a user message.
func (p *OpenAI) Complete(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	model := pickModel(req.Model, p.defaultModel)

	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return nil, wrapOpenAIError(err, model)
	}
	if len(resp.Choices) == 0 {
		return nil, malformed(ProviderOpenAI, model, "response has no choices")
	}
	return &Response{
		Text:         resp.Choices[0].Message.Content,
		Model:        pickModel(resp.Model, model),
		Provider:     ProviderOpenAI,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func wrapOpenAIError(err error, model string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		pe := NewProviderError(ProviderOpenAI, model, err).WithStatus(apiErr.HTTPStatusCode)
		if code, ok := apiErr.Code.(string); ok && code != "" {
			pe = pe.WithCode(code)
		}
		return pe.WithMessage(apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewProviderError(ProviderOpenAI, model, err).WithStatus(reqErr.HTTPStatusCode)
	}
	return NewProviderError(ProviderOpenAI, model, err)
}
