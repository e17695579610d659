package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// Gemini is a Completer backed by the Gemini API.
type Gemini struct {
	client       *genai.Client
	defaultModel string
}

var _ Completer = (*Gemini)(nil)

// NewGemini creates a Gemini backend.
func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey(cfg.APIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY"),
		Backend: genai.BackendGeminiAPI,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, NewProviderError(ProviderGemini, cfg.Model, err)
	}
	return &Gemini{
		client:       client,
		defaultModel: pickModel(cfg.Model, "gemini-2.0-flash"),
	}, nil
}

// Name returns the provider name.
func (p *Gemini) Name() string {
	return ProviderGemini
}

// Complete generates content for the question with the context as system
// instruction.
func (p *Gemini) Complete(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	model := pickModel(req.Model, p.defaultModel)

	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		genCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), genCfg)
	if err != nil {
		return nil, wrapGeminiError(err, model)
	}
	if len(resp.Candidates) == 0 {
		return nil, malformed(ProviderGemini, model, "response has no candidates")
	}

	out := &Response{
		Text:     resp.Text(),
		Model:    model,
		Provider: ProviderGemini,
	}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

func wrapGeminiError(err error, model string) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		pe := NewProviderError(ProviderGemini, model, err).WithStatus(apiErr.Code)
		if apiErr.Status != "" {
			pe = pe.WithCode(apiErr.Status)
		}
		return pe.WithMessage(apiErr.Message)
	}
	return NewProviderError(ProviderGemini, model, err)
}
