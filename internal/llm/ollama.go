package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"
)

// Ollama is a Completer backed by a local Ollama server.
type Ollama struct {
	client       *api.Client
	defaultModel string
}

var _ Completer = (*Ollama)(nil)

// NewOllama creates an Ollama backend. An empty base URL uses OLLAMA_HOST.
func NewOllama(cfg Config) (*Ollama, error) {
	host := envconfig.Host()
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		u, err := url.Parse(base)
		if err != nil {
			return nil, NewProviderError(ProviderOllama, cfg.Model, fmt.Errorf("parse base url: %w", err)).WithStatus(http.StatusBadRequest)
		}
		host = u
	}
	httpClient := http.DefaultClient
	if cfg.Timeout > 0 {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Ollama{
		client:       api.NewClient(host, httpClient),
		defaultModel: pickModel(cfg.Model, "llama3.1"),
	}, nil
}

// Name returns the provider name.
func (p *Ollama) Name() string {
	return ProviderOllama
}

// Complete runs a non-streaming generate call.
func (p *Ollama) Complete(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	model := pickModel(req.Model, p.defaultModel)

	stream := false
	options := map[string]interface{}{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	genReq := &api.GenerateRequest{
		Model:   model,
		Prompt:  req.Prompt,
		System:  req.System,
		Stream:  &stream,
		Options: options,
	}

	var text strings.Builder
	out := &Response{Model: model, Provider: ProviderOllama}
	err := p.client.Generate(ctx, genReq, func(resp api.GenerateResponse) error {
		text.WriteString(resp.Response)
		if resp.Done {
			out.InputTokens = resp.PromptEvalCount
			out.OutputTokens = resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return nil, wrapOllamaError(err, model)
	}
	out.Text = text.String()
	return out, nil
}

func wrapOllamaError(err error, model string) error {
	pe := NewProviderError(ProviderOllama, model, err)
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		pe = pe.WithStatus(statusErr.StatusCode)
		if statusErr.ErrorMessage != "" {
			pe.Message = statusErr.ErrorMessage
		}
	}
	return pe
}
