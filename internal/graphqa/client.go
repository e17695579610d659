// Package graphqa is an HTTP client for the graph-backed question-answering
// chat service used by the delegated strategy.
package graphqa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/haasonsaas/recallbench/internal/retry"
)

// Config configures the answering service endpoint.
type Config struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	Path    string `yaml:"path" json:"path"`
	// Prefix is prepended to every question to address the assistant.
	Prefix string `yaml:"prefix" json:"prefix"`
	// RoutingHint names the participant the message is routed to.
	RoutingHint string `yaml:"routing_hint" json:"routing_hint"`
	// CallerID is the user the question is posted as.
	CallerID int `yaml:"caller_id" json:"caller_id"`
	// Token, if set, is sent as a bearer Authorization header.
	Token   string        `yaml:"token" json:"token"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultConfig returns the settings of a local development server.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "http://localhost:5000",
		Path:        "/api/messages",
		Prefix:      "@AI Agent ",
		RoutingHint: "AI Agent",
		CallerID:    5,
		Timeout:     20 * time.Second,
	}
}

// ErrMalformedReply is returned when a 200 reply carries no answer field.
var ErrMalformedReply = errors.New("graphqa: reply has no answer content")

// Request is the message posted to the service.
type Request struct {
	Content  string   `json:"content"`
	Mentions []string `json:"mentions,omitempty"`
	CallerID int      `json:"userId"`
}

type replyBody struct {
	Answer     *messageBody `json:"answer"`
	AIResponse *messageBody `json:"aiResponse"`
}

type messageBody struct {
	Content *string `json:"content"`
}

// Reply is the service's answer to one question.
type Reply struct {
	Content    string
	StatusCode int
}

// Client posts questions to the answering service.
type Client struct {
	http   *http.Client
	config Config
	now    func() time.Time
}

// New creates a client, filling unset fields from DefaultConfig.
func New(cfg Config) *Client {
	d := DefaultConfig()
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = d.BaseURL
	}
	if cfg.Path == "" {
		cfg.Path = d.Path
	}
	if cfg.RoutingHint == "" {
		cfg.RoutingHint = d.RoutingHint
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "@" + cfg.RoutingHint + " "
	}
	if cfg.CallerID == 0 {
		cfg.CallerID = d.CallerID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if !strings.HasPrefix(cfg.Path, "/") {
		cfg.Path = "/" + cfg.Path
	}
	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		config: cfg,
		now:    time.Now,
	}
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.config
}

// Endpoint returns the URL questions are posted to.
func (c *Client) Endpoint() string {
	return c.config.BaseURL + c.config.Path
}

// BuildRequest addresses question to the assistant.
func (c *Client) BuildRequest(question string) Request {
	return Request{
		Content:  c.config.Prefix + question,
		Mentions: []string{c.config.RoutingHint},
		CallerID: c.config.CallerID,
	}
}

// Ask posts one question. Failures are returned as retry-classified
// errors: 429 is rate limited with any Retry-After advice, 400/401/403
// are permanent, a reply without an answer is an empty response, and
// everything else is transient.
func (c *Client) Ask(ctx context.Context, question string) (*Reply, error) {
	body, err := json.Marshal(c.BuildRequest(question))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("graphqa: marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("graphqa: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, retry.Transient(0, fmt.Errorf("graphqa: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	var decoded replyBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&decoded); err != nil {
		return nil, &retry.ServiceError{Kind: retry.KindEmpty, StatusCode: resp.StatusCode, Err: fmt.Errorf("graphqa: decode reply: %w", err)}
	}
	content, ok := decoded.content()
	if !ok {
		return nil, &retry.ServiceError{Kind: retry.KindEmpty, StatusCode: resp.StatusCode, Err: ErrMalformedReply}
	}
	return &Reply{Content: content, StatusCode: resp.StatusCode}, nil
}

func (r replyBody) content() (string, bool) {
	for _, m := range []*messageBody{r.Answer, r.AIResponse} {
		if m != nil && m.Content != nil {
			return *m.Content, true
		}
	}
	return "", false
}

func (c *Client) statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	err := fmt.Errorf("graphqa: status %d: %s", resp.StatusCode, msg)

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return retry.RateLimited(resp.StatusCode, retry.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now()), err)
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return retry.Permanent(&retry.ServiceError{Kind: retry.KindPermanent, StatusCode: resp.StatusCode, Err: err})
	default:
		return retry.Transient(resp.StatusCode, err)
	}
}

// StatusCode extracts the HTTP status recorded on a classified error.
func StatusCode(err error) int {
	var serr *retry.ServiceError
	if errors.As(err, &serr) {
		return serr.StatusCode
	}
	return 0
}
