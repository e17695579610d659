package graphqa

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/recallbench/internal/retry"
)

func TestAsk_PostsAddressedQuestion(t *testing.T) {
	var got Request
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/messages" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = io.WriteString(w, `{"answer":{"content":"Jake went camping"}}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/", Token: "secret"})
	reply, err := c.Ask(context.Background(), "Who went camping?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply.Content != "Jake went camping" || reply.StatusCode != 200 {
		t.Fatalf("reply = %+v", reply)
	}
	if got.Content != "@AI Agent Who went camping?" {
		t.Errorf("content = %q", got.Content)
	}
	if len(got.Mentions) != 1 || got.Mentions[0] != "AI Agent" || got.CallerID != 5 {
		t.Errorf("request = %+v", got)
	}
	if auth != "Bearer secret" {
		t.Errorf("authorization = %q", auth)
	}
}

func TestAsk_LegacyAnswerField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"message":{"id":1},"aiResponse":{"content":"Sarah"}}`)
	}))
	defer srv.Close()

	reply, err := New(Config{BaseURL: srv.URL}).Ask(context.Background(), "q")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply.Content != "Sarah" {
		t.Fatalf("content = %q", reply.Content)
	}
}

func TestAsk_ClassifiesFailures(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		status  int
		header  string
		body    string
		kind    retry.Kind
		advised time.Duration
	}{
		{name: "rate limited seconds", status: 429, header: "3", kind: retry.KindRateLimited, advised: 3 * time.Second},
		{name: "rate limited date", status: 429, header: now.Add(10 * time.Second).Format(http.TimeFormat), kind: retry.KindRateLimited, advised: 10 * time.Second},
		{name: "rate limited no advice", status: 429, kind: retry.KindRateLimited},
		{name: "server error", status: 502, kind: retry.KindTransient},
		{name: "not found", status: 404, kind: retry.KindTransient},
		{name: "unauthorized", status: 401, kind: retry.KindPermanent},
		{name: "bad request", status: 400, kind: retry.KindPermanent},
		{name: "malformed", status: 200, body: `{"message":{}}`, kind: retry.KindEmpty},
		{name: "not json", status: 200, body: `<html>`, kind: retry.KindEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := New(Config{BaseURL: srv.URL})
			c.now = func() time.Time { return now }
			_, err := c.Ask(context.Background(), "q")
			kind, advised := retry.Classify(err)
			if kind != tt.kind {
				t.Fatalf("kind = %s, want %s (err %v)", kind, tt.kind, err)
			}
			if advised != tt.advised {
				t.Fatalf("advised = %v, want %v", advised, tt.advised)
			}
			if tt.status != 200 && StatusCode(err) != tt.status {
				t.Fatalf("StatusCode = %d, want %d", StatusCode(err), tt.status)
			}
		})
	}
}

func TestAsk_MalformedIsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).Ask(context.Background(), "q")
	if !errors.Is(err, ErrMalformedReply) || !errors.Is(err, retry.ErrEmptyResponse) {
		t.Fatalf("err = %v", err)
	}
}

func TestAsk_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(Config{BaseURL: url, Timeout: time.Second}).Ask(context.Background(), "q")
	if kind, _ := retry.Classify(err); kind != retry.KindTransient {
		t.Fatalf("kind = %s, want transient", kind)
	}
}

func TestNew_Defaults(t *testing.T) {
	c := New(Config{RoutingHint: "Bot", Path: "ask"})
	cfg := c.Config()
	if cfg.Prefix != "@Bot " || cfg.CallerID != 5 {
		t.Fatalf("config = %+v", cfg)
	}
	if c.Endpoint() != "http://localhost:5000/ask" {
		t.Fatalf("endpoint = %s", c.Endpoint())
	}
}

func TestAsk_PropagatesTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	var traceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
		_, _ = io.WriteString(w, `{"answer":{"content":"ok"}}`)
	}))
	defer srv.Close()

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x0a, 0x0b},
		SpanID:     trace.SpanID{0x01},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	if _, err := New(cfg).Ask(ctx, "q"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	want := "00-" + sc.TraceID().String() + "-" + sc.SpanID().String() + "-01"
	if traceparent != want {
		t.Fatalf("traceparent = %q, want %q", traceparent, want)
	}
}
