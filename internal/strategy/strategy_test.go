package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/recallbench/internal/backoff"
	"github.com/haasonsaas/recallbench/internal/graphqa"
	"github.com/haasonsaas/recallbench/internal/llm"
	"github.com/haasonsaas/recallbench/internal/rag/chunker"
	"github.com/haasonsaas/recallbench/internal/rag/index"
	"github.com/haasonsaas/recallbench/internal/retry"
	"github.com/haasonsaas/recallbench/internal/transcript"
	"github.com/haasonsaas/recallbench/pkg/models"
)

type fakeCompleter struct {
	mu       sync.Mutex
	requests []*llm.Request
	answer   string
	err      error
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Text: f.answer, Model: "fake-model", Provider: "fake"}, nil
}

type fakeAsker struct {
	replies []*graphqa.Reply
	errs    []error
	calls   int
}

func (f *fakeAsker) Ask(context.Context, string) (*graphqa.Reply, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return &graphqa.Reply{Content: "fallback", StatusCode: 200}, nil
}

func testClient() *retry.Client {
	return retry.New("test", retry.DefaultConfig(),
		retry.WithSleeper(backoff.SleeperFunc(func(context.Context, time.Duration) error { return nil })))
}

func testStore(n int) *transcript.Store {
	speakers := []string{"Emma", "Jake", "Sarah"}
	utts := make([]models.Utterance, n)
	for i := range utts {
		utts[i] = models.Utterance{Speaker: speakers[i%3], Text: fmt.Sprintf("message number %d", i)}
	}
	utts[7].Text = "I went camping at the lake"
	return transcript.NewStore("test", utts)
}

var detector = retry.EmptyDetector{Sentinels: retry.DefaultSentinels}

func TestTailTruncate(t *testing.T) {
	tests := []struct {
		in        string
		max       int
		want      string
		truncated bool
	}{
		{"abcdef", 10, "abcdef", false},
		{"abcdef", 0, "abcdef", false},
		{"abcdef", 3, "def", true},
		{"aé", 1, "", true},
		{"xéz", 2, "z", true},
		{"xéz", 3, "éz", true},
	}
	for _, tt := range tests {
		got, truncated := TailTruncate(tt.in, tt.max)
		if got != tt.want || truncated != tt.truncated {
			t.Errorf("TailTruncate(%q, %d) = %q, %v; want %q, %v", tt.in, tt.max, got, truncated, tt.want, tt.truncated)
		}
	}
}

func TestFullContext_Answer(t *testing.T) {
	c := &fakeCompleter{answer: "Jake went camping"}
	s := NewFullContext(c, testClient(), DefaultGeneration(), FullContextConfig{MaxChars: 60}, detector, nil)

	rec := s.Answer(context.Background(), models.Question{Prompt: "Who went camping?"}, testStore(20))
	if !rec.Succeeded || rec.Answer != "Jake went camping" || rec.Strategy != NameFullContext {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Metadata["truncated"] != true {
		t.Fatalf("truncated = %v, want true", rec.Metadata["truncated"])
	}
	if size := rec.Metadata["context_size"].(int); size > 60 {
		t.Fatalf("context_size = %d, want <= 60", size)
	}
	req := c.requests[0]
	if !strings.HasPrefix(req.System, promptHeader) || !strings.Contains(req.System, "FULL CONVERSATION HISTORY:") {
		t.Fatalf("system prompt = %q", req.System)
	}
	if !strings.Contains(req.System, "message number 19") {
		t.Fatalf("tail truncation dropped the most recent content")
	}
	if req.MaxTokens != 300 || req.Temperature != 0.1 || req.Prompt != "Who went camping?" {
		t.Fatalf("request = %+v", req)
	}
}

func TestFullContext_WindowLimit(t *testing.T) {
	c := &fakeCompleter{answer: "ok"}
	s := NewFullContext(c, testClient(), DefaultGeneration(), FullContextConfig{WindowLimit: 2}, detector, nil)

	rec := s.Answer(context.Background(), models.Question{Prompt: "q"}, testStore(20))
	if rec.Metadata["truncated"] != false {
		t.Fatalf("truncated = %v", rec.Metadata["truncated"])
	}
	sys := c.requests[0].System
	if strings.Contains(sys, "message number 17") || !strings.Contains(sys, "message number 18") {
		t.Fatalf("window not applied: %q", sys)
	}
}

func TestFullContext_FailureIsRecorded(t *testing.T) {
	c := &fakeCompleter{err: llm.NewProviderError("openai", "gpt-4o", errors.New("upstream")).WithStatus(503)}
	s := NewFullContext(c, testClient(), DefaultGeneration(), DefaultFullContextConfig(), detector, nil)

	rec := s.Answer(context.Background(), models.Question{Prompt: "q"}, testStore(5))
	if rec.Succeeded {
		t.Fatal("record succeeded, want failure")
	}
	if !strings.HasPrefix(rec.Answer, "Error: transient_error after 3 attempts: ") {
		t.Fatalf("answer = %q", rec.Answer)
	}
	if rec.Metadata["attempts"] != 3 {
		t.Fatalf("attempts = %v", rec.Metadata["attempts"])
	}
}

func TestRetrieval_Answer(t *testing.T) {
	cache, err := index.NewCache(chunker.Config{ChunkSize: 4, ChunkOverlap: 1})
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	c := &fakeCompleter{answer: "Jake"}
	s := NewRetrieval(c, testClient(), cache, 2, DefaultGeneration(), detector, nil)

	store := testStore(12)
	rec := s.Answer(context.Background(), models.Question{Prompt: "who went camping at the lake"}, store)
	if !rec.Succeeded || rec.Answer != "Jake" {
		t.Fatalf("record = %+v", rec)
	}
	ids := rec.Metadata["chunk_ids"].([]int)
	if len(ids) != 2 || rec.Metadata["chunks_retrieved"] != 2 {
		t.Fatalf("chunk ids = %v", ids)
	}
	sys := c.requests[0].System
	if !strings.Contains(sys, "RELEVANT CONVERSATION EXCERPTS:") || !strings.Contains(sys, ChunkSeparator) {
		t.Fatalf("system prompt = %q", sys)
	}
	if !strings.Contains(sys, "camping at the lake") {
		t.Fatalf("best chunk missing from excerpts")
	}

	again := s.Answer(context.Background(), models.Question{Prompt: "who went camping at the lake"}, store)
	if fmt.Sprint(again.Metadata["chunk_ids"]) != fmt.Sprint(ids) {
		t.Fatalf("retrieval not deterministic: %v vs %v", again.Metadata["chunk_ids"], ids)
	}
}

func TestDelegated_RetriesSentinelThenSucceeds(t *testing.T) {
	asker := &fakeAsker{replies: []*graphqa.Reply{
		{Content: "Sorry, I'm having trouble responding right now.", StatusCode: 200},
		{Content: "Sarah suggested the trip", StatusCode: 200},
	}}
	s := NewDelegated(asker, testClient(), detector, nil)

	rec := s.Answer(context.Background(), models.Question{Prompt: "who suggested the trip?"}, nil)
	if !rec.Succeeded || rec.Answer != "Sarah suggested the trip" {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Metadata["attempts"] != 2 || rec.Metadata["reachable"] != true || rec.Metadata["status_code"] != 200 {
		t.Fatalf("metadata = %v", rec.Metadata)
	}
}

func TestDelegated_Unreachable(t *testing.T) {
	down := retry.Transient(0, errors.New("connection refused"))
	asker := &fakeAsker{errs: []error{down, down, down}}
	s := NewDelegated(asker, testClient(), detector, nil)

	rec := s.Answer(context.Background(), models.Question{Prompt: "q"}, nil)
	if rec.Succeeded || rec.Metadata["reachable"] != false {
		t.Fatalf("record = %+v", rec)
	}
	if asker.calls != 3 {
		t.Fatalf("calls = %d, want 3", asker.calls)
	}
}

type panicky struct{}

func (panicky) Name() string { return "panicky" }

func (panicky) Answer(context.Context, models.Question, *transcript.Store) models.AnswerRecord {
	panic("boom")
}

func TestGuard_RecoversPanics(t *testing.T) {
	rec := Guard(context.Background(), panicky{}, models.Question{Prompt: "q"}, nil, nil)
	if rec.Succeeded || !strings.Contains(rec.Answer, "panic: boom") || rec.Strategy != "panicky" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestValid(t *testing.T) {
	for _, n := range Names() {
		if !Valid(n) {
			t.Errorf("Valid(%q) = false", n)
		}
	}
	if Valid("graph") {
		t.Error("Valid(graph) = true")
	}
}
