package retry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/recallbench/internal/backoff"
	"github.com/haasonsaas/recallbench/internal/ratelimit"
)

// fakeSleeper records waits instead of sleeping.
type fakeSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
	err   error
}

func (f *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits = append(f.waits, d)
	if f.err != nil {
		return f.err
	}
	return ctx.Err()
}

// scriptedService returns the errors in script, then "answer" forever.
type scriptedService struct {
	script []error
	calls  int
}

func (s *scriptedService) call(context.Context) (string, error) {
	s.calls++
	if s.calls <= len(s.script) {
		return "", s.script[s.calls-1]
	}
	return "answer", nil
}

type recordingObserver struct {
	attempts []Kind
	calls    []Kind
}

func (o *recordingObserver) ObserveAttempt(_ string, kind Kind, _ time.Duration) {
	o.attempts = append(o.attempts, kind)
}

func (o *recordingObserver) ObserveCall(_ string, kind Kind, _ int, _ time.Duration) {
	o.calls = append(o.calls, kind)
}

func newTestClient(cfg Config, sleeper backoff.Sleeper, opts ...Option) *Client {
	return New("test", cfg, append([]Option{WithSleeper(sleeper)}, opts...)...)
}

func TestCall_SuccessFirstAttempt(t *testing.T) {
	sleeper := &fakeSleeper{}
	svc := &scriptedService{}

	out := Call(context.Background(), newTestClient(DefaultConfig(), sleeper), svc.call)

	if !out.Succeeded() || out.Value != "answer" {
		t.Fatalf("Call() = %+v, want success", out)
	}
	if out.Attempts != 1 || len(out.Waits) != 0 || len(sleeper.waits) != 0 {
		t.Errorf("attempts=%d waits=%v", out.Attempts, out.Waits)
	}
}

func TestCall_RateLimitedTwiceThenSuccess(t *testing.T) {
	sleeper := &fakeSleeper{}
	svc := &scriptedService{script: []error{
		RateLimited(429, 4*time.Second, nil),
		RateLimited(429, 0, nil),
	}}
	cfg := DefaultConfig()
	cfg.MaxRetries = 1

	out := Call(context.Background(), newTestClient(cfg, sleeper), svc.call)

	if !out.Succeeded() {
		t.Fatalf("Call() kind = %s err = %v, want success", out.Kind, out.Err)
	}
	if out.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", out.Attempts)
	}
	want := []time.Duration{5 * time.Second, 3 * time.Second}
	if !reflect.DeepEqual(out.Waits, want) || !reflect.DeepEqual(sleeper.waits, want) {
		t.Errorf("waits = %v (slept %v), want %v", out.Waits, sleeper.waits, want)
	}
}

func TestCall_AlwaysFailing(t *testing.T) {
	for _, maxRetries := range []int{1, 3, 5} {
		t.Run(fmt.Sprintf("max_retries=%d", maxRetries), func(t *testing.T) {
			sleeper := &fakeSleeper{}
			calls := 0
			op := func(context.Context) (string, error) {
				calls++
				return "", errors.New("connection reset")
			}
			cfg := DefaultConfig()
			cfg.MaxRetries = maxRetries

			out := Call(context.Background(), newTestClient(cfg, sleeper), op)

			if out.Succeeded() {
				t.Fatal("Call() succeeded for an always-failing service")
			}
			if out.Kind != KindTransient {
				t.Errorf("Kind = %s, want %s", out.Kind, KindTransient)
			}
			if out.Attempts != maxRetries || calls != maxRetries {
				t.Errorf("Attempts = %d calls = %d, want %d", out.Attempts, calls, maxRetries)
			}
			if !errors.Is(out.Err, ErrRetriesExhausted) {
				t.Errorf("Err = %v, want ErrRetriesExhausted", out.Err)
			}
			wantWaits := cfg.Backoff().Schedule(maxRetries)
			if len(out.Waits) != len(wantWaits) || (len(wantWaits) > 0 && !reflect.DeepEqual(out.Waits, wantWaits)) {
				t.Errorf("Waits = %v, want %v", out.Waits, wantWaits)
			}
		})
	}
}

func TestCall_EmptyResponsesBackOff(t *testing.T) {
	sleeper := &fakeSleeper{}
	svc := &scriptedService{script: []error{Empty("blank"), Empty("blank")}}

	out := Call(context.Background(), newTestClient(DefaultConfig(), sleeper), svc.call)

	if !out.Succeeded() || out.Attempts != 3 {
		t.Fatalf("Call() = %+v", out)
	}
	want := []time.Duration{2 * time.Second, 3 * time.Second}
	if !reflect.DeepEqual(sleeper.waits, want) {
		t.Errorf("waits = %v, want %v", sleeper.waits, want)
	}
}

func TestCall_RateLimitCap(t *testing.T) {
	sleeper := &fakeSleeper{}
	op := func(context.Context) (string, error) {
		return "", RateLimited(429, time.Second, nil)
	}
	cfg := DefaultConfig()
	cfg.MaxRateLimitWaits = 2

	out := Call(context.Background(), newTestClient(cfg, sleeper), op)

	if out.Kind != KindRateLimited {
		t.Fatalf("Kind = %s, want rate_limited", out.Kind)
	}
	if out.Attempts != 3 || len(sleeper.waits) != 2 {
		t.Errorf("Attempts = %d waits = %d, want 3 and 2", out.Attempts, len(sleeper.waits))
	}
	if !errors.Is(out.Err, ErrRateLimited) {
		t.Errorf("Err = %v, want ErrRateLimited in chain", out.Err)
	}
}

func TestCall_RateLimitDoesNotConsumeBudget(t *testing.T) {
	sleeper := &fakeSleeper{}
	svc := &scriptedService{script: []error{
		Transient(503, nil),
		RateLimited(429, 0, nil),
		RateLimited(429, 0, nil),
		Transient(502, nil),
	}}
	cfg := DefaultConfig()
	cfg.MaxRetries = 3

	out := Call(context.Background(), newTestClient(cfg, sleeper), svc.call)

	if !out.Succeeded() || out.Attempts != 5 {
		t.Fatalf("Call() kind=%s attempts=%d, want success after 5", out.Kind, out.Attempts)
	}
}

func TestCall_PermanentStopsImmediately(t *testing.T) {
	sleeper := &fakeSleeper{}
	calls := 0
	op := func(context.Context) (string, error) {
		calls++
		return "", Permanent(errors.New("invalid api key"))
	}

	out := Call(context.Background(), newTestClient(DefaultConfig(), sleeper), op)

	if out.Kind != KindPermanent || out.Attempts != 1 || calls != 1 {
		t.Fatalf("Call() = kind %s attempts %d calls %d", out.Kind, out.Attempts, calls)
	}
	if len(sleeper.waits) != 0 {
		t.Errorf("permanent failure should not wait, got %v", sleeper.waits)
	}
}

func TestCall_PanicBecomesFailure(t *testing.T) {
	op := func(context.Context) (string, error) {
		panic("boom")
	}

	out := Call(context.Background(), newTestClient(DefaultConfig(), &fakeSleeper{}), op)

	if out.Succeeded() || out.Kind != KindPermanent {
		t.Fatalf("Call() = %+v, want permanent failure", out)
	}
}

func TestCall_CancelledDuringBackoff(t *testing.T) {
	sleeper := &fakeSleeper{err: context.Canceled}
	calls := 0
	op := func(context.Context) (string, error) {
		calls++
		return "", Transient(500, nil)
	}

	out := Call(context.Background(), newTestClient(DefaultConfig(), sleeper), op)

	if out.Kind != KindCanceled || calls != 1 {
		t.Fatalf("Call() kind = %s calls = %d, want canceled after 1", out.Kind, calls)
	}
	if !errors.Is(out.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", out.Err)
	}
}

func TestCall_InFlightAttemptSurvivesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	op := func(attemptCtx context.Context) (string, error) {
		cancel()
		if attemptCtx.Err() != nil {
			return "", attemptCtx.Err()
		}
		return "finished", nil
	}

	out := Call(ctx, newTestClient(DefaultConfig(), &fakeSleeper{}), op)

	if !out.Succeeded() || out.Value != "finished" {
		t.Fatalf("in-flight attempt was aborted: %+v", out)
	}
}

func TestCall_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	op := func(context.Context) (string, error) {
		calls++
		return "x", nil
	}

	out := Call(ctx, newTestClient(DefaultConfig(), &fakeSleeper{}), op)

	if out.Kind != KindCanceled || out.Attempts != 0 || calls != 0 {
		t.Fatalf("Call() = kind %s attempts %d calls %d", out.Kind, out.Attempts, calls)
	}
}

func TestCall_Observer(t *testing.T) {
	obs := &recordingObserver{}
	svc := &scriptedService{script: []error{Transient(500, nil)}}

	Call(context.Background(), newTestClient(DefaultConfig(), &fakeSleeper{}, WithObserver(obs)), svc.call)

	if !reflect.DeepEqual(obs.attempts, []Kind{KindTransient, KindOK}) {
		t.Errorf("attempt kinds = %v", obs.attempts)
	}
	if !reflect.DeepEqual(obs.calls, []Kind{KindOK}) {
		t.Errorf("call kinds = %v", obs.calls)
	}
}

func TestCall_UsesLimiter(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 1000, BurstSize: 1, Enabled: true})
	svc := &scriptedService{script: []error{Transient(500, nil)}}
	client := New("test", DefaultConfig(), WithSleeper(&fakeSleeper{}), WithLimiter(limiter))

	out := Call(context.Background(), client, svc.call)

	if !out.Succeeded() || out.Attempts != 2 {
		t.Fatalf("Call() = %+v", out)
	}
}

func TestState_IsAValue(t *testing.T) {
	cfg := DefaultConfig().withDefaults()
	s0 := State{}.record(KindTransient, nil)
	s1, wait, again := s0.plan(cfg, 0)
	if !again || wait != 2*time.Second {
		t.Fatalf("plan() = %v %v", wait, again)
	}
	s2 := s1.waited(wait)

	if s0.Failures != 0 || s1.Failures != 1 {
		t.Errorf("plan mutated its receiver: s0=%+v s1=%+v", s0, s1)
	}
	if len(s1.Waits) != 0 || len(s2.Waits) != 1 {
		t.Errorf("waited mutated its receiver: s1=%v s2=%v", s1.Waits, s2.Waits)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantKind    Kind
		wantAdvised time.Duration
	}{
		{name: "nil", err: nil, wantKind: KindOK},
		{name: "rate limited", err: RateLimited(429, 7*time.Second, nil), wantKind: KindRateLimited, wantAdvised: 7 * time.Second},
		{name: "wrapped rate limited", err: fmt.Errorf("call: %w", RateLimited(429, time.Second, nil)), wantKind: KindRateLimited, wantAdvised: time.Second},
		{name: "sentinel rate limited", err: fmt.Errorf("x: %w", ErrRateLimited), wantKind: KindRateLimited},
		{name: "empty", err: Empty("blank"), wantKind: KindEmpty},
		{name: "transient", err: Transient(503, nil), wantKind: KindTransient},
		{name: "permanent", err: Permanent(errors.New("bad")), wantKind: KindPermanent},
		{name: "deadline", err: context.DeadlineExceeded, wantKind: KindTransient},
		{name: "canceled", err: context.Canceled, wantKind: KindCanceled},
		{name: "unknown", err: errors.New("eof"), wantKind: KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, advised := Classify(tt.err)
			if kind != tt.wantKind || advised != tt.wantAdvised {
				t.Errorf("Classify() = %s, %v; want %s, %v", kind, advised, tt.wantKind, tt.wantAdvised)
			}
		})
	}
}

func TestServiceError_Is(t *testing.T) {
	err := Transient(502, errors.New("bad gateway"))
	if !errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited) {
		t.Error("ServiceError.Is does not match its own kind only")
	}
	if got := err.Error(); got != "transient_error (status 502): bad gateway" {
		t.Errorf("Error() = %q", got)
	}
}

func TestEmptyDetector(t *testing.T) {
	d := EmptyDetector{Sentinels: DefaultSentinels}
	tests := []struct {
		text      string
		wantEmpty bool
	}{
		{text: "", wantEmpty: true},
		{text: "   \n", wantEmpty: true},
		{text: "Sorry, I'm Having Trouble Responding right now", wantEmpty: true},
		{text: "Jake went camping", wantEmpty: false},
	}
	for _, tt := range tests {
		err := d.Check(tt.text)
		if tt.wantEmpty != errors.Is(err, ErrEmptyResponse) {
			t.Errorf("Check(%q) = %v, wantEmpty %v", tt.text, err, tt.wantEmpty)
		}
	}
}
