package tts

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ttsadapter "github.com/harunnryd/freestream/pkg/adapters/tts"
	"github.com/harunnryd/freestream/pkg/audio"
	"github.com/harunnryd/freestream/pkg/audiocache"
	"github.com/harunnryd/freestream/pkg/errorsx"
	"github.com/harunnryd/freestream/pkg/metrics"
)

type fakeEngine struct {
	calls   atomic.Int32
	delay   time.Duration
	errs    []error
	mu      sync.Mutex
	lastReq ttsadapter.Request
	block   chan struct{}
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Synthesize(ctx context.Context, req ttsadapter.Request) (ttsadapter.Audio, error) {
	n := int(f.calls.Add(1))
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ttsadapter.Audio{}, ctx.Err()
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ttsadapter.Audio{}, ctx.Err()
		}
	}
	if n <= len(f.errs) && f.errs[n-1] != nil {
		return ttsadapter.Audio{}, f.errs[n-1]
	}
	return ttsadapter.Audio{
		Data:        audio.Silence(time.Second, audio.PCMFormat{Rate: 8000}),
		ContentType: audio.ContentTypeWAV,
	}, nil
}

func fastConfig() Config {
	return Config{
		AttemptTimeout: 200 * time.Millisecond,
		BaseDelay:      time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
	}
}

func TestSynthesizeCachesAudio(t *testing.T) {
	eng := &fakeEngine{}
	c := NewClient(eng, audiocache.New(audiocache.Config{}), fastConfig())
	h, err := c.Synthesize(context.Background(), "  thanks for the bits  ", Voice{})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if h.Duration != time.Second || h.ContentType != audio.ContentTypeWAV {
		t.Fatalf("unexpected handle %+v", h)
	}
	if h.ID != c.Key("thanks for the bits", Voice{}) {
		t.Fatalf("expected audio id to equal cache key")
	}
	if eng.lastReq.Voice != "en_GB-alan-medium" || eng.lastReq.Speed != 1.0 {
		t.Fatalf("expected default voice, got %+v", eng.lastReq)
	}

	h2, err := c.Synthesize(context.Background(), "thanks for the bits", Voice{})
	if err != nil || h2 != h {
		t.Fatalf("expected cached handle, got %+v (%v)", h2, err)
	}
	if eng.calls.Load() != 1 {
		t.Fatalf("expected a cache hit to make zero engine calls, got %d calls", eng.calls.Load())
	}
}

func TestSynthesizeSingleFlightPerKey(t *testing.T) {
	eng := &fakeEngine{block: make(chan struct{})}
	c := NewClient(eng, nil, fastConfig())

	var wg sync.WaitGroup
	results := make([]audio.Handle, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Synthesize(context.Background(), "same text", Voice{})
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(eng.block)
	wg.Wait()

	if eng.calls.Load() != 1 {
		t.Fatalf("expected exactly one engine call, got %d", eng.calls.Load())
	}
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].ID != results[0].ID {
			t.Fatalf("callers got different audio")
		}
	}
}

func TestSynthesizeDistinctKeysRunConcurrently(t *testing.T) {
	eng := &fakeEngine{delay: 50 * time.Millisecond}
	c := NewClient(eng, nil, fastConfig())
	var wg sync.WaitGroup
	start := time.Now()
	for _, text := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			_, _ = c.Synthesize(context.Background(), text, Voice{})
		}(text)
	}
	wg.Wait()
	if eng.calls.Load() != 3 {
		t.Fatalf("expected 3 engine calls, got %d", eng.calls.Load())
	}
	if elapsed := time.Since(start); elapsed > 140*time.Millisecond {
		t.Fatalf("expected distinct keys not to serialize, took %s", elapsed)
	}
}

func TestSynthesizeRetriesTimeoutsThenFails(t *testing.T) {
	eng := &fakeEngine{delay: time.Second}
	cfg := fastConfig()
	cfg.AttemptTimeout = 10 * time.Millisecond
	mem := metrics.NewMemoryObserver()
	c := NewClient(eng, nil, cfg, WithObserver(mem))

	_, err := c.Synthesize(context.Background(), "slow engine", Voice{})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if !errorsx.HasReason(err, errorsx.ReasonTTSTimeout) {
		t.Fatalf("expected tts_timeout reason, got %s", errorsx.Reason(err))
	}
	if eng.calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", eng.calls.Load())
	}
	if mem.Count(metrics.EventTTSRetry) != 2 {
		t.Fatalf("expected 2 retries recorded, got %d", mem.Count(metrics.EventTTSRetry))
	}
}

func TestSynthesizeRecoversAfterTransientError(t *testing.T) {
	eng := &fakeEngine{errs: []error{ErrUnavailable, nil}}
	c := NewClient(eng, nil, fastConfig())
	if _, err := c.Synthesize(context.Background(), "flaky", Voice{}); err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if eng.calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", eng.calls.Load())
	}
}

func TestSynthesizeInvalidInputNotRetried(t *testing.T) {
	eng := &fakeEngine{errs: []error{ErrInvalidInput}}
	c := NewClient(eng, nil, fastConfig())
	_, err := c.Synthesize(context.Background(), "rejected by engine", Voice{})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if eng.calls.Load() != 1 {
		t.Fatalf("invalid input must not be retried, got %d calls", eng.calls.Load())
	}

	for _, text := range []string{"", "   "} {
		if _, err := c.Synthesize(context.Background(), text, Voice{}); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected empty text rejected, got %v", err)
		}
	}
	if eng.calls.Load() != 1 {
		t.Fatalf("empty text must not reach the engine")
	}
}

func TestSynthesizeRejectsOverlongText(t *testing.T) {
	eng := &fakeEngine{}
	cfg := fastConfig()
	cfg.MaxTextLength = 5
	c := NewClient(eng, nil, cfg)
	_, err := c.Synthesize(context.Background(), "way too long", Voice{})
	if !errorsx.HasReason(err, errorsx.ReasonTTSInvalidInput) {
		t.Fatalf("expected invalid input reason, got %v", err)
	}
}

func TestSynthesizeAbortsOnCancel(t *testing.T) {
	eng := &fakeEngine{delay: time.Second}
	c := NewClient(eng, nil, fastConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.Synthesize(ctx, "cancel me", Voice{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context error, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("cancellation was not prompt")
	}
}

func TestSynthesizeFlightSurvivesFirstCallerCancel(t *testing.T) {
	eng := &fakeEngine{block: make(chan struct{})}
	c := NewClient(eng, nil, fastConfig())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Synthesize(firstCtx, "shared text", Voice{})
		firstErr <- err
	}()
	for eng.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	type result struct {
		h   audio.Handle
		err error
	}
	second := make(chan result, 1)
	go func() {
		h, err := c.Synthesize(context.Background(), "shared text", Voice{})
		second <- result{h, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected first caller to see its own cancel, got %v", err)
	}
	close(eng.block)

	res := <-second
	if res.err != nil {
		t.Fatalf("second caller failed: %v", res.err)
	}
	if res.h.ID != c.Key("shared text", Voice{}) {
		t.Fatalf("unexpected handle %+v", res.h)
	}
	if eng.calls.Load() != 1 {
		t.Fatalf("expected one engine call, got %d", eng.calls.Load())
	}
}

func TestCloseAbortsFlights(t *testing.T) {
	eng := &fakeEngine{block: make(chan struct{})}
	c := NewClient(eng, nil, fastConfig())
	errc := make(chan error, 1)
	go func() {
		_, err := c.Synthesize(context.Background(), "shutting down", Voice{})
		errc <- err
	}()
	for eng.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	c.Close()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("close did not abort the flight")
	}
	if _, err := c.Synthesize(context.Background(), "after close", Voice{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled after close, got %v", err)
	}
}

func TestBreakerFailsFast(t *testing.T) {
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = ErrUnavailable
	}
	eng := &fakeEngine{errs: errs}
	cfg := fastConfig()
	cfg.BreakerThreshold = 2
	cfg.BreakerCooldown = time.Minute
	c := NewClient(eng, nil, cfg)

	_, _ = c.Synthesize(context.Background(), "one", Voice{})
	calls := eng.calls.Load()
	_, err := c.Synthesize(context.Background(), "two", Voice{})
	if !errors.Is(err, ErrUnavailable) || !errorsx.HasReason(err, errorsx.ReasonTTSCircuitOpen) {
		t.Fatalf("expected circuit open, got %v (%s)", err, errorsx.Reason(err))
	}
	if eng.calls.Load() != calls {
		t.Fatalf("expected no engine calls while breaker open")
	}
	if c.Health(context.Background()) == nil {
		t.Fatalf("expected health to report open breaker")
	}
}
