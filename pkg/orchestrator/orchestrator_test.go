package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/freestream/pkg/alert"
	"github.com/harunnryd/freestream/pkg/audio"
	"github.com/harunnryd/freestream/pkg/errorsx"
	"github.com/harunnryd/freestream/pkg/metrics"
	"github.com/harunnryd/freestream/pkg/queue"
	"github.com/harunnryd/freestream/pkg/tts"
)

type fakeSynth struct {
	mu    sync.Mutex
	fail  map[string]error
	gate  map[string]chan struct{}
	calls []string
}

func (s *fakeSynth) Synthesize(ctx context.Context, text string, _ tts.Voice) (audio.Handle, error) {
	s.mu.Lock()
	s.calls = append(s.calls, text)
	err := s.fail[text]
	gate := s.gate[text]
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return audio.Handle{}, ctx.Err()
		}
	}
	if err != nil {
		return audio.Handle{}, err
	}
	return audio.Handle{ID: "audio-" + text, ContentType: audio.ContentTypeWAV, Duration: time.Second}, nil
}

type captureNotifier struct {
	ready    chan Notification
	skips    chan string
	readyErr error
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{ready: make(chan Notification, 32), skips: make(chan string, 32)}
}

func (c *captureNotifier) NotifyReady(_ context.Context, n Notification) error {
	c.ready <- n
	return c.readyErr
}

func (c *captureNotifier) NotifySkip(_ context.Context, id string) error {
	c.skips <- id
	return nil
}

type fakeJournal struct {
	mu      sync.Mutex
	status  map[string][]alert.Status
	removed []string
}

func (j *fakeJournal) MarkStatus(_ context.Context, id string, s alert.Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == nil {
		j.status = make(map[string][]alert.Status)
	}
	j.status[id] = append(j.status[id], s)
	return nil
}

func (j *fakeJournal) Remove(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.removed = append(j.removed, id)
	return nil
}

func (j *fakeJournal) Removed() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.removed...)
}

func newJob(text string) alert.Job {
	return alert.Job{
		ID:           "job-" + text,
		EventType:    alert.EventBits,
		Platform:     alert.PlatformTwitch,
		RenderedText: text,
		SpokenText:   text,
		Status:       alert.StatusQueued,
		CreatedAt:    time.Now(),
	}
}

func start(t *testing.T, o *Orchestrator) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("orchestrator did not stop")
		}
	}
}

func waitReady(t *testing.T, n *captureNotifier) Notification {
	t.Helper()
	select {
	case got := <-n.ready:
		return got
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for alert_ready")
	}
	return Notification{}
}

func expectNoReady(t *testing.T, n *captureNotifier, wait time.Duration) {
	t.Helper()
	select {
	case got := <-n.ready:
		t.Fatalf("unexpected alert_ready for %s", got.ID)
	case <-time.After(wait):
	}
}

func TestFIFODelivery(t *testing.T) {
	q := queue.New(10)
	n := newCaptureNotifier()
	o := New(Config{}, q, &fakeSynth{}, n)
	for _, text := range []string{"a", "b", "c"} {
		if err := q.Enqueue(newJob(text)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	stop := start(t, o)
	defer stop()

	for _, want := range []string{"job-a", "job-b", "job-c"} {
		got := waitReady(t, n)
		if got.ID != want {
			t.Fatalf("expected %s, got %s", want, got.ID)
		}
		if got.AudioID == "" || got.DurationMs != 1000 {
			t.Fatalf("unexpected notification %+v", got)
		}
		// the next job is not announced before this one completes
		expectNoReady(t, n, 30*time.Millisecond)
		if !o.Complete(got.ID) {
			t.Fatalf("completion of %s rejected", got.ID)
		}
	}
}

func TestStaleCompletionIgnored(t *testing.T) {
	q := queue.New(10)
	n := newCaptureNotifier()
	o := New(Config{}, q, &fakeSynth{}, n)
	_ = q.Enqueue(newJob("a"))
	_ = q.Enqueue(newJob("b"))
	stop := start(t, o)
	defer stop()

	a := waitReady(t, n)
	if o.Complete("job-unknown") {
		t.Fatalf("stale completion accepted")
	}
	if o.Complete("") {
		t.Fatalf("empty completion accepted")
	}
	expectNoReady(t, n, 50*time.Millisecond)
	if cur, ok := o.Current(); !ok || cur.ID != a.ID {
		t.Fatalf("expected %s in flight, got %+v", a.ID, cur)
	}

	o.Complete(a.ID)
	b := waitReady(t, n)
	if b.ID != "job-b" {
		t.Fatalf("expected job-b, got %s", b.ID)
	}
	// a late duplicate for a must not end b
	if o.Complete(a.ID) {
		t.Fatalf("late completion of previous job accepted")
	}
	expectNoReady(t, n, 30*time.Millisecond)
	if cur, _ := o.Current(); cur.ID != "job-b" {
		t.Fatalf("expected job-b still in flight")
	}
}

func TestSkip(t *testing.T) {
	q := queue.New(10)
	n := newCaptureNotifier()
	obs := metrics.NewMemoryObserver()
	o := New(Config{}, q, &fakeSynth{}, n, WithObserver(obs))
	if _, ok := o.Skip(); ok {
		t.Fatalf("skip with nothing playing should report false")
	}
	_ = q.Enqueue(newJob("a"))
	_ = q.Enqueue(newJob("b"))
	stop := start(t, o)
	defer stop()

	a := waitReady(t, n)
	id, ok := o.Skip()
	if !ok || id != a.ID {
		t.Fatalf("expected skip of %s, got %q %v", a.ID, id, ok)
	}
	select {
	case got := <-n.skips:
		if got != a.ID {
			t.Fatalf("skip sent for %s", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("overlay did not receive skip")
	}
	if b := waitReady(t, n); b.ID != "job-b" {
		t.Fatalf("expected job-b after skip, got %s", b.ID)
	}
	if obs.Count(metrics.EventAlertSkipped) != 1 {
		t.Fatalf("expected one skipped metric")
	}
}

type fakeEvictor struct {
	mu      sync.Mutex
	deleted []string
}

func (e *fakeEvictor) Delete(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deleted = append(e.deleted, key)
}

func (e *fakeEvictor) Deleted() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.deleted...)
}

func TestPlaybackErrorEvictsAudio(t *testing.T) {
	q := queue.New(10)
	n := newCaptureNotifier()
	ev := &fakeEvictor{}
	o := New(Config{}, q, &fakeSynth{}, n, WithAudioEvictor(ev))
	_ = q.Enqueue(newJob("a"))
	_ = q.Enqueue(newJob("b"))
	stop := start(t, o)
	defer stop()

	a := waitReady(t, n)
	if !o.ReportError(a.ID, "decode failed") {
		t.Fatalf("expected error signal to be accepted")
	}
	b := waitReady(t, n)
	if b.ID != "job-b" {
		t.Fatalf("expected job-b after the error, got %s", b.ID)
	}
	if got := ev.Deleted(); len(got) != 1 || got[0] != "audio-a" {
		t.Fatalf("expected audio-a evicted, got %v", got)
	}

	o.Complete(b.ID)
	deadline := time.Now().Add(2 * time.Second)
	for o.Status().Completed != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("completion not recorded: %+v", o.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := ev.Deleted(); len(got) != 1 {
		t.Fatalf("a clean completion must keep its audio, got %v", got)
	}
}

func TestTimeoutForcesAdvance(t *testing.T) {
	q := queue.New(10)
	n := newCaptureNotifier()
	obs := metrics.NewMemoryObserver()
	cfg := Config{MinPlayTimeout: 40 * time.Millisecond, MaxPlayTimeout: 40 * time.Millisecond}
	o := New(cfg, q, &fakeSynth{}, n, WithObserver(obs))
	_ = q.Enqueue(newJob("a"))
	_ = q.Enqueue(newJob("b"))
	stop := start(t, o)
	defer stop()

	waitReady(t, n)
	began := time.Now()
	b := waitReady(t, n)
	if b.ID != "job-b" {
		t.Fatalf("expected job-b, got %s", b.ID)
	}
	if elapsed := time.Since(began); elapsed < 30*time.Millisecond {
		t.Fatalf("advanced before the ceiling: %s", elapsed)
	}
	if obs.Count(metrics.EventAlertTimeout) != 1 {
		t.Fatalf("expected one timeout metric, got %d", obs.Count(metrics.EventAlertTimeout))
	}
	if o.Status().TimedOut != 1 {
		t.Fatalf("expected timed_out=1, got %+v", o.Status())
	}
}

func TestSynthesisFailureAdvancesImmediately(t *testing.T) {
	q := queue.New(10)
	n := newCaptureNotifier()
	j := &fakeJournal{}
	obs := metrics.NewMemoryObserver()
	synth := &fakeSynth{fail: map[string]error{
		"a": errorsx.Wrap(fmt.Errorf("%w: 3 attempts", tts.ErrTimeout), errorsx.ReasonTTSTimeout),
	}}
	o := New(Config{}, q, synth, n, WithJournal(j), WithObserver(obs))
	_ = q.Enqueue(newJob("a"))
	_ = q.Enqueue(newJob("b"))
	stop := start(t, o)
	defer stop()

	b := waitReady(t, n)
	if b.ID != "job-b" {
		t.Fatalf("expected job-b first, got %s", b.ID)
	}
	if obs.Count(metrics.EventAlertFailed) != 1 {
		t.Fatalf("expected one failed metric")
	}
	for _, ev := range obs.Snapshot() {
		if ev.Name == metrics.EventAlertFailed && ev.Tags["reason"] != string(errorsx.ReasonTTSTimeout) {
			t.Fatalf("expected tts_timeout reason, got %v", ev.Tags)
		}
	}
	removed := j.Removed()
	if len(removed) != 1 || removed[0] != "job-a" {
		t.Fatalf("expected failed job removed from journal, got %v", removed)
	}
	if o.Status().Failed != 1 {
		t.Fatalf("expected failed=1")
	}
}

func TestConcurrentSignalsAdvanceOnce(t *testing.T) {
	q := queue.New(10)
	n := newCaptureNotifier()
	// b is held in synthesis until every signal for a has been sent, so
	// no Skip can land on b
	gate := make(chan struct{})
	o := New(Config{}, q, &fakeSynth{gate: map[string]chan struct{}{"b": gate}}, n)
	for _, text := range []string{"a", "b", "c"} {
		_ = q.Enqueue(newJob(text))
	}
	stop := start(t, o)
	defer stop()

	a := waitReady(t, n)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%3 == 0 {
				o.Skip()
				return
			}
			o.Complete(a.ID)
		}(i)
	}
	wg.Wait()
	close(gate)

	b := waitReady(t, n)
	if b.ID != "job-b" {
		t.Fatalf("expected job-b, got %s", b.ID)
	}
	// c must wait for b even though many signals were sent for a
	expectNoReady(t, n, 80*time.Millisecond)
	st := o.Status()
	if st.Completed+st.Skipped != 1 {
		t.Fatalf("expected exactly one finished playback, got %+v", st)
	}
}

func TestDisconnectedOverlayKeepsJobInFlight(t *testing.T) {
	q := queue.New(10)
	n := newCaptureNotifier()
	n.readyErr = errorsx.New(errorsx.ReasonOverlayDisconnected, "overlay disconnected")
	o := New(Config{}, q, &fakeSynth{}, n)
	_ = q.Enqueue(newJob("a"))
	stop := start(t, o)
	defer stop()

	a := waitReady(t, n)
	deadline := time.Now().Add(time.Second)
	for o.State() != StatePlaying && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cur, ok := o.Current()
	if !ok || cur.ID != a.ID {
		t.Fatalf("expected %s to remain in flight", a.ID)
	}
	if !o.Complete(a.ID) {
		t.Fatalf("completion after reconnect rejected")
	}
	deadline = time.Now().Add(time.Second)
	for o.State() != StateIdle && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := o.Current(); ok {
		t.Fatalf("expected nothing in flight after completion")
	}
}

func TestStateListenerSeesCycle(t *testing.T) {
	q := queue.New(10)
	n := newCaptureNotifier()
	var mu sync.Mutex
	var seen []State
	l := StateListenerFunc(func(ev StateChange) {
		mu.Lock()
		seen = append(seen, ev.To)
		mu.Unlock()
	})
	j := &fakeJournal{}
	o := New(Config{}, q, &fakeSynth{}, n, WithListener(l), WithJournal(j))
	_ = q.Enqueue(newJob("a"))
	stop := start(t, o)
	defer stop()

	a := waitReady(t, n)
	o.Complete(a.ID)
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		got := append([]State(nil), seen...)
		mu.Unlock()
		if len(got) >= 4 {
			want := []State{StateFetching, StateReady, StatePlaying, StateIdle}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("expected %v, got %v", want, got)
				}
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("incomplete state cycle %v", got)
		}
		time.Sleep(5 * time.Millisecond)
	}

	j.mu.Lock()
	statuses := j.status[a.ID]
	j.mu.Unlock()
	want := []alert.Status{alert.StatusSynthesizing, alert.StatusReady, alert.StatusPlaying}
	if len(statuses) != len(want) {
		t.Fatalf("expected journal statuses %v, got %v", want, statuses)
	}
}

func TestRunStopsOnClosedQueue(t *testing.T) {
	q := queue.New(1)
	o := New(Config{}, q, &fakeSynth{}, newCaptureNotifier())
	q.Close()
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("expected nil on closed queue, got %v", err)
	}
}

func TestRunReturnsContextError(t *testing.T) {
	q := queue.New(1)
	o := New(Config{}, q, &fakeSynth{}, newCaptureNotifier())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := o.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClearQueue(t *testing.T) {
	q := queue.New(10)
	j := &fakeJournal{}
	o := New(Config{}, q, &fakeSynth{}, newCaptureNotifier(), WithJournal(j))
	_ = q.Enqueue(newJob("a"))
	_ = q.Enqueue(newJob("b"))
	if n := o.ClearQueue(context.Background()); n != 2 {
		t.Fatalf("expected 2 cleared, got %d", n)
	}
	if q.Len() != 0 || len(j.Removed()) != 2 {
		t.Fatalf("expected empty queue and journal removals")
	}
}

func TestPlayTimeout(t *testing.T) {
	c := DefaultConfig()
	cases := []struct {
		d    time.Duration
		text string
		want time.Duration
	}{
		{10 * time.Second, "", 13 * time.Second},
		{500 * time.Millisecond, "", 5 * time.Second},
		{5 * time.Minute, "", 60 * time.Second},
		{0, "twelve chars", 5 * time.Second},
		{0, string(make([]rune, 240)), 23 * time.Second},
		{0, "", 60 * time.Second},
	}
	for _, tc := range cases {
		if got := c.PlayTimeout(tc.d, tc.text); got != tc.want {
			t.Fatalf("PlayTimeout(%s, %d chars): expected %s, got %s", tc.d, len([]rune(tc.text)), tc.want, got)
		}
	}
}

func TestInvalidTransition(t *testing.T) {
	var sm stateMachine
	err := sm.Transition(StatePlaying, "x", "bad")
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) || ite.From != StateIdle || ite.To != StatePlaying {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}
