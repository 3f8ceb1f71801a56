package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/harunnryd/freestream/pkg/alert"
	"github.com/harunnryd/freestream/pkg/audio"
	"github.com/harunnryd/freestream/pkg/errorsx"
	"github.com/harunnryd/freestream/pkg/logging"
	"github.com/harunnryd/freestream/pkg/metrics"
	"github.com/harunnryd/freestream/pkg/queue"
	"github.com/harunnryd/freestream/pkg/redact"
	"github.com/harunnryd/freestream/pkg/tts"
)

// Source hands out queued jobs in order. *queue.Queue satisfies it.
type Source interface {
	Dequeue(ctx context.Context) (alert.Job, error)
	Len() int
	Clear() []alert.Job
}

// Synthesizer turns text into a cached audio handle. *tts.Client satisfies it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, v tts.Voice) (audio.Handle, error)
}

// Notifier delivers playback instructions to the overlay.
type Notifier interface {
	NotifyReady(ctx context.Context, n Notification) error
	NotifySkip(ctx context.Context, id string) error
}

// Journal tracks unfinished jobs for crash recovery.
type Journal interface {
	MarkStatus(ctx context.Context, id string, status alert.Status) error
	Remove(ctx context.Context, id string) error
}

// AudioEvictor drops cached audio. *audiocache.Cache satisfies it.
type AudioEvictor interface {
	Delete(key string)
}

// Notification is the alert_ready payload for one job.
type Notification struct {
	ID         string          `json:"id"`
	AudioID    string          `json:"audio_id"`
	Text       string          `json:"text"`
	EventType  alert.EventType `json:"event_type"`
	Platform   alert.Platform  `json:"platform"`
	DurationMs int64           `json:"duration_ms,omitempty"`
}

type Config struct {
	MinPlayTimeout time.Duration
	MaxPlayTimeout time.Duration
	// Grace is added to the audio duration before clamping.
	Grace time.Duration
	// CharsPerSecond estimates speech length when the duration is unknown.
	CharsPerSecond float64
}

func DefaultConfig() Config {
	return Config{
		MinPlayTimeout: 5 * time.Second,
		MaxPlayTimeout: 60 * time.Second,
		Grace:          3 * time.Second,
		CharsPerSecond: 12,
	}
}

// PlayTimeout is the ceiling for one playback: duration plus grace, clamped
// to [MinPlayTimeout, MaxPlayTimeout]. Without a duration the text length is
// used, and without either the maximum applies.
func (c Config) PlayTimeout(d time.Duration, text string) time.Duration {
	if d <= 0 && c.CharsPerSecond > 0 {
		if n := utf8.RuneCountInString(text); n > 0 {
			d = time.Duration(float64(n) / c.CharsPerSecond * float64(time.Second))
		}
	}
	if d <= 0 {
		return c.MaxPlayTimeout
	}
	d += c.Grace
	if d < c.MinPlayTimeout {
		d = c.MinPlayTimeout
	}
	if c.MaxPlayTimeout > 0 && d > c.MaxPlayTimeout {
		d = c.MaxPlayTimeout
	}
	return d
}

type signalKind int

const (
	signalComplete signalKind = iota
	signalSkip
	signalError
)

type signal struct {
	kind   signalKind
	id     string
	reason string
}

// Outcome names how a playback ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeError     Outcome = "client_error"
)

// Status is a read-only snapshot for the HTTP API.
type Status struct {
	State     string        `json:"state"`
	Current   *Notification `json:"current,omitempty"`
	QueueSize int           `json:"queue_size"`
	Completed int64         `json:"completed"`
	Failed    int64         `json:"failed"`
	Skipped   int64         `json:"skipped"`
	TimedOut  int64         `json:"timed_out"`
}

type Option func(*Orchestrator)

func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = logging.NewComponentLogger(log, "orchestrator") }
}

func WithObserver(obs metrics.Observer) Option {
	return func(o *Orchestrator) { o.obs = obs }
}

func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithAudioEvictor drops the audio of an alert the overlay failed to play,
// so the next alert with the same text is synthesized again.
func WithAudioEvictor(e AudioEvictor) Option {
	return func(o *Orchestrator) { o.evict = e }
}

func WithListener(l StateListener) Option {
	return func(o *Orchestrator) { o.sm.AddListener(l) }
}

// Orchestrator is the single consumer of the alert queue. One goroutine runs
// Run; it alone advances jobs. Other goroutines talk to it through Complete,
// Skip and ReportError, which only enqueue signals.
type Orchestrator struct {
	cfg     Config
	source  Source
	synth   Synthesizer
	notify  Notifier
	journal Journal
	evict   AudioEvictor
	log     *slog.Logger
	obs     metrics.Observer
	sm      stateMachine
	signals chan signal
	running atomic.Bool

	mu      sync.RWMutex
	current *Notification

	completed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	timedOut  atomic.Int64
}

func New(cfg Config, source Source, synth Synthesizer, notify Notifier, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.MinPlayTimeout <= 0 {
		cfg.MinPlayTimeout = def.MinPlayTimeout
	}
	if cfg.MaxPlayTimeout <= 0 {
		cfg.MaxPlayTimeout = def.MaxPlayTimeout
	}
	if cfg.MaxPlayTimeout < cfg.MinPlayTimeout {
		cfg.MaxPlayTimeout = cfg.MinPlayTimeout
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if cfg.CharsPerSecond <= 0 {
		cfg.CharsPerSecond = def.CharsPerSecond
	}
	o := &Orchestrator{
		cfg:     cfg,
		source:  source,
		synth:   synth,
		notify:  notify,
		log:     logging.NewComponentLogger(nil, "orchestrator"),
		obs:     metrics.NoopObserver{},
		signals: make(chan signal, 16),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run consumes the queue until ctx ends or the queue closes. It returns nil
// on a closed queue and the context error on cancellation.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return errors.New("orchestrator: already running")
	}
	defer o.running.Store(false)

	o.log.Info("orchestrator_started")
	defer o.log.Info("orchestrator_stopped")
	for {
		_ = o.sm.Transition(StateIdle, "", "next")
		job, err := o.source.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		o.process(ctx, job)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, job alert.Job) {
	if err := job.Advance(alert.StatusSynthesizing); err != nil {
		o.log.Warn("alert_invalid_status", "job_id", job.ID, "error", err)
		o.forget(ctx, job.ID)
		return
	}
	_ = o.sm.Transition(StateFetching, job.ID, "dequeued")
	o.markStatus(ctx, job)

	handle, err := o.synth.Synthesize(ctx, job.SpokenText, tts.Voice{Name: job.Voice, Speed: job.Speed})
	if err != nil {
		if ctx.Err() != nil {
			// shutdown: the journal keeps the job for the next start
			return
		}
		_ = job.Advance(alert.StatusFailed)
		o.failed.Add(1)
		reason := errorsx.Reason(err)
		o.log.Warn("alert_failed",
			"job_id", job.ID,
			"event_type", string(job.EventType),
			"reason", string(reason),
			"error", err,
		)
		metrics.Record(o.obs, metrics.EventAlertFailed, 1, o.tags(job, "reason", string(reason)))
		o.forget(ctx, job.ID)
		_ = o.sm.Transition(StateIdle, job.ID, "synthesis failed")
		return
	}

	job.AudioID = handle.ID
	_ = job.Advance(alert.StatusReady)
	_ = o.sm.Transition(StateReady, job.ID, "synthesized")
	o.markStatus(ctx, job)

	n := Notification{
		ID:         job.ID,
		AudioID:    handle.ID,
		Text:       job.RenderedText,
		EventType:  job.EventType,
		Platform:   job.Platform,
		DurationMs: handle.Duration.Milliseconds(),
	}
	o.setCurrent(&n)
	defer o.setCurrent(nil)

	metrics.Record(o.obs, metrics.EventAlertReady, float64(time.Since(job.CreatedAt).Milliseconds()), o.tags(job))
	if err := o.notify.NotifyReady(ctx, n); err != nil {
		// the job stays in flight; a reconnecting overlay gets it again and
		// the play timeout still bounds it
		o.log.Warn("alert_delivery_deferred",
			"job_id", job.ID,
			"reason", string(errorsx.Reason(err)),
			"error", err,
		)
	}

	_ = job.Advance(alert.StatusPlaying)
	_ = o.sm.Transition(StatePlaying, job.ID, "delivered")
	o.markStatus(ctx, job)

	timeout := o.cfg.PlayTimeout(handle.Duration, job.SpokenText)
	o.log.Info("alert_playing",
		"job_id", job.ID,
		"event_type", string(job.EventType),
		"timeout_ms", timeout.Milliseconds(),
		"text", logging.Clip(redact.Text(job.SpokenText), 80),
	)
	started := time.Now()
	outcome, ok := o.awaitPlayback(ctx, job.ID, timeout)
	if !ok {
		return
	}

	_ = job.Advance(alert.StatusCompleted)
	playMs := float64(time.Since(started).Milliseconds())
	switch outcome {
	case OutcomeSkipped:
		o.skipped.Add(1)
		metrics.Record(o.obs, metrics.EventAlertSkipped, playMs, o.tags(job))
	case OutcomeTimeout:
		o.timedOut.Add(1)
		metrics.Record(o.obs, metrics.EventAlertTimeout, playMs, o.tags(job))
	case OutcomeError:
		o.completed.Add(1)
		metrics.Record(o.obs, metrics.EventAlertCompleted, playMs, o.tags(job, "outcome", string(outcome)))
		if o.evict != nil {
			o.evict.Delete(handle.ID)
			o.log.Info("audio_evicted", "job_id", job.ID, "audio_id", handle.ID)
		}
	default:
		o.completed.Add(1)
		metrics.Record(o.obs, metrics.EventAlertCompleted, playMs, o.tags(job, "outcome", string(outcome)))
	}
	o.log.Info("alert_finished", "job_id", job.ID, "outcome", string(outcome), "play_ms", int64(playMs))
	o.forget(ctx, job.ID)
}

// awaitPlayback blocks until the current job ends. ok is false when ctx
// ended first.
func (o *Orchestrator) awaitPlayback(ctx context.Context, id string, timeout time.Duration) (Outcome, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", false
		case <-timer.C:
			o.log.Warn("alert_timeout", "job_id", id, "timeout_ms", timeout.Milliseconds())
			if err := o.notify.NotifySkip(ctx, id); err != nil {
				o.log.Debug("skip_notify_failed", "job_id", id, "error", err)
			}
			return OutcomeTimeout, true
		case s := <-o.signals:
			if s.id != id {
				o.log.Debug("stale_signal_ignored", "job_id", s.id, "current", id)
				continue
			}
			switch s.kind {
			case signalSkip:
				if err := o.notify.NotifySkip(ctx, id); err != nil {
					o.log.Debug("skip_notify_failed", "job_id", id, "error", err)
				}
				return OutcomeSkipped, true
			case signalError:
				o.log.Warn("overlay_playback_error", "job_id", id, "reason", s.reason)
				return OutcomeError, true
			default:
				return OutcomeCompleted, true
			}
		}
	}
}

// Complete reports that the overlay finished playing id. Completions for
// any job other than the one in flight are ignored.
func (o *Orchestrator) Complete(id string) bool {
	return o.send(signal{kind: signalComplete, id: id})
}

// ReportError treats an overlay playback error as completion of id.
func (o *Orchestrator) ReportError(id, reason string) bool {
	return o.send(signal{kind: signalError, id: id, reason: reason})
}

// Skip ends the in-flight alert and tells the overlay to stop it. It returns
// the skipped job ID, or false when nothing is playing.
func (o *Orchestrator) Skip() (string, bool) {
	cur, ok := o.Current()
	if !ok {
		return "", false
	}
	return cur.ID, o.send(signal{kind: signalSkip, id: cur.ID})
}

func (o *Orchestrator) send(s signal) bool {
	if s.id == "" {
		return false
	}
	cur, ok := o.Current()
	if !ok || cur.ID != s.id {
		o.log.Debug("stale_signal_ignored", "job_id", s.id)
		return false
	}
	select {
	case o.signals <- s:
		return true
	default:
		// a signal for this job is already pending
		return false
	}
}

// Current returns the alert between ready and completion, if any.
func (o *Orchestrator) Current() (Notification, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.current == nil {
		return Notification{}, false
	}
	return *o.current, true
}

func (o *Orchestrator) setCurrent(n *Notification) {
	o.mu.Lock()
	o.current = n
	o.mu.Unlock()
}

// ClearQueue discards every waiting job. The in-flight alert is untouched.
func (o *Orchestrator) ClearQueue(ctx context.Context) int {
	jobs := o.source.Clear()
	for _, j := range jobs {
		o.forget(ctx, j.ID)
		metrics.Record(o.obs, metrics.EventAlertDropped, 1, o.tags(j, "reason", "cleared"))
	}
	if len(jobs) > 0 {
		o.log.Info("queue_cleared", "jobs", len(jobs))
	}
	return len(jobs)
}

func (o *Orchestrator) State() State { return o.sm.State() }

func (o *Orchestrator) QueueSize() int { return o.source.Len() }

func (o *Orchestrator) Status() Status {
	st := Status{
		State:     o.sm.State().String(),
		QueueSize: o.source.Len(),
		Completed: o.completed.Load(),
		Failed:    o.failed.Load(),
		Skipped:   o.skipped.Load(),
		TimedOut:  o.timedOut.Load(),
	}
	if cur, ok := o.Current(); ok {
		st.Current = &cur
	}
	return st
}

func (o *Orchestrator) markStatus(ctx context.Context, job alert.Job) {
	if o.journal == nil {
		return
	}
	if err := o.journal.MarkStatus(ctx, job.ID, job.Status); err != nil {
		o.log.Warn("journal_update_failed", "job_id", job.ID, "error", errorsx.Wrap(err, errorsx.ReasonJournalWrite))
	}
}

func (o *Orchestrator) forget(ctx context.Context, id string) {
	if o.journal == nil {
		return
	}
	// removal must survive a cancelled loop context
	if err := o.journal.Remove(context.WithoutCancel(ctx), id); err != nil {
		o.log.Warn("journal_remove_failed", "job_id", id, "error", errorsx.Wrap(err, errorsx.ReasonJournalWrite))
	}
}

func (o *Orchestrator) tags(job alert.Job, kv ...string) map[string]string {
	t := map[string]string{
		"job_id":     job.ID,
		"event_type": string(job.EventType),
		"platform":   string(job.Platform),
	}
	for i := 0; i+1 < len(kv); i += 2 {
		t[kv[i]] = kv[i+1]
	}
	return t
}
