package freestream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	ttsadapter "github.com/harunnryd/freestream/pkg/adapters/tts"
	"github.com/harunnryd/freestream/pkg/alert"
	"github.com/harunnryd/freestream/pkg/audiocache"
	"github.com/harunnryd/freestream/pkg/httpapi"
	"github.com/harunnryd/freestream/pkg/journal"
	"github.com/harunnryd/freestream/pkg/logging"
	"github.com/harunnryd/freestream/pkg/metrics"
	"github.com/harunnryd/freestream/pkg/normalize"
	"github.com/harunnryd/freestream/pkg/observers"
	"github.com/harunnryd/freestream/pkg/orchestrator"
	"github.com/harunnryd/freestream/pkg/overlay"
	"github.com/harunnryd/freestream/pkg/queue"
	"github.com/harunnryd/freestream/pkg/redact"
	"github.com/harunnryd/freestream/pkg/tts"
)

// Engine owns every component of the alert pipeline and their lifetimes.
type Engine struct {
	cfg      Config
	log      *slog.Logger
	asyncObs *metrics.AsyncObserver
	closers  []io.Closer

	cache      *audiocache.Cache
	speaker    *tts.Client
	queue      *queue.Queue
	normalizer *normalize.Normalizer
	orch       *orchestrator.Orchestrator
	hub        *overlay.Hub
	journal    *journal.Store
	server     *httpapi.Server

	mu       sync.Mutex
	cancel   context.CancelFunc
	orchDone chan struct{}
	srvDone  chan struct{}
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	// TTS replaces the engine named by the config, e.g. in tests.
	TTS    ttsadapter.Engine
	Logger *slog.Logger
	// Observer receives every metrics event next to the built-in observers.
	Observer metrics.Observer
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	redact.SetEnabled(cfg.Observability.RedactText)

	e := &Engine{cfg: cfg, log: logging.NewComponentLogger(base, "engine")}
	obs, err := e.buildObservers(base, opts.Observer)
	if err != nil {
		e.closeObservers()
		return nil, err
	}

	engine := opts.TTS
	if engine == nil {
		providers := opts.Providers
		if providers == nil {
			providers = DefaultProviderRegistry()
		}
		engine, err = providers.BuildTTS(cfg.TTS)
		if err != nil {
			e.closeObservers()
			return nil, err
		}
	}

	e.log.Info("freestream_init",
		slog.String("tts_provider", engine.Name()),
		slog.String("voice", cfg.TTS.Voice),
		slog.Int("queue_capacity", cfg.Queue.Capacity),
		slog.Bool("journal", cfg.Journal.Enabled),
		slog.Bool("debug", cfg.Debug),
	)

	if cfg.Journal.Enabled {
		e.journal, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			e.closeObservers()
			return nil, err
		}
	}

	e.cache = audiocache.New(audiocache.Config{
		MaxEntries: cfg.Cache.MaxEntries,
		MaxBytes:   cfg.Cache.MaxBytes,
		TTL:        cfg.Cache.TTL,
	})
	e.speaker = tts.NewClient(engine, e.cache, tts.Config{
		Voice:            cfg.TTS.Voice,
		Speed:            cfg.TTS.Speed,
		MaxTextLength:    cfg.TTS.MaxTextLength,
		AttemptTimeout:   cfg.TTS.AttemptTimeout,
		MaxAttempts:      cfg.TTS.MaxAttempts,
		BaseDelay:        cfg.TTS.BaseDelay,
		MaxDelay:         cfg.TTS.MaxDelay,
		BreakerThreshold: cfg.TTS.BreakerThreshold,
		BreakerCooldown:  cfg.TTS.BreakerCooldown,
	}, tts.WithLogger(base), tts.WithObserver(obs))

	e.queue = queue.New(cfg.Queue.Capacity)

	normOpts := []normalize.Option{normalize.WithLogger(base), normalize.WithObserver(obs)}
	if e.journal != nil {
		normOpts = append(normOpts, normalize.WithRecorder(e.journal))
	}
	e.normalizer = normalize.New(normalize.Config{
		Disabled: cfg.Events.DisabledTypes(),
		Thresholds: normalize.Thresholds{
			BitsMinimum:           cfg.Events.Bits.Minimum,
			GiftMinimum:           cfg.Events.GiftSubs.Minimum,
			SuperchatMinimumCents: cfg.Events.Superchat.Minimum,
			Rewards:               cfg.Events.ChannelPoints.Rewards,
		},
		Templates:       cfg.Templates,
		ProfanityFilter: cfg.Profanity.Enabled,
		Blocklist:       cfg.Profanity.Blocklist,
		MaxTextLength:   cfg.TTS.MaxTextLength,
		DedupSize:       cfg.Queue.DedupSize,
		DuplicateWindow: cfg.Queue.DuplicateWindow,
		RateLimits: map[alert.Platform]int{
			alert.PlatformTwitch:  cfg.Events.RateLimit.Twitch,
			alert.PlatformYouTube: cfg.Events.RateLimit.YouTube,
		},
		MuteMessages: cfg.Events.MutedTypes(),
		HideText:     !cfg.Overlay.ShowText,
		Voice:        e.speaker.Resolve(tts.Voice{}).Name,
		Speed:        e.speaker.Resolve(tts.Voice{}).Speed,
	}, e.queue, normOpts...)

	e.hub = overlay.New(overlay.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowAnyOrigin: allowsAny(cfg.Server.AllowedOrigins),
		PingInterval:   cfg.Overlay.PingInterval,
		PongWait:       cfg.Overlay.PongWait,
		WriteWait:      cfg.Overlay.WriteWait,
		SendBuffer:     cfg.Overlay.SendBuffer,
		MaxMessageSize: cfg.Overlay.MaxMessageSize,
	}, overlay.WithLogger(base), overlay.WithObserver(obs))

	stateLog := logging.NewComponentLogger(base, "orchestrator")
	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(base),
		orchestrator.WithObserver(obs),
		orchestrator.WithAudioEvictor(e.cache),
		orchestrator.WithListener(orchestrator.StateListenerFunc(func(ev orchestrator.StateChange) {
			stateLog.Debug("state_change",
				slog.String("from", ev.From.String()),
				slog.String("to", ev.To.String()),
				slog.String("job_id", ev.JobID),
				slog.String("reason", ev.Reason))
		})),
	}
	if e.journal != nil {
		orchOpts = append(orchOpts, orchestrator.WithJournal(e.journal))
	}
	e.orch = orchestrator.New(orchestrator.Config{
		MinPlayTimeout: cfg.Orchestrator.MinPlayTimeout,
		MaxPlayTimeout: cfg.Orchestrator.MaxPlayTimeout,
		Grace:          cfg.Orchestrator.Grace,
		CharsPerSecond: cfg.Orchestrator.CharsPerSecond,
	}, e.queue, e.speaker, e.hub, orchOpts...)
	e.hub.Bind(e.orch)
	e.queue.OnChange(e.hub.PublishState)

	e.server = httpapi.New(httpapi.Config{
		Addr:           cfg.Server.Addr(),
		Debug:          cfg.Debug,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, httpapi.Deps{
		Ingest:  e.normalizer,
		Control: e.orch,
		Queue:   e.queue,
		Audio:   e.cache,
		Speaker: e.speaker,
		Overlay: e.hub,
		Health:  e.Health,
	}, base)

	return e, nil
}

// buildObservers fans metrics out to the latency, log, timeline and JSONL
// observers behind sampling and an async buffer.
func (e *Engine) buildObservers(base *slog.Logger, extra metrics.Observer) (metrics.Observer, error) {
	obsList := []metrics.Observer{
		observers.NewLatencyObserver(logging.NewComponentLogger(base, "latency")),
		observers.NewLoggerObserver(logging.NewComponentLogger(base, "metrics")),
	}
	o := e.cfg.Observability
	if dir := strings.TrimSpace(o.ArtifactsDir); dir != "" {
		if o.RetentionDays > 0 {
			if n, err := observers.PurgeArtifacts(dir, time.Duration(o.RetentionDays)*24*time.Hour); err == nil && n > 0 {
				e.log.Info("artifacts_purged", slog.Int("files", n), slog.String("dir", dir))
			}
		}
		timeline := observers.NewTimelineObserver(dir)
		e.closers = append(e.closers, timeline)
		obsList = append(obsList, timeline)
	}
	if path := strings.TrimSpace(o.MetricsPath); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("metrics dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open metrics file: %w", err)
		}
		e.closers = append(e.closers, f)
		obsList = append(obsList, metrics.NewJSONLObserver(f))
	}
	if extra != nil {
		obsList = append(obsList, extra)
	}
	var inner metrics.Observer = observers.NewMultiObserver(obsList...)
	if o.SampleRate > 0 && o.SampleRate < 1 {
		inner = metrics.NewSamplingObserver(inner, o.SampleRate,
			metrics.EventAlertQueued, metrics.EventAlertReady, metrics.EventAlertCompleted,
			metrics.EventAlertFailed, metrics.EventAlertTimeout, metrics.EventAlertSkipped,
			metrics.EventAlertDropped)
	}
	e.asyncObs = metrics.NewAsyncObserver(inner, o.AsyncBuffer)
	return e.asyncObs, nil
}

// Start restores journaled jobs and launches the orchestrator and the HTTP
// server. It returns once both are running.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return errors.New("engine already started")
	}
	if err := e.restore(ctx); err != nil {
		return err
	}
	// only Drain stops the loops, so an in-flight alert can finish
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.orchDone = make(chan struct{})
	e.srvDone = make(chan struct{})
	go func() {
		defer close(e.orchDone)
		if err := e.orch.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			e.log.Error("orchestrator_stopped", slog.String("error", err.Error()))
		}
	}()
	go func() {
		defer close(e.srvDone)
		if err := e.server.Run(runCtx); err != nil {
			e.log.Error("http_stopped", slog.String("error", err.Error()))
		}
	}()
	e.log.Info("freestream_started", slog.String("addr", e.server.Addr()))
	return nil
}

// restore re-enqueues jobs that were accepted but never finished before the
// last shutdown.
func (e *Engine) restore(ctx context.Context) error {
	if e.journal == nil {
		return nil
	}
	pending, err := e.journal.Pending(ctx)
	if err != nil {
		return fmt.Errorf("journal restore: %w", err)
	}
	restored := 0
	for _, job := range pending {
		e.normalizer.Remember(job.SourceEventID)
		if err := e.queue.Enqueue(job); err != nil {
			e.log.Warn("journal_restore_dropped",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()))
			_ = e.journal.Remove(ctx, job.ID)
			continue
		}
		restored++
	}
	if len(pending) > 0 {
		e.log.Info("journal_restored", slog.Int("jobs", restored), slog.Int("pending", len(pending)))
	}
	return nil
}

// Drain stops intake, lets the in-flight alert finish within ctx, then shuts
// everything down. Queued jobs stay in the journal for the next start.
func (e *Engine) Drain(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	orchDone, srvDone := e.orchDone, e.srvDone
	e.mu.Unlock()

	e.queue.Close()
	var drainErr error
	if orchDone != nil {
		select {
		case <-orchDone:
		case <-ctx.Done():
			drainErr = ctx.Err()
		}
	}
	if cancel != nil {
		cancel()
	}
	e.speaker.Close()
	_ = e.hub.Close()
	if orchDone != nil {
		<-orchDone
	}
	if srvDone != nil {
		<-srvDone
	}
	e.closeObservers()
	if e.journal != nil {
		if err := e.journal.Close(); err != nil && drainErr == nil {
			drainErr = err
		}
	}
	e.log.Info("freestream_stopped")
	return drainErr
}

func (e *Engine) closeObservers() {
	e.asyncObs.Close()
	for _, c := range e.closers {
		_ = c.Close()
	}
	e.closers = nil
}

// Health reports the TTS engine and journal state.
func (e *Engine) Health(ctx context.Context) error {
	var errs []error
	if err := e.speaker.Health(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tts: %w", err))
	}
	if e.journal != nil {
		if _, err := e.journal.Count(ctx); err != nil {
			errs = append(errs, fmt.Errorf("journal: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) Config() Config { return e.cfg }

// Handler exposes the HTTP routes without a listener.
func (e *Engine) Handler() http.Handler { return e.server.Handler() }

func (e *Engine) Normalizer() *normalize.Normalizer { return e.normalizer }

func (e *Engine) Orchestrator() *orchestrator.Orchestrator { return e.orch }

func (e *Engine) Overlay() *overlay.Hub { return e.hub }

func allowsAny(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
