package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ttsadapter "github.com/harunnryd/freestream/pkg/adapters/tts"
	"github.com/harunnryd/freestream/pkg/alert"
	"github.com/harunnryd/freestream/pkg/audio"
	"github.com/harunnryd/freestream/pkg/audiocache"
	"github.com/harunnryd/freestream/pkg/errorsx"
	"github.com/harunnryd/freestream/pkg/logging"
	"github.com/harunnryd/freestream/pkg/metrics"
	"github.com/harunnryd/freestream/pkg/resilience"
	"golang.org/x/sync/singleflight"
)

var (
	ErrInvalidInput = ttsadapter.ErrInvalidInput
	ErrUnavailable  = ttsadapter.ErrUnavailable
	ErrTimeout      = ttsadapter.ErrTimeout

	errCircuitOpen = fmt.Errorf("%w: circuit open", ttsadapter.ErrUnavailable)
)

// Voice selects how text is spoken. Zero fields fall back to the client defaults.
type Voice struct {
	Name  string
	Speed float64
}

type Config struct {
	Voice            string
	Speed            float64
	MaxTextLength    int
	AttemptTimeout   time.Duration
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Voice == "" {
		c.Voice = "en_GB-alan-medium"
	}
	if c.Speed <= 0 {
		c.Speed = 1.0
	}
	if c.MaxTextLength <= 0 {
		c.MaxTextLength = 500
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 4 * time.Second
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

// Client turns text into cached audio handles. Concurrent requests for the
// same cache key share one engine call.
type Client struct {
	engine  ttsadapter.Engine
	cache   *audiocache.Cache
	cfg     Config
	group   singleflight.Group
	retry   resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
	log     *slog.Logger
	obs     metrics.Observer

	// done ends in-flight syntheses on Close. A flight does not end with
	// the caller that started it.
	done     context.Context
	shutdown context.CancelFunc
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = logging.NewComponentLogger(l, "tts") }
}

func WithObserver(obs metrics.Observer) Option {
	return func(c *Client) {
		if obs != nil {
			c.obs = obs
		}
	}
}

func NewClient(engine ttsadapter.Engine, cache *audiocache.Cache, cfg Config, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	if cache == nil {
		cache = audiocache.New(audiocache.Config{})
	}
	c := &Client{
		engine:  engine,
		cache:   cache,
		cfg:     cfg,
		breaker: resilience.NewCircuitBreakerFunc(cfg.BreakerThreshold, cfg.BreakerCooldown, isUnavailable),
		log:     logging.NewComponentLogger(slog.Default(), "tts"),
		obs:     metrics.NoopObserver{},
	}
	c.done, c.shutdown = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(c)
	}
	c.retry = resilience.NewRetryPolicy(cfg.MaxAttempts, cfg.BaseDelay, cfg.MaxDelay)
	c.retry.Retryable = func(err error) bool {
		return !errors.Is(err, errCircuitOpen) && ttsadapter.Transient(err)
	}
	c.retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.log.Warn("tts_retry",
			slog.String("engine", c.engine.Name()),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()))
		metrics.Record(c.obs, metrics.EventTTSRetry, float64(attempt), map[string]string{"engine": c.engine.Name()})
	}
	return c
}

// Close aborts in-flight syntheses. Later calls fail with context.Canceled.
func (c *Client) Close() { c.shutdown() }

// EngineName returns the name of the wrapped engine.
func (c *Client) EngineName() string { return c.engine.Name() }

// Cache exposes the audio cache backing this client.
func (c *Client) Cache() *audiocache.Cache { return c.cache }

// Resolve fills voice defaults.
func (c *Client) Resolve(v Voice) Voice {
	if strings.TrimSpace(v.Name) == "" {
		v.Name = c.cfg.Voice
	}
	if v.Speed <= 0 {
		v.Speed = c.cfg.Speed
	}
	return v
}

// Key returns the cache key text would be stored under.
func (c *Client) Key(text string, v Voice) string {
	v = c.Resolve(v)
	return alert.CacheKey(strings.TrimSpace(text), v.Name, v.Speed)
}

// Synthesize returns a handle to audio for text, from cache when possible.
// Errors wrap ErrInvalidInput, ErrUnavailable or ErrTimeout, or are the
// context error when ctx ends first.
func (c *Client) Synthesize(ctx context.Context, text string, v Voice) (audio.Handle, error) {
	text = strings.TrimSpace(text)
	v = c.Resolve(v)
	if text == "" {
		return audio.Handle{}, errorsx.Wrap(fmt.Errorf("%w: empty text", ErrInvalidInput), errorsx.ReasonTTSInvalidInput)
	}
	if n := len([]rune(text)); n > c.cfg.MaxTextLength {
		return audio.Handle{}, errorsx.Wrap(fmt.Errorf("%w: text has %d characters, limit %d", ErrInvalidInput, n, c.cfg.MaxTextLength), errorsx.ReasonTTSInvalidInput)
	}
	key := alert.CacheKey(text, v.Name, v.Speed)
	if e, ok := c.cache.Get(key); ok {
		metrics.Record(c.obs, metrics.EventTTSCacheHit, 1, map[string]string{"cache_key": key})
		return e.Handle, nil
	}

	if err := c.done.Err(); err != nil {
		return audio.Handle{}, err
	}
	ch := c.group.DoChan(key, func() (any, error) {
		flightCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(c.done, cancel)
		defer stop()
		return c.synthesize(flightCtx, key, ttsadapter.Request{Text: text, Voice: v.Name, Speed: v.Speed})
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return audio.Handle{}, res.Err
		}
		return res.Val.(audio.Handle), nil
	case <-ctx.Done():
		return audio.Handle{}, ctx.Err()
	}
}

func (c *Client) synthesize(ctx context.Context, key string, req ttsadapter.Request) (audio.Handle, error) {
	// A flight that started just after another finished finds the audio here.
	if e, ok := c.cache.Lookup(key); ok {
		return e.Handle, nil
	}
	start := time.Now()
	var out ttsadapter.Audio
	attempts := 0
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		attempts++
		if !c.breaker.Allow() {
			metrics.Record(c.obs, metrics.EventBreakerDenied, 1, map[string]string{"engine": c.engine.Name()})
			return errCircuitOpen
		}
		a, err := c.attempt(ctx, req)
		if err != nil {
			if c.breaker.OnError(err) {
				c.log.Warn("tts_breaker_open", slog.String("engine", c.engine.Name()), slog.String("error", err.Error()))
				metrics.Record(c.obs, metrics.EventBreakerOpen, 1, map[string]string{"engine": c.engine.Name()})
			}
			return err
		}
		c.breaker.OnSuccess()
		out = a
		return nil
	})
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrInvalidInput) {
			return audio.Handle{}, ctx.Err()
		}
		c.log.Error("tts_failed",
			slog.String("engine", c.engine.Name()),
			slog.String("cache_key", key),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()))
		return audio.Handle{}, tagReason(err)
	}

	contentType := out.ContentType
	if contentType == "" {
		contentType = audio.DetectContentType(out.Data)
	}
	dur, derr := audio.Duration(out.Data, contentType)
	if derr != nil {
		c.log.Debug("tts_duration_unknown", slog.String("cache_key", key), slog.String("error", derr.Error()))
	}
	h, _ := c.cache.Put(key, out.Data, contentType, dur)
	c.log.Info("tts_synthesized",
		slog.String("engine", c.engine.Name()),
		slog.String("cache_key", key),
		slog.Int("bytes", len(out.Data)),
		slog.Duration("audio", dur),
		slog.Duration("took", time.Since(start)))
	metrics.Record(c.obs, metrics.EventTTSSynthesis, float64(time.Since(start).Milliseconds()), map[string]string{
		"engine":    c.engine.Name(),
		"cache_key": key,
	})
	return h, nil
}

func (c *Client) attempt(ctx context.Context, req ttsadapter.Request) (ttsadapter.Audio, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()
	a, err := c.engine.Synthesize(attemptCtx, req)
	if err == nil && len(a.Data) == 0 {
		err = fmt.Errorf("%w: engine returned no audio", ErrUnavailable)
	}
	if err == nil {
		return a, nil
	}
	if ctx.Err() != nil {
		return ttsadapter.Audio{}, ctx.Err()
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return ttsadapter.Audio{}, fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	err = ttsadapter.Classify(err)
	if !errors.Is(err, ErrInvalidInput) && !errors.Is(err, ErrTimeout) && !errors.Is(err, ErrUnavailable) {
		err = fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return ttsadapter.Audio{}, err
}

// Health checks the engine. An open breaker reports unavailable without
// contacting it.
func (c *Client) Health(ctx context.Context) error {
	if c.breaker.Open() {
		return errorsx.Wrap(errCircuitOpen, errorsx.ReasonTTSCircuitOpen)
	}
	hc, ok := c.engine.(ttsadapter.HealthChecker)
	if !ok {
		return nil
	}
	if err := hc.Health(ctx); err != nil {
		return tagReason(ttsadapter.Classify(err))
	}
	return nil
}

func isUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout) || resilience.IsRateLimit(err)
}

func tagReason(err error) error {
	switch {
	case errors.Is(err, errCircuitOpen):
		return errorsx.Wrap(err, errorsx.ReasonTTSCircuitOpen)
	case resilience.IsRateLimit(err):
		return errorsx.Wrap(err, errorsx.ReasonTTSRateLimit)
	case errors.Is(err, ErrInvalidInput):
		return errorsx.Wrap(err, errorsx.ReasonTTSInvalidInput)
	case errors.Is(err, ErrTimeout):
		return errorsx.Wrap(err, errorsx.ReasonTTSTimeout)
	default:
		return errorsx.Wrap(err, errorsx.ReasonTTSUnavailable)
	}
}
