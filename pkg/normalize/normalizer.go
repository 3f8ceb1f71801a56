package normalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/harunnryd/freestream/pkg/alert"
	"github.com/harunnryd/freestream/pkg/errorsx"
	"github.com/harunnryd/freestream/pkg/logging"
	"github.com/harunnryd/freestream/pkg/metrics"
	"github.com/harunnryd/freestream/pkg/queue"
	"github.com/harunnryd/freestream/pkg/redact"
)

const DefaultMaxTextLength = 300

// DropReason says why an event did not become a job.
type DropReason string

const (
	DropInvalid        DropReason = "invalid"
	DropDisabled       DropReason = "disabled"
	DropBelowThreshold DropReason = "below_threshold"
	DropDuplicate      DropReason = "duplicate"
	DropDuplicateText  DropReason = "duplicate_text"
	DropRateLimited    DropReason = "rate_limited"
	DropEmptyText      DropReason = "empty_text"
)

// DropError is returned for events that are deliberately not turned into jobs.
type DropError struct {
	Reason  DropReason
	Type    alert.EventType
	EventID string
	Detail  string
}

func (e *DropError) Error() string {
	msg := fmt.Sprintf("normalize: dropped %s event %q: %s", e.Type, e.EventID, e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// IsDrop reports whether err is a normalization drop, optionally of a
// specific reason.
func IsDrop(err error, reason ...DropReason) bool {
	var de *DropError
	if !errors.As(err, &de) {
		return false
	}
	if len(reason) == 0 {
		return true
	}
	for _, r := range reason {
		if de.Reason == r {
			return true
		}
	}
	return false
}

// Thresholds hold the minimum values an event must reach to be announced.
type Thresholds struct {
	BitsMinimum           int
	GiftMinimum           int
	SuperchatMinimumCents int
	// Rewards limits channel point redemptions to these reward IDs or
	// names. Empty allows all.
	Rewards []string
}

type Config struct {
	Disabled        []alert.EventType
	Thresholds      Thresholds
	Templates       map[string]string
	ProfanityFilter bool
	Blocklist       []string
	MaxTextLength   int
	DedupSize       int
	// DuplicateWindow suppresses repeated spoken text. Zero disables it.
	DuplicateWindow time.Duration
	// RateLimits caps accepted alerts per platform per minute.
	RateLimits map[alert.Platform]int
	// MuteMessages lists types whose attached message is not spoken; their
	// no-message wording is used instead.
	MuteMessages []alert.EventType
	// HideText leaves RenderedText empty so the overlay shows no caption.
	HideText bool
	Voice    string
	Speed    float64
}

// Enqueuer receives accepted jobs. *queue.Queue satisfies it.
type Enqueuer interface {
	Enqueue(job alert.Job) error
}

// Recorder persists accepted jobs until they finish.
type Recorder interface {
	Append(ctx context.Context, job alert.Job) error
	Remove(ctx context.Context, id string) error
}

type Option func(*Normalizer)

func WithLogger(log *slog.Logger) Option {
	return func(n *Normalizer) { n.log = logging.NewComponentLogger(log, "normalizer") }
}

func WithObserver(obs metrics.Observer) Option {
	return func(n *Normalizer) { n.obs = obs }
}

func WithRecorder(r Recorder) Option {
	return func(n *Normalizer) { n.journal = r }
}

// Normalizer turns platform events into alert jobs and hands them to the
// queue without blocking.
type Normalizer struct {
	cfg       Config
	templates map[string]string
	disabled  map[alert.EventType]bool
	muted     map[alert.EventType]bool
	rewards   map[string]struct{}
	profanity *ProfanityFilter
	seen      *seenSet
	recent    *recentTexts
	limits    platformLimits
	validate  *validator.Validate
	sink      Enqueuer
	journal   Recorder
	log       *slog.Logger
	obs       metrics.Observer
	now       func() time.Time

	mu    sync.Mutex
	stats Stats
}

// Stats counts submissions by outcome.
type Stats struct {
	Accepted  int64                `json:"accepted"`
	Dropped   map[DropReason]int64 `json:"dropped"`
	QueueFull int64                `json:"queue_full"`
	// RateRemaining is the alerts each rate-limited platform may still send now.
	RateRemaining map[alert.Platform]int `json:"rate_remaining,omitempty"`
}

func New(cfg Config, sink Enqueuer, opts ...Option) *Normalizer {
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = DefaultMaxTextLength
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}
	n := &Normalizer{
		cfg:       cfg,
		templates: MergeTemplates(cfg.Templates),
		disabled:  make(map[alert.EventType]bool, len(cfg.Disabled)),
		muted:     make(map[alert.EventType]bool, len(cfg.MuteMessages)),
		rewards:   make(map[string]struct{}, len(cfg.Thresholds.Rewards)),
		seen:      newSeenSet(cfg.DedupSize),
		recent:    newRecentTexts(cfg.DuplicateWindow),
		limits:    newPlatformLimits(cfg.RateLimits),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		sink:      sink,
		log:       logging.NewComponentLogger(nil, "normalizer"),
		obs:       metrics.NoopObserver{},
		now:       time.Now,
		stats:     Stats{Dropped: make(map[DropReason]int64)},
	}
	for _, et := range cfg.Disabled {
		n.disabled[et] = true
	}
	for _, et := range cfg.MuteMessages {
		n.muted[et] = true
	}
	for _, r := range cfg.Thresholds.Rewards {
		if r = strings.TrimSpace(r); r != "" {
			n.rewards[r] = struct{}{}
		}
	}
	if cfg.ProfanityFilter {
		n.profanity = NewProfanityFilter(cfg.Blocklist)
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize builds a job from ev. Dropped events return a *DropError. A
// successful call marks the source event as seen, records its text for the
// duplicate window and takes a token from its platform's rate limit.
func (n *Normalizer) Normalize(ev Event) (alert.Job, error) {
	if ev == nil {
		return alert.Job{}, &DropError{Reason: DropInvalid, Detail: "nil event"}
	}
	et := ev.Type()
	drop := func(reason DropReason, detail string) (alert.Job, error) {
		return alert.Job{}, &DropError{Reason: reason, Type: et, EventID: ev.EventID(), Detail: detail}
	}
	if err := n.validate.Struct(ev); err != nil {
		return drop(DropInvalid, validationDetail(err))
	}
	if n.disabled[et] {
		return drop(DropDisabled, "")
	}
	if detail, ok := n.meetsThreshold(ev); !ok {
		return drop(DropBelowThreshold, detail)
	}

	r := ev.render(!n.muted[et])
	for _, name := range r.free {
		v := r.vars[name]
		if n.profanity != nil {
			v = n.profanity.Censor(v)
		}
		r.vars[name] = v
	}
	tmpl, ok := n.templates[r.template]
	if !ok {
		return drop(DropInvalid, "no template "+r.template)
	}
	text := Truncate(Clean(Render(tmpl, r.vars)), n.cfg.MaxTextLength)
	if text == "" {
		return drop(DropEmptyText, "")
	}

	if !n.seen.mark(ev.EventID()) {
		return drop(DropDuplicate, "")
	}
	now := n.now()
	if !n.recent.mark(text, now) {
		n.seen.forget(ev.EventID())
		return drop(DropDuplicateText, "")
	}
	if !n.limits.allow(et.Platform(), now) {
		n.seen.forget(ev.EventID())
		n.recent.forget(text)
		return drop(DropRateLimited, string(et.Platform()))
	}

	job := alert.Job{
		ID:            alert.NewID(),
		SourceEventID: ev.EventID(),
		Platform:      et.Platform(),
		EventType:     et,
		RenderedText:  text,
		SpokenText:    text,
		Voice:         n.cfg.Voice,
		Speed:         n.cfg.Speed,
		CacheKey:      alert.CacheKey(text, n.cfg.Voice, n.cfg.Speed),
		Status:        alert.StatusQueued,
		CreatedAt:     now.UTC(),
		Metadata:      metadata(ev),
	}
	if n.cfg.HideText {
		job.RenderedText = ""
	}
	return job, nil
}

func (n *Normalizer) meetsThreshold(ev Event) (string, bool) {
	t := n.cfg.Thresholds
	switch e := ev.(type) {
	case Cheer:
		if e.Amount < t.BitsMinimum {
			return fmt.Sprintf("%d bits < %d", e.Amount, t.BitsMinimum), false
		}
	case GiftSubscription:
		if e.Count < t.GiftMinimum {
			return fmt.Sprintf("%d gifts < %d", e.Count, t.GiftMinimum), false
		}
	case Redemption:
		if len(n.rewards) == 0 {
			return "", true
		}
		_, byID := n.rewards[e.RewardID]
		_, byName := n.rewards[e.RewardName]
		if !byID && !byName {
			return "reward not allowed", false
		}
	case SuperChat:
		if cents(e.Amount) < t.SuperchatMinimumCents {
			return fmt.Sprintf("%d cents < %d", cents(e.Amount), t.SuperchatMinimumCents), false
		}
	case SuperSticker:
		if cents(e.Amount) < t.SuperchatMinimumCents {
			return fmt.Sprintf("%d cents < %d", cents(e.Amount), t.SuperchatMinimumCents), false
		}
	}
	return "", true
}

func cents(amount float64) int {
	return int(math.Round(amount * 100))
}

// Submit normalizes ev and enqueues the job without blocking. Drops are
// logged and returned tagged normalize_dropped; a full queue returns an error
// tagged queue_full.
func (n *Normalizer) Submit(ctx context.Context, ev Event) (alert.Job, error) {
	job, err := n.Normalize(ev)
	if err != nil {
		n.recordDrop(err)
		return alert.Job{}, errorsx.Wrap(err, errorsx.ReasonNormalizeDropped)
	}

	if n.journal != nil {
		if jerr := n.journal.Append(ctx, job); jerr != nil {
			n.log.Warn("journal_append_failed", "job_id", job.ID, "error", errorsx.Wrap(jerr, errorsx.ReasonJournalWrite))
		}
	}

	if err := n.sink.Enqueue(job); err != nil {
		reason := errorsx.ReasonQueueFull
		if errors.Is(err, queue.ErrClosed) {
			reason = errorsx.ReasonQueueClosed
		}
		// The job never reached the queue, so a redelivery of the same
		// event may try again.
		n.seen.forget(job.SourceEventID)
		n.recent.forget(job.SpokenText)
		if n.journal != nil {
			_ = n.journal.Remove(ctx, job.ID)
		}
		n.mu.Lock()
		n.stats.QueueFull++
		n.mu.Unlock()
		n.log.Warn("alert_backpressure",
			"job_id", job.ID,
			"event_type", string(job.EventType),
			"reason", string(reason),
		)
		metrics.Record(n.obs, metrics.EventAlertDropped, 1, map[string]string{
			"event_type": string(job.EventType),
			"reason":     string(reason),
		})
		return alert.Job{}, errorsx.Wrapf(err, reason, "enqueue %s", job.ID)
	}

	n.mu.Lock()
	n.stats.Accepted++
	n.mu.Unlock()
	n.log.Info("alert_queued",
		"job_id", job.ID,
		"event_type", string(job.EventType),
		"text", logging.Clip(redact.Text(job.SpokenText), 80),
	)
	metrics.Record(n.obs, metrics.EventAlertQueued, 1, map[string]string{
		"job_id":     job.ID,
		"event_type": string(job.EventType),
		"platform":   string(job.Platform),
	})
	return job, nil
}

func (n *Normalizer) recordDrop(err error) {
	var de *DropError
	if !errors.As(err, &de) {
		return
	}
	n.mu.Lock()
	n.stats.Dropped[de.Reason]++
	n.mu.Unlock()
	attrs := []any{
		"event_type", string(de.Type),
		"event_id", de.EventID,
		"reason", string(de.Reason),
	}
	if de.Detail != "" {
		attrs = append(attrs, "detail", de.Detail)
	}
	switch de.Reason {
	case DropInvalid, DropRateLimited:
		n.log.Warn("event_dropped", attrs...)
	default:
		n.log.Debug("event_dropped", attrs...)
	}
	metrics.Record(n.obs, metrics.EventAlertDropped, 1, map[string]string{
		"event_type": string(de.Type),
		"reason":     string(de.Reason),
	})
}

// Remember marks source event IDs as already seen, used when jobs are
// restored from the journal at startup.
func (n *Normalizer) Remember(ids ...string) {
	for _, id := range ids {
		if id != "" {
			n.seen.mark(id)
		}
	}
}

// Stats returns a copy of the outcome counters.
func (n *Normalizer) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := Stats{Accepted: n.stats.Accepted, QueueFull: n.stats.QueueFull, Dropped: make(map[DropReason]int64, len(n.stats.Dropped))}
	for k, v := range n.stats.Dropped {
		out.Dropped[k] = v
	}
	if len(n.limits) > 0 {
		out.RateRemaining = n.limits.remaining(n.now())
	}
	return out
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+" "+fe.Tag())
	}
	return strings.Join(parts, ", ")
}
