package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/freestream/pkg/metrics"
)

// LatencyObserver tracks each alert from queueing to the end of playback and
// logs one summary line per job.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
	maxAge time.Duration
}

type trace struct {
	queued    time.Time
	ready     time.Time
	finished  time.Time
	eventType string
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
		maxAge: time.Hour,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	jobID := ""
	if ev.Tags != nil {
		jobID = ev.Tags["job_id"]
	}
	if jobID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	t := o.traces[jobID]
	if t == nil {
		if ev.Name != metrics.EventAlertQueued {
			return
		}
		o.evictLocked(ev.Time)
		t = &trace{eventType: ev.Tags["event_type"]}
		o.traces[jobID] = t
	}
	switch ev.Name {
	case metrics.EventAlertQueued:
		if t.queued.IsZero() {
			t.queued = ev.Time
		}
	case metrics.EventAlertReady:
		if t.ready.IsZero() {
			t.ready = ev.Time
		}
	case metrics.EventAlertCompleted, metrics.EventAlertTimeout, metrics.EventAlertSkipped, metrics.EventAlertFailed:
		t.finished = ev.Time
		o.log.Info("alert_latency",
			"job_id", jobID,
			"event_type", t.eventType,
			"outcome", ev.Name,
			"wait_ms", durationMs(t.queued, t.ready),
			"playback_ms", durationMs(t.ready, t.finished),
			"total_ms", durationMs(t.queued, t.finished),
		)
		delete(o.traces, jobID)
	}
}

// Pending returns the number of jobs still being tracked.
func (o *LatencyObserver) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.traces)
}

// evictLocked forgets jobs dropped before reaching a terminal event.
func (o *LatencyObserver) evictLocked(now time.Time) {
	for id, t := range o.traces {
		if now.Sub(t.queued) > o.maxAge {
			delete(o.traces, id)
		}
	}
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
