package metrics

import "time"

// Event names emitted by the alert pipeline.
const (
	EventAlertQueued    = "alert_queued"
	EventAlertDropped   = "alert_dropped"
	EventAlertReady     = "alert_ready"
	EventAlertCompleted = "alert_completed"
	EventAlertFailed    = "alert_failed"
	EventAlertTimeout   = "alert_timeout"
	EventAlertSkipped   = "alert_skipped"

	EventTTSCacheHit  = "tts_cache_hit"
	EventTTSSynthesis = "tts_synthesis"
	EventTTSRetry     = "tts_retry"

	EventBreakerOpen   = "breaker_open"
	EventBreakerDenied = "breaker_denied"

	EventOverlayConnected    = "overlay_connected"
	EventOverlayDisconnected = "overlay_disconnected"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Record builds and emits a named event stamped with the current time.
// A nil observer is ignored.
func Record(obs Observer, name string, value float64, tags map[string]string) {
	if obs == nil {
		return
	}
	obs.RecordEvent(MetricsEvent{Name: name, Time: time.Now(), Value: value, Tags: tags})
}
