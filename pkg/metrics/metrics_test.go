package metrics

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestAsyncObserverDeliversBeforeClose(t *testing.T) {
	mem := NewMemoryObserver()
	async := NewAsyncObserver(mem, 16)
	for i := 0; i < 10; i++ {
		Record(async, EventAlertQueued, 1, nil)
	}
	async.Close()
	if got := mem.Count(EventAlertQueued); got != 10 {
		t.Fatalf("expected 10 events, got %d", got)
	}
	Record(async, EventAlertQueued, 1, nil)
	if got := mem.Count(EventAlertQueued); got != 10 {
		t.Fatalf("expected no events after close, got %d", got)
	}
}

func TestSamplingObserverKeepsListedNames(t *testing.T) {
	mem := NewMemoryObserver()
	s := NewSamplingObserver(mem, 0, EventAlertFailed)
	Record(s, EventTTSCacheHit, 1, nil)
	Record(s, EventAlertFailed, 1, nil)
	if mem.Count(EventTTSCacheHit) != 0 {
		t.Fatalf("expected sampled-out event dropped")
	}
	if mem.Count(EventAlertFailed) != 1 {
		t.Fatalf("expected always-keep event forwarded")
	}
}

func TestSamplingObserverRate(t *testing.T) {
	mem := NewMemoryObserver()
	s := NewSamplingObserver(mem, 0.25)
	for i := 0; i < 100; i++ {
		s.RecordEvent(MetricsEvent{Name: EventTTSSynthesis, Time: time.Now()})
	}
	if got := mem.Count(EventTTSSynthesis); got != 25 {
		t.Fatalf("expected 25 sampled events, got %d", got)
	}
}

func TestJSONLObserverFlush(t *testing.T) {
	var buf bytes.Buffer
	obs := NewJSONLObserver(&buf)
	Record(obs, EventAlertReady, 2, map[string]string{"job_id": "j1"})
	if buf.Len() != 0 {
		t.Fatalf("expected output buffered until flush")
	}
	if err := obs.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"name":"alert_ready"`) || !strings.Contains(out, `"job_id":"j1"`) {
		t.Fatalf("unexpected jsonl %q", out)
	}
}
