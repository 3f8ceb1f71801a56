package observers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/freestream/pkg/metrics"
	"github.com/harunnryd/freestream/pkg/redact"
)

// TimelineObserver appends job-tagged events to one JSONL file per UTC day
// inside dir, giving a replayable history of every alert.
type TimelineObserver struct {
	dir  string
	mu   sync.Mutex
	day  string
	file *os.File
}

// NewTimelineObserver creates a new timeline observer writing to dir.
func NewTimelineObserver(dir string) *TimelineObserver {
	return &TimelineObserver{dir: dir}
}

// RecordEvent implements metrics.Observer.
func (o *TimelineObserver) RecordEvent(ev metrics.MetricsEvent) {
	jobID := ""
	if ev.Tags != nil {
		jobID = ev.Tags["job_id"]
	}
	if jobID == "" || strings.TrimSpace(o.dir) == "" {
		return
	}
	entry := timelineEvent{
		Time:   ev.Time.UTC(),
		Event:  ev.Name,
		JobID:  jobID,
		Value:  ev.Value,
		Tags:   copyTags(ev.Tags),
		Fields: sanitizeFields(ev.Fields),
	}
	delete(entry.Tags, "job_id")
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	f := o.fileForLocked(entry.Time)
	if f == nil {
		return
	}
	_, _ = f.Write(append(line, '\n'))
}

// Close closes the current day file.
func (o *TimelineObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.file == nil {
		return nil
	}
	err := o.file.Close()
	o.file = nil
	o.day = ""
	return err
}

type timelineEvent struct {
	Time   time.Time         `json:"time"`
	Event  string            `json:"event"`
	JobID  string            `json:"job_id"`
	Value  float64           `json:"value,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
	Fields map[string]any    `json:"fields,omitempty"`
}

// TimelinePath returns the file that holds events recorded on day.
func TimelinePath(dir string, day time.Time) string {
	return filepath.Join(dir, "alerts-"+day.UTC().Format("20060102")+".jsonl")
}

func (o *TimelineObserver) fileForLocked(at time.Time) *os.File {
	day := at.Format("20060102")
	if o.file != nil && o.day == day {
		return o.file
	}
	if o.file != nil {
		_ = o.file.Close()
		o.file = nil
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return nil
	}
	f, err := os.OpenFile(TimelinePath(o.dir, at), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil
	}
	o.file = f
	o.day = day
	return f
}

func copyTags(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sanitizeFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = redact.Text(s)
			continue
		}
		if err, ok := v.(error); ok {
			out[k] = redact.Text(err.Error())
			continue
		}
		out[k] = v
	}
	return out
}

var _ metrics.Observer = (*TimelineObserver)(nil)
