package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/harunnryd/freestream/pkg/alert"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "journal.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s, path
}

func job(id string) alert.Job {
	return alert.Job{
		ID:            id,
		SourceEventID: "src-" + id,
		EventType:     alert.EventBits,
		Platform:      alert.PlatformTwitch,
		SpokenText:    "text " + id,
		Status:        alert.StatusQueued,
		CreatedAt:     time.Now(),
		Metadata:      map[string]string{"username": "alice"},
	}
}

func TestPendingSurvivesReopen(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := s.Append(ctx, job(id)); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}
	if err := s.MarkStatus(ctx, "b", alert.StatusPlaying); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.Remove(ctx, "a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	jobs, err := s.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "b" || jobs[1].ID != "c" {
		t.Fatalf("expected b, c in order, got %+v", jobs)
	}
	if jobs[0].Status != alert.StatusQueued {
		t.Fatalf("expected restored job reset to queued, got %s", jobs[0].Status)
	}
	if jobs[0].SourceEventID != "src-b" || jobs[0].Metadata["username"] != "alice" {
		t.Fatalf("payload not preserved: %+v", jobs[0])
	}
}

func TestAppendIsIdempotent(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()
	ctx := context.Background()
	_ = s.Append(ctx, job("a"))
	if err := s.Append(ctx, job("a")); err != nil {
		t.Fatalf("second append: %v", err)
	}
	n, err := s.Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one row, got %d (%v)", n, err)
	}
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()
	if err := s.Remove(context.Background(), "missing"); err != nil {
		t.Fatalf("remove: %v", err)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
