package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

var errBoom = errors.New("boom")

func TestWrapAndReason(t *testing.T) {
	err := Wrap(errBoom, ReasonTTSTimeout)
	if Reason(err) != ReasonTTSTimeout {
		t.Fatalf("expected reason %s, got %s", ReasonTTSTimeout, Reason(err))
	}
	if !HasReason(err, ReasonTTSTimeout) {
		t.Fatalf("expected HasReason true")
	}
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected wrapped sentinel to survive")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(errBoom, ReasonQueueFull)
	second := Wrap(fmt.Errorf("submit: %w", first), ReasonNormalizeDropped)
	if Reason(second) != ReasonQueueFull {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestWrapfAddsContext(t *testing.T) {
	err := Wrapf(errBoom, ReasonJournalWrite, "append job %s", "abc")
	if err.Error() != "append job abc: boom" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !HasReason(err, ReasonJournalWrite) || !errors.Is(err, errBoom) {
		t.Fatalf("expected reason and cause on %v", err)
	}
	if Wrapf(nil, ReasonJournalWrite, "x") != nil {
		t.Fatalf("expected nil passthrough")
	}
}

func TestReasonUnknown(t *testing.T) {
	if Reason(errBoom) != ReasonUnknown {
		t.Fatalf("expected unknown reason")
	}
	if Reason(New(ReasonOverlayDisconnected, "no overlay")) != ReasonOverlayDisconnected {
		t.Fatalf("expected New to carry reason")
	}
}
