package tts

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"deadline", fmt.Errorf("read: %w", context.DeadlineExceeded), ErrTimeout},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, ErrUnavailable},
		{"already invalid", fmt.Errorf("%w: empty", ErrInvalidInput), ErrInvalidInput},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); !errors.Is(got, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
	plain := errors.New("weird")
	if Classify(plain) != plain {
		t.Fatalf("expected unknown errors unchanged")
	}
}

func TestTransient(t *testing.T) {
	if !Transient(context.DeadlineExceeded) {
		t.Fatalf("deadline should be transient")
	}
	if Transient(ErrInvalidInput) {
		t.Fatalf("invalid input must not be transient")
	}
	if Transient(context.Canceled) {
		t.Fatalf("cancellation must not be transient")
	}
}
