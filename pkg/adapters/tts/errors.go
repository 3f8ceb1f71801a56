package tts

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

var (
	// ErrInvalidInput marks text the engine must never be asked again to speak.
	ErrInvalidInput = errors.New("tts: invalid input")
	// ErrUnavailable marks an unreachable or refusing engine.
	ErrUnavailable = errors.New("tts: engine unavailable")
	// ErrTimeout marks an attempt that ran past its deadline.
	ErrTimeout = errors.New("tts: timeout")
)

// Classify maps transport level failures onto the sentinel errors. Errors
// that already wrap a sentinel are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

// Transient reports whether retrying err may succeed.
func Transient(err error) bool {
	err = Classify(err)
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable)
}
