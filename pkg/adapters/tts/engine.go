package tts

import "context"

// Request is one utterance to synthesize.
type Request struct {
	Text  string
	Voice string
	Speed float64
}

// Audio is a complete synthesized utterance.
type Audio struct {
	Data        []byte
	ContentType string
}

// Engine defines the contract for any TTS vendor implementation. Engines
// are request/response: one call produces one complete utterance.
type Engine interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize renders text to audio. Implementations return errors that
	// wrap ErrInvalidInput, ErrUnavailable or ErrTimeout where they apply.
	Synthesize(ctx context.Context, req Request) (Audio, error)
}

// HealthChecker is implemented by engines that can check their backend.
type HealthChecker interface {
	Health(ctx context.Context) error
}
