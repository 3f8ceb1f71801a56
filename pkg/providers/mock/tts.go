package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harunnryd/freestream/pkg/adapters/tts"
	"github.com/harunnryd/freestream/pkg/audio"
)

type TTSConfig struct {
	SampleRate int
	// PerChar is the audio length produced per character of text.
	PerChar time.Duration
	// Latency delays every call, honouring context cancellation.
	Latency time.Duration
	// FailEvery makes every Nth call fail with ErrUnavailable when > 0.
	FailEvery int
}

// MockTTS returns deterministic silent WAV audio whose length follows the text.
type MockTTS struct {
	cfg   TTSConfig
	mu    sync.Mutex
	calls int
	texts []string
}

func NewTTS(cfg TTSConfig) *MockTTS {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.PerChar <= 0 {
		cfg.PerChar = 60 * time.Millisecond
	}
	return &MockTTS{cfg: cfg}
}

func (s *MockTTS) Name() string { return "mock_tts" }

func (s *MockTTS) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.texts = append(s.texts, req.Text)
	s.mu.Unlock()

	if req.Text == "" {
		return tts.Audio{}, fmt.Errorf("%w: empty text", tts.ErrInvalidInput)
	}
	if s.cfg.Latency > 0 {
		t := time.NewTimer(s.cfg.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return tts.Audio{}, ctx.Err()
		case <-t.C:
		}
	}
	if s.cfg.FailEvery > 0 && n%s.cfg.FailEvery == 0 {
		return tts.Audio{}, fmt.Errorf("%w: mock failure on call %d", tts.ErrUnavailable, n)
	}
	d := time.Duration(len([]rune(req.Text))) * s.cfg.PerChar
	if req.Speed > 0 {
		d = time.Duration(float64(d) / req.Speed)
	}
	return tts.Audio{
		Data:        audio.Silence(d, audio.PCMFormat{Rate: s.cfg.SampleRate, Width: 2, Channels: 1}),
		ContentType: audio.ContentTypeWAV,
	}, nil
}

func (s *MockTTS) Health(ctx context.Context) error {
	if ctx.Err() != nil {
		return errors.Join(tts.ErrUnavailable, ctx.Err())
	}
	return nil
}

// Calls returns how many synthesis requests were made.
func (s *MockTTS) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Texts returns the texts received, in order.
func (s *MockTTS) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

var (
	_ tts.Engine        = (*MockTTS)(nil)
	_ tts.HealthChecker = (*MockTTS)(nil)
)
