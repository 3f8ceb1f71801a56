package alert

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Job is one alert travelling from normalization to playback.
type Job struct {
	ID            string            `json:"id"`
	SourceEventID string            `json:"source_event_id"`
	Platform      Platform          `json:"platform"`
	EventType     EventType         `json:"event_type"`
	RenderedText  string            `json:"text"`
	SpokenText    string            `json:"spoken_text"`
	Voice         string            `json:"voice"`
	Speed         float64           `json:"speed"`
	CacheKey      string            `json:"cache_key"`
	Status        Status            `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	AudioID       string            `json:"audio_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewID returns a fresh job identifier.
func NewID() string {
	return uuid.NewString()
}

// CacheKey derives the content address of synthesized audio for text,
// voice and speed. It is the hex encoding of the first 16 bytes of the
// sha256 digest.
func CacheKey(text, voice string, speed float64) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{'|'})
	h.Write([]byte(voice))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatFloat(speed, 'f', -1, 64)))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

var validTransitions = map[Status][]Status{
	StatusQueued:       {StatusSynthesizing},
	StatusSynthesizing: {StatusReady, StatusFailed},
	StatusReady:        {StatusPlaying, StatusFailed},
	StatusPlaying:      {StatusCompleted},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Advance moves the job forward. Backward or skipping moves are rejected.
func (j *Job) Advance(to Status) error {
	if !CanTransition(j.Status, to) {
		return &InvalidTransitionError{From: j.Status, To: to}
	}
	j.Status = to
	return nil
}

// InvalidTransitionError represents a rejected status change.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return "invalid job transition from " + string(e.From) + " to " + string(e.To)
}
