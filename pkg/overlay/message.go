package overlay

import (
	"encoding/json"

	"github.com/harunnryd/freestream/pkg/alert"
	"github.com/harunnryd/freestream/pkg/orchestrator"
)

// Message types exchanged with the overlay.
const (
	TypeConnected    = "connected"
	TypeAlertReady   = "alert_ready"
	TypeSkip         = "skip"
	TypeState        = "state"
	TypePlayComplete = "play_complete"
	TypeError        = "error"
	TypeReady        = "ready"
	TypeRequestState = "request_state"
)

// Envelope is the frame for every message in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outgoing struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type AlertReady struct {
	ID         string          `json:"id"`
	AudioID    string          `json:"audio_id"`
	AudioURL   string          `json:"audio_url"`
	Text       string          `json:"text"`
	EventType  alert.EventType `json:"event_type"`
	Platform   alert.Platform  `json:"platform"`
	DurationMs int64           `json:"duration_ms,omitempty"`
}

type Skip struct {
	ID string `json:"id,omitempty"`
}

type Connected struct {
	Status string `json:"status"`
}

type StateMessage struct {
	Current   *AlertReady `json:"current"`
	QueueSize int         `json:"queue_size"`
}

// PlayComplete is sent by the overlay when audio for ID ended.
type PlayComplete struct {
	ID string `json:"id"`
}

// ClientError is sent by the overlay when playback of ID failed.
type ClientError struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

func (h *Hub) alertReady(n orchestrator.Notification) AlertReady {
	return AlertReady{
		ID:         n.ID,
		AudioID:    n.AudioID,
		AudioURL:   h.cfg.AudioPath + n.AudioID,
		Text:       n.Text,
		EventType:  n.EventType,
		Platform:   n.Platform,
		DurationMs: n.DurationMs,
	}
}
