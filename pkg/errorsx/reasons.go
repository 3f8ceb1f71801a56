package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonNormalizeDropped ReasonCode = "normalize_dropped"

	ReasonTTSInvalidInput ReasonCode = "tts_invalid_input"
	ReasonTTSUnavailable  ReasonCode = "tts_unavailable"
	ReasonTTSTimeout      ReasonCode = "tts_timeout"
	ReasonTTSRateLimit    ReasonCode = "tts_rate_limit"
	ReasonTTSCircuitOpen  ReasonCode = "tts_circuit_open"

	ReasonQueueFull   ReasonCode = "queue_full"
	ReasonQueueClosed ReasonCode = "queue_closed"

	ReasonOverlayDisconnected ReasonCode = "overlay_disconnected"
	ReasonOverlaySend         ReasonCode = "overlay_send"

	ReasonJournalWrite ReasonCode = "journal_write"
)
