package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/freestream/pkg/adapters/tts"
	"github.com/harunnryd/freestream/pkg/audio"
	"github.com/harunnryd/freestream/pkg/resilience"
)

type Config struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	// BaseURL overrides the stream-input endpoint host, e.g. for tests.
	BaseURL string
}

// ElevenLabsTTS opens one stream-input websocket per utterance, sends the
// text followed by the end-of-input marker and collects audio until the
// server reports the final chunk.
type ElevenLabsTTS struct {
	cfg    Config
	dialer websocket.Dialer
}

func New(cfg Config) *ElevenLabsTTS {
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "wss://api.elevenlabs.io"
	}
	return &ElevenLabsTTS{
		cfg:    cfg,
		dialer: websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 10 * time.Second},
	}
}

func (s *ElevenLabsTTS) Name() string { return "elevenlabs_tts" }

func (s *ElevenLabsTTS) buildURL(voiceID string) string {
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	q.Set("output_format", s.cfg.OutputFormat)
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input?" + q.Encode()
}

func (s *ElevenLabsTTS) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	if s.cfg.APIKey == "" {
		return tts.Audio{}, fmt.Errorf("%w: missing elevenlabs api key", tts.ErrUnavailable)
	}
	voiceID := s.cfg.VoiceID
	if voiceID == "" {
		voiceID = req.Voice
	}
	conn, resp, err := s.dialer.DialContext(ctx, s.buildURL(voiceID), http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil {
			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				return tts.Audio{}, fmt.Errorf("%w: %w", tts.ErrUnavailable, resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status})
			case resp.StatusCode >= 400 && resp.StatusCode < 500:
				return tts.Audio{}, fmt.Errorf("%w: elevenlabs handshake: %s", tts.ErrInvalidInput, resp.Status)
			}
		}
		return tts.Audio{}, tts.Classify(fmt.Errorf("elevenlabs dial: %w", err))
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
		_ = conn.SetWriteDeadline(dl)
	}

	init := map[string]any{
		"text": " ",
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.8,
		},
	}
	if req.Speed > 0 && req.Speed != 1 {
		init["voice_settings"].(map[string]any)["speed"] = req.Speed
	}
	for _, msg := range []map[string]any{
		init,
		{"text": strings.TrimSpace(req.Text) + " ", "try_trigger_generation": true},
		{"text": ""},
	} {
		if err := conn.WriteJSON(msg); err != nil {
			return tts.Audio{}, s.wrapIO(ctx, err)
		}
	}

	var buf bytes.Buffer
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && buf.Len() > 0 {
				break
			}
			return tts.Audio{}, s.wrapIO(ctx, err)
		}
		final, err := handleMessage(data, &buf)
		if err != nil {
			return tts.Audio{}, err
		}
		if final {
			break
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if buf.Len() == 0 {
		return tts.Audio{}, fmt.Errorf("%w: elevenlabs returned no audio", tts.ErrUnavailable)
	}
	slog.Debug("elevenlabs synthesis complete", slog.Int("bytes", buf.Len()), slog.String("format", s.cfg.OutputFormat))
	return tts.Audio{Data: buf.Bytes(), ContentType: contentType(s.cfg.OutputFormat)}, nil
}

type streamMessage struct {
	Audio   *string `json:"audio"`
	IsFinal *bool   `json:"isFinal"`
	Error   string  `json:"error"`
	Message string  `json:"message"`
}

// handleMessage appends decoded audio to buf and reports the final chunk.
func handleMessage(data []byte, buf *bytes.Buffer) (bool, error) {
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("elevenlabs websocket raw data", "data", string(data))
		return false, nil
	}
	if msg.Error != "" {
		return false, fmt.Errorf("%w: elevenlabs: %s %s", tts.ErrInvalidInput, msg.Error, msg.Message)
	}
	if msg.Audio != nil && *msg.Audio != "" {
		raw, err := base64.StdEncoding.DecodeString(*msg.Audio)
		if err != nil {
			return false, fmt.Errorf("%w: elevenlabs audio decode: %w", tts.ErrUnavailable, err)
		}
		buf.Write(raw)
	}
	return msg.IsFinal != nil && *msg.IsFinal, nil
}

func (s *ElevenLabsTTS) wrapIO(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code == websocket.ClosePolicyViolation {
		return fmt.Errorf("%w: elevenlabs closed: %s", tts.ErrInvalidInput, ce.Text)
	}
	return tts.Classify(fmt.Errorf("%w: elevenlabs stream: %w", tts.ErrUnavailable, err))
}

func contentType(format string) string {
	switch {
	case strings.HasPrefix(format, "mp3"):
		return audio.ContentTypeMP3
	case strings.HasPrefix(format, "pcm"), strings.HasPrefix(format, "wav"):
		return audio.ContentTypeWAV
	default:
		return audio.ContentTypeData
	}
}

var _ tts.Engine = (*ElevenLabsTTS)(nil)
