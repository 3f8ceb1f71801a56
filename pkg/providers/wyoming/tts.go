package wyoming

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/harunnryd/freestream/pkg/adapters/tts"
	"github.com/harunnryd/freestream/pkg/audio"
)

type Config struct {
	Host        string
	Port        int
	Speaker     string
	DialTimeout time.Duration
}

// WyomingTTS speaks to a Piper server over the Wyoming TCP protocol. Each
// request uses its own connection.
type WyomingTTS struct {
	cfg    Config
	dialer net.Dialer
}

func New(cfg Config) *WyomingTTS {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 10200
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &WyomingTTS{cfg: cfg, dialer: net.Dialer{Timeout: cfg.DialTimeout}}
}

func (s *WyomingTTS) Name() string { return "wyoming_tts" }

func (s *WyomingTTS) addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

func (s *WyomingTTS) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	conn, err := s.dialer.DialContext(ctx, "tcp", s.addr())
	if err != nil {
		return tts.Audio{}, fmt.Errorf("%w: dial %s: %w", tts.ErrUnavailable, s.addr(), err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	voice := map[string]any{}
	if req.Voice != "" {
		voice["name"] = req.Voice
	}
	if s.cfg.Speaker != "" {
		voice["speaker"] = s.cfg.Speaker
	}
	data := map[string]any{"text": req.Text}
	if len(voice) > 0 {
		data["voice"] = voice
	}
	if err := writeEvent(conn, event{Type: "synthesize", Data: data}); err != nil {
		return tts.Audio{}, s.wrapIO(ctx, "send synthesize", err)
	}

	r := bufio.NewReader(conn)
	format := audio.PCMFormat{Rate: 22050, Width: 2, Channels: 1}
	var pcm bytes.Buffer
	for {
		ev, err := readEvent(r)
		if err != nil {
			return tts.Audio{}, s.wrapIO(ctx, "read event", err)
		}
		switch ev.Type {
		case "audio-start":
			format = pcmFormat(ev.Data, format)
		case "audio-chunk":
			format = pcmFormat(ev.Data, format)
			pcm.Write(ev.Payload)
		case "audio-stop":
			if pcm.Len() == 0 {
				return tts.Audio{}, fmt.Errorf("%w: empty audio stream", tts.ErrUnavailable)
			}
			slog.Debug("wyoming synthesis complete",
				slog.String("voice", req.Voice),
				slog.Int("pcm_bytes", pcm.Len()),
				slog.Int("sample_rate", format.Rate))
			return tts.Audio{Data: audio.EncodeWAV(pcm.Bytes(), format), ContentType: audio.ContentTypeWAV}, nil
		case "error":
			msg, _ := ev.Data["text"].(string)
			return tts.Audio{}, fmt.Errorf("%w: piper: %s", tts.ErrInvalidInput, msg)
		default:
			slog.Debug("wyoming event ignored", slog.String("type", ev.Type))
		}
	}
}

// Health dials the server and sends a describe request.
func (s *WyomingTTS) Health(ctx context.Context) error {
	conn, err := s.dialer.DialContext(ctx, "tcp", s.addr())
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", tts.ErrUnavailable, s.addr(), err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(s.cfg.DialTimeout))
	if err := writeEvent(conn, event{Type: "describe"}); err != nil {
		return s.wrapIO(ctx, "send describe", err)
	}
	ev, err := readEvent(bufio.NewReader(conn))
	if err != nil {
		return s.wrapIO(ctx, "read info", err)
	}
	if ev.Type != "info" {
		return fmt.Errorf("%w: unexpected %q reply to describe", tts.ErrUnavailable, ev.Type)
	}
	return nil
}

func (s *WyomingTTS) wrapIO(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %w", tts.ErrTimeout, op, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s: connection closed", tts.ErrUnavailable, op)
	}
	return fmt.Errorf("%w: %s: %w", tts.ErrUnavailable, op, err)
}

func pcmFormat(data map[string]any, prev audio.PCMFormat) audio.PCMFormat {
	return audio.PCMFormat{
		Rate:     intField(data, "rate", prev.Rate),
		Width:    intField(data, "width", prev.Width),
		Channels: intField(data, "channels", prev.Channels),
	}
}

var (
	_ tts.Engine        = (*WyomingTTS)(nil)
	_ tts.HealthChecker = (*WyomingTTS)(nil)
)
