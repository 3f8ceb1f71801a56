package googletts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hegedustibor/htgo-tts/voices"

	"github.com/harunnryd/freestream/pkg/adapters/tts"
	"github.com/harunnryd/freestream/pkg/audio"
	"github.com/harunnryd/freestream/pkg/resilience"
)

const (
	defaultBaseURL = "https://translate.google.com/translate_tts"
	chunkRunes     = 200
)

// Voices lists the language codes accepted as voice names.
var Voices = []string{
	voices.English,
	voices.EnglishUK,
	voices.Spanish,
	voices.Portuguese,
	voices.French,
	voices.German,
}

type Config struct {
	BaseURL      string
	DefaultVoice string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// GoogleTTS fetches MP3 from the public translate endpoint. Text longer than
// the endpoint limit is split and the MP3 chunks concatenated.
type GoogleTTS struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *GoogleTTS {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.DefaultVoice == "" {
		cfg.DefaultVoice = voices.EnglishUK
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &GoogleTTS{cfg: cfg, http: client}
}

func (s *GoogleTTS) Name() string { return "google_tts" }

// ResolveVoice maps a configured voice to a supported language code,
// falling back to the default for voices meant for other engines.
func (s *GoogleTTS) ResolveVoice(voice string) string {
	code := strings.ToLower(strings.TrimSpace(voice))
	for _, v := range Voices {
		if strings.ToLower(v) == code {
			return v
		}
	}
	if idx := strings.IndexAny(code, "-_"); idx > 0 {
		prefix := code[:idx]
		for _, v := range Voices {
			if strings.ToLower(v) == prefix {
				return v
			}
		}
	}
	return s.cfg.DefaultVoice
}

func (s *GoogleTTS) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return tts.Audio{}, fmt.Errorf("%w: empty text", tts.ErrInvalidInput)
	}
	lang := s.ResolveVoice(req.Voice)
	var buf bytes.Buffer
	chunks := splitRunes(text, chunkRunes)
	for i, chunk := range chunks {
		data, err := s.fetchChunk(ctx, chunk, lang, req.Speed, i, len(chunks))
		if err != nil {
			return tts.Audio{}, err
		}
		buf.Write(data)
	}
	slog.Debug("google tts synthesized",
		slog.String("lang", lang),
		slog.Int("chunks", len(chunks)),
		slog.Int("bytes", buf.Len()))
	return tts.Audio{Data: buf.Bytes(), ContentType: audio.ContentTypeMP3}, nil
}

func (s *GoogleTTS) fetchChunk(ctx context.Context, text, lang string, speed float64, idx, total int) ([]byte, error) {
	params := url.Values{}
	params.Set("ie", "UTF-8")
	params.Set("client", "tw-ob")
	params.Set("q", text)
	params.Set("tl", lang)
	params.Set("total", strconv.Itoa(total))
	params.Set("idx", strconv.Itoa(idx))
	params.Set("textlen", strconv.Itoa(len([]rune(text))))
	if speed > 0 && speed < 1 {
		params.Set("ttsspeed", strconv.FormatFloat(speed, 'f', 2, 64))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", tts.ErrInvalidInput, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := s.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, tts.Classify(fmt.Errorf("google tts: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %w", tts.ErrUnavailable, resilience.RateLimitError{Provider: "google_tts", Message: resp.Status})
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: google tts status %d", tts.ErrUnavailable, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: google tts status %d: %s", tts.ErrInvalidInput, resp.StatusCode, string(body))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, tts.Classify(fmt.Errorf("google tts read: %w", err))
	}
	return data, nil
}

// splitRunes breaks text into pieces of at most n runes, preferring to cut
// at whitespace.
func splitRunes(text string, n int) []string {
	runes := []rune(text)
	var out []string
	for len(runes) > 0 {
		if len(runes) <= n {
			out = append(out, string(runes))
			break
		}
		cut := n
		for i := n; i > n/2; i-- {
			if runes[i] == ' ' {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimSpace(string(runes[:cut])))
		runes = []rune(strings.TrimLeft(string(runes[cut:]), " "))
	}
	return out
}

var _ tts.Engine = (*GoogleTTS)(nil)
