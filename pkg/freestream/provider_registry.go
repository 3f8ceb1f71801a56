package freestream

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harunnryd/freestream/pkg/adapters/tts"
	"github.com/harunnryd/freestream/pkg/configutil"
	"github.com/harunnryd/freestream/pkg/providers/elevenlabs"
	"github.com/harunnryd/freestream/pkg/providers/googletts"
	"github.com/harunnryd/freestream/pkg/providers/mock"
	"github.com/harunnryd/freestream/pkg/providers/wyoming"
)

// TTSFactory builds an engine from the tts section of the config.
type TTSFactory func(cfg TTSConfig) (tts.Engine, error)

type ProviderRegistry struct {
	tts map[string]TTSFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{tts: make(map[string]TTSFactory)}
}

// DefaultProviderRegistry knows every bundled engine.
func DefaultProviderRegistry() *ProviderRegistry {
	r := NewProviderRegistry()
	r.RegisterTTS("wyoming", buildWyoming)
	r.RegisterTTS("piper", buildWyoming)
	r.RegisterTTS("googletts", buildGoogle)
	r.RegisterTTS("elevenlabs", buildElevenLabs)
	r.RegisterTTS("mock", buildMock)
	return r
}

func (r *ProviderRegistry) RegisterTTS(name string, factory TTSFactory) {
	r.tts[strings.ToLower(strings.TrimSpace(name))] = factory
}

// TTSProviders lists registered names in sorted order.
func (r *ProviderRegistry) TTSProviders() []string {
	out := make([]string, 0, len(r.tts))
	for name := range r.tts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *ProviderRegistry) BuildTTS(cfg TTSConfig) (tts.Engine, error) {
	fn := r.tts[strings.ToLower(strings.TrimSpace(cfg.Provider))]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s", cfg.Provider)
	}
	return fn(cfg)
}

type wyomingSettings struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Speaker     string        `mapstructure:"speaker"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

var wyomingSchema = configutil.Schema{Optional: []string{"host", "port", "speaker", "dial_timeout"}}

func buildWyoming(cfg TTSConfig) (tts.Engine, error) {
	if err := configutil.ValidateSettings("tts.settings", cfg.Settings, wyomingSchema); err != nil {
		return nil, err
	}
	var s wyomingSettings
	if err := configutil.DecodeSettings(cfg.Settings, &s); err != nil {
		return nil, fmt.Errorf("tts.settings: %w", err)
	}
	return wyoming.New(wyoming.Config{
		Host:        s.Host,
		Port:        s.Port,
		Speaker:     s.Speaker,
		DialTimeout: s.DialTimeout,
	}), nil
}

type googleSettings struct {
	BaseURL string        `mapstructure:"base_url"`
	Voice   string        `mapstructure:"voice"`
	Timeout time.Duration `mapstructure:"timeout"`
}

var googleSchema = configutil.Schema{Optional: []string{"base_url", "voice", "timeout"}}

func buildGoogle(cfg TTSConfig) (tts.Engine, error) {
	if err := configutil.ValidateSettings("tts.settings", cfg.Settings, googleSchema); err != nil {
		return nil, err
	}
	var s googleSettings
	if err := configutil.DecodeSettings(cfg.Settings, &s); err != nil {
		return nil, fmt.Errorf("tts.settings: %w", err)
	}
	return googletts.New(googletts.Config{
		BaseURL:      s.BaseURL,
		DefaultVoice: s.Voice,
		Timeout:      s.Timeout,
	}), nil
}

type elevenLabsSettings struct {
	APIKey       string `mapstructure:"api_key"`
	VoiceID      string `mapstructure:"voice_id"`
	ModelID      string `mapstructure:"model_id"`
	OutputFormat string `mapstructure:"output_format"`
	BaseURL      string `mapstructure:"base_url"`
}

var elevenLabsSchema = configutil.Schema{
	Required: []string{"api_key", "voice_id"},
	Optional: []string{"model_id", "output_format", "base_url"},
}

func buildElevenLabs(cfg TTSConfig) (tts.Engine, error) {
	if err := configutil.ValidateSettings("tts.settings", cfg.Settings, elevenLabsSchema); err != nil {
		return nil, err
	}
	var s elevenLabsSettings
	if err := configutil.DecodeSettings(cfg.Settings, &s); err != nil {
		return nil, fmt.Errorf("tts.settings: %w", err)
	}
	if err := configutil.RequireString(s.APIKey, "tts.settings.api_key"); err != nil {
		return nil, err
	}
	return elevenlabs.New(elevenlabs.Config{
		APIKey:       s.APIKey,
		VoiceID:      s.VoiceID,
		ModelID:      s.ModelID,
		OutputFormat: s.OutputFormat,
		BaseURL:      s.BaseURL,
	}), nil
}

type mockSettings struct {
	SampleRate int           `mapstructure:"sample_rate"`
	PerChar    time.Duration `mapstructure:"per_char"`
	Latency    time.Duration `mapstructure:"latency"`
	FailEvery  int           `mapstructure:"fail_every"`
}

var mockSchema = configutil.Schema{Optional: []string{"sample_rate", "per_char", "latency", "fail_every"}}

func buildMock(cfg TTSConfig) (tts.Engine, error) {
	if err := configutil.ValidateSettings("tts.settings", cfg.Settings, mockSchema); err != nil {
		return nil, err
	}
	var s mockSettings
	if err := configutil.DecodeSettings(cfg.Settings, &s); err != nil {
		return nil, fmt.Errorf("tts.settings: %w", err)
	}
	return mock.NewTTS(mock.TTSConfig{
		SampleRate: s.SampleRate,
		PerChar:    s.PerChar,
		Latency:    s.Latency,
		FailEvery:  s.FailEvery,
	}), nil
}
