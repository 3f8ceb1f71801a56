package configutil

import (
	"errors"
	"testing"
	"time"
)

type wyomingLike struct {
	Host    string        `mapstructure:"host"`
	Port    int           `mapstructure:"port"`
	Timeout time.Duration `mapstructure:"timeout"`
	Voices  []string      `mapstructure:"voices"`
	Enabled *bool         `mapstructure:"enabled"`
}

func TestDecodeSettings(t *testing.T) {
	var out wyomingLike
	err := DecodeSettings(map[string]any{
		"Host":    "piper",
		"port":    "10200",
		"timeout": "750ms",
		"voices":  "a,b",
	}, &out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Host != "piper" || out.Port != 10200 || out.Timeout != 750*time.Millisecond {
		t.Fatalf("unexpected decode %+v", out)
	}
	if len(out.Voices) != 2 {
		t.Fatalf("expected two voices, got %v", out.Voices)
	}
	if BoolValue(out.Enabled, true) != true {
		t.Fatalf("expected fallback for nil bool")
	}
}

func TestValidateSettings(t *testing.T) {
	schema := Schema{Required: []string{"api_key", "voice_id"}, Optional: []string{"model_id"}}
	err := ValidateSettings("tts.settings", map[string]any{
		"API-KEY": "k",
		"voiceId": " ",
		"color":   "blue",
	}, schema)
	var serr *SettingsError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SettingsError, got %v", err)
	}
	if len(serr.Missing) != 1 || serr.Missing[0] != "voice_id" {
		t.Fatalf("unexpected missing %v", serr.Missing)
	}
	if len(serr.Unknown) != 1 || serr.Unknown[0] != "color" {
		t.Fatalf("unexpected unknown %v", serr.Unknown)
	}
	if err.Error() != "tts.settings: missing: voice_id; unknown: color" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if err := ValidateSettings("", map[string]any{"api_key": "k", "voice_id": "v"}, schema); err != nil {
		t.Fatalf("expected valid settings, got %v", err)
	}
}

func TestFallbacks(t *testing.T) {
	if DurationValue(0, time.Second) != time.Second {
		t.Fatalf("expected duration fallback")
	}
	if FloatValue(1.5, 1) != 1.5 {
		t.Fatalf("expected explicit float kept")
	}
	if RequireString(" ", "x") == nil {
		t.Fatalf("expected empty string rejected")
	}
}
