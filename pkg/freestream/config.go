package freestream

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/harunnryd/freestream/pkg/alert"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	TTS           TTSConfig           `mapstructure:"tts"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Orchestrator  OrchestratorConfig  `mapstructure:"orchestrator"`
	Overlay       OverlayConfig       `mapstructure:"overlay"`
	Journal       JournalConfig       `mapstructure:"journal"`
	Events        EventsConfig        `mapstructure:"events"`
	Templates     map[string]string   `mapstructure:"templates"`
	Profanity     ProfanityConfig     `mapstructure:"profanity"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	LogFile       string              `mapstructure:"log_file"`
	// Debug enables the synthetic event and TTS test endpoints.
	Debug bool `mapstructure:"debug"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr joins host and port into a listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// VendorConfig selects a provider and carries its free-form settings.
type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type TTSConfig struct {
	VendorConfig     `mapstructure:",squash"`
	Voice            string        `mapstructure:"voice"`
	Speed            float64       `mapstructure:"speed"`
	MaxTextLength    int           `mapstructure:"max_text_length"`
	AttemptTimeout   time.Duration `mapstructure:"attempt_timeout"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BaseDelay        time.Duration `mapstructure:"base_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

type CacheConfig struct {
	MaxEntries int           `mapstructure:"max_entries"`
	MaxBytes   int64         `mapstructure:"max_bytes"`
	TTL        time.Duration `mapstructure:"ttl"`
}

type QueueConfig struct {
	Capacity  int `mapstructure:"capacity"`
	DedupSize int `mapstructure:"dedup_size"`
	// DuplicateWindow drops an alert whose spoken text matches one accepted
	// this recently. Zero disables the check.
	DuplicateWindow time.Duration `mapstructure:"duplicate_window"`
}

type OrchestratorConfig struct {
	MinPlayTimeout time.Duration `mapstructure:"min_play_timeout"`
	MaxPlayTimeout time.Duration `mapstructure:"max_play_timeout"`
	Grace          time.Duration `mapstructure:"grace"`
	CharsPerSecond float64       `mapstructure:"chars_per_second"`
}

type OverlayConfig struct {
	ShowText       bool          `mapstructure:"show_text"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// EventsConfig switches event types on and off and sets their thresholds.
type EventsConfig struct {
	Bits                EventToggle `mapstructure:"bits"`
	Subs                EventToggle `mapstructure:"subs"`
	GiftSubs            EventToggle `mapstructure:"gift_subs"`
	ChannelPoints       EventToggle `mapstructure:"channel_points"`
	Superchat           EventToggle `mapstructure:"superchat"`
	Supersticker        EventToggle `mapstructure:"supersticker"`
	Membership          EventToggle `mapstructure:"membership"`
	MembershipMilestone EventToggle `mapstructure:"membership_milestone"`
	RateLimit           RateLimits  `mapstructure:"rate_limit"`
}

type EventToggle struct {
	Enabled bool `mapstructure:"enabled"`
	// Minimum is bits, gift count or superchat cents depending on the event.
	Minimum int      `mapstructure:"minimum"`
	Rewards []string `mapstructure:"rewards"`
	// ReadMessage speaks the viewer's attached message. Only bits, subs and
	// superchat carry one.
	ReadMessage bool `mapstructure:"read_message"`
}

// RateLimits caps accepted alerts per platform per minute. Zero is unlimited.
type RateLimits struct {
	Twitch  int `mapstructure:"twitch"`
	YouTube int `mapstructure:"youtube"`
}

type ProfanityConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Blocklist []string `mapstructure:"blocklist"`
}

type ObservabilityConfig struct {
	ArtifactsDir  string  `mapstructure:"artifacts_dir"`
	RetentionDays int     `mapstructure:"retention_days"`
	MetricsPath   string  `mapstructure:"metrics_path"`
	SampleRate    float64 `mapstructure:"sample_rate"`
	AsyncBuffer   int     `mapstructure:"async_buffer"`
	RedactText    bool    `mapstructure:"redact_text"`
}

// DisabledTypes lists the event types switched off in the events section.
func (c EventsConfig) DisabledTypes() []alert.EventType {
	toggles := []struct {
		on    bool
		types []alert.EventType
	}{
		{c.Bits.Enabled, []alert.EventType{alert.EventBits}},
		{c.Subs.Enabled, []alert.EventType{alert.EventSubNew}},
		{c.GiftSubs.Enabled, []alert.EventType{alert.EventSubGift}},
		{c.ChannelPoints.Enabled, []alert.EventType{alert.EventChannelPoints}},
		{c.Superchat.Enabled, []alert.EventType{alert.EventSuperchat}},
		{c.Supersticker.Enabled, []alert.EventType{alert.EventSupersticker}},
		{c.Membership.Enabled, []alert.EventType{alert.EventMembershipNew}},
		{c.MembershipMilestone.Enabled, []alert.EventType{alert.EventMembershipRecurring}},
	}
	var out []alert.EventType
	for _, t := range toggles {
		if !t.on {
			out = append(out, t.types...)
		}
	}
	return out
}

// MutedTypes lists the event types whose attached message is not spoken.
func (c EventsConfig) MutedTypes() []alert.EventType {
	var out []alert.EventType
	if !c.Bits.ReadMessage {
		out = append(out, alert.EventBits)
	}
	if !c.Subs.ReadMessage {
		out = append(out, alert.EventSubNew)
	}
	if !c.Superchat.ReadMessage {
		out = append(out, alert.EventSuperchat)
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("tts.provider", "wyoming")
	v.SetDefault("tts.settings", map[string]any{})
	v.SetDefault("tts.voice", "en_GB-alan-medium")
	v.SetDefault("tts.speed", 1.0)
	v.SetDefault("tts.max_text_length", 300)
	v.SetDefault("tts.attempt_timeout", "30s")
	v.SetDefault("tts.max_attempts", 3)
	v.SetDefault("tts.base_delay", "500ms")
	v.SetDefault("tts.max_delay", "4s")
	v.SetDefault("tts.breaker_threshold", 5)
	v.SetDefault("tts.breaker_cooldown", "30s")

	v.SetDefault("cache.max_entries", 500)
	v.SetDefault("cache.max_bytes", 100<<20)
	v.SetDefault("cache.ttl", "24h")

	v.SetDefault("queue.capacity", 50)
	v.SetDefault("queue.dedup_size", 1024)
	v.SetDefault("queue.duplicate_window", "5s")

	v.SetDefault("orchestrator.min_play_timeout", "5s")
	v.SetDefault("orchestrator.max_play_timeout", "60s")
	v.SetDefault("orchestrator.grace", "3s")
	v.SetDefault("orchestrator.chars_per_second", 12.0)

	v.SetDefault("overlay.show_text", true)
	v.SetDefault("overlay.ping_interval", "25s")
	v.SetDefault("overlay.pong_wait", "120s")
	v.SetDefault("overlay.write_wait", "10s")
	v.SetDefault("overlay.send_buffer", 32)
	v.SetDefault("overlay.max_message_size", 64<<10)

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", "data/journal.db")

	v.SetDefault("events.bits.enabled", true)
	v.SetDefault("events.bits.minimum", 100)
	v.SetDefault("events.bits.read_message", true)
	v.SetDefault("events.subs.enabled", true)
	v.SetDefault("events.subs.read_message", true)
	v.SetDefault("events.gift_subs.enabled", true)
	v.SetDefault("events.gift_subs.minimum", 1)
	v.SetDefault("events.channel_points.enabled", false)
	v.SetDefault("events.channel_points.rewards", []string{})
	v.SetDefault("events.superchat.enabled", true)
	v.SetDefault("events.superchat.minimum", 100)
	v.SetDefault("events.superchat.read_message", true)
	v.SetDefault("events.supersticker.enabled", true)
	v.SetDefault("events.membership.enabled", true)
	v.SetDefault("events.membership_milestone.enabled", true)
	v.SetDefault("events.rate_limit.twitch", 30)
	v.SetDefault("events.rate_limit.youtube", 30)

	v.SetDefault("templates", map[string]string{})

	v.SetDefault("profanity.enabled", true)
	v.SetDefault("profanity.blocklist", []string{})

	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.retention_days", 7)
	v.SetDefault("observability.metrics_path", "")
	v.SetDefault("observability.sample_rate", 1.0)
	v.SetDefault("observability.async_buffer", 2048)
	v.SetDefault("observability.redact_text", false)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("log_file", "")
	v.SetDefault("debug", false)
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	cfg, err := decode(viper.New())
	if err != nil {
		panic(fmt.Sprintf("freestream: default config: %v", err))
	}
	return cfg
}

// LoadConfig reads a YAML file over the defaults. An empty path loads the
// defaults alone. Strings may reference the environment as ${VAR}.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	cfg, err := decode(v)
	if err != nil {
		return Config{}, err
	}
	expandEnvStrings(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func decode(v *viper.Viper) (Config, error) {
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.TTS.Provider) == "" {
		return fmt.Errorf("tts.provider is required")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.TTS.Speed < 0.5 || c.TTS.Speed > 2.0 {
		return fmt.Errorf("tts.speed %.2f outside 0.5..2.0", c.TTS.Speed)
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive")
	}
	if c.Queue.DuplicateWindow < 0 {
		return fmt.Errorf("queue.duplicate_window must not be negative")
	}
	if c.Events.RateLimit.Twitch < 0 || c.Events.RateLimit.YouTube < 0 {
		return fmt.Errorf("events.rate_limit values must not be negative")
	}
	if c.Orchestrator.MinPlayTimeout > c.Orchestrator.MaxPlayTimeout {
		return fmt.Errorf("orchestrator.min_play_timeout exceeds max_play_timeout")
	}
	if c.Journal.Enabled && strings.TrimSpace(c.Journal.Path) == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		return fmt.Errorf("observability.sample_rate must be within 0..1")
	}
	return nil
}

// expandEnvStrings replaces ${VAR} references. Templates are left alone so
// literal currency signs survive.
func expandEnvStrings(cfg *Config) {
	templates := cfg.Templates
	cfg.Templates = nil
	expandValue(reflect.ValueOf(cfg))
	cfg.Templates = templates
	cfg.TTS.Settings = expandSettings(cfg.TTS.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				expanded := os.ExpandEnv(v.MapIndex(key).String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
