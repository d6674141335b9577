// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInvalidConfig is returned when a loaded value fails validation.
	ErrInvalidConfig = errors.New("config: invalid configuration")
	// ErrSynthURLRequired is returned when the HTTP engine has no URL.
	ErrSynthURLRequired = errors.New("config: SYNTH_URL is required when SYNTH_ENGINE=http")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port" validate:"min=1,max=65535"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`

	// Storage settings
	TempDir   string `env:"TEMP_DIR, default=/tmp/audiobook-builder" json:"temp_dir" validate:"required"`
	OutputDir string `env:"OUTPUT_DIR, default=./output" json:"output_dir" validate:"required"`
	// JobRetention is how long finished jobs and their files are kept by
	// the server. Zero keeps them until restart.
	JobRetention time.Duration `env:"JOB_RETENTION, default=24h" json:"job_retention" validate:"min=0"`

	// Pipeline settings
	MaxChunkLength      int           `env:"MAX_CHUNK_LENGTH, default=500" json:"max_chunk_length" validate:"min=50"`
	ChapterPauseSeconds float64       `env:"CHAPTER_PAUSE_SECONDS, default=2.0" json:"chapter_pause_seconds" validate:"min=0,max=60"`
	InterUnitSilenceMs  int           `env:"INTER_UNIT_SILENCE_MS, default=300" json:"inter_unit_silence_ms" validate:"min=0,max=10000"`
	OutputFormat        string        `env:"OUTPUT_FORMAT, default=m4b" json:"output_format" validate:"oneof=mp3 m4b"`
	AudioQuality        string        `env:"AUDIO_QUALITY, default=high" json:"audio_quality" validate:"oneof=standard high"`
	MaxWorkers          int           `env:"MAX_WORKERS, default=2" json:"max_workers" validate:"min=1,max=64"`
	RetryAttempts       int           `env:"RETRY_ATTEMPTS, default=3" json:"retry_attempts" validate:"min=1,max=20"`
	RetryDelay          time.Duration `env:"RETRY_DELAY, default=1s" json:"retry_delay" validate:"min=0"`
	SampleRate          int           `env:"SAMPLE_RATE, default=22050" json:"sample_rate" validate:"min=0,max=192000"`
	DefaultLanguage     string        `env:"DEFAULT_LANGUAGE, default=en" json:"default_language" validate:"required"`
	NormalizeText       bool          `env:"NORMALIZE_TEXT, default=true" json:"normalize_text"`
	FFmpegPath          string        `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`

	// Synthesizer settings
	SynthEngine       string        `env:"SYNTH_ENGINE, default=exec" json:"synth_engine" validate:"oneof=exec http"`
	SynthCommand      string        `env:"SYNTH_COMMAND, default=piper --model {voice} --output_file -" json:"synth_command" validate:"required_if=SynthEngine exec"`
	SynthURL          string        `env:"SYNTH_URL" json:"synth_url,omitempty" validate:"omitempty,url"`
	SynthAPIKey       string        `env:"SYNTH_API_KEY" json:"-"` // Masked in JSON
	SynthTimeout      time.Duration `env:"SYNTH_TIMEOUT, default=2m" json:"synth_timeout" validate:"min=0"`
	VoiceProfilesFile string        `env:"VOICE_PROFILES_FILE" json:"voice_profiles_file,omitempty"`

	// Optional event publication
	NATSURL     string `env:"NATS_URL" json:"nats_url,omitempty"`
	NATSSubject string `env:"NATS_SUBJECT, default=audiobook.events" json:"nats_subject"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty" validate:"required_with=S3Bucket"`
	S3Prefix           string `env:"S3_PREFIX" json:"s3_prefix,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty" validate:"omitempty,url"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Telemetry settings
	ServiceName    string `env:"OTEL_SERVICE_NAME, default=audiobook-builder" json:"service_name"`
	OTLPEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" json:"otlp_endpoint,omitempty"`
	OTLPInsecure   bool   `env:"OTEL_EXPORTER_OTLP_INSECURE, default=false" json:"otlp_insecure"`
	TraceStdout    bool   `env:"TRACE_STDOUT, default=false" json:"trace_stdout"`
	MetricsEnabled bool   `env:"METRICS_ENABLED, default=true" json:"metrics_enabled"`

	// Logging settings: LOG_FORMAT is "json" or "text", LOG_LEVEL one of
	// "debug", "info", "warn", "error".
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format" validate:"oneof=json text"`
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`
}

var validate = validator.New()

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// NATSEnabled returns true if events should be published to NATS.
func (c *Config) NATSEnabled() bool {
	return c.NATSURL != ""
}

// ChapterPause returns the silence inserted between chapters.
func (c *Config) ChapterPause() time.Duration {
	return time.Duration(c.ChapterPauseSeconds * float64(time.Second))
}

// InterUnitSilence returns the silence inserted between units of a chapter.
func (c *Config) InterUnitSilence() time.Duration {
	return time.Duration(c.InterUnitSilenceMs) * time.Millisecond
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	return load(envconfig.OsLookuper())
}

func load(l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   cfg,
		Lookuper: l,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field against its validation tag.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.SynthEngine == "http" && c.SynthURL == "" {
		return ErrSynthURLRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.newLogger(os.Stdout)
}

func (c *Config) newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, OutputDir: %s, TempDir: %s, Format: %s, Quality: %s, MaxWorkers: %d, SynthEngine: %s, S3Bucket: %s, S3Region: %s, NATS: %t, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.OutputDir,
		c.TempDir,
		c.OutputFormat,
		c.AudioQuality,
		c.MaxWorkers,
		c.SynthEngine,
		c.S3Bucket,
		c.S3Region,
		c.NATSEnabled(),
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
