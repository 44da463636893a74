// Package config loads whisperd settings from flags, environment, an
// optional .env file and an optional YAML file, in that precedence order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "WHISPERD"

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Engine EngineConfig `mapstructure:"engine"`
	Limits LimitsConfig `mapstructure:"limits"`
	Audio  AudioConfig  `mapstructure:"audio"`
	Log    LogConfig    `mapstructure:"log"`

	// LegacyErrorStatus answers inference failures with 200 and the error
	// inside the envelope, the way the first release of the API did.
	LegacyErrorStatus bool `mapstructure:"legacy_error_status"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=0,max=65535"`
	MaxUploadSize   string        `mapstructure:"max_upload_size" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"min=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"min=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`
}

type EngineConfig struct {
	Backend      string `mapstructure:"backend" validate:"oneof=cli server"`
	WhisperPath  string `mapstructure:"whisper_path"`
	ServerURL    string `mapstructure:"server_url" validate:"required_if=Backend server,omitempty,url"`
	Model        string `mapstructure:"model" validate:"required"`
	ModelDir     string `mapstructure:"model_dir"`
	AutoDownload bool   `mapstructure:"auto_download"`
	Device       string `mapstructure:"device" validate:"oneof=auto cpu gpu cuda"`
	Threads      int    `mapstructure:"threads" validate:"min=0"`
	Language     string `mapstructure:"language"`
}

type LimitsConfig struct {
	MaxConcurrent    int           `mapstructure:"max_concurrent" validate:"min=1"`
	QueueTimeout     time.Duration `mapstructure:"queue_timeout" validate:"min=0"`
	InferenceTimeout time.Duration `mapstructure:"inference_timeout" validate:"min=0"`
}

type AudioConfig struct {
	FFmpeg               bool    `mapstructure:"ffmpeg"`
	FFmpegPath           string  `mapstructure:"ffmpeg_path"`
	SilenceGate          bool    `mapstructure:"silence_gate"`
	SilenceThresholdDBFS float64 `mapstructure:"silence_threshold_dbfs" validate:"max=0"`
	TempDir              string  `mapstructure:"temp_dir"`
}

type LogConfig struct {
	Verbose bool `mapstructure:"verbose"`
	JSON    bool `mapstructure:"json"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			MaxUploadSize:   "200MB",
			ReadTimeout:     5 * time.Minute,
			WriteTimeout:    20 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Engine: EngineConfig{
			Backend:      "cli",
			Model:        "large-v3",
			AutoDownload: true,
			Device:       "auto",
			Language:     "auto",
		},
		Limits: LimitsConfig{
			MaxConcurrent:    1,
			QueueTimeout:     5 * time.Minute,
			InferenceTimeout: 10 * time.Minute,
		},
		Audio: AudioConfig{
			FFmpeg:               true,
			FFmpegPath:           "ffmpeg",
			SilenceThresholdDBFS: -65,
		},
	}
}

type LoadOptions struct {
	// ConfigFile is a YAML file; empty means none.
	ConfigFile string
	// EnvFile is loaded into the process environment when it exists.
	EnvFile string
}

// Load layers defaults, config file, environment and any flags already
// bound to v, then validates the result.
func Load(v *viper.Viper, opts LoadOptions) (Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
		}
	}

	SetDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", opts.ConfigFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.Engine.Language = sanitizeLanguage(cfg.Engine.Language)
	cfg.Engine.Device = strings.ToLower(strings.TrimSpace(cfg.Engine.Device))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SetDefaults registers every key so environment variables resolve even
// when no file mentions them.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.max_upload_size", d.Server.MaxUploadSize)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("engine.backend", d.Engine.Backend)
	v.SetDefault("engine.whisper_path", d.Engine.WhisperPath)
	v.SetDefault("engine.server_url", d.Engine.ServerURL)
	v.SetDefault("engine.model", d.Engine.Model)
	v.SetDefault("engine.model_dir", d.Engine.ModelDir)
	v.SetDefault("engine.auto_download", d.Engine.AutoDownload)
	v.SetDefault("engine.device", d.Engine.Device)
	v.SetDefault("engine.threads", d.Engine.Threads)
	v.SetDefault("engine.language", d.Engine.Language)

	v.SetDefault("limits.max_concurrent", d.Limits.MaxConcurrent)
	v.SetDefault("limits.queue_timeout", d.Limits.QueueTimeout)
	v.SetDefault("limits.inference_timeout", d.Limits.InferenceTimeout)

	v.SetDefault("audio.ffmpeg", d.Audio.FFmpeg)
	v.SetDefault("audio.ffmpeg_path", d.Audio.FFmpegPath)
	v.SetDefault("audio.silence_gate", d.Audio.SilenceGate)
	v.SetDefault("audio.silence_threshold_dbfs", d.Audio.SilenceThresholdDBFS)
	v.SetDefault("audio.temp_dir", d.Audio.TempDir)

	v.SetDefault("log.verbose", d.Log.Verbose)
	v.SetDefault("log.json", d.Log.JSON)

	v.SetDefault("legacy_error_status", d.LegacyErrorStatus)
}

// MaxUploadBytes parses Server.MaxUploadSize.
func (c Config) MaxUploadBytes() int64 {
	return ParseSize(c.Server.MaxUploadSize, 200<<20)
}

// ParseSize parses sizes like "10MB", "512KB" or "2GB" into bytes and falls
// back to defaultBytes when s cannot be parsed.
func ParseSize(s string, defaultBytes int64) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return defaultBytes
	}

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1 << 30
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "MB"):
		multiplier = 1 << 20
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "KB"):
		multiplier = 1 << 10
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "B"):
		s = s[:len(s)-1]
	}

	var val int64
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &val); err == nil && val > 0 {
		return val * multiplier
	}
	return defaultBytes
}

func sanitizeLanguage(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return "auto"
	}
	return trimmed
}
