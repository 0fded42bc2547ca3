package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	MediaMicrophone = "microphone"
	MediaSilence    = "silence"
)

type Config struct {
	Mode        string        `mapstructure:"mode"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	SignalURL   string        `mapstructure:"signal_url"`
	Token       string        `mapstructure:"token"`
	MediaSource string        `mapstructure:"media_source"`
	AutoAnswer  bool          `mapstructure:"auto_answer"`
	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	SendBuffer  int           `mapstructure:"send_buffer"`
	RateLimit   int           `mapstructure:"rate_limit"`
	// RecordDir, when set, receives one Ogg file of remote audio per call.
	RecordDir string `mapstructure:"record_dir"`
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"mode":         "mode",
	"host":         "host",
	"port":         "port",
	"signal-url":   "signal_url",
	"token":        "token",
	"media-source": "media_source",
	"auto-answer":  "auto_answer",
	"record-dir":   "record_dir",
}

// RegisterFlags declares the agent flags that Load understands.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config-env", "", "config file suffix: config/config.<env>.yaml (default $CONFIG_ENV or dev)")
	fs.String("mode", "", "release, debug or test")
	fs.String("host", "", "control API listen host")
	fs.Int("port", 0, "control API listen port")
	fs.String("signal-url", "", "signaling WebSocket URL")
	fs.String("token", "", "bearer token for the signaling server")
	fs.String("media-source", "", "microphone or silence")
	fs.Bool("auto-answer", false, "answer offers for unknown calls")
	fs.String("record-dir", "", "record remote audio of every call into this directory")
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default). A .env file and
// P2PCALL_* variables override file values; changed flags in fs override both.
// fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()
	return load(FileName(fs), fs)
}

// FileName resolves config/config.<env>.yaml from --config-env, then
// CONFIG_ENV, then dev.
func FileName(fs *pflag.FlagSet) string {
	env := os.Getenv("CONFIG_ENV")
	if fs != nil {
		if f := fs.Lookup("config-env"); f != nil && f.Changed {
			env = f.Value.String()
		}
	}
	if env == "" {
		env = "dev"
	}
	return fmt.Sprintf("config/config.%s.yaml", env)
}

func load(fileName string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("p2pcall")
	v.AutomaticEnv()
	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	v.SetDefault("mode", "release")
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 8090)
	v.SetDefault("signal_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("token", "")
	v.SetDefault("media_source", MediaMicrophone)
	v.SetDefault("auto_answer", false)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "30s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("rate_limit", 200)
	v.SetDefault("record_dir", "")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("media_source", cfg.MediaSource).Bool("auto_answer", cfg.AutoAnswer).Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.MediaSource {
	case MediaMicrophone, MediaSilence:
	default:
		return fmt.Errorf("media_source %q: want %s or %s", c.MediaSource, MediaMicrophone, MediaSilence)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.SignalURL == "" {
		return errors.New("signal_url is required")
	}
	if c.PingPeriod <= 0 {
		return fmt.Errorf("ping_period %s must be positive", c.PingPeriod)
	}
	return nil
}

// Addr is the control API listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
