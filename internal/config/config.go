package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	File     FileConfig     `mapstructure:"file"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Server   ServerConfig   `mapstructure:"server"`
	Bot      BotConfig      `mapstructure:"bot"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
}

type FileConfig struct {
	Path string `mapstructure:"path"`
	// Lines is how many trailing lines a new viewer receives.
	Lines     int `mapstructure:"lines"`
	ChunkSize int `mapstructure:"chunk_size"`
}

type WatchConfig struct {
	Mode         string        `mapstructure:"mode"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Debounce     time.Duration `mapstructure:"debounce"`
	Restart      bool          `mapstructure:"restart"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	OutboxSize   int           `mapstructure:"outbox_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type BotConfig struct {
	Token string `mapstructure:"token"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const envPrefix = "LOGCAST"

func setDefaults(v *viper.Viper) {
	v.SetDefault("file.path", "")
	v.SetDefault("file.lines", 10)
	v.SetDefault("file.chunk_size", 1024)
	v.SetDefault("watch.mode", "auto")
	v.SetDefault("watch.poll_interval", 250*time.Millisecond)
	v.SetDefault("watch.debounce", time.Duration(0))
	v.SetDefault("watch.restart", true)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.outbox_size", 256)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("bot.token", "")
	v.SetDefault("database.path", "logcast.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadOption customizes the viper instance before the config is read, e.g.
// to bind command-line flags.
type LoadOption func(v *viper.Viper) error

// Load reads config.yaml from path and the working directory if present,
// then LOGCAST_* environment variables, on top of the defaults.
func Load(path string, opts ...LoadOption) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.File.Path) == "":
		return fmt.Errorf("%w: file.path is required", ErrInvalid)
	case c.File.Lines < 0:
		return fmt.Errorf("%w: file.lines must not be negative", ErrInvalid)
	case c.File.ChunkSize <= 0:
		return fmt.Errorf("%w: file.chunk_size must be positive", ErrInvalid)
	case c.Watch.PollInterval <= 0:
		return fmt.Errorf("%w: watch.poll_interval must be positive", ErrInvalid)
	case c.Watch.Debounce < 0:
		return fmt.Errorf("%w: watch.debounce must not be negative", ErrInvalid)
	case c.Server.OutboxSize <= 0:
		return fmt.Errorf("%w: server.outbox_size must be positive", ErrInvalid)
	}

	switch c.Watch.Mode {
	case "auto", "fsnotify", "poll":
	default:
		return fmt.Errorf("%w: unknown watch.mode %q", ErrInvalid, c.Watch.Mode)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log.format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}
