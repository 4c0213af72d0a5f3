package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backends accepted by toolchain.backend.
const (
	BackendProcess = "process"
	BackendDocker  = "docker"
)

type ToolchainConfig struct {
	Binary   string            `mapstructure:"binary"`
	Timeout  time.Duration     `mapstructure:"timeout"`
	Backend  string            `mapstructure:"backend"`
	TempRoot string            `mapstructure:"temp_root"`
	Env      map[string]string `mapstructure:"env"`
}

type DockerConfig struct {
	Image   string  `mapstructure:"image"`
	Memory  int64   `mapstructure:"memory"`
	CPUs    float64 `mapstructure:"cpus"`
	Network string  `mapstructure:"network"`
	Workdir string  `mapstructure:"workdir"`
	Pull    bool    `mapstructure:"pull"`
}

type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

type ServerConfig struct {
	Port        int `mapstructure:"port"`
	MaxParallel int `mapstructure:"max_parallel"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	Toolchain ToolchainConfig `mapstructure:"toolchain"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

// Load reads configuration from path, or from crucible.yaml in the working
// directory or $HOME/.crucible when path is empty. A missing search-path
// file is not an error; a missing explicit path is. CRUCIBLE_* environment
// variables override file values (CRUCIBLE_TOOLCHAIN_TIMEOUT=10s).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("crucible")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.crucible")
	}

	v.SetEnvPrefix("crucible")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Toolchain.Env = upperKeys(cfg.Toolchain.Env)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// viper lowercases map keys; environment variable names are case-sensitive.
func upperKeys(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, val := range env {
		out[strings.ToUpper(k)] = val
	}
	return out
}

func setDefaults(v *viper.Viper) {
	home := os.Getenv("HOME")

	v.SetDefault("toolchain.binary", "cargo")
	v.SetDefault("toolchain.timeout", 30*time.Second)
	v.SetDefault("toolchain.backend", BackendProcess)
	v.SetDefault("toolchain.temp_root", os.TempDir())
	v.SetDefault("toolchain.env", map[string]string{})

	v.SetDefault("docker.image", "rust:1-slim")
	v.SetDefault("docker.memory", 500*1024*1024)
	v.SetDefault("docker.cpus", 1.0)
	v.SetDefault("docker.network", "none")
	v.SetDefault("docker.workdir", "/workspace")
	v.SetDefault("docker.pull", true)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.db_path", filepath.Join(home, ".crucible", "history.db"))

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_parallel", 4)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch c.Toolchain.Backend {
	case BackendProcess, BackendDocker:
	default:
		return fmt.Errorf("toolchain.backend: unknown backend %q", c.Toolchain.Backend)
	}
	if c.Toolchain.Binary == "" {
		return errors.New("toolchain.binary must not be empty")
	}
	if c.Toolchain.Timeout < 0 {
		return errors.New("toolchain.timeout must not be negative")
	}
	if c.Server.MaxParallel < 1 {
		return errors.New("server.max_parallel must be at least 1")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// LogLevel parses log.level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
