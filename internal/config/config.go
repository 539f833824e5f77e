package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/CloudNativeWorks/relfetch/pkg/logger"
	"github.com/spf13/viper"
)

const (
	EnvPrefix      = "RELFETCH"
	DefaultAPIURL  = "https://api.github.com"
	FormatZip      = "zip"
	FormatTarGz    = "tar.gz"
	configFileName = "relfetch"
)

// Config holds all application configuration
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Download DownloadConfig `mapstructure:"download"`
	Install  InstallConfig  `mapstructure:"install"`
	WorkDir  string         `mapstructure:"workdir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// GitHubConfig points the resolver at a releases API
type GitHubConfig struct {
	APIURL    string `mapstructure:"api_url"`
	Token     string `mapstructure:"token"`
	UserAgent string `mapstructure:"user_agent"`
}

// HTTPConfig tunes the shared transport. Zero Timeout means no timeout.
type HTTPConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	BreakerFailures   uint32        `mapstructure:"breaker_failures"`
}

// DownloadConfig controls archive retrieval
type DownloadConfig struct {
	Format       string `mapstructure:"format"`
	MaxRedirects int    `mapstructure:"max_redirects"`
	Progress     bool   `mapstructure:"progress"`
}

// InstallConfig describes the dependency installer and its failure policy
type InstallConfig struct {
	Command     []string `mapstructure:"command"`
	Manifest    string   `mapstructure:"manifest"`
	CacheDir    string   `mapstructure:"cache_dir"`
	FailOnError bool     `mapstructure:"fail_on_error"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_age", 7)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.compress", false)

	v.SetDefault("github.api_url", DefaultAPIURL)
	v.SetDefault("github.token", "")
	v.SetDefault("github.user_agent", "")

	v.SetDefault("http.timeout", "0s")
	v.SetDefault("http.requests_per_second", 10)
	v.SetDefault("http.burst", 5)
	v.SetDefault("http.breaker_failures", 5)

	v.SetDefault("download.format", FormatZip)
	v.SetDefault("download.max_redirects", 10)
	v.SetDefault("download.progress", false)

	v.SetDefault("install.command", []string{"npm", "install"})
	v.SetDefault("install.manifest", "package.json")
	v.SetDefault("install.cache_dir", "node_modules")
	v.SetDefault("install.fail_on_error", false)

	v.SetDefault("workdir", "")
}

// New returns a viper instance with defaults, env bindings and search paths
// applied. Callers may bind flags on it before calling Load.
func New(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.relfetch")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads the configuration file (if any) and decodes it into a Config.
// A missing file is not an error unless it was asked for explicitly.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.GitHub.Token == "" {
		cfg.GitHub.Token = os.Getenv("GITHUB_TOKEN")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadConfig is the one-shot form used outside the CLI.
func LoadConfig(path string) (*Config, error) {
	return Load(New(path))
}

// Validate checks values that would otherwise fail late in the pipeline.
func (c *Config) Validate() error {
	switch c.Download.Format {
	case FormatZip, FormatTarGz:
	default:
		return fmt.Errorf("invalid download.format %q (want %s or %s)", c.Download.Format, FormatZip, FormatTarGz)
	}
	if c.Download.MaxRedirects < 0 {
		return fmt.Errorf("download.max_redirects must not be negative")
	}
	if len(c.Install.Command) == 0 {
		return fmt.Errorf("install.command must not be empty")
	}
	if c.GitHub.APIURL == "" {
		return fmt.Errorf("github.api_url must not be empty")
	}
	return nil
}

// LoggerConfig maps the logging section onto the logger package.
func (c *Config) LoggerConfig(module string) logger.Config {
	return logger.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		Module:     module,
		File:       c.Logging.File,
		MaxSize:    c.Logging.MaxSize,
		MaxAge:     c.Logging.MaxAge,
		MaxBackups: c.Logging.MaxBackups,
		Compress:   c.Logging.Compress,
	}
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("default config does not decode: %v", err))
	}
	return &cfg
}
