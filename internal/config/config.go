package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	configDirName = "firehose"
	defaultConfig = ".config"
)

var configFiles = []string{
	"config.yaml",
	"config.yml",
}

// Render formats.
const (
	FormatMarkdown = "markdown"
	FormatPlain    = "plain"
	FormatJSON     = "json"
)

// Config represents the structure of the configuration file used by the application.
// StallTimeout drops a connection that delivers nothing, keep-alives included,
// for that long; zero disables the check.
type Config struct {
	StreamBase   string            `yaml:"stream_base" default:"https://stream.twitter.com/1.1"`
	UserAgent    string            `yaml:"user_agent" default:"firehose/0.1"`
	BearerToken  string            `yaml:"bearer_token"`
	Timeout      time.Duration     `yaml:"timeout" default:"30s"`
	StallTimeout time.Duration     `yaml:"stall_timeout" default:"90s"`
	ReadSize     int               `yaml:"read_size" default:"4096"`
	Reconnect    Reconnect         `yaml:"reconnect"`
	Log          Log               `yaml:"log"`
	Render       Render            `yaml:"render"`
	Metrics      Metrics           `yaml:"metrics"`
	Streams      map[string]Preset `yaml:"streams"`
}

// Reconnect controls the backoff between stream connections.
// A zero MaxElapsed retries forever.
type Reconnect struct {
	InitialInterval time.Duration `yaml:"initial_interval" default:"1s"`
	MaxInterval     time.Duration `yaml:"max_interval" default:"320s"`
	MaxElapsed      time.Duration `yaml:"max_elapsed"`
}

func (r Reconnect) validate() error {
	if r.InitialInterval <= 0 {
		return fmt.Errorf("reconnect.initial_interval must be positive, got %s", r.InitialInterval)
	}
	if r.MaxInterval < r.InitialInterval {
		return fmt.Errorf("reconnect.max_interval %s is shorter than initial_interval %s", r.MaxInterval, r.InitialInterval)
	}
	if r.MaxElapsed < 0 {
		return fmt.Errorf("reconnect.max_elapsed must not be negative, got %s", r.MaxElapsed)
	}
	return nil
}

type Log struct {
	Debug bool `yaml:"debug"`
}

type Render struct {
	Format string `yaml:"format" default:"markdown"`
	Wrap   int    `yaml:"wrap" default:"120"`
}

type Metrics struct {
	Listen string `yaml:"listen"`
}

// Preset is a named stream exposed as a subcommand.
type Preset struct {
	Path        string            `yaml:"path"`
	Params      map[string]string `yaml:"params"`
	Description string            `yaml:"description"`
}

// configResult is a struct used to return the configuration and any error that occurs during loading.
type configResult struct {
	config *Config
	err    error
}

// NewDefaultConfig returns a configuration with every default applied.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		// Only reachable with a malformed default tag.
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	cfg.Streams = map[string]Preset{}
	return cfg
}

// Validate reports configuration values the client cannot run with.
func (c *Config) Validate() error {
	if c.StreamBase == "" {
		return errors.New("stream_base must not be empty")
	}
	if c.ReadSize <= 0 {
		return fmt.Errorf("read_size must be positive, got %d", c.ReadSize)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	if c.StallTimeout < 0 {
		return fmt.Errorf("stall_timeout must not be negative, got %s", c.StallTimeout)
	}
	if err := c.Reconnect.validate(); err != nil {
		return err
	}
	switch c.Render.Format {
	case FormatMarkdown, FormatPlain, FormatJSON:
	default:
		return fmt.Errorf("unknown render format %q", c.Render.Format)
	}
	for name, p := range c.Streams {
		if p.Path == "" {
			return fmt.Errorf("stream preset %q has no path", name)
		}
	}
	return nil
}

// getConfigPath retrieves the path to the configuration directory based on the XDG_CONFIG_HOME environment variable.
func getConfigPath() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" && runtime.GOOS == "windows" {
		configHome = tryWindowsPaths()
	}
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		configHome = filepath.Join(home, defaultConfig)
	}

	return filepath.Join(configHome, configDirName), nil
}

// tryWindowsPaths attempts to find the appropriate configuration path on Windows.
func tryWindowsPaths() string {
	if path := os.Getenv("LOCALAPPDATA"); isValidDir(path) {
		return path
	}

	if home := os.Getenv("HOME"); home != "" {
		if path := filepath.Join(home, "AppData", "Local"); isValidDir(path) {
			return path
		}
	}

	return ""
}

// isValidDir checks if a given path is a valid directory.
func isValidDir(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// tryLoadConfig attempts to load a configuration file from the specified path.
func tryLoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Streams == nil {
		cfg.Streams = map[string]Preset{}
	}

	return cfg, nil
}

// LoadEnvFile loads variables from a dotenv file without overriding ones
// already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// LoadConfig loads the configuration from the user's home directory, with a timeout.
// Environment variables and the credentials file are applied on top.
func LoadConfig(ctx context.Context) (*Config, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result := make(chan configResult, 1)

	go func() {
		cfg, err := loadConfigFiles(ctx)
		result <- configResult{config: cfg, err: err}
	}()

	var cfg *Config
	done := ctx.Done()
	select {
	case <-done:
		return nil, ctx.Err()
	case r := <-result:
		if r.err != nil {
			return nil, r.err
		}
		cfg = r.config
	}

	applyEnv(cfg)
	if cfg.BearerToken == "" {
		token, err := loadBearerToken()
		if err != nil {
			return nil, err
		}
		cfg.BearerToken = token
	}

	return cfg, cfg.Validate()
}

// applyEnv overrides file values with environment variables.
func applyEnv(cfg *Config) {
	for _, key := range []string{"FIREHOSE_BEARER_TOKEN", "BEARER_TOKEN"} {
		if v := os.Getenv(key); v != "" {
			cfg.BearerToken = v
			break
		}
	}
	if v := os.Getenv("FIREHOSE_STREAM_BASE"); v != "" {
		cfg.StreamBase = v
	}
}

// loadConfigFiles loads configuration files from the user's home directory.
func loadConfigFiles(ctx context.Context) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error before loading config: %w", err)
	}

	configDir, err := getConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}

	// Return default config early if directory doesn't exist
	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		return NewDefaultConfig(), nil
	}

	for _, filename := range configFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cfg, err := tryLoadConfig(filepath.Join(configDir, filename))
		if err == nil {
			return cfg, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config from %s: %w", filename, err)
		}
	}

	return NewDefaultConfig(), nil
}
