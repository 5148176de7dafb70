// Package config loads service configuration via Viper and holds the runtime
// render settings that can be swapped while the service is running.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up next to the executable.
const FileName = "config.json"

var errNotObject = errors.New("config file must contain a JSON object")

// Storage backends accepted by storage.backend.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config captures every knob read at startup.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Render    RenderConfig    `mapstructure:"render"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Failure   FailureConfig   `mapstructure:"failure"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	// RenderOnly is the optional allow-list of URL prefixes.
	RenderOnly []string `mapstructure:"renderonly"`
	Debug      bool     `mapstructure:"debug"`
	// Extra keeps file keys this service does not interpret.
	Extra map[string]any `mapstructure:",remain"`

	// Source is the config file that was read, empty when none existed.
	Source string `mapstructure:"-"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// BrowserConfig controls how the Chrome process is launched.
type BrowserConfig struct {
	ExecPath       string        `mapstructure:"exec_path"`
	Flags          []string      `mapstructure:"flags"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
}

// RenderConfig bounds render sessions. Zero values disable each limit.
type RenderConfig struct {
	MaxParallel       int           `mapstructure:"max_parallel"`
	DomainQPS         float64       `mapstructure:"domain_qps"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// StorageConfig selects where screenshots are persisted before being served.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	GCSEndpoint string `mapstructure:"gcs_endpoint"`
	Prefix      string `mapstructure:"prefix"`
	Retain      bool   `mapstructure:"retain"`
}

// FailureConfig sets the escalation threshold for unexpected errors.
type FailureConfig struct {
	Threshold int `mapstructure:"threshold"`
}

// TelemetryConfig names the service for tracing and enables Cloud Trace export.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	ProjectID   string `mapstructure:"project_id"`
}

// DefaultPath returns config.json in the directory holding the executable.
func DefaultPath() string {
	exe, err := os.Executable()
	if err != nil {
		return FileName
	}
	return filepath.Join(filepath.Dir(exe), FileName)
}

// Load builds a Config from the optional JSON file plus environment overrides.
// A missing file is not an error; a file that is not a JSON object is.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RENDERTRON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "PORT", "RENDERTRON_SERVER_PORT"); err != nil {
		return Config{}, fmt.Errorf("bind PORT: %w", err)
	}
	if err := v.BindEnv("browser.exec_path", "RENDERTRON_BROWSER_EXEC_PATH", "CHROME_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind CHROME_PATH: %w", err)
	}

	setDefaults(v)

	if path == "" {
		path = DefaultPath()
	}
	source := ""
	if _, err := os.Stat(path); err == nil {
		if err := readObjectFile(v, path); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		source = path
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("stat config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Source = source
	cfg.Extra = stripConnectionKeys(cfg.Extra)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// readObjectFile loads path into v, refusing files whose top level is not a
// JSON object (including a bare null).
func readObjectFile(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	var top map[string]any
	if err := json.Unmarshal(data, &top); err != nil {
		return fmt.Errorf("%w: %w", errNotObject, err)
	}
	if top == nil {
		return errNotObject
	}
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.flags", []string{})
	v.SetDefault("browser.startup_timeout", "30s")
	v.SetDefault("render.max_parallel", 0)
	v.SetDefault("render.domain_qps", 0)
	v.SetDefault("render.navigation_timeout", "0s")
	v.SetDefault("render.user_agent", "")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.prefix", "screenshots")
	v.SetDefault("storage.retain", false)
	v.SetDefault("failure.threshold", 5)
	v.SetDefault("telemetry.service_name", "rendertron")
	v.SetDefault("telemetry.version", "dev")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Failure.Threshold <= 0 {
		return fmt.Errorf("failure.threshold must be > 0")
	}
	if c.Browser.StartupTimeout <= 0 {
		return fmt.Errorf("browser.startup_timeout must be > 0")
	}
	if c.Render.MaxParallel < 0 {
		return fmt.Errorf("render.max_parallel must be >= 0")
	}
	if c.Render.DomainQPS < 0 {
		return fmt.Errorf("render.domain_qps must be >= 0")
	}
	if c.Render.NavigationTimeout < 0 {
		return fmt.Errorf("render.navigation_timeout must be >= 0")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if strings.TrimSpace(c.Storage.BaseDir) == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	case BackendGCS:
		if strings.TrimSpace(c.Storage.GCSBucket) == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend)
	}
	return nil
}

// Settings returns the runtime render settings described by the loaded file.
func (c Config) Settings() Settings {
	return Settings{
		RenderOnly: cloneStrings(c.RenderOnly),
		Debug:      c.Debug,
		Extra:      cloneMap(c.Extra),
	}
}

// Connection fields are assigned after launch and never come from the file.
func stripConnectionKeys(extra map[string]any) map[string]any {
	for _, key := range []string{"host", "port", "chrome"} {
		delete(extra, key)
	}
	return extra
}
