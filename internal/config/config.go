package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/simplui/simplui/internal/workflow"
	"gopkg.in/yaml.v3"
)

// Environment overrides applied after the file is decoded.
const (
	EnvComfyURL = "SIMPLUI_COMFY_URL"
	EnvListen   = "SIMPLUI_LISTEN"
	EnvMQTTURL  = "SIMPLUI_MQTT_URL"
	EnvLogLevel = "SIMPLUI_LOG_LEVEL"
	EnvTLSCert  = "SIMPLUI_TLS_CERT"
	EnvTLSKey   = "SIMPLUI_TLS_KEY"
)

const (
	defaultComfyURL       = "http://127.0.0.1:8188"
	defaultListen         = ":8080"
	defaultRequestTimeout = 30 * time.Second
	defaultTopicPrefix    = "simplui"
)

// WorkflowEntry names an API-format workflow file.
type WorkflowEntry struct {
	Name string `yaml:"name" toml:"name" json:"name"`
	Path string `yaml:"path" toml:"path" json:"path"`
}

type MQTTConfig struct {
	URL         string `yaml:"url" toml:"url" json:"url"`
	TopicPrefix string `yaml:"topic_prefix" toml:"topic_prefix" json:"topic_prefix"`
	ClientID    string `yaml:"client_id" toml:"client_id" json:"client_id"`
	Username    string `yaml:"username" toml:"username" json:"username"`
	// Password is never read from the file; see ResolveSecret.
	Password string `yaml:"-" toml:"-" json:"-"`
}

// Enabled reports whether the MQTT bridge is configured.
func (m MQTTConfig) Enabled() bool { return m.URL != "" }

type PostgresConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled" json:"enabled"`
	// DSN overrides the PG* environment when set.
	DSN string `yaml:"dsn" toml:"dsn" json:"dsn"`
}

// TLSConfig names the API certificate and key. Both must be set.
type TLSConfig struct {
	CertFile string `yaml:"cert_file" toml:"cert_file" json:"cert_file"`
	KeyFile  string `yaml:"key_file" toml:"key_file" json:"key_file"`
}

type LogConfig struct {
	Level      string `yaml:"level" toml:"level" json:"level"`
	File       string `yaml:"file" toml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups" json:"max_backups"`
}

type Config struct {
	Version   int             `yaml:"version" toml:"version" json:"version"`
	ComfyURL  string          `yaml:"comfy_url" toml:"comfy_url" json:"comfy_url"`
	Listen    string          `yaml:"listen" toml:"listen" json:"listen"`
	Workflows []WorkflowEntry `yaml:"workflows" toml:"workflows" json:"workflows"`

	// SliderRanges keys are "Class.field" or a bare field name.
	SliderRanges map[string]workflow.SliderRange `yaml:"sliders" toml:"sliders" json:"sliders"`

	RequestTimeoutStr string        `yaml:"request_timeout" toml:"request_timeout" json:"request_timeout"`
	RequestTimeout    time.Duration `yaml:"-" toml:"-" json:"-"`

	MQTT     MQTTConfig     `yaml:"mqtt" toml:"mqtt" json:"mqtt"`
	Postgres PostgresConfig `yaml:"postgres" toml:"postgres" json:"postgres"`
	Log      LogConfig      `yaml:"log" toml:"log" json:"log"`
	TLS      TLSConfig      `yaml:"tls" toml:"tls" json:"tls"`

	// dir is the directory of the loaded file; relative workflow paths
	// resolve against it.
	dir string
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{Version: 1}
	c.applyDefaults()
	return c
}

// Load reads a config file, choosing the decoder by extension (.yaml, .yml,
// .toml, .json), then applies defaults, environment overrides and secrets.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".toml":
		_, err = toml.Decode(string(b), &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	default:
		return nil, fmt.Errorf("unsupported config format: %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Files from the older json format carry no version.
	if cfg.Version == 0 && ext == ".json" {
		cfg.Version = 1
	}
	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported config version: %d", cfg.Version)
	}

	if abs, err := filepath.Abs(filepath.Dir(path)); err == nil {
		cfg.dir = abs
	} else {
		cfg.dir = filepath.Dir(path)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv returns the default configuration with environment overrides.
func FromEnv() (*Config, error) {
	cfg := &Config{Version: 1}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finish() error {
	c.applyEnv()
	c.applyDefaults()

	if c.RequestTimeoutStr != "" {
		d, err := time.ParseDuration(c.RequestTimeoutStr)
		if err != nil {
			return fmt.Errorf("request_timeout: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("request_timeout must be positive, got %s", d)
		}
		c.RequestTimeout = d
	}

	seen := make(map[string]bool, len(c.Workflows))
	for i, w := range c.Workflows {
		if w.Name == "" || w.Path == "" {
			return fmt.Errorf("workflows[%d]: name and path are required", i)
		}
		if seen[w.Name] {
			return fmt.Errorf("workflows[%d]: duplicate name %q", i, w.Name)
		}
		seen[w.Name] = true
	}

	for key, r := range c.SliderRanges {
		if r.Max <= r.Min {
			return fmt.Errorf("sliders.%s: max must be greater than min", key)
		}
	}

	if c.MQTT.Enabled() {
		pw, err := ResolveSecret(EnvMQTTPassword)
		if err != nil {
			return err
		}
		c.MQTT.Password = pw
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvComfyURL); v != "" {
		c.ComfyURL = v
	}
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(EnvMQTTURL); v != "" {
		c.MQTT.URL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvTLSCert); v != "" {
		c.TLS.CertFile = v
	}
	if v := os.Getenv(EnvTLSKey); v != "" {
		c.TLS.KeyFile = v
	}
}

func (c *Config) applyDefaults() {
	if c.ComfyURL == "" {
		c.ComfyURL = defaultComfyURL
	}
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = defaultTopicPrefix
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Sliders returns the configured slider ranges.
func (c *Config) Sliders() workflow.SliderConfig {
	if len(c.SliderRanges) == 0 {
		return nil
	}
	out := make(workflow.SliderConfig, len(c.SliderRanges))
	for k, v := range c.SliderRanges {
		out[k] = v
	}
	return out
}

// WorkflowNames lists the configured workflows in file order.
func (c *Config) WorkflowNames() []string {
	names := make([]string, 0, len(c.Workflows))
	for _, w := range c.Workflows {
		names = append(names, w.Name)
	}
	return names
}

// Workflow returns the named workflow with its path resolved against the
// config file's directory.
func (c *Config) Workflow(name string) (WorkflowEntry, bool) {
	for _, w := range c.Workflows {
		if w.Name != name {
			continue
		}
		if !filepath.IsAbs(w.Path) && c.dir != "" {
			w.Path = filepath.Join(c.dir, w.Path)
		}
		return w, true
	}
	return WorkflowEntry{}, false
}

// LoadWorkflow loads the named workflow's graph.
func (c *Config) LoadWorkflow(name string) (workflow.Graph, error) {
	w, ok := c.Workflow(name)
	if !ok {
		return nil, fmt.Errorf("unknown workflow %q", name)
	}
	return workflow.LoadGraph(w.Path)
}
