package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Default values applied when the config file leaves a field empty.
const (
	DefaultName             = "shortforge"
	DefaultWhisperModel     = "small"
	DefaultBackgroundPlugin = "default"
	DefaultFont             = "Comic Sans MS"
	DefaultVoice            = "en-US-GuyNeural"
	DefaultPluginsDir       = "plugins"
	DefaultDataDir          = "data"
	DefaultOutputDir        = "output"
)

// Config is the immutable run configuration. It is read once at startup and
// passed explicitly into every component that needs it; nothing reads ambient
// process state after Load returns.
type Config struct {
	// Name identifies the channel. It prefixes log files and scopes the
	// per-channel run lock and history store.
	Name string `yaml:"name"`

	// Prompt, when set, is used as the topic so the run needs no CLI argument.
	Prompt string `yaml:"prompt"`

	Upload     bool    `yaml:"upload"`
	DelayHours float64 `yaml:"delay_hours"`

	WhisperModel     string `yaml:"whisper_model"`
	BackgroundPlugin string `yaml:"background_plugin"`
	Font             string `yaml:"font"`
	Voice            string `yaml:"voice"`

	// TTSCommand overrides the synthesis engine. Empty means edge-tts.
	TTSCommand string `yaml:"tts_command"`

	PluginsDir string `yaml:"plugins_dir"`
	DataDir    string `yaml:"data_dir"`
	OutputDir  string `yaml:"output_dir"`

	// KeepWorkspace leaves run directories on disk for inspection instead of
	// deleting them when the run ends.
	KeepWorkspace bool `yaml:"keep_workspace"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads the YAML config at path, applies defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Config{Upload: true}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.WhisperModel == "" {
		c.WhisperModel = DefaultWhisperModel
	}
	if c.BackgroundPlugin == "" {
		c.BackgroundPlugin = DefaultBackgroundPlugin
	}
	if c.Font == "" {
		c.Font = DefaultFont
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.PluginsDir == "" {
		c.PluginsDir = DefaultPluginsDir
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
}

// Validate rejects values a run cannot proceed with.
func (c *Config) Validate() error {
	if c.DelayHours < 0 {
		return fmt.Errorf("delay_hours must be >= 0, got %v", c.DelayHours)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json, got %q", c.LogFormat)
	}
	return nil
}
