// Package config holds the settings of tabscribe. Values come from
// config.yaml, TABSCRIBE_* environment variables and command line flags,
// merged by viper.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"node.town/tabscribe/snd"
	"node.town/tabscribe/stt"
)

const EnvPrefix = "TABSCRIBE"

type Config struct {
	BackendURL     string            `mapstructure:"backend_url" yaml:"backend_url"`
	SettleDelay    time.Duration     `mapstructure:"settle_delay" yaml:"settle_delay"`
	PingInterval   time.Duration     `mapstructure:"ping_interval" yaml:"ping_interval"`
	AudioBackend   string            `mapstructure:"audio_backend" yaml:"audio_backend"`
	Monitor        bool              `mapstructure:"monitor" yaml:"monitor"`
	Tabs           map[string]string `mapstructure:"tabs" yaml:"tabs"`
	SourceLanguage string            `mapstructure:"source_language" yaml:"source_language"`
	TargetLanguage string            `mapstructure:"target_language" yaml:"target_language"`
	Languages      []string          `mapstructure:"languages" yaml:"languages"`
	HTTPPort       int               `mapstructure:"http_port" yaml:"http_port"`
	LogLevel       string            `mapstructure:"log_level" yaml:"log_level"`
	LogFile        string            `mapstructure:"log_file" yaml:"log_file"`
}

func Default() Config {
	return Config{
		BackendURL:     stt.DefaultURL,
		SettleDelay:    stt.DefaultSettleDelay,
		PingInterval:   stt.DefaultPingInterval,
		AudioBackend:   "miniaudio",
		Monitor:        true,
		Tabs:           map[string]string{},
		SourceLanguage: "en",
		TargetLanguage: "es",
		Languages:      []string{"en", "es", "fr", "de", "it", "pt", "ja", "zh"},
		LogLevel:       "info",
		LogFile:        "tabscribe.log",
	}
}

// SetDefaults registers the defaults with v so that every key is known to
// AutomaticEnv and Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("backend_url", d.BackendURL)
	v.SetDefault("settle_delay", d.SettleDelay)
	v.SetDefault("ping_interval", d.PingInterval)
	v.SetDefault("audio_backend", d.AudioBackend)
	v.SetDefault("monitor", d.Monitor)
	v.SetDefault("tabs", d.Tabs)
	v.SetDefault("source_language", d.SourceLanguage)
	v.SetDefault("target_language", d.TargetLanguage)
	v.SetDefault("languages", d.Languages)
	v.SetDefault("http_port", d.HTTPPort)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_file", d.LogFile)
}

// Load reads the merged settings of v and validates them.
func Load(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.BackendURL)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("backend_url: %w", err))
	case u.Scheme != "ws" && u.Scheme != "wss":
		errs = append(errs, fmt.Errorf("backend_url: scheme must be ws or wss, got %q", u.Scheme))
	}

	switch c.AudioBackend {
	case "", "miniaudio", "portaudio":
	default:
		errs = append(errs, fmt.Errorf("audio_backend: unknown backend %q", c.AudioBackend))
	}

	if err := c.DefaultLanguages().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("default languages: %w", err))
	}
	if c.SettleDelay < 0 {
		errs = append(errs, errors.New("settle_delay: must not be negative"))
	}
	if c.PingInterval < 0 {
		errs = append(errs, errors.New("ping_interval: must not be negative"))
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http_port: %d out of range", c.HTTPPort))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if _, err := snd.ParseDeviceMap(c.Tabs); err != nil {
		errs = append(errs, fmt.Errorf("tabs: %w", err))
	}

	return errors.Join(errs...)
}

func (c Config) DefaultLanguages() stt.Languages {
	return stt.Languages{Source: c.SourceLanguage, Target: c.TargetLanguage}
}

// DeviceMap returns the tab to device mapping. The config must be valid.
func (c Config) DeviceMap() snd.DeviceMap {
	m, _ := snd.ParseDeviceMap(c.Tabs)
	return m
}

func (c Config) Channel() stt.Config {
	return stt.Config{
		URL:          c.BackendURL,
		SettleDelay:  c.SettleDelay,
		PingInterval: c.PingInterval,
	}
}

// WriteYAML writes c in the format Load reads back.
func (c Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
