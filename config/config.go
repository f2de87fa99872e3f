package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/machinefabric/pluginbus-go/bifaci"
)

// Environment variable names
const (
	EnvLogLevel      = "PLUGINBUS_LOG_LEVEL"
	EnvLogPretty     = "PLUGINBUS_LOG_PRETTY"
	EnvCodec         = "PLUGINBUS_CODEC"
	EnvMaxEnvelope   = "PLUGINBUS_MAX_ENVELOPE"
	EnvCallTimeout   = "PLUGINBUS_CALL_TIMEOUT"
	EnvNotifyTimeout = "PLUGINBUS_NOTIFY_TIMEOUT"
	EnvMetricsAddr   = "PLUGINBUS_METRICS_ADDR"
	EnvWSAddr        = "PLUGINBUS_WS_ADDR"
	EnvHostURL       = "PLUGINBUS_HOST_URL"
	EnvPlugins       = "PLUGINBUS_PLUGINS"
	EnvURLHash       = "PLUGINBUS_URL_HASH"
	EnvRuns          = "PLUGINBUS_RUNS"
)

// PluginSpec is a plugin binary to spawn.
type PluginSpec struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Config holds all configuration values
type Config struct {
	LogLevel  string `json:"log_level"`
	LogPretty bool   `json:"log_pretty"`

	Codec         string        `json:"codec"`
	MaxEnvelope   int           `json:"max_envelope"`
	CallTimeout   time.Duration `json:"call_timeout"`
	NotifyTimeout time.Duration `json:"notify_timeout"`

	MetricsAddr string `json:"metrics_addr"`
	// WSAddr is where the host accepts plugins over WebSocket. Empty disables it.
	WSAddr string `json:"ws_addr"`
	// HostURL is the WebSocket URL a plugin dials instead of using stdio.
	HostURL string `json:"host_url"`

	Plugins []PluginSpec `json:"plugins"`
	URLHash string       `json:"url_hash"`
	Runs    []string     `json:"runs"`
}

// Load reads an optional .env file (or the given files), then the
// environment. Variables already set in the environment win over the files.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	plugins, err := ParsePlugins(os.Getenv(EnvPlugins))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		LogLevel:      getEnvString(EnvLogLevel, "info"),
		LogPretty:     getEnvBool(EnvLogPretty, false),
		Codec:         getEnvString(EnvCodec, "json"),
		MaxEnvelope:   getEnvInt(EnvMaxEnvelope, bifaci.DefaultMaxEnvelope),
		CallTimeout:   getEnvDuration(EnvCallTimeout, 30*time.Second),
		NotifyTimeout: getEnvDuration(EnvNotifyTimeout, bifaci.DefaultNotifyTimeout),
		MetricsAddr:   getEnvString(EnvMetricsAddr, ""),
		WSAddr:        getEnvString(EnvWSAddr, ""),
		HostURL:       getEnvString(EnvHostURL, ""),
		Plugins:       plugins,
		URLHash:       getEnvString(EnvURLHash, ""),
		Runs:          getEnvStringSlice(EnvRuns, nil),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := bifaci.CodecByName(c.Codec); err != nil {
		return fmt.Errorf("%s: %w", EnvCodec, err)
	}
	if c.MaxEnvelope <= 0 || c.MaxEnvelope > bifaci.MaxEnvelopeHardLimit {
		return fmt.Errorf("%s must be between 1 and %d, got %d", EnvMaxEnvelope, bifaci.MaxEnvelopeHardLimit, c.MaxEnvelope)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvCallTimeout)
	}
	if c.NotifyTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvNotifyTimeout)
	}
	if c.HostURL != "" && !strings.HasPrefix(c.HostURL, "ws://") && !strings.HasPrefix(c.HostURL, "wss://") {
		return fmt.Errorf("%s must be a ws:// or wss:// URL, got %q", EnvHostURL, c.HostURL)
	}
	return nil
}

// Options turns the channel settings into endpoint options.
func (c *Config) Options() ([]bifaci.Option, error) {
	codec, err := bifaci.CodecByName(c.Codec)
	if err != nil {
		return nil, err
	}
	return []bifaci.Option{
		bifaci.WithCodec(codec),
		bifaci.WithLimits(bifaci.Limits{MaxEnvelope: c.MaxEnvelope}),
		bifaci.WithNotifyTimeout(c.NotifyTimeout),
	}, nil
}

// ParsePlugins parses "name=path,name=path". Names must be unique.
func ParsePlugins(value string) ([]PluginSpec, error) {
	var specs []PluginSpec
	seen := make(map[string]bool)
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, path, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		path = strings.TrimSpace(path)
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("%s: malformed entry %q, want name=path", EnvPlugins, entry)
		}
		if seen[name] {
			return nil, fmt.Errorf("%s: duplicate plugin %q", EnvPlugins, name)
		}
		seen[name] = true
		specs = append(specs, PluginSpec{Name: name, Path: path})
	}
	return specs, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out
	}
	return defaultValue
}
