package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and relay logic
type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Journal   *JournalConfig   `json:"journal"`
	Discovery *DiscoveryConfig `json:"discovery"`
}

// HTTPConfig covers the listener and CORS
type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
	// FrontendOrigin restricts CORS and websocket origins when set
	FrontendOrigin string `json:"frontend_origin"`
}

// WebSocketConfig covers heartbeat, buffering and per-connection limits
type WebSocketConfig struct {
	PingInterval    time.Duration `json:"ping_interval"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	BufferSize      int           `json:"buffer_size"`
	MaxMessageBytes int64         `json:"max_message_bytes"`
	RateLimit       int           `json:"rate_limit"`
	RateWindow      time.Duration `json:"rate_window"`
}

// JournalConfig enables the sqlite activity journal. An empty path leaves
// it disabled.
type JournalConfig struct {
	Path       string        `json:"path"`
	Timeout    time.Duration `json:"timeout"`
	BufferSize int           `json:"buffer_size"`
}

// DiscoveryConfig enables mDNS advertisement on the local network
type DiscoveryConfig struct {
	Enabled  bool   `json:"enabled"`
	Instance string `json:"instance"`
}

// DefaultConfig returns the settings used when nothing is configured
// FUNCTIONAL DISCOVERY: Defaults keep all state in memory; the journal and
// discovery are opt-in
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Port:         3000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:    25 * time.Second,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			BufferSize:      256,
			MaxMessageBytes: 1 << 20,
			RateLimit:       200,
			RateWindow:      time.Second,
		},
		Journal: &JournalConfig{
			Timeout:    30 * time.Second,
			BufferSize: 1000,
		},
		Discovery: &DiscoveryConfig{
			Instance: "whiteboard",
		},
	}
}

// JournalEnabled reports whether a journal path is configured
func (c *Config) JournalEnabled() bool {
	return c.Journal != nil && c.Journal.Path != ""
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// Validate rejects configurations that would fail at runtime
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}
	if c.WebSocket.RateLimit <= 0 {
		return fmt.Errorf("WebSocket rate limit must be positive")
	}
	if c.WebSocket.RateWindow <= 0 {
		return fmt.Errorf("WebSocket rate window must be positive")
	}

	if c.Journal == nil {
		return fmt.Errorf("journal configuration is required")
	}
	if c.JournalEnabled() {
		if c.Journal.Timeout <= 0 {
			return fmt.Errorf("journal timeout must be positive")
		}
		if c.Journal.BufferSize <= 0 {
			return fmt.Errorf("journal buffer size must be positive")
		}
	}

	if c.Discovery == nil {
		return fmt.Errorf("discovery configuration is required")
	}
	if c.Discovery.Enabled && c.Discovery.Instance == "" {
		return fmt.Errorf("discovery instance name cannot be empty")
	}

	return nil
}

// LoadFromEnv applies environment variables over the defaults
// FUNCTIONAL DISCOVERY: PORT and FRONTEND_ORIGIN keep the names hosting
// platforms set; everything else is namespaced WHITEBOARD_*
func LoadFromEnv() *Config {
	return applyEnv(DefaultConfig())
}

func applyEnv(config *Config) *Config {
	envInt("PORT", &config.HTTP.Port)
	envInt("WHITEBOARD_HTTP_PORT", &config.HTTP.Port)
	envString("WHITEBOARD_HTTP_HOST", &config.HTTP.Host)
	envDuration("WHITEBOARD_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("WHITEBOARD_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	envString("FRONTEND_ORIGIN", &config.HTTP.FrontendOrigin)

	envDuration("WHITEBOARD_WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("WHITEBOARD_WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("WHITEBOARD_WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envInt("WHITEBOARD_WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)
	if v := os.Getenv("WHITEBOARD_WEBSOCKET_MAX_MESSAGE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.WebSocket.MaxMessageBytes = n
		}
	}
	envInt("WHITEBOARD_WEBSOCKET_RATE_LIMIT", &config.WebSocket.RateLimit)
	envDuration("WHITEBOARD_WEBSOCKET_RATE_WINDOW", &config.WebSocket.RateWindow)

	envString("WHITEBOARD_JOURNAL_PATH", &config.Journal.Path)
	envDuration("WHITEBOARD_JOURNAL_TIMEOUT", &config.Journal.Timeout)
	envInt("WHITEBOARD_JOURNAL_BUFFER_SIZE", &config.Journal.BufferSize)

	if v := os.Getenv("WHITEBOARD_DISCOVERY_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			config.Discovery.Enabled = enabled
		}
	}
	envString("WHITEBOARD_DISCOVERY_INSTANCE", &config.Discovery.Instance)

	return config
}

// Malformed values are ignored and the previous value is kept
func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Journal   *JournalConfigFile   `json:"journal"`
	Discovery *DiscoveryConfigFile `json:"discovery"`
}

type HTTPConfigFile struct {
	Port           int    `json:"port"`
	ReadTimeout    string `json:"read_timeout"`
	WriteTimeout   string `json:"write_timeout"`
	Host           string `json:"host"`
	FrontendOrigin string `json:"frontend_origin"`
}

type WebSocketConfigFile struct {
	PingInterval    string `json:"ping_interval"`
	ReadTimeout     string `json:"read_timeout"`
	WriteTimeout    string `json:"write_timeout"`
	BufferSize      int    `json:"buffer_size"`
	MaxMessageBytes int64  `json:"max_message_bytes"`
	RateLimit       int    `json:"rate_limit"`
	RateWindow      string `json:"rate_window"`
}

type JournalConfigFile struct {
	Path       string `json:"path"`
	Timeout    string `json:"timeout"`
	BufferSize int    `json:"buffer_size"`
}

type DiscoveryConfigFile struct {
	Enabled  *bool  `json:"enabled"`
	Instance string `json:"instance"`
}

// LoadFromFile reads a JSON config file over the defaults
func LoadFromFile(filepath string) (*Config, error) {
	return loadFileOnto(DefaultConfig(), filepath)
}

// loadFileOnto overlays the fields present in the file onto base
func loadFileOnto(config *Config, filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	var parseErr error
	duration := func(field, value string, dst *time.Duration) {
		if value == "" || parseErr != nil {
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			parseErr = fmt.Errorf("invalid %s %q: %w", field, value, err)
			return
		}
		*dst = d
	}

	if f := file.HTTP; f != nil {
		if f.Port > 0 {
			config.HTTP.Port = f.Port
		}
		if f.Host != "" {
			config.HTTP.Host = f.Host
		}
		if f.FrontendOrigin != "" {
			config.HTTP.FrontendOrigin = f.FrontendOrigin
		}
		duration("http.read_timeout", f.ReadTimeout, &config.HTTP.ReadTimeout)
		duration("http.write_timeout", f.WriteTimeout, &config.HTTP.WriteTimeout)
	}

	if f := file.WebSocket; f != nil {
		if f.BufferSize > 0 {
			config.WebSocket.BufferSize = f.BufferSize
		}
		if f.MaxMessageBytes > 0 {
			config.WebSocket.MaxMessageBytes = f.MaxMessageBytes
		}
		if f.RateLimit > 0 {
			config.WebSocket.RateLimit = f.RateLimit
		}
		duration("websocket.ping_interval", f.PingInterval, &config.WebSocket.PingInterval)
		duration("websocket.read_timeout", f.ReadTimeout, &config.WebSocket.ReadTimeout)
		duration("websocket.write_timeout", f.WriteTimeout, &config.WebSocket.WriteTimeout)
		duration("websocket.rate_window", f.RateWindow, &config.WebSocket.RateWindow)
	}

	if f := file.Journal; f != nil {
		if f.Path != "" {
			config.Journal.Path = f.Path
		}
		if f.BufferSize > 0 {
			config.Journal.BufferSize = f.BufferSize
		}
		duration("journal.timeout", f.Timeout, &config.Journal.Timeout)
	}

	if f := file.Discovery; f != nil {
		if f.Enabled != nil {
			config.Discovery.Enabled = *f.Enabled
		}
		if f.Instance != "" {
			config.Discovery.Instance = f.Instance
		}
	}

	if parseErr != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, parseErr)
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence resolves file > environment > defaults. A file
// that cannot be loaded is reported and the environment config is returned
// alongside the error.
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	config := LoadFromEnv()
	if filepath == "" {
		return config, nil
	}

	fileConfig, err := loadFileOnto(LoadFromEnv(), filepath)
	if err != nil {
		return config, err
	}
	return fileConfig, nil
}
