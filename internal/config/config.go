package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfigFile names the optional JSON config file.
const EnvConfigFile = "CHATRELAY_CONFIG_FILE"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Auth      *AuthConfig      `json:"auth"`
	Room      *RoomConfig      `json:"room"`
	Database  *DatabaseConfig  `json:"database"`
	Log       *LogConfig       `json:"log"`
}

type HTTPConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// Addr is the listen address.
func (h *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// FUNCTIONAL DISCOVERY: An empty origin list accepts every origin, which server-side
// clients without an Origin header rely on
type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	SendBuffer     int           `json:"send_buffer"`
	MaxMessageSize int64         `json:"max_message_size"`
	AllowedOrigins []string      `json:"allowed_origins"`
}

// AuthConfig carries the two credentials of the relay. Either may be empty;
// the matching surface then fails closed instead of refusing to start.
type AuthConfig struct {
	SharedSecret      string        `json:"-"`
	ClerkJWTKey       string        `json:"-"`
	AuthorizedParties []string      `json:"authorized_parties"`
	Leeway            time.Duration `json:"leeway"`
}

type RoomConfig struct {
	TypingTimeout    time.Duration `json:"typing_timeout"`
	AIRateLimit      int           `json:"ai_rate_limit"`
	AIRateWindow     time.Duration `json:"ai_rate_window"`
	MaxMessageLength int           `json:"max_message_length"`
	IdleTimeout      time.Duration `json:"idle_timeout"`
	SweepInterval    time.Duration `json:"sweep_interval"`
	CommandBuffer    int           `json:"command_buffer"`
}

type DatabaseConfig struct {
	Path      string        `json:"path"`
	Timeout   time.Duration `json:"timeout"`
	QueueSize int           `json:"queue_size"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// DefaultConfig returns the settings used when nothing overrides them.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			SendBuffer:     256,
			MaxMessageSize: 64 * 1024,
		},
		Auth: &AuthConfig{
			Leeway: 5 * time.Second,
		},
		Room: &RoomConfig{
			TypingTimeout:    6 * time.Second,
			AIRateLimit:      10,
			AIRateWindow:     60 * time.Second,
			MaxMessageLength: 4000,
			IdleTimeout:      5 * time.Minute,
			SweepInterval:    time.Minute,
			CommandBuffer:    256,
		},
		Database: &DatabaseConfig{
			Path:      "./data/chatrelay.db",
			Timeout:   5 * time.Second,
			QueueSize: 1024,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate rejects structurally invalid values. Missing credentials are not
// an error here.
func (c *Config) Validate() error {
	if c.HTTP == nil || c.WebSocket == nil || c.Auth == nil || c.Room == nil || c.Database == nil || c.Log == nil {
		return errors.New("all configuration sections are required")
	}

	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	// Port 0 asks the kernel for a free port.
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return errors.New("WebSocket send buffer must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return errors.New("WebSocket max message size must be positive")
	}

	if c.Auth.Leeway < 0 {
		return errors.New("auth leeway cannot be negative")
	}

	if c.Room.TypingTimeout <= 0 {
		return errors.New("typing timeout must be positive")
	}
	if c.Room.AIRateLimit <= 0 || c.Room.AIRateWindow <= 0 {
		return errors.New("AI rate limit and window must be positive")
	}
	if c.Room.MaxMessageLength <= 0 {
		return errors.New("max message length must be positive")
	}
	// FUNCTIONAL DISCOVERY: Retiring a room earlier would reset its AI window
	if c.Room.IdleTimeout < c.Room.AIRateWindow {
		return errors.New("room idle timeout must be at least the AI rate window")
	}
	if c.Room.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	if c.Room.CommandBuffer <= 0 {
		return errors.New("room command buffer must be positive")
	}

	if c.Database.Path == "" {
		return errors.New("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return errors.New("database timeout must be positive")
	}
	if c.Database.QueueSize <= 0 {
		return errors.New("database queue size must be positive")
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// Load builds the runtime configuration: defaults, then the file named by
// CHATRELAY_CONFIG_FILE, then environment variables.
func Load() (*Config, error) {
	config := DefaultConfig()

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(config, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// LoadFromFile reads a JSON config on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	HTTP *struct {
		Host            string `json:"host"`
		Port            int    `json:"port"`
		ReadTimeout     string `json:"read_timeout"`
		WriteTimeout    string `json:"write_timeout"`
		ShutdownTimeout string `json:"shutdown_timeout"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval   string   `json:"ping_interval"`
		ReadTimeout    string   `json:"read_timeout"`
		WriteTimeout   string   `json:"write_timeout"`
		SendBuffer     int      `json:"send_buffer"`
		MaxMessageSize int64    `json:"max_message_size"`
		AllowedOrigins []string `json:"allowed_origins"`
	} `json:"websocket"`
	Auth *struct {
		AuthorizedParties []string `json:"authorized_parties"`
		Leeway            string   `json:"leeway"`
	} `json:"auth"`
	Room *struct {
		TypingTimeout    string `json:"typing_timeout"`
		AIRateLimit      int    `json:"ai_rate_limit"`
		AIRateWindow     string `json:"ai_rate_window"`
		MaxMessageLength int    `json:"max_message_length"`
		IdleTimeout      string `json:"idle_timeout"`
		SweepInterval    string `json:"sweep_interval"`
		CommandBuffer    int    `json:"command_buffer"`
	} `json:"room"`
	Database *struct {
		Path      string `json:"path"`
		Timeout   string `json:"timeout"`
		QueueSize int    `json:"queue_size"`
	} `json:"database"`
	Log *struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	} `json:"log"`
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var p durationParser
	if f := file.HTTP; f != nil {
		setString(&config.HTTP.Host, f.Host)
		setInt(&config.HTTP.Port, f.Port)
		p.set(&config.HTTP.ReadTimeout, "http.read_timeout", f.ReadTimeout)
		p.set(&config.HTTP.WriteTimeout, "http.write_timeout", f.WriteTimeout)
		p.set(&config.HTTP.ShutdownTimeout, "http.shutdown_timeout", f.ShutdownTimeout)
	}
	if f := file.WebSocket; f != nil {
		p.set(&config.WebSocket.PingInterval, "websocket.ping_interval", f.PingInterval)
		p.set(&config.WebSocket.ReadTimeout, "websocket.read_timeout", f.ReadTimeout)
		p.set(&config.WebSocket.WriteTimeout, "websocket.write_timeout", f.WriteTimeout)
		setInt(&config.WebSocket.SendBuffer, f.SendBuffer)
		if f.MaxMessageSize > 0 {
			config.WebSocket.MaxMessageSize = f.MaxMessageSize
		}
		if f.AllowedOrigins != nil {
			config.WebSocket.AllowedOrigins = f.AllowedOrigins
		}
	}
	if f := file.Auth; f != nil {
		if f.AuthorizedParties != nil {
			config.Auth.AuthorizedParties = f.AuthorizedParties
		}
		p.set(&config.Auth.Leeway, "auth.leeway", f.Leeway)
	}
	if f := file.Room; f != nil {
		p.set(&config.Room.TypingTimeout, "room.typing_timeout", f.TypingTimeout)
		setInt(&config.Room.AIRateLimit, f.AIRateLimit)
		p.set(&config.Room.AIRateWindow, "room.ai_rate_window", f.AIRateWindow)
		setInt(&config.Room.MaxMessageLength, f.MaxMessageLength)
		p.set(&config.Room.IdleTimeout, "room.idle_timeout", f.IdleTimeout)
		p.set(&config.Room.SweepInterval, "room.sweep_interval", f.SweepInterval)
		setInt(&config.Room.CommandBuffer, f.CommandBuffer)
	}
	if f := file.Database; f != nil {
		setString(&config.Database.Path, f.Path)
		p.set(&config.Database.Timeout, "database.timeout", f.Timeout)
		setInt(&config.Database.QueueSize, f.QueueSize)
	}
	if f := file.Log; f != nil {
		setString(&config.Log.Level, f.Level)
		setString(&config.Log.Format, f.Format)
	}

	if p.err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, p.err)
	}
	return nil
}

// applyEnv overrides config from CHATRELAY_* variables. The two credentials
// use the names the surrounding deployment already exports.
func applyEnv(config *Config, lookup func(string) (string, bool)) error {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	var p durationParser
	setString(&config.HTTP.Host, get("CHATRELAY_HTTP_HOST"))
	p.setInt(&config.HTTP.Port, "CHATRELAY_HTTP_PORT", get("CHATRELAY_HTTP_PORT"))
	p.set(&config.HTTP.ReadTimeout, "CHATRELAY_HTTP_READ_TIMEOUT", get("CHATRELAY_HTTP_READ_TIMEOUT"))
	p.set(&config.HTTP.WriteTimeout, "CHATRELAY_HTTP_WRITE_TIMEOUT", get("CHATRELAY_HTTP_WRITE_TIMEOUT"))
	p.set(&config.HTTP.ShutdownTimeout, "CHATRELAY_HTTP_SHUTDOWN_TIMEOUT", get("CHATRELAY_HTTP_SHUTDOWN_TIMEOUT"))

	p.set(&config.WebSocket.PingInterval, "CHATRELAY_WEBSOCKET_PING_INTERVAL", get("CHATRELAY_WEBSOCKET_PING_INTERVAL"))
	p.set(&config.WebSocket.ReadTimeout, "CHATRELAY_WEBSOCKET_READ_TIMEOUT", get("CHATRELAY_WEBSOCKET_READ_TIMEOUT"))
	p.set(&config.WebSocket.WriteTimeout, "CHATRELAY_WEBSOCKET_WRITE_TIMEOUT", get("CHATRELAY_WEBSOCKET_WRITE_TIMEOUT"))
	p.setInt(&config.WebSocket.SendBuffer, "CHATRELAY_WEBSOCKET_SEND_BUFFER", get("CHATRELAY_WEBSOCKET_SEND_BUFFER"))
	if origins := get("CHATRELAY_WEBSOCKET_ALLOWED_ORIGINS"); origins != "" {
		config.WebSocket.AllowedOrigins = splitList(origins)
	}

	if v, ok := lookup("SHARED_SECRET"); ok {
		config.Auth.SharedSecret = v
	}
	if v, ok := lookup("CLERK_JWT_KEY"); ok {
		config.Auth.ClerkJWTKey = v
	}
	if parties := get("CHATRELAY_AUTH_AUTHORIZED_PARTIES"); parties != "" {
		config.Auth.AuthorizedParties = splitList(parties)
	}
	p.set(&config.Auth.Leeway, "CHATRELAY_AUTH_LEEWAY", get("CHATRELAY_AUTH_LEEWAY"))

	p.set(&config.Room.TypingTimeout, "CHATRELAY_ROOM_TYPING_TIMEOUT", get("CHATRELAY_ROOM_TYPING_TIMEOUT"))
	p.setInt(&config.Room.AIRateLimit, "CHATRELAY_ROOM_AI_RATE_LIMIT", get("CHATRELAY_ROOM_AI_RATE_LIMIT"))
	p.set(&config.Room.AIRateWindow, "CHATRELAY_ROOM_AI_RATE_WINDOW", get("CHATRELAY_ROOM_AI_RATE_WINDOW"))
	p.setInt(&config.Room.MaxMessageLength, "CHATRELAY_ROOM_MAX_MESSAGE_LENGTH", get("CHATRELAY_ROOM_MAX_MESSAGE_LENGTH"))
	p.set(&config.Room.IdleTimeout, "CHATRELAY_ROOM_IDLE_TIMEOUT", get("CHATRELAY_ROOM_IDLE_TIMEOUT"))
	p.set(&config.Room.SweepInterval, "CHATRELAY_ROOM_SWEEP_INTERVAL", get("CHATRELAY_ROOM_SWEEP_INTERVAL"))

	setString(&config.Database.Path, get("CHATRELAY_DATABASE_PATH"))
	p.set(&config.Database.Timeout, "CHATRELAY_DATABASE_TIMEOUT", get("CHATRELAY_DATABASE_TIMEOUT"))

	setString(&config.Log.Level, get("CHATRELAY_LOG_LEVEL"))
	setString(&config.Log.Format, get("CHATRELAY_LOG_FORMAT"))

	if p.err != nil {
		return fmt.Errorf("invalid environment: %w", p.err)
	}
	return nil
}

// durationParser keeps the first parse error so call sites stay flat.
type durationParser struct {
	err error
}

func (p *durationParser) set(dst *time.Duration, name, value string) {
	if value == "" || p.err != nil {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", name, err)
		return
	}
	*dst = d
}

func (p *durationParser) setInt(dst *int, name, value string) {
	if value == "" || p.err != nil {
		return
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", name, err)
		return
	}
	*dst = n
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setInt(dst *int, value int) {
	if value > 0 {
		*dst = value
	}
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
