// Package config loads the chatpipe configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Config is the root configuration.
type Config struct {
	General    GeneralConfig    `json:"general"`
	Pipeline   PipelineConfig   `json:"pipeline"`
	Commands   CommandsConfig   `json:"commands"`
	Templates  TemplatesConfig  `json:"templates"`
	Middleware MiddlewareConfig `json:"middleware"`
	Connector  ConnectorConfig  `json:"connector"`
	Server     ServerConfig     `json:"server"`
	Metrics    MetricsConfig    `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"`         // "text" | "json"
	LogFile   string `json:"logFile,omitempty"` // optional log file path
}

type PipelineConfig struct {
	CommandMode           string `json:"commandMode"` // "registry" | "inline"
	SmartReplies          bool   `json:"smartReplies"`
	AutoListen            bool   `json:"autoListen"`
	PollIntervalSeconds   int    `json:"pollIntervalSeconds"`
	HandlerTimeoutSeconds int    `json:"handlerTimeoutSeconds"`
	EventHistory          int    `json:"eventHistory"`
}

type CommandsConfig struct {
	HistoryCapacity int `json:"historyCapacity"` // 0 = unbounded
}

type TemplatesConfig struct {
	Dir             string `json:"dir,omitempty"`
	ContextCapacity int    `json:"contextCapacity"` // 0 = unbounded
}

type MiddlewareConfig struct {
	Logging            bool           `json:"logging"`
	AllowFrom          FlexStringList `json:"allowFrom"`
	RateLimitPerMinute float64        `json:"rateLimitPerMinute"` // 0 = disabled
	RateBurst          int            `json:"rateBurst"`
}

// ConnectorConfig selects the transport by Type and holds the settings of
// every transport.
type ConnectorConfig struct {
	Type      string         `json:"type"` // mock | whatsapp | bridge | telegram | amqp | console
	QueueSize int            `json:"queueSize"`
	Mock      MockConfig     `json:"mock"`
	WhatsApp  WhatsAppConfig `json:"whatsapp"`
	Bridge    BridgeConfig   `json:"bridge"`
	Telegram  TelegramConfig `json:"telegram"`
	AMQP      AMQPConfig     `json:"amqp"`
}

type MockConfig struct {
	ConnectDelayMs       int `json:"connectDelayMs"`
	MaxMessageSize       int `json:"maxMessageSize"`
	MessageTimeoutMs     int `json:"messageTimeoutMs"`
	ReconnectIntervalMs  int `json:"reconnectIntervalMs"`
	MaxReconnectAttempts int `json:"maxReconnectAttempts"`
}

type WhatsAppConfig struct {
	APIBase       string `json:"apiBase,omitempty"`
	AppSecret     string `json:"appSecret,omitempty"`
	AccessToken   string `json:"accessToken,omitempty"`
	VerifyToken   string `json:"verifyToken,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty"`
	WebhookPath   string `json:"webhookPath,omitempty"`
}

type BridgeConfig struct {
	URL                 string `json:"url,omitempty"`
	MaxBackoffSeconds   int    `json:"maxBackoffSeconds"`
	HandshakeTimeoutSec int    `json:"handshakeTimeoutSeconds"`
}

type TelegramConfig struct {
	Token          string `json:"token,omitempty"`
	PollTimeoutSec int    `json:"pollTimeoutSeconds"`
}

type AMQPConfig struct {
	URL                string `json:"url,omitempty"`
	InboundQueue       string `json:"inboundQueue"`
	Exchange           string `json:"exchange"`
	RoutingKey         string `json:"routingKey"`
	ConnTimeoutSeconds int    `json:"connTimeoutSeconds"`
}

type ServerConfig struct {
	Enabled     bool     `json:"enabled"`
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	CORSOrigins []string `json:"corsOrigins,omitempty"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
// Phone numbers are often written unquoted.
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.chatpipe).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatpipe"
	}
	return filepath.Join(home, ".chatpipe")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON5 config file (comments and trailing commas allowed),
// expands ${VAR} references, overlays it on Defaults and validates it.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Templates.Dir = ExpandPath(cfg.Templates.Dir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns Defaults when the file does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(ExpandPath(path)); os.IsNotExist(err) {
		return Defaults(), nil
	}
	return Load(path)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate reports every invalid value at once.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	switch cfg.Pipeline.CommandMode {
	case CommandModeRegistry, CommandModeInline:
	default:
		errs = append(errs, "pipeline.commandMode must be one of: registry, inline")
	}
	if cfg.Pipeline.PollIntervalSeconds < 1 {
		errs = append(errs, "pipeline.pollIntervalSeconds must be >= 1")
	}
	if cfg.Pipeline.HandlerTimeoutSeconds < 0 {
		errs = append(errs, "pipeline.handlerTimeoutSeconds must be >= 0")
	}
	if cfg.Pipeline.EventHistory < 0 {
		errs = append(errs, "pipeline.eventHistory must be >= 0")
	}
	if cfg.Commands.HistoryCapacity < 0 {
		errs = append(errs, "commands.historyCapacity must be >= 0")
	}
	if cfg.Templates.ContextCapacity < 0 {
		errs = append(errs, "templates.contextCapacity must be >= 0")
	}
	if cfg.Middleware.RateLimitPerMinute < 0 {
		errs = append(errs, "middleware.rateLimitPerMinute must be >= 0")
	}
	if cfg.Middleware.RateLimitPerMinute > 0 && cfg.Middleware.RateBurst < 1 {
		errs = append(errs, "middleware.rateBurst must be >= 1 when rate limiting is enabled")
	}

	if cfg.Connector.QueueSize < 1 {
		errs = append(errs, "connector.queueSize must be >= 1")
	}
	switch cfg.Connector.Type {
	case "mock", "console":
	case "whatsapp":
		if cfg.Connector.WhatsApp.PhoneNumberID == "" {
			errs = append(errs, "connector.whatsapp.phoneNumberId is required")
		}
		if cfg.Connector.WhatsApp.AccessToken == "" {
			errs = append(errs, "connector.whatsapp.accessToken is required")
		}
		if !strings.HasPrefix(cfg.Connector.WhatsApp.WebhookPath, "/") {
			errs = append(errs, "connector.whatsapp.webhookPath must start with /")
		}
		if !cfg.Server.Enabled {
			errs = append(errs, "server.enabled must be true for the whatsapp webhook")
		}
	case "bridge":
		if cfg.Connector.Bridge.URL == "" {
			errs = append(errs, "connector.bridge.url is required")
		}
	case "telegram":
		if cfg.Connector.Telegram.Token == "" {
			errs = append(errs, "connector.telegram.token is required")
		}
	case "amqp":
		if cfg.Connector.AMQP.URL == "" {
			errs = append(errs, "connector.amqp.url is required")
		}
		if cfg.Connector.AMQP.InboundQueue == "" {
			errs = append(errs, "connector.amqp.inboundQueue is required")
		}
	default:
		errs = append(errs, "connector.type must be one of: mock, whatsapp, bridge, telegram, amqp, console")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
