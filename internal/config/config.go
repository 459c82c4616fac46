// Package config provides configuration for the debug relay.
//
// Values are layered: built-in defaults, then an optional YAML file
// (--config or RELAY_CONFIG), then environment variables, then flags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds the relay configuration.
type Config struct {
	// Server settings
	Port    int    `yaml:"port"`     // WebSocket + status HTTP port
	WSPath  string `yaml:"ws_path"`  // WebSocket endpoint path
	RPCPort int    `yaml:"rpc_port"` // Internal JSON-RPC port, 0 disables it

	// History settings
	HistoryLimit int `yaml:"history_limit"` // Entries of each kind kept per session

	// WebSocket settings
	PingInterval   time.Duration `yaml:"ping_interval"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"` // 0 means no idle timeout
	MaxMessageSize int64         `yaml:"max_message_size"`
	SendBuffer     int           `yaml:"send_buffer"` // Queued frames per observer

	// HTTP settings
	CORSOrigins     []string      `yaml:"cors_origins"`
	ManifestTimeout time.Duration `yaml:"manifest_timeout"`

	// Ingest policy (Rego), empty allows everything
	PolicyFile string `yaml:"policy_file"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:            3002,
		WSPath:          "/ws",
		RPCPort:         0,
		HistoryLimit:    1000,
		PingInterval:    30 * time.Second,
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     0,
		MaxMessageSize:  1 << 20,
		SendBuffer:      256,
		CORSOrigins:     []string{"*"},
		ManifestTimeout: 10 * time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Load loads configuration from environment variables on top of the defaults.
func Load() *Config {
	cfg := Default()
	applyEnv(cfg)
	return cfg
}

// LoadFile decodes a YAML file over cfg. Keys absent from the file keep
// their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// FromArgs builds the configuration for the relay binary from its
// command-line arguments (without the program name).
func FromArgs(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("debug-relay", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file (default $RELAY_CONFIG)")
	port := fs.IntP("port", "p", 0, "listen port for /ws and the status API")
	rpcPort := fs.Int("rpc-port", 0, "listen port for the internal JSON-RPC server (0 disables)")
	historyLimit := fs.Int("history-limit", 0, "entries of each kind kept per session")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "", "log format: text or json")
	policyFile := fs.String("policy", "", "path to a Rego ingest policy")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()

	path := *configPath
	if path == "" {
		path = os.Getenv("RELAY_CONFIG")
	}
	if path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if fs.Changed("port") {
		cfg.Port = *port
	}
	if fs.Changed("rpc-port") {
		cfg.RPCPort = *rpcPort
	}
	if fs.Changed("history-limit") {
		cfg.HistoryLimit = *historyLimit
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = *logFormat
	}
	if fs.Changed("policy") {
		cfg.PolicyFile = *policyFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.RPCPort < 0 || c.RPCPort > 65535 {
		return fmt.Errorf("invalid rpc port %d", c.RPCPort)
	}
	if c.RPCPort != 0 && c.RPCPort == c.Port {
		return fmt.Errorf("rpc port %d collides with the relay port", c.RPCPort)
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		return fmt.Errorf("ws path %q must start with /", c.WSPath)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("history limit must be positive, got %d", c.HistoryLimit)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send buffer must be positive, got %d", c.SendBuffer)
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("ping interval must be positive, got %s", c.PingInterval)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnvInt("SERVER_PORT", cfg.Port)
	cfg.WSPath = getEnv("WS_PATH", cfg.WSPath)
	cfg.RPCPort = getEnvInt("RPC_PORT", cfg.RPCPort)
	cfg.HistoryLimit = getEnvInt("HISTORY_LIMIT", cfg.HistoryLimit)
	cfg.PingInterval = getEnvMillis("WS_PING_INTERVAL_MS", cfg.PingInterval)
	cfg.WriteTimeout = getEnvMillis("WS_WRITE_TIMEOUT_MS", cfg.WriteTimeout)
	cfg.ReadTimeout = getEnvMillis("WS_READ_TIMEOUT_MS", cfg.ReadTimeout)
	cfg.MaxMessageSize = int64(getEnvInt("WS_MAX_MESSAGE_SIZE", int(cfg.MaxMessageSize)))
	cfg.SendBuffer = getEnvInt("WS_SEND_BUFFER", cfg.SendBuffer)
	cfg.ManifestTimeout = getEnvMillis("MANIFEST_TIMEOUT_MS", cfg.ManifestTimeout)
	cfg.PolicyFile = getEnv("POLICY_FILE", cfg.PolicyFile)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	if origins := getEnv("CORS_ORIGINS", ""); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvMillis(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
