package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config represents relay configuration
type Config struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	MaxConnections      int    `json:"max_connections"`
	ReadTimeoutMillis   int    `json:"read_timeout_ms"`
	SendTimeoutMillis   int    `json:"send_timeout_ms"`
	TransformStepBudget int    `json:"transform_step_budget"`
	BFStepBudget        int    `json:"bf_step_budget"`
	LogLevel            string `json:"log_level"` // debug, info, warn, error, none
	LogPath             string `json:"log_path,omitempty"`
	LogConsole          bool   `json:"log_console"`
	AuditDBPath         string `json:"audit_db_path,omitempty"` // empty disables the audit log
	PIDFile             string `json:"pid_file,omitempty"`
	DebugAddr           string `json:"debug_addr,omitempty"` // empty disables the diagnostics server
	WSAddr              string `json:"ws_addr,omitempty"`    // empty disables the websocket gateway
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "bfrelay")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "bfrelay")
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, "bfrelay")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "bfrelay")
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "bfrelay")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "bfrelay")
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "bfrelay")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "bfrelay")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "bfrelay")
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Host:                "localhost",
		Port:                8888,
		MaxConnections:      64,
		ReadTimeoutMillis:   1000,
		SendTimeoutMillis:   5000,
		TransformStepBudget: 50000,
		BFStepBudget:        5000,
		LogLevel:            "info",
		LogPath:             filepath.Join(defaultStateDir(), "bfrelay.log"),
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	// Start with default config
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return default config if file doesn't exist
			return config, nil
		}
		return nil, err
	}

	// Unmarshal into default config (overrides only provided fields)
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// Ensure critical fields have defaults if still empty
	defaults := DefaultConfig()
	if config.Host == "" {
		config.Host = defaults.Host
	}
	if config.LogLevel == "" {
		config.LogLevel = defaults.LogLevel
	}
	if config.LogPath == "" {
		config.LogPath = defaults.LogPath
	}
	if config.ReadTimeoutMillis <= 0 {
		config.ReadTimeoutMillis = defaults.ReadTimeoutMillis
	}
	if config.TransformStepBudget <= 0 {
		config.TransformStepBudget = defaults.TransformStepBudget
	}
	if config.BFStepBudget <= 0 {
		config.BFStepBudget = defaults.BFStepBudget
	}

	return config, nil
}

// ApplyEnv overrides fields from BFRELAY_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := strings.TrimSpace(os.Getenv("BFRELAY_HOST")); v != "" {
		c.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("BFRELAY_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BFRELAY_PORT %q: %w", v, err)
		}
		c.Port = port
	}
	if v := strings.TrimSpace(os.Getenv("BFRELAY_LOG_LEVEL")); v != "" {
		c.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("BFRELAY_LOG_PATH")); v != "" {
		c.LogPath = v
	}
	if v := strings.TrimSpace(os.Getenv("BFRELAY_DEBUG_ADDR")); v != "" {
		c.DebugAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("BFRELAY_WS_ADDR")); v != "" {
		c.WSAddr = v
	}
	return nil
}

// Validate checks that the configuration can be used to start a server.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("max_connections must not be negative"))
	}
	if c.ReadTimeoutMillis <= 0 {
		errs = append(errs, fmt.Errorf("read_timeout_ms must be positive"))
	}
	if c.SendTimeoutMillis < 0 {
		errs = append(errs, fmt.Errorf("send_timeout_ms must not be negative"))
	}
	if c.TransformStepBudget <= 0 {
		errs = append(errs, fmt.Errorf("transform_step_budget must be positive"))
	}
	if c.BFStepBudget <= 0 {
		errs = append(errs, fmt.Errorf("bf_step_budget must be positive"))
	}
	return errors.Join(errs...)
}

// Address returns the host:port listen address.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ReadTimeout returns the per-read deadline used by connection handlers.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMillis) * time.Millisecond
}

// SendTimeout returns the per-send write deadline. Zero disables it.
func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutMillis) * time.Millisecond
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}
