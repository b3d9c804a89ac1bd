package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables that override file values.
const EnvPrefix = "APPFORGE_"

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	Addr                     string   `json:"addr" yaml:"addr"`
	HeartbeatIntervalSeconds int      `json:"heartbeat_interval_seconds" yaml:"heartbeat_interval_seconds"`
	ReadHeaderTimeoutSeconds int      `json:"read_header_timeout_seconds" yaml:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds   int      `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`
	AllowedOrigins           []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"` // websocket origins; empty allows all
}

// DatabaseConfig holds the sqlite database location
type DatabaseConfig struct {
	Path string `json:"path" yaml:"path"`
}

// BlobConfig holds the object storage settings
type BlobConfig struct {
	Root string `json:"root" yaml:"root"`
}

// SandboxConfig holds settings of the local sandbox backend
type SandboxConfig struct {
	Root           string `json:"root" yaml:"root"`                         // parent directory of per-project workspaces
	Shell          string `json:"shell" yaml:"shell"`                       // shell used for "sh -c" style execution
	PreviewHost    string `json:"preview_host" yaml:"preview_host"`         // host used for preview URLs
	PreviewPort    int    `json:"preview_port" yaml:"preview_port"`         // first port handed to project dev servers
	PreviewPorts   int    `json:"preview_ports" yaml:"preview_ports"`       // number of ports from preview_port on
	MaxOutputBytes int    `json:"max_output_bytes" yaml:"max_output_bytes"` // per-stream tail kept for background jobs

	// Confine restricts sandbox processes to their workspace with Landlock (Linux only)
	Confine           bool `json:"confine" yaml:"confine"`
	ConfineBestEffort bool `json:"confine_best_effort" yaml:"confine_best_effort"`
}

// LLMConfig selects and configures the model-stream provider
type LLMConfig struct {
	Provider    string  `json:"provider" yaml:"provider"` // "google", "anthropic", "openai", "openrouter" or "scripted"
	Model       string  `json:"model" yaml:"model"`
	APIKey      string  `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL     string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`

	// Scripted provider only
	ScriptPath      string `json:"script_path,omitempty" yaml:"script_path,omitempty"`
	ScriptChunkSize int    `json:"script_chunk_size,omitempty" yaml:"script_chunk_size,omitempty"`
}

// SearchConfig holds configuration for web search providers
type SearchConfig struct {
	Provider string       `json:"provider" yaml:"provider"` // "serper", "exa", or ""
	Serper   SerperConfig `json:"serper" yaml:"serper"`
	Exa      ExaConfig    `json:"exa" yaml:"exa"`
}

// SerperConfig holds Serper (google.serper.dev) configuration
type SerperConfig struct {
	APIKey string `json:"api_key" yaml:"api_key"`
}

// ExaConfig holds Exa AI Search API configuration
type ExaConfig struct {
	APIKey string `json:"api_key" yaml:"api_key"`
}

// AgentConfig tunes the chat-turn loop
type AgentConfig struct {
	HistoryWindow       int `json:"history_window" yaml:"history_window"`
	HistoryMaxTokens    int `json:"history_max_tokens" yaml:"history_max_tokens"` // 0 disables token trimming
	ShellTimeoutSeconds int `json:"shell_timeout_seconds" yaml:"shell_timeout_seconds"`
	CodeTimeoutSeconds  int `json:"code_timeout_seconds" yaml:"code_timeout_seconds"`
	ProbeTimeoutSeconds int `json:"probe_timeout_seconds" yaml:"probe_timeout_seconds"`
	MaxRounds           int `json:"max_rounds" yaml:"max_rounds"`
}

// AuthConfig maps bearer tokens to user ids
type AuthConfig struct {
	Tokens map[string]string `json:"tokens" yaml:"tokens"`
}

// RedisConfig enables distributed turn locks when Addr is set
type RedisConfig struct {
	Addr           string `json:"addr" yaml:"addr"`
	Password       string `json:"password,omitempty" yaml:"password,omitempty"`
	DB             int    `json:"db" yaml:"db"`
	KeyPrefix      string `json:"key_prefix" yaml:"key_prefix"`
	LockTTLSeconds int    `json:"lock_ttl_seconds" yaml:"lock_ttl_seconds"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level string `json:"level" yaml:"level"` // debug, info, warn, error, none
	Path  string `json:"path" yaml:"path"`   // empty logs to stderr
}

// Config represents application configuration
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Blob     BlobConfig     `json:"blob" yaml:"blob"`
	Sandbox  SandboxConfig  `json:"sandbox" yaml:"sandbox"`
	LLM      LLMConfig      `json:"llm" yaml:"llm"`
	Search   SearchConfig   `json:"search" yaml:"search"`
	Agent    AgentConfig    `json:"agent" yaml:"agent"`
	Auth     AuthConfig     `json:"auth" yaml:"auth"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "appforge")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "appforge")
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, "appforge")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "appforge")
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "appforge")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "appforge")
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "appforge")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "appforge")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "appforge")
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	stateDir := defaultStateDir()

	return &Config{
		Server: ServerConfig{
			Addr:                     "127.0.0.1:8080",
			HeartbeatIntervalSeconds: 15,
			ReadHeaderTimeoutSeconds: 10,
			ShutdownTimeoutSeconds:   30,
		},
		Database: DatabaseConfig{Path: filepath.Join(stateDir, "appforge.db")},
		Blob:     BlobConfig{Root: filepath.Join(stateDir, "blobs")},
		Sandbox: SandboxConfig{
			Root:           filepath.Join(stateDir, "sandboxes"),
			Shell:          "sh",
			PreviewHost:    "127.0.0.1",
			PreviewPort:    5173,
			PreviewPorts:   100,
			MaxOutputBytes: 64 * 1024,
		},
		LLM: LLMConfig{
			Provider:        "google",
			Model:           "gemini-2.5-flash",
			Temperature:     0.7,
			MaxTokens:       8192,
			ScriptChunkSize: 16,
		},
		Search: SearchConfig{Provider: ""},
		Agent: AgentConfig{
			HistoryWindow:       20,
			HistoryMaxTokens:    0,
			ShellTimeoutSeconds: 10,
			CodeTimeoutSeconds:  30,
			ProbeTimeoutSeconds: 3,
			MaxRounds:           1,
		},
		Auth: AuthConfig{Tokens: make(map[string]string)},
		Redis: RedisConfig{
			KeyPrefix:      "appforge:",
			LockTTLSeconds: 600,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load loads configuration from file. A missing file yields defaults.
// Files ending in .yaml or .yml are decoded as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	config.fillDefaults()
	return config, nil
}

// fillDefaults restores defaults for fields an explicit file zeroed out
func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.HeartbeatIntervalSeconds <= 0 {
		c.Server.HeartbeatIntervalSeconds = d.Server.HeartbeatIntervalSeconds
	}
	if c.Database.Path == "" {
		c.Database.Path = d.Database.Path
	}
	if c.Blob.Root == "" {
		c.Blob.Root = d.Blob.Root
	}
	if c.Sandbox.Root == "" {
		c.Sandbox.Root = d.Sandbox.Root
	}
	if c.Sandbox.Shell == "" {
		c.Sandbox.Shell = d.Sandbox.Shell
	}
	if c.Sandbox.PreviewHost == "" {
		c.Sandbox.PreviewHost = d.Sandbox.PreviewHost
	}
	if c.Sandbox.PreviewPorts <= 0 {
		c.Sandbox.PreviewPorts = d.Sandbox.PreviewPorts
	}
	if c.Sandbox.MaxOutputBytes <= 0 {
		c.Sandbox.MaxOutputBytes = d.Sandbox.MaxOutputBytes
	}
	if c.Agent.HistoryWindow <= 0 {
		c.Agent.HistoryWindow = d.Agent.HistoryWindow
	}
	if c.Agent.ShellTimeoutSeconds <= 0 {
		c.Agent.ShellTimeoutSeconds = d.Agent.ShellTimeoutSeconds
	}
	if c.Agent.CodeTimeoutSeconds <= 0 {
		c.Agent.CodeTimeoutSeconds = d.Agent.CodeTimeoutSeconds
	}
	if c.Agent.ProbeTimeoutSeconds <= 0 {
		c.Agent.ProbeTimeoutSeconds = d.Agent.ProbeTimeoutSeconds
	}
	if c.Agent.MaxRounds <= 0 {
		c.Agent.MaxRounds = d.Agent.MaxRounds
	}
	if c.Auth.Tokens == nil {
		c.Auth.Tokens = make(map[string]string)
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = d.Redis.KeyPrefix
	}
	if c.Redis.LockTTLSeconds <= 0 {
		c.Redis.LockTTLSeconds = d.Redis.LockTTLSeconds
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// ApplyEnv overrides fields from APPFORGE_* environment variables.
// lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	strs := map[string]*string{
		"SERVER_ADDR":     &c.Server.Addr,
		"DATABASE_PATH":   &c.Database.Path,
		"BLOB_ROOT":       &c.Blob.Root,
		"SANDBOX_ROOT":    &c.Sandbox.Root,
		"SANDBOX_SHELL":   &c.Sandbox.Shell,
		"LLM_PROVIDER":    &c.LLM.Provider,
		"LLM_MODEL":       &c.LLM.Model,
		"LLM_API_KEY":     &c.LLM.APIKey,
		"LLM_BASE_URL":    &c.LLM.BaseURL,
		"LLM_SCRIPT_PATH": &c.LLM.ScriptPath,
		"SEARCH_PROVIDER": &c.Search.Provider,
		"SERPER_API_KEY":  &c.Search.Serper.APIKey,
		"EXA_API_KEY":     &c.Search.Exa.APIKey,
		"REDIS_ADDR":      &c.Redis.Addr,
		"REDIS_PASSWORD":  &c.Redis.Password,
		"LOG_LEVEL":       &c.Log.Level,
		"LOG_PATH":        &c.Log.Path,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	ints := map[string]*int{
		"SANDBOX_PREVIEW_PORT":       &c.Sandbox.PreviewPort,
		"SANDBOX_PREVIEW_PORTS":      &c.Sandbox.PreviewPorts,
		"HEARTBEAT_INTERVAL_SECONDS": &c.Server.HeartbeatIntervalSeconds,
		"HISTORY_WINDOW":             &c.Agent.HistoryWindow,
		"HISTORY_MAX_TOKENS":         &c.Agent.HistoryMaxTokens,
		"SHELL_TIMEOUT_SECONDS":      &c.Agent.ShellTimeoutSeconds,
		"MAX_ROUNDS":                 &c.Agent.MaxRounds,
		"REDIS_DB":                   &c.Redis.DB,
	}
	for key, dst := range ints {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"SANDBOX_CONFINE":             &c.Sandbox.Confine,
		"SANDBOX_CONFINE_BEST_EFFORT": &c.Sandbox.ConfineBestEffort,
	}
	for key, dst := range bools {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
	}

	// APPFORGE_AUTH_TOKENS="token1:user1,token2:user2"
	if v, ok := lookup(EnvPrefix + "AUTH_TOKENS"); ok {
		if c.Auth.Tokens == nil {
			c.Auth.Tokens = make(map[string]string)
		}
		for _, pair := range strings.Split(v, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			token, user, found := strings.Cut(pair, ":")
			if !found || token == "" || user == "" {
				return fmt.Errorf("invalid %sAUTH_TOKENS entry %q", EnvPrefix, pair)
			}
			c.Auth.Tokens[token] = user
		}
	}

	return nil
}

// Validate checks the configuration for values the server cannot run with
func (c *Config) Validate() error {
	var errs []error

	switch c.LLM.Provider {
	case "google", "anthropic", "openai", "openrouter":
		if c.LLM.Model == "" {
			errs = append(errs, fmt.Errorf("llm.model is required for provider %q", c.LLM.Provider))
		}
	case "scripted":
	default:
		errs = append(errs, fmt.Errorf("unknown llm.provider %q", c.LLM.Provider))
	}

	switch c.Search.Provider {
	case "", "serper", "exa":
	default:
		errs = append(errs, fmt.Errorf("unknown search.provider %q", c.Search.Provider))
	}

	if c.Agent.HistoryWindow < 1 {
		errs = append(errs, errors.New("agent.history_window must be at least 1"))
	}
	if c.Agent.MaxRounds < 1 {
		errs = append(errs, errors.New("agent.max_rounds must be at least 1"))
	}
	if c.Agent.HistoryMaxTokens < 0 {
		errs = append(errs, errors.New("agent.history_max_tokens must not be negative"))
	}
	if c.Server.HeartbeatIntervalSeconds < 1 {
		errs = append(errs, errors.New("server.heartbeat_interval_seconds must be at least 1"))
	}
	if c.Sandbox.PreviewPort < 0 || c.Sandbox.PreviewPort > 65535 {
		errs = append(errs, fmt.Errorf("sandbox.preview_port %d out of range", c.Sandbox.PreviewPort))
	} else if c.Sandbox.PreviewPort > 0 && c.Sandbox.PreviewPort+c.Sandbox.PreviewPorts-1 > 65535 {
		errs = append(errs, fmt.Errorf("sandbox.preview_ports %d runs past port 65535", c.Sandbox.PreviewPorts))
	}

	return errors.Join(errs...)
}

// Save saves configuration to file, as YAML when the extension asks for it
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// HeartbeatInterval returns the keepalive period
func (s ServerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatIntervalSeconds) * time.Second
}

// ReadHeaderTimeout returns the request header read budget
func (s ServerConfig) ReadHeaderTimeout() time.Duration {
	return time.Duration(s.ReadHeaderTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown budget
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// ShellTimeout returns how long short shell commands are awaited
func (a AgentConfig) ShellTimeout() time.Duration {
	return time.Duration(a.ShellTimeoutSeconds) * time.Second
}

// CodeTimeout returns the run_code budget
func (a AgentConfig) CodeTimeout() time.Duration {
	return time.Duration(a.CodeTimeoutSeconds) * time.Second
}

// ProbeTimeout returns the sandbox status probe budget
func (a AgentConfig) ProbeTimeout() time.Duration {
	return time.Duration(a.ProbeTimeoutSeconds) * time.Second
}

// LockTTL returns the lease duration of redis turn locks
func (r RedisConfig) LockTTL() time.Duration {
	return time.Duration(r.LockTTLSeconds) * time.Second
}
