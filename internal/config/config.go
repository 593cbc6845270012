// Package config handles hassist configuration loading.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order used when no
// explicit -config path is given.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "hassist", "config.yaml"))
	}

	paths = append(paths, "/etc/hassist/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise the first existing entry of DefaultSearchPaths is returned.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all hassist configuration.
type Config struct {
	Listen        ListenConfig        `yaml:"listen"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	LLM           LLMConfig           `yaml:"llm"`
	Memory        MemoryConfig        `yaml:"memory"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	History       HistoryConfig       `yaml:"history"`
	Usage         UsageConfig         `yaml:"usage"`
	DataDir       string              `yaml:"data_dir"`
	OutputDir     string              `yaml:"output_dir"`
	LogLevel      string              `yaml:"log_level"`
	LogFormat     string              `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the chat API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // "" = all interfaces
	Port    int    `yaml:"port"`
}

// HomeAssistantConfig defines HA connection settings.
type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`

	// MCPEndpoint is the path of Home Assistant's MCP server
	// (e.g. /mcp_server/sse). Empty disables MCP tool discovery.
	MCPEndpoint string `yaml:"mcp_endpoint"`

	// WatchStates subscribes to state_changed over the websocket API and
	// invalidates the cached entity snapshot on every change.
	WatchStates bool `yaml:"watch_states"`
}

// Configured reports whether enough is set to talk to Home Assistant.
func (c HomeAssistantConfig) Configured() bool {
	return c.URL != "" && c.Token != ""
}

// LLMConfig defines the chat completion provider.
type LLMConfig struct {
	Provider  string `yaml:"provider"` // openai (any OpenAI-compatible endpoint) or ollama
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`

	// Temperature is left unset to take the default of 0.7. An explicit
	// 0 selects deterministic decoding.
	Temperature *float64 `yaml:"temperature"`

	// OllamaURL is the local Ollama server used when Routes sends a model
	// to the "ollama" provider while Provider is openai.
	OllamaURL string `yaml:"ollama_url"`

	// Routes maps model names to a provider ("openai" or "ollama").
	// Unlisted models go to Provider.
	Routes map[string]string `yaml:"routes"`
}

// MemoryConfig controls the optional conversational memory side channel.
type MemoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Backend string `yaml:"backend"` // memu or sqlite

	MemU MemUConfig `yaml:"memu"`

	// Path is the SQLite database file for the sqlite backend. Relative
	// paths are resolved against DataDir.
	Path string `yaml:"path"`

	// RecentLimit caps how many remembered statements the sqlite backend
	// returns as the summary.
	RecentLimit int `yaml:"recent_limit"`
}

// MemUConfig configures the hosted MemU memory service.
type MemUConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	UserID    string `yaml:"user_id"`
	UserName  string `yaml:"user_name"`
	AgentID   string `yaml:"agent_id"`
	AgentName string `yaml:"agent_name"`
}

// PipelineConfig tunes the per-turn orchestration.
type PipelineConfig struct {
	// ConfirmTimeout bounds the optional LLM call that phrases a command
	// result as a friendly confirmation.
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`

	// MaxIterations caps LLM round trips inside one agent turn.
	MaxIterations int `yaml:"max_iterations"`

	// SnapshotTTL is how long a classified snapshot stays cached between
	// forced refreshes.
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`

	// ConversationTTL expires conversations idle this long, both the
	// API's stored history and the memory ledger's forwarded turns.
	ConversationTTL time.Duration `yaml:"conversation_ttl"`
}

// MQTTConfig configures publishing of executed commands to a broker.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// HistoryConfig configures the InfluxDB command history.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`

	// BatchSize and FlushInterval tune the non-blocking writer.
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// UsageConfig controls the LLM token usage ledger.
type UsageConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file. Relative paths are resolved
	// against DataDir.
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file, expanding environment
// variables, then applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.BaseURL == "" {
		switch c.LLM.Provider {
		case "ollama":
			c.LLM.BaseURL = "http://localhost:11434"
		default:
			c.LLM.BaseURL = "https://api.openai.com/v1"
		}
	}
	if c.LLM.OllamaURL == "" {
		c.LLM.OllamaURL = "http://localhost:11434"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-3.5-turbo"
	}
	if c.LLM.Temperature == nil {
		t := 0.7
		c.LLM.Temperature = &t
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 2048
	}
	if c.Memory.Backend == "" {
		c.Memory.Backend = "memu"
	}
	if c.Memory.MemU.BaseURL == "" {
		c.Memory.MemU.BaseURL = "https://api.memu.so"
	}
	if c.Memory.MemU.UserID == "" {
		c.Memory.MemU.UserID = "user001"
	}
	if c.Memory.MemU.UserName == "" {
		c.Memory.MemU.UserName = "master"
	}
	if c.Memory.MemU.AgentID == "" {
		c.Memory.MemU.AgentID = "homeassistant"
	}
	if c.Memory.MemU.AgentName == "" {
		c.Memory.MemU.AgentName = "Home Assistant"
	}
	if c.Memory.RecentLimit == 0 {
		c.Memory.RecentLimit = 20
	}
	if c.Pipeline.ConfirmTimeout == 0 {
		c.Pipeline.ConfirmTimeout = 10 * time.Second
	}
	if c.Pipeline.MaxIterations == 0 {
		c.Pipeline.MaxIterations = 8
	}
	if c.Pipeline.SnapshotTTL == 0 {
		c.Pipeline.SnapshotTTL = 5 * time.Minute
	}
	if c.Pipeline.ConversationTTL == 0 {
		c.Pipeline.ConversationTTL = 24 * time.Hour
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "hassist"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "hassist"
	}
	if c.History.Bucket == "" {
		c.History.Bucket = "hassist"
	}
	if c.History.BatchSize == 0 {
		c.History.BatchSize = 50
	}
	if c.History.FlushInterval == 0 {
		c.History.FlushInterval = 5 * time.Second
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.OutputDir == "" {
		c.OutputDir = "output"
	}
	if c.Memory.Path == "" {
		c.Memory.Path = "memory.db"
	}
	if !filepath.IsAbs(c.Memory.Path) {
		c.Memory.Path = filepath.Join(c.DataDir, c.Memory.Path)
	}
	if c.Usage.Path == "" {
		c.Usage.Path = "usage.db"
	}
	if !filepath.IsAbs(c.Usage.Path) {
		c.Usage.Path = filepath.Join(c.DataDir, c.Usage.Path)
	}
}

// Validate checks for settings that would fail at runtime.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	if c.HomeAssistant.URL != "" {
		if _, err := url.Parse(c.HomeAssistant.URL); err != nil {
			return fmt.Errorf("homeassistant.url: %w", err)
		}
	}
	switch c.LLM.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unknown llm.provider %q (valid: openai, ollama)", c.LLM.Provider)
	}
	for model, provider := range c.LLM.Routes {
		if provider != "openai" && provider != "ollama" {
			return fmt.Errorf("llm.routes[%s]: unknown provider %q", model, provider)
		}
	}
	if c.LLM.MaxTokens < 0 {
		return fmt.Errorf("llm.max_tokens must not be negative")
	}
	if c.Memory.Enabled {
		switch c.Memory.Backend {
		case "memu":
			if c.Memory.MemU.APIKey == "" {
				return fmt.Errorf("memory.memu.api_key is required when the memu backend is enabled")
			}
		case "sqlite":
		default:
			return fmt.Errorf("unknown memory.backend %q (valid: memu, sqlite)", c.Memory.Backend)
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.History.Enabled && (c.History.URL == "" || c.History.Org == "") {
		return fmt.Errorf("history.url and history.org are required when history is enabled")
	}
	if c.Pipeline.MaxIterations < 1 {
		return fmt.Errorf("pipeline.max_iterations must be at least 1")
	}
	return nil
}
