// Package config loads the chat client configuration from defaults, an
// optional config file and MCPCHAT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minhyannv/mcp-chat-go/pkg/backend"
	"github.com/minhyannv/mcp-chat-go/pkg/memory"
	"github.com/minhyannv/mcp-chat-go/pkg/tools"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. MCPCHAT_MAX_MESSAGES.
const EnvPrefix = "MCPCHAT"

// ToolServer configures one tool server connection.
type ToolServer struct {
	Name      string            `mapstructure:"name"`
	Transport string            `mapstructure:"transport"`
	Command   string            `mapstructure:"command"`
	Args      []string          `mapstructure:"args"`
	Env       map[string]string `mapstructure:"env"`
	URL       string            `mapstructure:"url"`
	Headers   map[string]string `mapstructure:"headers"`
	Timeout   time.Duration     `mapstructure:"timeout"`
}

// Config holds all runtime configuration for the chat client.
type Config struct {
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int64         `mapstructure:"max_tokens"`

	MaxMessages      int           `mapstructure:"max_messages"`
	MaxToolHops      int           `mapstructure:"max_tool_hops"`
	DiscoveryTimeout time.Duration `mapstructure:"discovery_timeout"`
	SystemPrompt     string        `mapstructure:"system_prompt"`
	SessionID        string        `mapstructure:"session_id"`
	HistoryDB        string        `mapstructure:"history_db"`
	Verbose          bool          `mapstructure:"verbose"`

	ToolServers []ToolServer `mapstructure:"tool_servers"`
}

// DefaultConfig returns a baseline configuration without side effects.
func DefaultConfig() Config {
	return Config{
		Provider:         string(backend.ProviderOllama),
		Temperature:      backend.DefaultTemperature,
		MaxTokens:        1024,
		MaxMessages:      memory.DefaultMaxMessages,
		MaxToolHops:      5,
		DiscoveryTimeout: tools.DefaultTimeout,
	}
}

// Normalize sanitizes configuration values and applies defaults.
func Normalize(cfg Config) Config {
	def := DefaultConfig()

	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.Model = strings.TrimSpace(cfg.Model)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.SessionID = strings.TrimSpace(cfg.SessionID)
	cfg.HistoryDB = strings.TrimSpace(cfg.HistoryDB)

	if cfg.Provider == "" {
		cfg.Provider = def.Provider
	}
	if cfg.Timeout < 0 {
		cfg.Timeout = 0
	}
	if cfg.Temperature < 0 {
		cfg.Temperature = def.Temperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = def.MaxMessages
	}
	if cfg.MaxToolHops <= 0 {
		cfg.MaxToolHops = def.MaxToolHops
	}
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = def.DiscoveryTimeout
	}

	servers := make([]ToolServer, 0, len(cfg.ToolServers))
	for i, s := range cfg.ToolServers {
		s.Name = strings.TrimSpace(s.Name)
		s.Transport = strings.ToLower(strings.TrimSpace(s.Transport))
		s.Command = strings.TrimSpace(s.Command)
		s.URL = strings.TrimSpace(s.URL)
		if s.Name == "" {
			s.Name = fmt.Sprintf("server-%d", i+1)
		}
		if s.Transport == "" {
			if s.URL != "" {
				s.Transport = tools.TransportHTTP
			} else {
				s.Transport = tools.TransportStdio
			}
		}
		if s.Timeout <= 0 {
			s.Timeout = cfg.DiscoveryTimeout
		}
		// viper lowercases map keys; environment names are upper case.
		if len(s.Env) > 0 {
			env := make(map[string]string, len(s.Env))
			for k, v := range s.Env {
				env[strings.ToUpper(k)] = v
			}
			s.Env = env
		}
		servers = append(servers, s)
	}
	cfg.ToolServers = servers
	return cfg
}

// Validate reports configuration that can never work.
func (c Config) Validate() error {
	seen := map[string]bool{}
	for _, s := range c.ToolServers {
		if seen[s.Name] {
			return fmt.Errorf("tool_servers: duplicate name %q", s.Name)
		}
		seen[s.Name] = true
		switch s.Transport {
		case tools.TransportStdio:
			if s.Command == "" {
				return fmt.Errorf("tool_servers.%s: command is required", s.Name)
			}
		case tools.TransportHTTP, tools.TransportSSE:
			if s.URL == "" {
				return fmt.Errorf("tool_servers.%s: url is required", s.Name)
			}
		case tools.TransportBuiltin:
		default:
			return fmt.Errorf("tool_servers.%s: unsupported transport %q", s.Name, s.Transport)
		}
	}
	return nil
}

// BackendConfig converts to the model backend configuration.
func (c Config) BackendConfig() backend.Config {
	temperature := c.Temperature
	return backend.Config{
		Provider:    c.Provider,
		Model:       c.Model,
		BaseURL:     c.BaseURL,
		APIKey:      c.APIKey,
		Timeout:     c.Timeout,
		Temperature: &temperature,
		MaxTokens:   c.MaxTokens,
	}
}

// ServerConfigs converts to tool registry server configurations.
func (c Config) ServerConfigs() []tools.ServerConfig {
	out := make([]tools.ServerConfig, 0, len(c.ToolServers))
	for _, s := range c.ToolServers {
		out = append(out, tools.ServerConfig{
			Name:      s.Name,
			Transport: s.Transport,
			Command:   s.Command,
			Args:      append([]string(nil), s.Args...),
			Env:       s.Env,
			URL:       s.URL,
			Headers:   s.Headers,
			Timeout:   s.Timeout,
		})
	}
	return out
}

// Load reads configuration. An explicit path must exist; without one the
// file mcp-chat.{yaml,toml,json} is looked up in the working directory and
// the user config directory, and its absence is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mcp-chat")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "mcp-chat"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg = Normalize(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := DefaultConfig()
	v.SetDefault("provider", def.Provider)
	v.SetDefault("model", "")
	v.SetDefault("base_url", "")
	v.SetDefault("api_key", "")
	v.SetDefault("timeout", "0s")
	v.SetDefault("temperature", def.Temperature)
	v.SetDefault("max_tokens", def.MaxTokens)
	v.SetDefault("max_messages", def.MaxMessages)
	v.SetDefault("max_tool_hops", def.MaxToolHops)
	v.SetDefault("discovery_timeout", def.DiscoveryTimeout.String())
	v.SetDefault("system_prompt", "")
	v.SetDefault("session_id", "")
	v.SetDefault("history_db", "")
	v.SetDefault("verbose", false)
	v.SetDefault("tool_servers", []map[string]any{})
}
