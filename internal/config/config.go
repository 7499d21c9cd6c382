package config

import (
	"errors"
	"fmt"
	"os"

	"atlasbridge/pkg/logging"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const configFileName = "config.yaml"

// AtlassianConfig holds the OAuth application credentials for the
// Atlassian cloud site this instance talks to.
type AtlassianConfig struct {
	ClientID     string `yaml:"clientID" env:"ATLASSIAN_CLIENT_ID"`
	ClientSecret string `yaml:"clientSecret" env:"ATLASSIAN_CLIENT_SECRET"`
	CloudID      string `yaml:"cloudID" env:"ATLASSIAN_CLOUD_ID"`
	SiteURL      string `yaml:"siteURL" env:"ATLASSIAN_SITE_URL"`
}

// ServerConfig holds the HTTP listener settings. Host and Port also
// determine the OAuth redirect URI handed to the provider, so they must
// match what the Atlassian app registration expects.
type ServerConfig struct {
	Host          string `yaml:"host" env:"SERVER_IP"`
	Port          int    `yaml:"port" env:"SERVER_PORT"`
	SessionSecret string `yaml:"sessionSecret" env:"SESSION_SECRET_KEY"`
}

// ListenAddr returns the address the HTTP server binds to.
func (s ServerConfig) ListenAddr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// RedirectURI returns the OAuth callback URI derived from host and port.
func (s ServerConfig) RedirectURI() string {
	return fmt.Sprintf("http://%s:%d/auth/callback", s.Host, s.Port)
}

// LLMConfig holds the connection settings for the chat-completions
// endpoint that drives the agent.
type LLMConfig struct {
	BaseURL string `yaml:"baseURL" env:"LLM_BASE_URL"`
	APIKey  string `yaml:"apiKey" env:"LLM_API_KEY"`
	Model   string `yaml:"model" env:"LLM_MODEL"`
}

// MCPConfig holds the remote MCP endpoint settings.
type MCPConfig struct {
	Endpoint  string `yaml:"endpoint" env:"MCP_ENDPOINT"`
	Transport string `yaml:"transport" env:"MCP_TRANSPORT"`
	// TimeoutSeconds bounds a single MCP session (connect through last tool call).
	TimeoutSeconds int `yaml:"timeoutSeconds" env:"MCP_TIMEOUT_SECONDS"`
}

// AgentConfig tunes the query execution service.
type AgentConfig struct {
	// Workers is the size of the execution worker pool. One slow query
	// occupies one worker; requests beyond the pool size queue.
	Workers int `yaml:"workers" env:"AGENT_WORKERS"`
}

// Config is the complete atlasbridge configuration.
type Config struct {
	Atlassian AtlassianConfig `yaml:"atlassian"`
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	MCP       MCPConfig       `yaml:"mcp"`
	Agent     AgentConfig     `yaml:"agent"`

	// TokenFile is where the standalone CLI flow persists its token.
	TokenFile string `yaml:"tokenFile" env:"ATLASSIAN_TOKEN_FILE"`

	Debug bool `yaml:"debug" env:"DEBUG"`
}

// Default returns the built-in configuration. File and environment values
// are overlaid on top of this.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		LLM: LLMConfig{
			Model: "gpt-4o",
		},
		MCP: MCPConfig{
			Endpoint:       "https://mcp.atlassian.com/v1/sse",
			Transport:      "sse",
			TimeoutSeconds: 120,
		},
		Agent: AgentConfig{
			Workers: 8,
		},
		TokenFile: "atlassian_token.json",
	}
}

// Load builds the configuration from an optional YAML file overlaid with
// environment variables. A .env file in the working directory is loaded
// first if present. configPath may be empty, in which case only defaults
// and the environment are consulted.
func Load(configPath string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logging.Info("ConfigLoader", "No %s found at %s, using environment only", configFileName, configPath)
			} else {
				return Config{}, fmt.Errorf("error reading config from %s: %w", configPath, err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("error loading config from %s: %w", configPath, err)
			}
			logging.Info("ConfigLoader", "Loaded configuration from %s", configPath)
		}
	}

	// Environment variables override file values.
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing environment: %w", err)
	}

	return cfg, nil
}

// Validate checks that everything required to run the web service is
// present. Missing OAuth credentials are a startup error, not a silent nil.
func (c Config) Validate() error {
	var missing []string
	if c.Atlassian.ClientID == "" {
		missing = append(missing, "ATLASSIAN_CLIENT_ID")
	}
	if c.Atlassian.ClientSecret == "" {
		missing = append(missing, "ATLASSIAN_CLIENT_SECRET")
	}
	if c.Server.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v", missing)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Agent.Workers <= 0 {
		return fmt.Errorf("agent workers must be positive, got %d", c.Agent.Workers)
	}
	switch c.MCP.Transport {
	case "sse", "streamable-http":
	default:
		return fmt.Errorf("unsupported MCP transport: %s (supported: sse, streamable-http)", c.MCP.Transport)
	}
	return nil
}

// ValidateCLI checks the subset of configuration the standalone CLI flow
// needs. The session secret is a web-only concern.
func (c Config) ValidateCLI() error {
	var missing []string
	if c.Atlassian.ClientID == "" {
		missing = append(missing, "ATLASSIAN_CLIENT_ID")
	}
	if c.Atlassian.ClientSecret == "" {
		missing = append(missing, "ATLASSIAN_CLIENT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v", missing)
	}
	return nil
}
