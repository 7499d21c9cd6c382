package mcpclient

import (
	"fmt"

	"atlasbridge/internal/config"
)

// Dialer creates a connected MCP client authenticated as one user. The
// agent service dials a fresh client per query so each user's bearer
// token stays isolated.
type Dialer interface {
	Dial(accessToken string) (Client, error)
}

// ConfigDialer builds clients from the static endpoint configuration.
type ConfigDialer struct {
	cfg config.MCPConfig
}

// NewDialer creates a dialer for the configured MCP endpoint.
func NewDialer(cfg config.MCPConfig) *ConfigDialer {
	return &ConfigDialer{cfg: cfg}
}

// Dial creates an unconnected client carrying the user's bearer token.
// The caller runs Initialize and owns Close.
func (d *ConfigDialer) Dial(accessToken string) (Client, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + accessToken,
	}

	switch d.cfg.Transport {
	case "sse":
		return NewSSEClient(d.cfg.Endpoint, headers), nil
	case "streamable-http":
		return NewStreamableHTTPClient(d.cfg.Endpoint, headers), nil
	default:
		return nil, fmt.Errorf("unsupported MCP transport: %s", d.cfg.Transport)
	}
}
