package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nawresmhed/guidezella/pkg/tools"
)

// MCPConfig defines a configuration to connect to a MCP server.
type MCPConfig struct {
	Name           string            `toml:"name"`
	Command        []string          `toml:"command,omitempty"`
	Endpoint       string            `toml:"endpoint,omitempty"`
	RequestHeaders map[string]string `toml:"request_headers,omitempty"`
	// Streamable selects the streamable HTTP transport over SSE.
	Streamable bool `toml:"streamable,omitempty"`
}

func (c MCPConfig) String() string {
	if c.Endpoint != "" {
		return fmt.Sprintf("%s: %s", c.Name, c.Endpoint)
	}
	return fmt.Sprintf("%s: %s", c.Name, strings.Join(c.Command, " "))
}

func (c MCPConfig) validate() error {
	if c.Endpoint == "" && len(c.Command) == 0 {
		return errors.New("mcp: either endpoint or command is required")
	}
	if c.Endpoint != "" && len(c.Command) > 0 {
		return errors.New("mcp: endpoint and command are exclusive")
	}
	return nil
}

func (c MCPConfig) newClient() (*tools.MCP, error) {
	name := c.Name
	if name == "" {
		name = "mcp"
	}
	if c.Endpoint != "" {
		return tools.NewHTTPMCP(name, c.Endpoint, c.RequestHeaders, c.Streamable), nil
	}
	return tools.NewCommandMCP(name, c.Command)
}
