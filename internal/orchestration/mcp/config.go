package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultServerName is the key the server is registered under in client configs.
const DefaultServerName = "gemini-cli"

// MCPServerConfig is one entry of a client's mcpServers map.
type MCPServerConfig struct {
	Command string            `json:"command,omitempty"` // For stdio transport
	Args    []string          `json:"args,omitempty"`    // For stdio transport
	Env     map[string]string `json:"env,omitempty"`     // For stdio transport
	Type    string            `json:"type,omitempty"`    // "http" for HTTP transport
	URL     string            `json:"url,omitempty"`     // URL for HTTP transport
	Headers map[string]string `json:"headers,omitempty"` // HTTP headers (optional)
}

// MCPConfig is the client configuration document: {"mcpServers": {...}}.
type MCPConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
}

// GenerateStdioConfig returns a client config that launches command with args
// over stdio. Empty env entries are omitted.
func GenerateStdioConfig(name, command string, args []string, env map[string]string) (string, error) {
	if command == "" {
		return "", fmt.Errorf("command is required")
	}
	server := MCPServerConfig{
		Command: command,
		Args:    args,
	}
	for k, v := range env {
		if v == "" {
			continue
		}
		if server.Env == nil {
			server.Env = make(map[string]string)
		}
		server.Env[k] = v
	}
	return marshalConfig(name, server)
}

// GenerateHTTPConfig returns a client config that connects to the HTTP
// transport listening on addr (host:port or :port).
func GenerateHTTPConfig(name, addr string) (string, error) {
	if addr == "" {
		return "", fmt.Errorf("address is required")
	}
	host := addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return marshalConfig(name, MCPServerConfig{
		Type: "http",
		URL:  fmt.Sprintf("http://%s/mcp", host),
	})
}

func marshalConfig(name string, server MCPServerConfig) (string, error) {
	if name == "" {
		name = DefaultServerName
	}
	config := MCPConfig{
		MCPServers: map[string]MCPServerConfig{name: server},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling config: %w", err)
	}

	return string(data), nil
}

// ParseMCPConfig parses an MCP config JSON string.
func ParseMCPConfig(configJSON string) (*MCPConfig, error) {
	var config MCPConfig
	if err := json.Unmarshal([]byte(configJSON), &config); err != nil {
		return nil, fmt.Errorf("parsing MCP config: %w", err)
	}
	return &config, nil
}
