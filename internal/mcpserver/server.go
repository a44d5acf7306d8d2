// Package mcpserver exposes the creditlens dashboard as MCP tools for LLMs.
package mcpserver

import (
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/mbd888/creditlens/internal/apiclient"
)

// Config points the tools at a creditlens API. Either Token or an
// Email/Password pair is needed; the pair is exchanged for a token on the
// first tool call.
type Config struct {
	APIURL       string
	Token        string
	Email        string
	Password     string
	PollInterval time.Duration
	Version      string
}

// NewMCPServer creates a configured MCP server with all creditlens tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer("creditlens", version)
	client := apiclient.New(cfg.APIURL,
		apiclient.WithToken(cfg.Token),
		apiclient.WithUserAgent("creditlens-mcp/"+version))
	h := NewHandlers(client, cfg)

	s.AddTool(ToolAnalyzeCreditRisk, h.HandleAnalyzeCreditRisk)
	s.AddTool(ToolGetDashboard, h.HandleGetDashboard)

	return s
}
