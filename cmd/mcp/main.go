// Command mcp exposes creditlens analyses as MCP tools for LLMs over stdio.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/creditlens/internal/config"
	"github.com/mbd888/creditlens/internal/mcpserver"
)

// Version is set by ldflags.
var Version = "dev"

func main() {
	_ = config.LoadDotEnv()

	cfg := mcpserver.Config{
		APIURL:   envOrDefault("CREDITLENS_API_URL", "http://localhost:8080"),
		Token:    os.Getenv("CREDITLENS_TOKEN"),
		Email:    os.Getenv("CREDITLENS_EMAIL"),
		Password: os.Getenv("CREDITLENS_PASSWORD"),
		Version:  Version,
	}

	if cfg.Token == "" && (cfg.Email == "" || cfg.Password == "") {
		fmt.Fprintln(os.Stderr, "CREDITLENS_TOKEN or CREDITLENS_EMAIL and CREDITLENS_PASSWORD are required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
