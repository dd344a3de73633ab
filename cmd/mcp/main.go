// Command mcp exposes the broker's Escrow, Negotiation, and Tipping engines
// as MCP tools for agent runtimes, talking to a running broker server over
// its HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/agentbroker/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:  envOrDefault("BROKER_API_URL", "http://localhost:8080"),
		APIKey:  os.Getenv("BROKER_API_KEY"),
		AgentID: os.Getenv("BROKER_AGENT_ID"),
	}

	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "BROKER_API_KEY is required")
		os.Exit(1)
	}
	if cfg.AgentID == "" {
		fmt.Fprintln(os.Stderr, "BROKER_AGENT_ID is required")
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
