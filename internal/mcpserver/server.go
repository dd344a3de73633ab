package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all broker tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("agentbroker", "1.0.0")
	client := NewBrokerClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolCreateEscrow, h.HandleCreateEscrow)
	s.AddTool(ToolGetEscrow, h.HandleGetEscrow)
	s.AddTool(ToolFundEscrow, h.HandleFundEscrow)
	s.AddTool(ToolApproveEscrow, h.HandleApproveEscrow)
	s.AddTool(ToolReleaseEscrow, h.HandleReleaseEscrow)
	s.AddTool(ToolDisputeEscrow, h.HandleDisputeEscrow)

	s.AddTool(ToolCreateQuote, h.HandleCreateQuote)
	s.AddTool(ToolGetQuote, h.HandleGetQuote)
	s.AddTool(ToolAcceptQuote, h.HandleAcceptQuote)
	s.AddTool(ToolCounterOffer, h.HandleCounterOffer)
	s.AddTool(ToolAcceptCounter, h.HandleAcceptCounter)
	s.AddTool(ToolConfirmDelivery, h.HandleConfirmDelivery)

	s.AddTool(ToolCreateTip, h.HandleCreateTip)
	s.AddTool(ToolGetTip, h.HandleGetTip)
	s.AddTool(ToolGetRepoTipStats, h.HandleGetRepoTipStats)

	s.AddTool(ToolListAgentEscrows, h.HandleListAgentEscrows)
	s.AddTool(ToolListAgentQuotes, h.HandleListAgentQuotes)

	return s
}
