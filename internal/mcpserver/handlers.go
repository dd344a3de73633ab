package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *BrokerClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *BrokerClient) *Handlers {
	return &Handlers{client: client}
}

// --- Escrow Engine ---

func (h *Handlers) HandleCreateEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payer := req.GetString("payer", "")
	payee := req.GetString("payee", "")
	amount := req.GetString("amount", "")
	token := req.GetString("token", "")
	if payer == "" || payee == "" || amount == "" || token == "" {
		return mcp.NewToolResultError("payer, payee, amount, and token are required"), nil
	}
	purpose := req.GetString("purpose", "")
	timeoutMinutes := req.GetInt("timeout_minutes", 0)

	raw, err := h.client.CreateEscrow(ctx, payer, payee, amount, purpose, token, timeoutMinutes)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create escrow: %v", err)), nil
	}
	return mcp.NewToolResultText(formatEscrow(raw)), nil
}

func (h *Handlers) HandleGetEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("escrow_id", "")
	if id == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}
	raw, err := h.client.GetEscrow(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get escrow: %v", err)), nil
	}
	return mcp.NewToolResultText(formatEscrow(raw)), nil
}

func (h *Handlers) HandleFundEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("escrow_id", "")
	hash := req.GetString("external_hash", "")
	if id == "" || hash == "" {
		return mcp.NewToolResultError("escrow_id and external_hash are required"), nil
	}
	raw, err := h.client.FundEscrow(ctx, id, hash)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fund escrow: %v", err)), nil
	}
	return mcp.NewToolResultText(formatEscrow(raw)), nil
}

func (h *Handlers) HandleApproveEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("escrow_id", "")
	approverID := req.GetString("approver_id", "")
	if id == "" || approverID == "" {
		return mcp.NewToolResultError("escrow_id and approver_id are required"), nil
	}
	raw, err := h.client.ApproveEscrow(ctx, id, approverID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to approve escrow: %v", err)), nil
	}
	return mcp.NewToolResultText(formatEscrow(raw)), nil
}

func (h *Handlers) HandleReleaseEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("escrow_id", "")
	if id == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}
	reason := req.GetString("reason", "")
	raw, err := h.client.ReleaseEscrow(ctx, id, reason)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to release escrow: %v", err)), nil
	}
	return mcp.NewToolResultText(formatEscrow(raw)), nil
}

func (h *Handlers) HandleDisputeEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("escrow_id", "")
	disputerID := req.GetString("disputer_id", "")
	reason := req.GetString("reason", "")
	if id == "" || disputerID == "" || reason == "" {
		return mcp.NewToolResultError("escrow_id, disputer_id, and reason are required"), nil
	}
	raw, err := h.client.DisputeEscrow(ctx, id, disputerID, reason)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to dispute escrow: %v", err)), nil
	}
	return mcp.NewToolResultText(formatEscrow(raw)), nil
}

// --- Negotiation Engine ---

func (h *Handlers) HandleCreateQuote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	requester := req.GetString("requester", "")
	provider := req.GetString("provider", "")
	amount := req.GetString("amount", "")
	token := req.GetString("token", "")
	if requester == "" || provider == "" || amount == "" || token == "" {
		return mcp.NewToolResultError("requester, provider, amount, and token are required"), nil
	}
	description := req.GetString("description", "")
	expiresInMinutes := req.GetInt("expires_in_minutes", 0)

	raw, err := h.client.CreateQuote(ctx, requester, provider, amount, description, token, expiresInMinutes)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create quote: %v", err)), nil
	}
	return mcp.NewToolResultText(formatQuote(raw)), nil
}

func (h *Handlers) HandleGetQuote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("quote_id", "")
	if id == "" {
		return mcp.NewToolResultError("quote_id is required"), nil
	}
	raw, err := h.client.GetQuote(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get quote: %v", err)), nil
	}
	return mcp.NewToolResultText(formatQuote(raw)), nil
}

func (h *Handlers) HandleAcceptQuote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("quote_id", "")
	callerID := req.GetString("caller_id", "")
	if id == "" || callerID == "" {
		return mcp.NewToolResultError("quote_id and caller_id are required"), nil
	}
	raw, err := h.client.AcceptQuote(ctx, id, callerID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to accept quote: %v", err)), nil
	}
	return mcp.NewToolResultText(formatQuote(raw)), nil
}

func (h *Handlers) HandleCounterOffer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("quote_id", "")
	callerID := req.GetString("caller_id", "")
	amount := req.GetString("amount", "")
	if id == "" || callerID == "" || amount == "" {
		return mcp.NewToolResultError("quote_id, caller_id, and amount are required"), nil
	}
	note := req.GetString("note", "")
	raw, err := h.client.CounterOffer(ctx, id, callerID, amount, note)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to counter quote: %v", err)), nil
	}
	return mcp.NewToolResultText(formatQuote(raw)), nil
}

func (h *Handlers) HandleAcceptCounter(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("quote_id", "")
	callerID := req.GetString("caller_id", "")
	if id == "" || callerID == "" {
		return mcp.NewToolResultError("quote_id and caller_id are required"), nil
	}
	raw, err := h.client.AcceptCounter(ctx, id, callerID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to accept counter: %v", err)), nil
	}
	return mcp.NewToolResultText(formatQuote(raw)), nil
}

func (h *Handlers) HandleConfirmDelivery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("quote_id", "")
	callerID := req.GetString("caller_id", "")
	if id == "" || callerID == "" {
		return mcp.NewToolResultError("quote_id and caller_id are required"), nil
	}
	reason := req.GetString("reason", "")
	raw, err := h.client.ConfirmDelivery(ctx, id, callerID, reason)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to confirm delivery: %v", err)), nil
	}
	return mcp.NewToolResultText(formatQuote(raw)), nil
}

// --- Tipping Engine ---

func (h *Handlers) HandleCreateTip(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repoRef := req.GetString("repo_ref", "")
	tipper := req.GetString("tipper", "")
	recipient := req.GetString("recipient", "")
	amount := req.GetString("amount", "")
	token := req.GetString("token", "")
	if repoRef == "" || tipper == "" || recipient == "" || amount == "" || token == "" {
		return mcp.NewToolResultError("repo_ref, tipper, recipient, amount, and token are required"), nil
	}
	message := req.GetString("message", "")

	raw, err := h.client.CreateTip(ctx, repoRef, tipper, recipient, amount, token, message)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create tip: %v", err)), nil
	}
	return mcp.NewToolResultText(formatTip(raw)), nil
}

func (h *Handlers) HandleGetTip(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("tip_id", "")
	if id == "" {
		return mcp.NewToolResultError("tip_id is required"), nil
	}
	raw, err := h.client.GetTip(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get tip: %v", err)), nil
	}
	return mcp.NewToolResultText(formatTip(raw)), nil
}

func (h *Handlers) HandleGetRepoTipStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner := req.GetString("owner", "")
	name := req.GetString("name", "")
	if owner == "" || name == "" {
		return mcp.NewToolResultError("owner and name are required"), nil
	}
	raw, err := h.client.RepoTipStats(ctx, owner, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get repo stats: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// --- Agent-wide views ---

func (h *Handlers) HandleListAgentEscrows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("agent_id is required"), nil
	}
	raw, err := h.client.ListAgentEscrows(ctx, agentID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list escrows: %v", err)), nil
	}
	return mcp.NewToolResultText(formatEntityList(raw, "escrows", formatEscrow)), nil
}

func (h *Handlers) HandleListAgentQuotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("agent_id is required"), nil
	}
	raw, err := h.client.ListAgentQuotes(ctx, agentID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list quotes: %v", err)), nil
	}
	return mcp.NewToolResultText(formatEntityList(raw, "quotes", formatQuote)), nil
}

// --- Formatting helpers ---

func formatEscrow(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return formatJSON(raw)
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Escrow %s: %s\n", getString(m, "id"), getString(m, "status")))
	sb.WriteString(fmt.Sprintf("  %s -> %s: %s %s\n", getString(m, "payer"), getString(m, "payee"), getString(m, "amountDisplay", "amount"), getString(m, "token")))
	if v := getString(m, "purpose"); v != "" {
		sb.WriteString(fmt.Sprintf("  Purpose: %s\n", v))
	}
	return sb.String()
}

func formatQuote(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return formatJSON(raw)
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Quote %s: %s\n", getString(m, "id"), getString(m, "status")))
	sb.WriteString(fmt.Sprintf("  %s -> %s: %s %s\n", getString(m, "requester"), getString(m, "provider"), getString(m, "amountDisplay", "amount"), getString(m, "token")))
	if v := getString(m, "description"); v != "" {
		sb.WriteString(fmt.Sprintf("  Description: %s\n", v))
	}
	return sb.String()
}

func formatTip(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return formatJSON(raw)
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Tip %s: %s\n", getString(m, "id"), getString(m, "status")))
	sb.WriteString(fmt.Sprintf("  %s -> %s: %s %s\n", getString(m, "tipper"), getString(m, "recipient"), getString(m, "amountDisplay", "amount"), getString(m, "token")))
	sb.WriteString(fmt.Sprintf("  Repo: %s\n", getString(m, "repoRef")))
	if v := getString(m, "message"); v != "" {
		sb.WriteString(fmt.Sprintf("  Message: %s\n", v))
	}
	return sb.String()
}

func formatEntityList(raw json.RawMessage, key string, one func(json.RawMessage) string) string {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return formatJSON(raw)
	}
	items, ok := wrapper[key]
	if !ok {
		return formatJSON(raw)
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(items, &arr); err != nil {
		return formatJSON(raw)
	}
	if len(arr) == 0 {
		return fmt.Sprintf("No %s found.", key)
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d %s:\n\n", len(arr), key))
	for _, item := range arr {
		sb.WriteString(one(item))
	}
	return sb.String()
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}
