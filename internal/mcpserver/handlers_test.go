package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func reqCtx(t *testing.T) context.Context {
	t.Helper()
	return context.Background()
}

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	cfg := Config{
		APIURL:  ts.URL,
		APIKey:  "sk_test_key",
		AgentID: "0xBUYER",
	}
	client := NewBrokerClient(cfg)
	h := NewHandlers(client)
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// ============================================================
// Client tests
// ============================================================

func TestClient_DoRequest_AuthHeader(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewBrokerClient(Config{APIURL: ts.URL, APIKey: "sk_secret123", AgentID: "0xABC"})
	_, err := client.GetEscrow(reqCtx(t), "esc_1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk_secret123", gotAuth)
}

func TestClient_DoRequest_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "forbidden",
			"message": "Invalid API key",
		})
	}))
	defer ts.Close()

	client := NewBrokerClient(Config{APIURL: ts.URL, APIKey: "bad", AgentID: "0x1"})
	_, err := client.GetEscrow(reqCtx(t), "esc_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid API key")
}

// ============================================================
// Escrow handler tests
// ============================================================

func TestHandleCreateEscrow_MissingFields(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach the server")
	}))
	defer closeFn()

	result, err := h.HandleCreateEscrow(reqCtx(t), makeRequest(map[string]any{"payer": "a"}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestHandleCreateEscrow_Success(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/escrows", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "esc_1", "status": "pending", "payer": "a", "payee": "b",
			"amountDisplay": "1.00", "token": "erc20-stable",
		})
	}))
	defer closeFn()

	result, err := h.HandleCreateEscrow(reqCtx(t), makeRequest(map[string]any{
		"payer": "a", "payee": "b", "amount": "1.00", "token": "erc20-stable",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "esc_1")
	assert.Contains(t, text, "pending")
}

func TestHandleGetEscrow_RequiresID(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach the server")
	}))
	defer closeFn()

	result, err := h.HandleGetEscrow(reqCtx(t), makeRequest(nil))
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestHandleFundEscrow_Success(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/escrows/esc_1/fund", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "esc_1", "status": "funded"})
	}))
	defer closeFn()

	result, err := h.HandleFundEscrow(reqCtx(t), makeRequest(map[string]any{
		"escrow_id": "esc_1", "external_hash": "0xdead",
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "funded")
}

func TestHandleDisputeEscrow_RequiresReason(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach the server")
	}))
	defer closeFn()

	result, err := h.HandleDisputeEscrow(reqCtx(t), makeRequest(map[string]any{
		"escrow_id": "esc_1", "disputer_id": "a",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}

// ============================================================
// Negotiation handler tests
// ============================================================

func TestHandleCreateQuote_Success(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/quotes", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "qte_1", "status": "pending", "requester": "a", "provider": "b",
			"amountDisplay": "2.00", "token": "erc20-stable",
		})
	}))
	defer closeFn()

	result, err := h.HandleCreateQuote(reqCtx(t), makeRequest(map[string]any{
		"requester": "a", "provider": "b", "amount": "2.00", "token": "erc20-stable",
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "qte_1")
}

func TestHandleCounterOffer_RequiresAmount(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach the server")
	}))
	defer closeFn()

	result, err := h.HandleCounterOffer(reqCtx(t), makeRequest(map[string]any{
		"quote_id": "qte_1", "caller_id": "a",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestHandleAcceptCounter_Success(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/quotes/qte_1/accept-counter", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "qte_1", "status": "accepted"})
	}))
	defer closeFn()

	result, err := h.HandleAcceptCounter(reqCtx(t), makeRequest(map[string]any{
		"quote_id": "qte_1", "caller_id": "b",
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "accepted")
}

// ============================================================
// Tipping handler tests
// ============================================================

func TestHandleCreateTip_Success(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tips", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "tip_1", "status": "pending", "tipper": "a", "recipient": "b",
			"amountDisplay": "5.00", "token": "erc20-stable", "repoRef": "acme/widgets",
		})
	}))
	defer closeFn()

	result, err := h.HandleCreateTip(reqCtx(t), makeRequest(map[string]any{
		"repo_ref": "acme/widgets", "tipper": "a", "recipient": "b",
		"amount": "5.00", "token": "erc20-stable",
	}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "tip_1")
	assert.Contains(t, text, "acme/widgets")
}

func TestHandleCreateTip_MissingRecipient(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach the server")
	}))
	defer closeFn()

	result, err := h.HandleCreateTip(reqCtx(t), makeRequest(map[string]any{
		"repo_ref": "acme/widgets", "tipper": "a", "amount": "5.00", "token": "erc20-stable",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestHandleGetRepoTipStats_Success(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/repos/acme/widgets/tips/stats", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"repoRef": "acme/widgets", "count": 3})
	}))
	defer closeFn()

	result, err := h.HandleGetRepoTipStats(reqCtx(t), makeRequest(map[string]any{
		"owner": "acme", "name": "widgets",
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "acme/widgets")
}

// ============================================================
// Agent-wide list tests
// ============================================================

func TestHandleListAgentEscrows_Empty(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"escrows": []any{}})
	}))
	defer closeFn()

	result, err := h.HandleListAgentEscrows(reqCtx(t), makeRequest(map[string]any{"agent_id": "a"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No escrows found")
}

func TestHandleListAgentQuotes_RequiresAgentID(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach the server")
	}))
	defer closeFn()

	result, err := h.HandleListAgentQuotes(reqCtx(t), makeRequest(nil))
	require.NoError(t, err)
	require.True(t, result.IsError)
}
