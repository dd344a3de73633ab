package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Config holds the configuration for connecting to a running broker server.
type Config struct {
	APIURL  string // Base URL, e.g. "http://localhost:8080"
	APIKey  string // API key, e.g. "sk_..."
	AgentID string // This agent's id/address, used as the default counterparty field
}

// BrokerClient is a pure HTTP client for the broker's REST API. It carries
// no engine state itself; every call is a single round trip.
type BrokerClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewBrokerClient creates a new client for the broker platform.
func NewBrokerClient(cfg Config) *BrokerClient {
	return &BrokerClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the broker.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the broker and returns the response body.
func (c *BrokerClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// --- Escrow Engine ---

func (c *BrokerClient) CreateEscrow(ctx context.Context, payer, payee, amount, purpose, token string, timeoutMinutes int) (json.RawMessage, error) {
	body := map[string]any{
		"payer":          payer,
		"payee":          payee,
		"amount":         amount,
		"purpose":        purpose,
		"token":          token,
		"timeoutMinutes": timeoutMinutes,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows", nil, body)
}

func (c *BrokerClient) GetEscrow(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/escrows/"+id, nil, nil)
}

func (c *BrokerClient) FundEscrow(ctx context.Context, id, externalHash string) (json.RawMessage, error) {
	body := map[string]string{"externalHash": externalHash}
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+id+"/fund", nil, body)
}

func (c *BrokerClient) ApproveEscrow(ctx context.Context, id, approverID string) (json.RawMessage, error) {
	body := map[string]string{"approverId": approverID}
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+id+"/approve", nil, body)
}

func (c *BrokerClient) ReleaseEscrow(ctx context.Context, id, reason string) (json.RawMessage, error) {
	body := map[string]string{"reason": reason}
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+id+"/release", nil, body)
}

func (c *BrokerClient) DisputeEscrow(ctx context.Context, id, disputerID, reason string) (json.RawMessage, error) {
	body := map[string]string{"disputerId": disputerID, "reason": reason}
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+id+"/dispute", nil, body)
}

// --- Negotiation Engine ---

func (c *BrokerClient) CreateQuote(ctx context.Context, requester, provider, amount, description, token string, expiresInMinutes int) (json.RawMessage, error) {
	body := map[string]any{
		"requester":        requester,
		"provider":         provider,
		"amount":           amount,
		"description":      description,
		"token":            token,
		"expiresInMinutes": expiresInMinutes,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/quotes", nil, body)
}

func (c *BrokerClient) GetQuote(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/quotes/"+id, nil, nil)
}

func (c *BrokerClient) AcceptQuote(ctx context.Context, id, callerID string) (json.RawMessage, error) {
	body := map[string]string{"callerId": callerID}
	return c.doRequest(ctx, http.MethodPost, "/v1/quotes/"+id+"/accept", nil, body)
}

func (c *BrokerClient) CounterOffer(ctx context.Context, id, callerID, amount, note string) (json.RawMessage, error) {
	body := map[string]string{"callerId": callerID, "amount": amount, "note": note}
	return c.doRequest(ctx, http.MethodPost, "/v1/quotes/"+id+"/counter", nil, body)
}

func (c *BrokerClient) AcceptCounter(ctx context.Context, id, callerID string) (json.RawMessage, error) {
	body := map[string]string{"callerId": callerID}
	return c.doRequest(ctx, http.MethodPost, "/v1/quotes/"+id+"/accept-counter", nil, body)
}

func (c *BrokerClient) ConfirmDelivery(ctx context.Context, id, callerID, reason string) (json.RawMessage, error) {
	body := map[string]string{"callerId": callerID, "reason": reason}
	return c.doRequest(ctx, http.MethodPost, "/v1/quotes/"+id+"/confirm", nil, body)
}

// --- Tipping Engine ---

func (c *BrokerClient) CreateTip(ctx context.Context, repoRef, tipper, recipient, amount, token, message string) (json.RawMessage, error) {
	body := map[string]any{
		"repoRef":   repoRef,
		"tipper":    tipper,
		"recipient": recipient,
		"amount":    amount,
		"token":     token,
		"message":   message,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/tips", nil, body)
}

func (c *BrokerClient) GetTip(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/tips/"+id, nil, nil)
}

func (c *BrokerClient) RepoTipStats(ctx context.Context, owner, name string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/repos/"+owner+"/"+name+"/tips/stats", nil, nil)
}

// --- Agent-wide views ---

func (c *BrokerClient) ListAgentEscrows(ctx context.Context, agentID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/agents/"+agentID+"/escrows", nil, nil)
}

func (c *BrokerClient) ListAgentQuotes(ctx context.Context, agentID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/agents/"+agentID+"/quotes", nil, nil)
}
