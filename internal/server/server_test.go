package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentbroker/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config pointed at a scratch snapshot
// directory, exercising the file-store path rather than Postgres.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:                      "0",
		Env:                       "development",
		LogLevel:                  "error",
		SnapshotDir:               t.TempDir(),
		EventLogPath:              t.TempDir() + "/events.log",
		MaxRetries:                DefaultTestMaxRetries,
		InitialDelayMs:            1000,
		MaxDelayMs:                60000,
		BackoffMultiplier:         2.0,
		RequestTimeoutMs:          5000,
		MaxLogEntries:             1000,
		QueueCheckpointIntervalMs: 5000,
		DeliveryFanOut:            2,
		WorkerTickMs:              1000,
		HTTPReadTimeout:           10_000_000_000,
		HTTPWriteTimeout:          30_000_000_000,
		HTTPIdleTimeout:           60_000_000_000,
		RequestTimeout:            5_000_000_000,
		PayoutExecutor:            "noop",
		ReconcileInterval:         3_600_000_000_000,
	}
}

// DefaultTestMaxRetries keeps webhook delivery retries small so tests
// that exercise a failing delivery don't hang on backoff.
const DefaultTestMaxRetries = 3

// newTestServer creates a server wired to file-snapshot stores and a
// no-op payout executor.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthzEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["healthy"] != true {
		t.Errorf("expected healthy=true, got %v", resp["healthy"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	// Run() hasn't been called yet, so the liveness flag is still unset.
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 (not yet alive), got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestEngineRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routeSet := make(map[string]bool)
	for _, route := range s.router.Routes() {
		routeSet[route.Method+":"+route.Path] = true
	}

	expected := []string{
		"POST:/v1/escrows",
		"GET:/v1/escrows/:id",
		"POST:/v1/escrows/:id/fund",
		"POST:/v1/escrows/:id/release",
		"POST:/v1/purchase",
		"GET:/healthz",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws",
	}

	for _, route := range expected {
		if !routeSet[route] {
			t.Errorf("expected route %s not registered", route)
		}
	}
}

// ---------------------------------------------------------------------------
// Purchase (x402 composition) endpoint test
// ---------------------------------------------------------------------------

func TestPurchaseHandler_OpensEscrow(t *testing.T) {
	s := newTestServer(t)

	body := `{"payer":"agent-a","price":"1.50","token":"erc20-stable","recipient":"agent-b","nonce":"n1"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/purchase", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	proof, ok := resp["proof"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected proof object in response, got %v", resp["proof"])
	}
	if proof["escrowId"] == nil || proof["escrowId"] == "" {
		t.Error("expected non-empty escrowId in proof")
	}
}

func TestPurchaseHandler_UnsupportedToken(t *testing.T) {
	s := newTestServer(t)

	body := `{"payer":"agent-a","price":"1.50","token":"doge","recipient":"agent-b"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/purchase", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
