package x402

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/agentbroker/internal/escrow"
)

type stubEmitter struct{}

func (stubEmitter) Emit(context.Context, string, any) error { return nil }

func newTestClient(payer string) *Client {
	svc := escrow.NewService(escrow.NewMemoryStore(), stubEmitter{})
	return NewClient(svc, payer)
}

func TestClient_Get_NoPay(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message":"success"}`))
	}))
	defer server.Close()

	client := newTestClient("agent-a")
	client.AutoPay = false

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClient_Get_402_NoPay(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"price":"0.50","token":"erc20-stable","recipient":"agent-b"}`))
	}))
	defer server.Close()

	client := newTestClient("agent-a")
	client.AutoPay = false

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
}

func TestClient_Get_402_AutoPay(t *testing.T) {
	first := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if first {
			first = false
			w.WriteHeader(http.StatusPaymentRequired)
			_, _ = w.Write([]byte(`{"price":"0.50","token":"erc20-stable","recipient":"agent-b","nonce":"n1"}`))
			return
		}

		proofHeader := r.Header.Get("X-Payment-Proof")
		assert.NotEmpty(t, proofHeader)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message":"success"}`))
	}))
	defer server.Close()

	client := newTestClient("agent-a")

	var hookCalls int
	client.OnPayment = func(req *PaymentRequirement, proof *PaymentProof) {
		hookCalls++
		assert.Equal(t, "agent-b", req.Recipient)
		assert.Equal(t, "agent-a", proof.Payer)
	}

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, hookCalls)
}

func TestClient_Accept_OpensEscrow(t *testing.T) {
	client := newTestClient("agent-a")

	proof, err := client.Accept(context.Background(), &PaymentRequirement{
		Price:     "1.25",
		Token:     "erc20-stable",
		Recipient: "agent-b",
		Nonce:     "n2",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, proof.EscrowID)
	assert.Equal(t, "agent-a", proof.Payer)
	assert.Equal(t, "n2", proof.Nonce)

	e, err := client.escrows.Get(context.Background(), proof.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, "agent-a", e.Payer)
	assert.Equal(t, "agent-b", e.Payee)
	assert.Equal(t, "1.250000", e.AmountDisplay)
}

func TestClient_Accept_UnsupportedToken(t *testing.T) {
	client := newTestClient("agent-a")

	_, err := client.Accept(context.Background(), &PaymentRequirement{
		Price:     "1.00",
		Token:     "doge",
		Recipient: "agent-b",
	})
	assert.Error(t, err)
}

func TestClient_CheckPaymentLimit_Exceeded(t *testing.T) {
	client := newTestClient("agent-a")
	client.MaxPayment = "1.00"

	err := client.checkPaymentLimit(&PaymentRequirement{Price: "5.00", Token: "erc20-stable"})
	assert.Error(t, err)
}

func TestClient_CheckPaymentLimit_WithinBounds(t *testing.T) {
	client := newTestClient("agent-a")
	client.MaxPayment = "5.00"

	err := client.checkPaymentLimit(&PaymentRequirement{Price: "1.00", Token: "erc20-stable"})
	assert.NoError(t, err)
}
