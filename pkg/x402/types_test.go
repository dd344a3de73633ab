package x402

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIs402Response(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		want       bool
	}{
		{"402 response", http.StatusPaymentRequired, true},
		{"200 response", http.StatusOK, false},
		{"401 response", http.StatusUnauthorized, false},
		{"403 response", http.StatusForbidden, false},
		{"500 response", http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.statusCode}
			assert.Equal(t, tt.want, Is402Response(resp))
		})
	}
}

func TestParsePaymentRequirement(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantErr    bool
		wantPrice  string
	}{
		{
			name:       "valid 402 response",
			statusCode: http.StatusPaymentRequired,
			body:       `{"price":"0.001","token":"erc20-stable","recipient":"agent-b"}`,
			wantErr:    false,
			wantPrice:  "0.001",
		},
		{
			name:       "not 402 response",
			statusCode: http.StatusOK,
			body:       `{"price":"0.001"}`,
			wantErr:    true,
		},
		{
			name:       "invalid JSON",
			statusCode: http.StatusPaymentRequired,
			body:       `not-json`,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{
				StatusCode: tt.statusCode,
				Body:       io.NopCloser(bytes.NewBufferString(tt.body)),
			}

			req, err := ParsePaymentRequirement(resp)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantPrice, req.Price)
		})
	}
}

func TestNewPaymentProof(t *testing.T) {
	proof := NewPaymentProof("esc_abc123", "agent-a", "nonce-123")

	assert.Equal(t, "esc_abc123", proof.EscrowID)
	assert.Equal(t, "agent-a", proof.Payer)
	assert.Equal(t, "nonce-123", proof.Nonce)
	assert.Greater(t, proof.Timestamp, int64(0))
}

func TestPaymentProof_ToHeader(t *testing.T) {
	proof := &PaymentProof{
		EscrowID:  "esc_abc123",
		Payer:     "agent-a",
		Nonce:     "test-nonce",
		Timestamp: 1234567890,
	}

	header, err := proof.ToHeader()
	require.NoError(t, err)
	assert.Contains(t, header, "esc_abc123")
	assert.Contains(t, header, "agent-a")
	assert.Contains(t, header, "test-nonce")
}

func TestAddProofToRequest(t *testing.T) {
	proof := &PaymentProof{
		EscrowID:  "esc_abc123",
		Payer:     "agent-a",
		Timestamp: 1234567890,
	}

	req := httptest.NewRequest("GET", "/test", nil)
	err := AddProofToRequest(req, proof)
	require.NoError(t, err)

	header := req.Header.Get("X-Payment-Proof")
	assert.NotEmpty(t, header)
	assert.Contains(t, header, "esc_abc123")
}

func TestError(t *testing.T) {
	err := &Error{
		Code:    "payment_failed",
		Message: "insufficient funds",
	}

	assert.Equal(t, "payment_failed: insufficient funds", err.Error())
}

func BenchmarkParsePaymentRequirement(b *testing.B) {
	body := `{"price":"0.001","token":"erc20-stable","recipient":"agent-b"}`

	for i := 0; i < b.N; i++ {
		resp := &http.Response{
			StatusCode: http.StatusPaymentRequired,
			Body:       io.NopCloser(bytes.NewBufferString(body)),
		}
		_, _ = ParsePaymentRequirement(resp)
	}
}
