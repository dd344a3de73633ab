package x402

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mbd888/agentbroker/internal/escrow"
	"github.com/mbd888/agentbroker/internal/money"
)

// Client wraps http.Client with automatic 402 payment handling. Paying a
// 402 means opening a broker escrow for the requirement's price and
// attaching the resulting escrow ID as the payment proof; the seller
// verifies the proof by looking the escrow up through the broker's own
// API rather than trusting the header alone.
type Client struct {
	httpClient *http.Client
	escrows    *escrow.Service
	payer      string

	MaxRetries int           // Max payment retries (default: 1)
	AutoPay    bool          // Automatically pay 402s (default: true)
	MaxPayment string        // Max payment amount, in the requirement's token (default: unlimited)
	Timeout    time.Duration // HTTP client timeout (default: 60s)

	OnPayment func(req *PaymentRequirement, proof *PaymentProof) // Called before each payment
}

// NewClient creates a new x402-enabled HTTP client that pays by opening
// escrows on behalf of payer through escrows.
func NewClient(escrows *escrow.Service, payer string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		escrows:    escrows,
		payer:      payer,
		MaxRetries: 1,
		AutoPay:    true,
	}
}

// Do performs an HTTP request with automatic 402 payment handling.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoContext(req.Context(), req)
}

// DoContext performs an HTTP request with context and automatic 402 handling.
func (c *Client) DoContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		_ = req.Body.Close()
	}

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytesReader(bodyBytes))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		if resp.StatusCode != http.StatusPaymentRequired {
			return resp, nil
		}
		if !c.AutoPay {
			return resp, nil
		}

		payReq, err := ParsePaymentRequirement(resp)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to parse payment requirement: %w", err)
		}

		if c.MaxPayment != "" {
			if err := c.checkPaymentLimit(payReq); err != nil {
				return nil, err
			}
		}

		proof, err := c.Accept(ctx, payReq)
		if err != nil {
			return nil, fmt.Errorf("payment failed: %w", err)
		}

		if c.OnPayment != nil {
			c.OnPayment(payReq, proof)
		}

		if err := AddProofToRequest(req, proof); err != nil {
			return nil, fmt.Errorf("failed to add proof: %w", err)
		}
	}

	return nil, fmt.Errorf("max retries exceeded")
}

// Get performs a GET request with automatic 402 handling.
func (c *Client) Get(url string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Accept satisfies a payment requirement by opening a broker escrow for
// req.Recipient and req.Price, and returns the proof to attach to the
// retried request. The escrow starts pending — it is the seller's
// responsibility to fund/approve/release it through the broker once the
// purchase is confirmed on their side, the same as any other escrow.
func (c *Client) Accept(ctx context.Context, req *PaymentRequirement) (*PaymentProof, error) {
	token := money.Token(req.Token)
	if !money.IsSupported(token) {
		return nil, fmt.Errorf("unsupported token %q in payment requirement", req.Token)
	}

	e, err := c.escrows.Create(ctx, c.payer, req.Recipient, req.Price, req.Description, token, escrow.Conditions{}, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open escrow: %w", err)
	}

	return NewPaymentProof(e.ID, c.payer, req.Nonce), nil
}

// checkPaymentLimit verifies the payment doesn't exceed max.
func (c *Client) checkPaymentLimit(req *PaymentRequirement) error {
	token := money.Token(req.Token)
	maxAmount, ok := money.Parse(c.MaxPayment, token)
	if !ok {
		return fmt.Errorf("invalid max payment %q for token %q", c.MaxPayment, req.Token)
	}

	reqAmount, ok := money.Parse(req.Price, token)
	if !ok {
		return fmt.Errorf("invalid price %q for token %q", req.Price, req.Token)
	}

	if reqAmount.Cmp(maxAmount) > 0 {
		return fmt.Errorf("payment %s exceeds max %s", req.Price, c.MaxPayment)
	}

	return nil
}

// bytesReaderWrapper lets DoContext replay a request body across retries.
type bytesReaderWrapper struct {
	data []byte
	pos  int
}

func bytesReader(data []byte) io.Reader {
	return &bytesReaderWrapper{data: data}
}

func (r *bytesReaderWrapper) Read(p []byte) (n int, err error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n = copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
