// Package gateway talks to the payment provider's transaction status API.
// Verification is a read: it never moves money, it reports what the provider
// believes happened to a transaction.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bustix/bustix/internal/domain"
)

// Result is a verified transaction status as reported by the provider.
type Result struct {
	Status        domain.PaymentStatus
	TransactionID string
	AmountCents   int
}

// Pending reports whether the provider has not reached a final answer yet.
func (r Result) Pending() bool {
	return !r.Status.Terminal()
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	httpc   *http.Client
	baseURL string
	apiKey  string
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		httpc:   &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}
}

type verifyResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	AmountCents   int    `json:"amount_cents"`
}

// Verify asks the provider for the current status of a transaction.
//
// Returns:
//   - Result: the provider's answer, mapped onto the payment status set.
//   - error: *TransientError on network failure, timeout, or a non-2xx
//     response. The caller must not treat that as a payment outcome.
func (c *Client) Verify(ctx context.Context, txRef string) (Result, error) {
	const op = "gateway.Client.Verify"

	if txRef == "" {
		return Result{}, fmt.Errorf("%s: empty transaction reference", op)
	}

	endpoint := fmt.Sprintf(
		"%s/v1/transactions/%s", c.baseURL, url.PathEscape(txRef),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%s:%w", op, err)
	}

	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%s:%w", op, &TransientError{TxRef: txRef, Cause: err})
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("%s:%w", op, &TransientError{
			TxRef: txRef,
			Cause: fmt.Errorf("gateway returned %s", resp.Status),
		})
	}

	var body verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("%s:%w", op, &TransientError{TxRef: txRef, Cause: err})
	}

	return Result{
		Status:        mapProviderStatus(body.Status),
		TransactionID: body.TransactionID,
		AmountCents:   body.AmountCents,
	}, nil
}

// mapProviderStatus folds the provider's vocabulary onto ours. Anything the
// provider considers in flight stays in flight; everything else, including
// statuses we have never seen, counts as failed.
func mapProviderStatus(s string) domain.PaymentStatus {
	switch strings.ToLower(s) {
	case "success", "completed", "paid", "settled":
		return domain.PaymentPaid
	case "pending", "processing", "in_progress":
		return domain.PaymentProcessing
	case "redirected", "awaiting_user":
		return domain.PaymentRedirected
	default:
		return domain.PaymentFailed
	}
}
