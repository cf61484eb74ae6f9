package gateway_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bustix/bustix/internal/domain"
	"github.com/bustix/bustix/internal/gateway"
)

func TestVerify_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transactions/TX-123", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","transaction_id":"TX-123","amount_cents":2500}`))
	}))
	defer srv.Close()

	c := gateway.New(gateway.Config{BaseURL: srv.URL, APIKey: "secret"})

	res, err := c.Verify(context.Background(), "TX-123")
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentPaid, res.Status)
	assert.Equal(t, "TX-123", res.TransactionID)
	assert.Equal(t, 2500, res.AmountCents)
	assert.False(t, res.Pending())
}

func TestVerify_Pending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"pending","transaction_id":"TX-9"}`))
	}))
	defer srv.Close()

	c := gateway.New(gateway.Config{BaseURL: srv.URL})

	res, err := c.Verify(context.Background(), "TX-9")
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentProcessing, res.Status)
	assert.True(t, res.Pending())
}

func TestVerify_UnknownStatusIsFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"reversed","transaction_id":"TX-9"}`))
	}))
	defer srv.Close()

	c := gateway.New(gateway.Config{BaseURL: srv.URL})

	res, err := c.Verify(context.Background(), "TX-9")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, res.Status)
}

func TestVerify_Non2xxIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := gateway.New(gateway.Config{BaseURL: srv.URL})

	_, err := c.Verify(context.Background(), "TX-9")

	var transient *gateway.TransientError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, "TX-9", transient.TxRef)
}

func TestVerify_TimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := gateway.New(gateway.Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})

	_, err := c.Verify(context.Background(), "TX-9")

	var transient *gateway.TransientError
	require.ErrorAs(t, err, &transient)
}

func TestVerify_EmptyTxRef(t *testing.T) {
	c := gateway.New(gateway.Config{BaseURL: "http://gateway.invalid"})

	_, err := c.Verify(context.Background(), "")
	require.Error(t, err)

	// not a transient error: there is nothing to retry
	var transient *gateway.TransientError
	assert.False(t, errors.As(err, &transient))
}
