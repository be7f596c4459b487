package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayCharge(t *testing.T) {
	var got chargeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/charges", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(chargeResponse{Ref: "ch_1", State: string(StateSucceeded)})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, "sk_test")
	ref, err := g.Charge(context.Background(), 2000, "USD", "tok_visa", "key-1")
	require.NoError(t, err)
	assert.Equal(t, "ch_1", ref)
	assert.Equal(t, int64(2000), got.Amount)
	assert.Equal(t, "key-1", got.IdempotencyKey)
}

func TestGatewayChargeDeclined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chargeResponse{State: string(StateFailed), Error: "card declined"})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, "sk_test")
	_, err := g.Charge(context.Background(), 2000, "USD", "tok_visa", "key-1")
	var pErr *Error
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "card declined", pErr.Message)
}

func TestGatewayChargeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, "sk_test")
	_, err := g.Charge(context.Background(), 2000, "USD", "tok_visa", "key-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestGatewayRefund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refunds", r.URL.Path)
		var req refundRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ch_1", req.ChargeRef)
		assert.Equal(t, int64(500), req.Amount)
		json.NewEncoder(w).Encode(chargeResponse{Ref: "ch_1"})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, "sk_test")
	require.NoError(t, g.Refund(context.Background(), "ch_1", 500))
}

func TestGatewayRetrieve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/charges/ch_1", r.URL.Path)
		json.NewEncoder(w).Encode(chargeResponse{Ref: "ch_1", State: string(StatePending)})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, "sk_test")
	state, err := g.Retrieve(context.Background(), "ch_1")
	require.NoError(t, err)
	assert.Equal(t, StatePending, state)
}

func TestGatewayUnreachable(t *testing.T) {
	g := NewGateway("http://127.0.0.1:1", "sk_test")
	_, err := g.Charge(context.Background(), 100, "USD", "tok", "k")
	var pErr *Error
	require.ErrorAs(t, err, &pErr)
	assert.NotNil(t, pErr.Unwrap())
}
