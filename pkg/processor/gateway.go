package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Gateway is an HTTP processor backend speaking a minimal REST protocol:
// POST /charges, POST /refunds, GET /charges/{ref}. The platform treats the
// gateway as entirely opaque; any non-2xx answer becomes an *Error.
type Gateway struct {
	baseURL string
	key     string
	client  *http.Client
}

// NewGateway creates a gateway backend
func NewGateway(baseURL, key string) *Gateway {
	return &Gateway{
		baseURL: baseURL,
		key:     key,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type chargeRequest struct {
	Amount         int64  `json:"amount"`
	Unit           string `json:"unit"`
	Token          string `json:"token"`
	IdempotencyKey string `json:"idempotency_key"`
}

type chargeResponse struct {
	Ref   string `json:"ref"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

type refundRequest struct {
	ChargeRef string `json:"charge_ref"`
	Amount    int64  `json:"amount"`
}

// Charge submits a payment attempt
func (g *Gateway) Charge(ctx context.Context, amount int64, unit, token, idempotencyKey string) (string, error) {
	var resp chargeResponse
	err := g.post(ctx, "/charges", chargeRequest{
		Amount:         amount,
		Unit:           unit,
		Token:          token,
		IdempotencyKey: idempotencyKey,
	}, &resp)
	if err != nil {
		return "", err
	}
	if State(resp.State) != StateSucceeded {
		return "", &Error{Message: resp.Error}
	}
	return resp.Ref, nil
}

// Refund returns money against a previous charge
func (g *Gateway) Refund(ctx context.Context, chargeRef string, amount int64) error {
	var resp chargeResponse
	if err := g.post(ctx, "/refunds", refundRequest{ChargeRef: chargeRef, Amount: amount}, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return &Error{Message: resp.Error}
	}
	return nil
}

// Retrieve reports the gateway-side state of a charge
func (g *Gateway) Retrieve(ctx context.Context, chargeRef string) (State, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/charges/"+chargeRef, nil)
	if err != nil {
		return "", &Error{Message: "failed to build request", Cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+g.key)

	httpResp, err := g.client.Do(req)
	if err != nil {
		return "", &Error{Message: "gateway unreachable", Cause: err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return "", &Error{Message: fmt.Sprintf("gateway returned %d", httpResp.StatusCode)}
	}
	var resp chargeResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", &Error{Message: "failed to decode response", Cause: err}
	}
	return State(resp.State), nil
}

func (g *Gateway) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{Message: "failed to marshal request", Cause: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &Error{Message: "failed to build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.key)

	httpResp, err := g.client.Do(req)
	if err != nil {
		return &Error{Message: "gateway unreachable", Cause: err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return &Error{Message: fmt.Sprintf("gateway returned %d", httpResp.StatusCode)}
	}
	return json.NewDecoder(httpResp.Body).Decode(out)
}
