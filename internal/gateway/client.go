package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Client is the HTTP implementation of Gateway. Authentication is an opaque
// secret key sent as a bearer token; the owned http.Client enforces the
// bounded per-request timeout required for all gateway I/O.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// NewClient returns a Client with the given request timeout.
func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:    baseURL,
		SecretKey:  secretKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

var _ Gateway = (*Client)(nil)

func (c *Client) AuthorizeDeposit(ctx context.Context, req AuthorizeDepositRequest) (*DepositAuthorization, error) {
	var out DepositAuthorization
	if err := c.do(ctx, http.MethodPost, "/v1/deposit_authorizations", req, &out, ""); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreatePayeeAccount(ctx context.Context, clipperID uuid.UUID, country string) (*PayeeAccountResult, error) {
	body := struct {
		ExternalID string `json:"external_id"`
		Country    string `json:"country"`
	}{ExternalID: clipperID.String(), Country: country}
	var out PayeeAccountResult
	if err := c.do(ctx, http.MethodPost, "/v1/payee_accounts", body, &out, ""); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetPayeeAccountStatus(ctx context.Context, accountID string) (*AccountStatus, error) {
	var out AccountStatus
	if err := c.do(ctx, http.MethodGet, "/v1/payee_accounts/"+accountID, nil, &out, ""); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	var out TransferResult
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", req, &out, req.IdempotencyKey); err != nil {
		return nil, err
	}
	return &out, nil
}

// do sends one JSON request and classifies the outcome: network errors and
// 5xx are transient, 4xx are permanent rejections.
func (c *Client) do(ctx context.Context, method, path string, body, out any, idempotencyKey string) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal gateway request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create gateway request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return &TransientError{Err: fmt.Errorf("gateway returned %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &RejectedError{Status: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
