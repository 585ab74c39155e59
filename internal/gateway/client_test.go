package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCreateTransfer_SendsIdempotencyKeyHeader(t *testing.T) {
	var gotKey, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"transfer_id":"tr_42"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test", time.Second)
	result, err := c.CreateTransfer(context.Background(), TransferRequest{
		AccountID:      "acct_1",
		AmountCents:    1800,
		Currency:       "usd",
		IdempotencyKey: "payout-abc",
	})
	if err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}
	if result.TransferID != "tr_42" {
		t.Errorf("transfer id: got %q, want tr_42", result.TransferID)
	}
	if gotKey != "payout-abc" {
		t.Errorf("Idempotency-Key header: got %q, want payout-abc", gotKey)
	}
	if gotAuth != "Bearer sk_test" {
		t.Errorf("Authorization header: got %q", gotAuth)
	}
}

func TestAuthorizeDeposit_NoIdempotencyKeyHeader(t *testing.T) {
	var sawHeader bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawHeader = r.Header["Idempotency-Key"]
		w.Write([]byte(`{"reference":"ref_1","client_confirmation_token":"tok_1"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test", time.Second)
	if _, err := c.AuthorizeDeposit(context.Background(), AuthorizeDepositRequest{AmountCents: 500, Currency: "usd"}); err != nil {
		t.Fatalf("AuthorizeDeposit: %v", err)
	}
	if sawHeader {
		t.Error("deposit authorization must not send an Idempotency-Key header")
	}
}

func TestClient_ErrorClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/transfers":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"code":"account_invalid","message":"account closed"}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test", time.Second)

	_, err := c.CreateTransfer(context.Background(), TransferRequest{AccountID: "acct_1", AmountCents: 100, Currency: "usd"})
	if !IsTransient(err) {
		t.Errorf("5xx must classify transient, got %v", err)
	}

	_, err = c.AuthorizeDeposit(context.Background(), AuthorizeDepositRequest{AmountCents: 500, Currency: "usd"})
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("4xx must classify rejected, got %v", err)
	}
	if rejected.Status != http.StatusUnprocessableEntity || rejected.Code != "account_invalid" {
		t.Errorf("rejection details: got %+v", rejected)
	}
}
