package main

import (
	"log/slog"
	"net/http"

	"github.com/cliprally/backend/internal/config"
	"github.com/cliprally/backend/internal/handlers"
	"github.com/cliprally/backend/internal/middleware"
	"github.com/cliprally/backend/internal/webhook"
)

// RegisterV1Routes adds the /v1/ settlement endpoints to the given mux.
// Platform endpoints sit behind API-key auth; the gateway webhook endpoint is
// authenticated by its HMAC signature instead.
func RegisterV1Routes(
	mux *http.ServeMux,
	cfg config.Config,
	wallets handlers.WalletService,
	payouts handlers.PayoutService,
	payees handlers.PayeeService,
	webhookHandler *webhook.Handler,
	logger *slog.Logger,
) {
	sh := &handlers.SettlementHandler{
		Wallets: wallets,
		Payouts: payouts,
		Payees:  payees,
		Logger:  logger,
	}

	auth := middleware.APIKeyAuth(cfg.APIKeyHashes)

	mux.Handle("POST /v1/deposits", auth(http.HandlerFunc(sh.CreateDeposit)))
	mux.Handle("GET /v1/deposits/{id}", auth(http.HandlerFunc(sh.GetDeposit)))

	mux.Handle("GET /v1/wallets/{creatorID}", auth(http.HandlerFunc(sh.GetWallet)))
	mux.Handle("GET /v1/wallets/{creatorID}/payouts", auth(http.HandlerFunc(sh.ListPayouts)))

	mux.Handle("POST /v1/payouts", auth(http.HandlerFunc(sh.CreatePayout)))
	mux.Handle("GET /v1/payouts/{id}", auth(http.HandlerFunc(sh.GetPayout)))
	mux.Handle("POST /v1/payouts/{id}/cancel", auth(http.HandlerFunc(sh.CancelPayout)))
	mux.Handle("POST /v1/payouts/{id}/retry", auth(http.HandlerFunc(sh.RetryPayout)))

	mux.Handle("POST /v1/payees", auth(http.HandlerFunc(sh.CreatePayee)))
	mux.Handle("GET /v1/payees/{clipperID}", auth(http.HandlerFunc(sh.GetPayee)))
	mux.Handle("POST /v1/payees/{clipperID}/refresh", auth(http.HandlerFunc(sh.RefreshPayee)))

	// Signature-verified; no API key.
	mux.HandleFunc("POST /v1/gateway/events", webhookHandler.HandleEvent)
}
