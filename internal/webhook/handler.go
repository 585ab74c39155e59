package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cliprally/backend/internal/gateway"
	"github.com/cliprally/backend/internal/models"
)

// maxBodyBytes caps webhook payloads well above anything the gateway sends.
const maxBodyBytes = 1 << 20

// Handler serves POST /v1/gateway/events. Signature verification happens on
// the raw body before any parsing; an unverifiable delivery is rejected with
// no side effects.
type Handler struct {
	Reconciler *Reconciler
	Secret     string
	Tolerance  time.Duration
	Logger     *slog.Logger
}

func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, `{"error":"unreadable body"}`, http.StatusBadRequest)
		return
	}

	if err := gateway.VerifySignature(body, r.Header.Get(gateway.SignatureHeader), h.Secret, time.Now(), h.Tolerance); err != nil {
		h.Logger.Warn("webhook signature rejected", "error", err)
		http.Error(w, `{"error":"invalid signature"}`, http.StatusBadRequest)
		return
	}

	var event models.GatewayEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if event.ID == "" || event.Kind == "" {
		http.Error(w, `{"error":"missing event id or kind"}`, http.StatusBadRequest)
		return
	}

	if err := h.Reconciler.HandleEvent(r.Context(), event); err != nil {
		// Non-2xx makes the gateway redeliver; nothing was committed.
		h.Logger.Error("gateway event processing failed", "event_id", event.ID, "kind", event.Kind, "error", err)
		http.Error(w, `{"error":"event processing failed"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"received":true}`))
}
