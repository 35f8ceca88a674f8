package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/jorgekeles/sistema-barberia/internal/billing"
	"github.com/jorgekeles/sistema-barberia/internal/httpx"
	"github.com/jorgekeles/sistema-barberia/internal/storage"
)

// BillingWebhookHandler receives Stripe webhooks. No JWT; the signature is
// the auth. Replayed events are detected via provider_events and acknowledged
// without reprocessing.
type BillingWebhookHandler struct {
	repo          *storage.SubscriptionRepository
	applier       *billing.Applier
	webhookSecret string
	tolerance     time.Duration
	logger        *slog.Logger
}

func NewBillingWebhookHandler(repo *storage.SubscriptionRepository, applier *billing.Applier, webhookSecret string, logger *slog.Logger) *BillingWebhookHandler {
	return &BillingWebhookHandler{
		repo:          repo,
		applier:       applier,
		webhookSecret: webhookSecret,
		tolerance:     5 * time.Minute,
		logger:        logger,
	}
}

func (h *BillingWebhookHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(h.webhookSecret) == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.webhookSecret, h.tolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	evtType := string(evt.Type)
	h.logger.Info("billing provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
	)

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	if err := h.repo.InsertProviderEvent(r.Context(), tx, storage.ProviderEvent{
		Provider:        "stripe",
		ProviderEventID: evt.ID,
		EventType:       evtType,
		Payload:         body,
	}); err != nil {
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			h.logger.Info("billing provider event duplicate ignored", "provider_event_id", evt.ID)
			_ = tx.Commit(r.Context())
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			return
		}
		http.Error(w, "failed to record provider event", http.StatusInternalServerError)
		return
	}

	if err := h.applier.Apply(r.Context(), tx, evt); err != nil {
		h.logger.Error("stripe event apply failed", "err", err, "provider_event_id", evt.ID)
		http.Error(w, "failed to apply event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
