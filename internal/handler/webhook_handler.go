package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"donation-service/internal/domain"
	"donation-service/internal/usecase"

	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// FailureLister exposes recorded webhook failures for operator review.
type FailureLister interface {
	RecentFailures(ctx context.Context, n int64) ([]json.RawMessage, error)
}

type WebhookHandler struct {
	webhookUC *usecase.WebhookUsecase
	failures  FailureLister
	logger    *zap.Logger
}

func NewWebhookHandler(webhookUC *usecase.WebhookUsecase, failures FailureLister, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhookUC: webhookUC,
		failures:  failures,
		logger:    logger,
	}
}

// HandleStripeWebhook receives card provider events.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "stripe")
}

// HandlePayPalWebhook receives redirect provider events.
func (h *WebhookHandler) HandlePayPalWebhook(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "paypal")
}

// HandleListFailures returns recent webhook processing failures, newest
// first. Query parameter limit caps the result, default 50.
func (h *WebhookHandler) HandleListFailures(w http.ResponseWriter, r *http.Request) {
	limit := int64(50)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 {
			sendError(w, http.StatusBadRequest, "invalid limit", err)
			return
		}
		limit = n
	}

	entries, err := h.failures.RecentFailures(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to load webhook failures", zap.Error(err))
		sendError(w, http.StatusInternalServerError, "failed to load webhook failures", err)
		return
	}
	sendSuccess(w, http.StatusOK, "webhook failures", map[string]interface{}{
		"count":    len(entries),
		"failures": entries,
	})
}

// handle applies one delivery. A 200 is only written after the resulting
// state is durable; processing errors return 500 so the provider retries.
func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request, providerName string) {
	ctx := r.Context()

	h.logger.Info("received webhook",
		zap.String("provider", providerName),
		zap.String("remote_addr", r.RemoteAddr))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body",
			zap.String("provider", providerName),
			zap.Error(err))
		webhookEvents.WithLabelValues(providerName, "read_error").Inc()
		sendError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	if err := h.webhookUC.Process(ctx, providerName, r.Header, body); err != nil {
		switch {
		case errors.Is(err, usecase.ErrWebhookVerification):
			webhookEvents.WithLabelValues(providerName, "rejected").Inc()
			sendError(w, http.StatusBadRequest, "webhook verification failed", err)
		case errors.Is(err, domain.ErrUnsupportedPaymentMethod):
			webhookEvents.WithLabelValues(providerName, "rejected").Inc()
			sendError(w, http.StatusNotFound, "unknown provider", err)
		default:
			h.logger.Error("webhook processing failed",
				zap.String("provider", providerName),
				zap.Error(err))
			webhookEvents.WithLabelValues(providerName, "error").Inc()
			sendError(w, http.StatusInternalServerError, "failed to process webhook", err)
		}
		return
	}

	webhookEvents.WithLabelValues(providerName, "processed").Inc()
	sendSuccess(w, http.StatusOK, "webhook processed", map[string]interface{}{
		"received": true,
	})
}
