package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"donation-service/internal/domain"
	"donation-service/internal/provider"
	"donation-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type DonationHandler struct {
	donationUC  *usecase.DonationUsecase
	recurringUC *usecase.RecurringUsecase
	logger      *zap.Logger
}

func NewDonationHandler(donationUC *usecase.DonationUsecase, recurringUC *usecase.RecurringUsecase, logger *zap.Logger) *DonationHandler {
	return &DonationHandler{
		donationUC:  donationUC,
		recurringUC: recurringUC,
		logger:      logger,
	}
}

type createDonationRequest struct {
	CampaignID    string          `json:"campaign_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method"`
	Message       string          `json:"message"`

	DonorID          string     `json:"donor_id"`
	DonorName        string     `json:"donor_name"`
	DonorEmail       string     `json:"donor_email"`
	Anonymous        bool       `json:"anonymous"`
	AccountCreatedAt *time.Time `json:"account_created_at"`

	IsRecurring bool   `json:"is_recurring"`
	Frequency   string `json:"frequency"`
}

// HandleCreateDonation runs the donation intake pipeline.
func (h *DonationHandler) HandleCreateDonation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createDonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode donation request", zap.Error(err))
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	result, err := h.donationUC.Create(ctx, &usecase.CreateDonationInput{
		CampaignID:       req.CampaignID,
		Amount:           req.Amount,
		Currency:         req.Currency,
		PaymentMethod:    domain.PaymentMethod(req.PaymentMethod),
		Message:          req.Message,
		DonorID:          req.DonorID,
		DonorName:        req.DonorName,
		DonorEmail:       req.DonorEmail,
		Anonymous:        req.Anonymous,
		AccountCreatedAt: req.AccountCreatedAt,
		IsRecurring:      req.IsRecurring,
		Frequency:        domain.RecurringFrequency(req.Frequency),
		IPAddress:        r.RemoteAddr,
		UserAgent:        r.UserAgent(),
	})
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrValidationFailed):
			donationsRejected.Inc()
			h.logger.Info("donation rejected by validation",
				zap.String("campaign_id", req.CampaignID),
				zap.Strings("errors", result.Verdict.Errors))
			sendValidationError(w, "donation rejected", result.Verdict.Errors)
		case errors.Is(err, domain.ErrCampaignNotFound):
			sendError(w, http.StatusNotFound, "campaign not found", err)
		case errors.Is(err, domain.ErrCampaignClosed):
			sendError(w, http.StatusConflict, "campaign is not accepting donations", err)
		case errors.Is(err, domain.ErrUnsupportedPaymentMethod):
			sendError(w, http.StatusBadRequest, "unsupported payment method", err)
		default:
			h.logger.Error("failed to create donation",
				zap.String("campaign_id", req.CampaignID),
				zap.Error(err))
			sendError(w, http.StatusBadGateway, "failed to initiate payment", err)
		}
		return
	}

	donationsCreated.WithLabelValues(req.PaymentMethod).Inc()
	h.logger.Info("donation created",
		zap.String("donation_id", result.Donation.ID),
		zap.String("campaign_id", result.Donation.CampaignID),
		zap.String("method", string(result.Donation.PaymentMethod)),
		zap.String("amount", result.Donation.Amount.StringFixed(2)),
		zap.String("status", string(result.Donation.Status)))

	sendSuccess(w, http.StatusCreated, "donation created", result)
}

// HandleGetDonation returns a single donation by id.
func (h *DonationHandler) HandleGetDonation(w http.ResponseWriter, r *http.Request) {
	donation, err := h.donationUC.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrDonationNotFound) {
			sendError(w, http.StatusNotFound, "donation not found", err)
			return
		}
		sendError(w, http.StatusInternalServerError, "failed to load donation", err)
		return
	}
	sendSuccess(w, http.StatusOK, "donation", donation)
}

// HandleGetReceipt returns the receipt issued for a completed donation.
func (h *DonationHandler) HandleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.donationUC.GetReceipt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrReceiptNotFound) {
			sendError(w, http.StatusNotFound, "receipt not found", err)
			return
		}
		sendError(w, http.StatusInternalServerError, "failed to load receipt", err)
		return
	}
	sendSuccess(w, http.StatusOK, "receipt", receipt)
}

type confirmRequest struct {
	PayerID string `json:"payer_id"`
}

// HandleConfirmDonation settles a processing donation after the donor
// finished the provider-side step.
func (h *DonationHandler) HandleConfirmDonation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req confirmRequest
	if r.Body != nil {
		// Body is optional for card confirmations.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.PayerID == "" {
		req.PayerID = r.URL.Query().Get("PayerID")
	}

	donation, err := h.donationUC.Confirm(r.Context(), id, provider.ConfirmationInput{PayerID: req.PayerID})
	if err != nil {
		h.respondTransition(w, id, "failed to confirm donation", err)
		return
	}
	if donation.Status == domain.StatusCompleted {
		donationTransitions.WithLabelValues(string(domain.StatusCompleted)).Inc()
	}
	sendSuccess(w, http.StatusOK, "donation confirmed", donation)
}

// HandleCancelDonation aborts a pending or processing donation.
func (h *DonationHandler) HandleCancelDonation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	donation, err := h.donationUC.Cancel(r.Context(), id)
	if err != nil {
		h.respondTransition(w, id, "failed to cancel donation", err)
		return
	}
	donationTransitions.WithLabelValues(string(domain.StatusCancelled)).Inc()
	sendSuccess(w, http.StatusOK, "donation cancelled", donation)
}

type adminActionRequest struct {
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}

// HandleApproveDonation settles a manual-method donation an admin verified.
func (h *DonationHandler) HandleApproveDonation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req adminActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	donation, err := h.donationUC.ApproveManual(r.Context(), id, req.Reference)
	if err != nil {
		h.respondTransition(w, id, "failed to approve donation", err)
		return
	}
	donationTransitions.WithLabelValues(string(domain.StatusCompleted)).Inc()
	sendSuccess(w, http.StatusOK, "donation approved", donation)
}

// HandleRejectDonation fails a manual-method donation an admin rejected.
func (h *DonationHandler) HandleRejectDonation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req adminActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Reason == "" {
		sendError(w, http.StatusBadRequest, "reason is required", nil)
		return
	}

	donation, err := h.donationUC.RejectManual(r.Context(), id, req.Reason)
	if err != nil {
		h.respondTransition(w, id, "failed to reject donation", err)
		return
	}
	donationTransitions.WithLabelValues(string(domain.StatusFailed)).Inc()
	sendSuccess(w, http.StatusOK, "donation rejected", donation)
}

// HandleRefundDonation reverses a completed donation.
func (h *DonationHandler) HandleRefundDonation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req adminActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Reason == "" {
		sendError(w, http.StatusBadRequest, "reason is required", nil)
		return
	}

	donation, err := h.donationUC.Refund(r.Context(), id, req.Reason)
	if err != nil {
		h.respondTransition(w, id, "failed to refund donation", err)
		return
	}
	donationTransitions.WithLabelValues(string(domain.StatusRefunded)).Inc()
	sendSuccess(w, http.StatusOK, "donation refunded", donation)
}

// HandleGetCampaignProgress reports a campaign's aggregate funding state.
func (h *DonationHandler) HandleGetCampaignProgress(w http.ResponseWriter, r *http.Request) {
	campaign, err := h.donationUC.GetCampaign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrCampaignNotFound) {
			sendError(w, http.StatusNotFound, "campaign not found", err)
			return
		}
		sendError(w, http.StatusInternalServerError, "failed to load campaign", err)
		return
	}

	sendSuccess(w, http.StatusOK, "campaign progress", map[string]interface{}{
		"campaign_id":      campaign.ID,
		"title":            campaign.Title,
		"goal":             campaign.Goal.StringFixed(2),
		"current_amount":   campaign.CurrentAmount.StringFixed(2),
		"progress_percent": campaign.ProgressPercent(),
	})
}

// HandleRecomputeCampaign rebuilds a campaign's current_amount from its
// completed donations.
func (h *DonationHandler) HandleRecomputeCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	total, err := h.donationUC.RecomputeCampaign(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrCampaignNotFound) {
			sendError(w, http.StatusNotFound, "campaign not found", err)
			return
		}
		h.logger.Error("failed to recompute campaign", zap.String("campaign_id", id), zap.Error(err))
		sendError(w, http.StatusInternalServerError, "failed to recompute campaign", err)
		return
	}

	sendSuccess(w, http.StatusOK, "campaign recomputed", map[string]interface{}{
		"campaign_id":    id,
		"current_amount": total.StringFixed(2),
	})
}

// HandleProcessRecurring runs the renewal scheduler once. Query parameter
// dry_run=true counts due chains without writing.
func (h *DonationHandler) HandleProcessRecurring(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("dry_run") == "true"

	report, err := h.recurringUC.ProcessDue(r.Context(), dryRun)
	if err != nil {
		h.logger.Error("recurring run failed", zap.Error(err))
		sendError(w, http.StatusInternalServerError, "failed to process recurring donations", err)
		return
	}

	h.logger.Info("recurring run finished",
		zap.Bool("dry_run", dryRun),
		zap.Int("processed", report.Processed),
		zap.Int("failed", report.Failed))
	sendSuccess(w, http.StatusOK, "recurring donations processed", report)
}

func (h *DonationHandler) respondTransition(w http.ResponseWriter, id, message string, err error) {
	switch {
	case errors.Is(err, domain.ErrDonationNotFound):
		sendError(w, http.StatusNotFound, "donation not found", err)
	case errors.Is(err, domain.ErrInvalidTransition):
		sendError(w, http.StatusConflict, message, err)
	case errors.Is(err, domain.ErrUnsupportedPaymentMethod):
		sendError(w, http.StatusBadRequest, message, err)
	default:
		h.logger.Error(message, zap.String("donation_id", id), zap.Error(err))
		sendError(w, http.StatusBadGateway, message, err)
	}
}
