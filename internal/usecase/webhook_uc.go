package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"donation-service/internal/domain"
	"donation-service/internal/provider"
	"donation-service/internal/repository"
	"donation-service/pkg/generator"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrWebhookVerification is returned when a webhook's signature or transport
// headers fail verification; handlers map it to 400 so the provider does not
// retry a forged request.
var ErrWebhookVerification = errors.New("webhook verification failed")

// FailureTracker records webhook processing failures for operator review.
type FailureTracker interface {
	RecordFailure(ctx context.Context, providerName, externalID, reason string)
}

type WebhookUsecase struct {
	donations repository.DonationRepository
	receipts  repository.ReceiptRepository
	registry  *provider.Registry
	notifier  Notifier
	failures  FailureTracker
	logger    *zap.Logger
	now       func() time.Time
}

func NewWebhookUsecase(
	donations repository.DonationRepository,
	receipts repository.ReceiptRepository,
	registry *provider.Registry,
	notifier Notifier,
	failures FailureTracker,
	logger *zap.Logger,
) *WebhookUsecase {
	return &WebhookUsecase{
		donations: donations,
		receipts:  receipts,
		registry:  registry,
		notifier:  notifier,
		failures:  failures,
		logger:    logger,
		now:       time.Now,
	}
}

// targetStatus maps provider events onto state machine targets.
func targetStatus(t provider.EventType) (domain.DonationStatus, bool) {
	switch t {
	case provider.EventPaymentCompleted:
		return domain.StatusCompleted, true
	case provider.EventPaymentFailed:
		return domain.StatusFailed, true
	case provider.EventPaymentCancelled:
		return domain.StatusCancelled, true
	case provider.EventRefundCompleted:
		return domain.StatusRefunded, true
	}
	return "", false
}

// Process verifies and applies one webhook delivery. The method is
// idempotent: replaying an event whose transition already happened is a
// logged no-op, so a 200 is only returned after the state is durable.
func (uc *WebhookUsecase) Process(ctx context.Context, providerName string, headers http.Header, payload []byte) error {
	gw, err := uc.registry.ForName(providerName)
	if err != nil {
		return err
	}

	if err := gw.VerifyWebhook(headers, payload); err != nil {
		uc.logger.Warn("webhook rejected",
			zap.String("provider", providerName),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrWebhookVerification, err)
	}

	event, err := gw.ParseWebhookEvent(payload)
	if err != nil {
		uc.failures.RecordFailure(ctx, providerName, "", "unparseable payload")
		return fmt.Errorf("parse webhook: %w", err)
	}

	if event.Type == provider.EventUnknown {
		uc.logger.Info("webhook event ignored",
			zap.String("provider", providerName),
			zap.String("raw_type", event.RawType))
		return nil
	}

	target, ok := targetStatus(event.Type)
	if !ok {
		return nil
	}

	donation, err := uc.donations.GetByExternalID(ctx, event.ExternalID)
	if err != nil {
		if errors.Is(err, domain.ErrDonationNotFound) {
			// Event for a payment we never initiated. Acknowledge so the
			// provider stops retrying, but keep the record.
			uc.logger.Warn("webhook for unknown payment",
				zap.String("provider", providerName),
				zap.String("external_id", event.ExternalID),
				zap.String("raw_type", event.RawType))
			uc.failures.RecordFailure(ctx, providerName, event.ExternalID, "unknown external payment id")
			return nil
		}
		return err
	}

	if donation.Status == target {
		uc.logger.Info("webhook replay ignored",
			zap.String("donation_id", donation.ID),
			zap.String("status", string(target)))
		return nil
	}

	if err := uc.apply(ctx, donation, event, target); err != nil {
		var terr *domain.TransitionError
		if errors.As(err, &terr) {
			// Out-of-order delivery against a terminal state. The durable
			// state wins; acknowledge and record for review.
			uc.logger.Warn("webhook transition rejected",
				zap.String("donation_id", donation.ID),
				zap.String("from", string(terr.From)),
				zap.String("to", string(terr.To)))
			uc.failures.RecordFailure(ctx, providerName, event.ExternalID, terr.Error())
			return nil
		}
		uc.failures.RecordFailure(ctx, providerName, event.ExternalID, err.Error())
		return err
	}

	uc.logger.Info("webhook applied",
		zap.String("provider", providerName),
		zap.String("donation_id", donation.ID),
		zap.String("event", string(event.Type)))
	return nil
}

func (uc *WebhookUsecase) apply(ctx context.Context, d *domain.Donation, event *provider.WebhookEvent, target domain.DonationStatus) error {
	switch target {
	case domain.StatusCompleted:
		now := uc.now()
		if err := uc.donations.MarkCompleted(ctx, d.ID, &event.ExternalID, now); err != nil {
			return err
		}
		receipt := &domain.Receipt{
			ID:            uuid.NewString(),
			DonationID:    d.ID,
			ReceiptNumber: generator.ReceiptNumber(now),
		}
		if err := uc.receipts.Create(ctx, receipt); err != nil {
			uc.logger.Error("issue receipt", zap.Error(err), zap.String("donation_id", d.ID))
			return nil
		}
		uc.notifier.SendConfirmation(ctx, d, receipt.ReceiptNumber)
		if err := uc.receipts.MarkEmailSent(ctx, receipt.ID, now); err != nil {
			uc.logger.Warn("mark receipt email sent", zap.Error(err), zap.String("receipt_id", receipt.ID))
		}
		return nil
	case domain.StatusFailed:
		if err := uc.donations.MarkFailed(ctx, d.ID, "provider reported failure: "+event.RawType); err != nil {
			return err
		}
		uc.notifier.SendFailureNotice(ctx, d, event.RawType)
		return nil
	case domain.StatusCancelled:
		return uc.donations.MarkCancelled(ctx, d.ID)
	case domain.StatusRefunded:
		if err := uc.donations.MarkRefunded(ctx, d.ID, "provider reported refund: "+event.RawType); err != nil {
			return err
		}
		uc.notifier.SendRefundNotice(ctx, d, event.RawType)
		return nil
	}
	return nil
}
