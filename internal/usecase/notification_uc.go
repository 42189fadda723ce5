package usecase

import (
	"context"
	"encoding/json"
	"time"

	"donation-service/internal/domain"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Notifier publishes donor-facing notification events. Publishing is
// fire-and-forget from the payment pipeline's perspective: a broker outage
// must never fail a state transition.
type Notifier interface {
	SendConfirmation(ctx context.Context, d *domain.Donation, receiptNumber string)
	SendFailureNotice(ctx context.Context, d *domain.Donation, reason string)
	SendRefundNotice(ctx context.Context, d *domain.Donation, reason string)
}

type notificationEvent struct {
	Type          string `json:"type"`
	DonationID    string `json:"donation_id"`
	CampaignID    string `json:"campaign_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	DonorEmail    string `json:"donor_email,omitempty"`
	DonorName     string `json:"donor_name,omitempty"`
	ReceiptNumber string `json:"receipt_number,omitempty"`
	Reason        string `json:"reason,omitempty"`
	OccurredAt    string `json:"occurred_at"`
}

// KafkaNotifier publishes notification events to the donation topic for the
// downstream mailer to consume.
type KafkaNotifier struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaNotifier(writer *kafka.Writer, logger *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{writer: writer, logger: logger}
}

func (n *KafkaNotifier) SendConfirmation(ctx context.Context, d *domain.Donation, receiptNumber string) {
	n.publish(ctx, "donation.confirmed", d, receiptNumber, "")
}

func (n *KafkaNotifier) SendFailureNotice(ctx context.Context, d *domain.Donation, reason string) {
	n.publish(ctx, "donation.failed", d, "", reason)
}

func (n *KafkaNotifier) SendRefundNotice(ctx context.Context, d *domain.Donation, reason string) {
	n.publish(ctx, "donation.refunded", d, "", reason)
}

func (n *KafkaNotifier) publish(ctx context.Context, eventType string, d *domain.Donation, receiptNumber, reason string) {
	if d.DonorEmail == nil || *d.DonorEmail == "" {
		return
	}

	ev := notificationEvent{
		Type:          eventType,
		DonationID:    d.ID,
		CampaignID:    d.CampaignID,
		Amount:        d.Amount.StringFixed(2),
		Currency:      d.Currency,
		DonorEmail:    *d.DonorEmail,
		ReceiptNumber: receiptNumber,
		Reason:        reason,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if d.DonorName != nil && !d.Anonymous {
		ev.DonorName = *d.DonorName
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("marshal notification", zap.Error(err), zap.String("donation_id", d.ID))
		return
	}

	if err := n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(d.ID),
		Value: payload,
	}); err != nil {
		n.logger.Error("publish notification",
			zap.Error(err),
			zap.String("type", eventType),
			zap.String("donation_id", d.ID))
	}
}

// NopNotifier is used when no broker is configured.
type NopNotifier struct{}

func (NopNotifier) SendConfirmation(context.Context, *domain.Donation, string) {}
func (NopNotifier) SendFailureNotice(context.Context, *domain.Donation, string) {}
func (NopNotifier) SendRefundNotice(context.Context, *domain.Donation, string) {}
