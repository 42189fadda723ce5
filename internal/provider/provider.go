package provider

import (
	"context"
	"net/http"

	"donation-service/internal/domain"

	"github.com/shopspring/decimal"
)

// Gateway is the uniform adapter over external payment providers. Calls are
// synchronous with bounded timeouts; failures are never retried by the
// adapter itself. Retry belongs to the caller or to webhook redelivery.
type Gateway interface {
	// Name returns the provider family name used in webhook routing.
	Name() string

	// CreatePayment initiates the external payment and returns the provider
	// id plus the client artifact (confirmation token or redirect target).
	CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*CreatePaymentResponse, error)

	// ConfirmPayment finalizes a previously created payment.
	ConfirmPayment(ctx context.Context, externalID string, input ConfirmationInput) (*ConfirmResult, error)

	// CreateRefund refunds a settled payment, fully when the request amount
	// is nil.
	CreateRefund(ctx context.Context, req *RefundRequest) (*RefundResult, error)

	// VerifyWebhook checks provider-specific authenticity of a notification.
	VerifyWebhook(headers http.Header, payload []byte) error

	// ParseWebhookEvent extracts the normalized event from a verified payload.
	ParseWebhookEvent(payload []byte) (*WebhookEvent, error)
}

type CreatePaymentRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Description string
	ReturnURL   string
	CancelURL   string
	Metadata    map[string]string
	// IdempotencyKey dedupes retried creates on the provider side; derived
	// from the donation id so a retry never opens a second payment.
	IdempotencyKey string
}

type CreatePaymentResponse struct {
	ExternalID string
	// ClientSecret is set by the card variant: the donor's client confirms
	// the held payment with it.
	ClientSecret string
	// ApprovalURL is set by the redirect variant: the donor approves on the
	// provider site and returns for execution.
	ApprovalURL string
	Status      string
}

type ConfirmationInput struct {
	// PayerID is required by the redirect variant's execute step.
	PayerID string
}

type ConfirmResult struct {
	Status        string
	Settled       bool
	SettledAmount decimal.Decimal
}

type RefundRequest struct {
	ExternalID string
	// Amount refunds partially when set; nil refunds the full charge.
	Amount *decimal.Decimal
	// Currency is the original donation's currency. Partial refunds are
	// denominated in it.
	Currency string
}

type RefundResult struct {
	RefundID       string
	Status         string
	RefundedAmount decimal.Decimal
}

type EventType string

const (
	EventPaymentCompleted EventType = "payment.completed"
	EventPaymentFailed    EventType = "payment.failed"
	EventPaymentCancelled EventType = "payment.cancelled"
	EventRefundCompleted  EventType = "refund.completed"
	// EventUnknown marks provider event types we do not act on; they are
	// logged and acknowledged without error.
	EventUnknown EventType = "unknown"
)

type WebhookEvent struct {
	Type       EventType
	ExternalID string
	Amount     decimal.Decimal
	// RawType is the provider's own event type string, kept for logging.
	RawType string
}

// Registry is the closed payment-method-to-gateway mapping, fixed at
// initialization. Manual methods settle outside any gateway and are
// deliberately unmapped.
type Registry struct {
	byMethod map[domain.PaymentMethod]Gateway
	byName   map[string]Gateway
}

func NewRegistry(card, redirect Gateway) *Registry {
	return &Registry{
		byMethod: map[domain.PaymentMethod]Gateway{
			domain.MethodCard:   card,
			domain.MethodPayPal: redirect,
		},
		byName: map[string]Gateway{
			card.Name():     card,
			redirect.Name(): redirect,
		},
	}
}

// ForMethod resolves the gateway variant for a payment method. Unmapped
// methods fail with ErrUnsupportedPaymentMethod; callers handle manual
// methods before reaching here.
func (r *Registry) ForMethod(method domain.PaymentMethod) (Gateway, error) {
	gw, ok := r.byMethod[method]
	if !ok {
		return nil, domain.ErrUnsupportedPaymentMethod
	}
	return gw, nil
}

// ForName resolves a gateway by provider family name for webhook routing.
func (r *Registry) ForName(name string) (Gateway, error) {
	gw, ok := r.byName[name]
	if !ok {
		return nil, domain.ErrUnsupportedPaymentMethod
	}
	return gw, nil
}
