package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"donation-service/internal/domain"
)

type stubGateway struct {
	name string
}

func (g *stubGateway) Name() string { return g.name }
func (g *stubGateway) CreatePayment(context.Context, *CreatePaymentRequest) (*CreatePaymentResponse, error) {
	return nil, nil
}
func (g *stubGateway) ConfirmPayment(context.Context, string, ConfirmationInput) (*ConfirmResult, error) {
	return nil, nil
}
func (g *stubGateway) CreateRefund(context.Context, *RefundRequest) (*RefundResult, error) {
	return nil, nil
}
func (g *stubGateway) VerifyWebhook(http.Header, []byte) error         { return nil }
func (g *stubGateway) ParseWebhookEvent([]byte) (*WebhookEvent, error) { return nil, nil }

func TestRegistryForMethod(t *testing.T) {
	card := &stubGateway{name: "stripe"}
	redirect := &stubGateway{name: "paypal"}
	reg := NewRegistry(card, redirect)

	gw, err := reg.ForMethod(domain.MethodCard)
	if err != nil || gw.Name() != "stripe" {
		t.Errorf("card method -> %v, %v; want stripe", gw, err)
	}

	gw, err = reg.ForMethod(domain.MethodPayPal)
	if err != nil || gw.Name() != "paypal" {
		t.Errorf("paypal method -> %v, %v; want paypal", gw, err)
	}

	// Manual methods settle outside any gateway.
	for _, m := range []domain.PaymentMethod{domain.MethodMobileMoney, domain.MethodBankTransfer, domain.MethodCrypto} {
		if _, err := reg.ForMethod(m); !errors.Is(err, domain.ErrUnsupportedPaymentMethod) {
			t.Errorf("ForMethod(%s) err = %v, want ErrUnsupportedPaymentMethod", m, err)
		}
	}

	if _, err := reg.ForMethod(domain.PaymentMethod("wire")); !errors.Is(err, domain.ErrUnsupportedPaymentMethod) {
		t.Errorf("unknown method err = %v, want ErrUnsupportedPaymentMethod", err)
	}
}

func TestRegistryForName(t *testing.T) {
	reg := NewRegistry(&stubGateway{name: "stripe"}, &stubGateway{name: "paypal"})

	if gw, err := reg.ForName("stripe"); err != nil || gw.Name() != "stripe" {
		t.Errorf("ForName(stripe) = %v, %v", gw, err)
	}
	if _, err := reg.ForName("square"); !errors.Is(err, domain.ErrUnsupportedPaymentMethod) {
		t.Errorf("unknown name err = %v, want ErrUnsupportedPaymentMethod", err)
	}
}
