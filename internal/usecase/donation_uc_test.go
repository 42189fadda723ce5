package usecase

import (
	"context"
	"errors"
	"testing"

	"donation-service/internal/domain"
	"donation-service/internal/provider"
	"donation-service/internal/security"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fixture struct {
	uc           *DonationUsecase
	donations    *memDonationRepo
	campaigns    *memCampaignRepo
	receipts     *memReceiptRepo
	receiptCache *memReceiptCache
	card         *fakeGateway
	redirect     *fakeGateway
	notifier     *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	campaigns := newMemCampaignRepo()
	campaigns.put(&domain.Campaign{
		ID:       "camp-1",
		Title:    "School Library",
		Goal:     decimal.RequireFromString("1000.00"),
		OwnerID:  "owner-1",
		Approved: true,
		Active:   true,
	})

	donations := newMemDonationRepo(campaigns)
	receipts := newMemReceiptRepo()

	store := security.NewMemoryCounterStore()
	validator := security.NewValidator(security.NewRateLimiter(store, zap.NewNop()), store, zap.NewNop())

	card := &fakeGateway{
		name: "stripe",
		createResp: &provider.CreatePaymentResponse{
			ExternalID:   "pi_1",
			ClientSecret: "pi_1_secret",
			Status:       "requires_payment_method",
		},
		confirmResp: &provider.ConfirmResult{Status: "succeeded", Settled: true},
	}
	redirect := &fakeGateway{
		name: "paypal",
		createResp: &provider.CreatePaymentResponse{
			ExternalID:  "PAY-1",
			ApprovalURL: "https://example.com/approve",
			Status:      "created",
		},
		confirmResp: &provider.ConfirmResult{Status: "approved", Settled: true},
	}
	notifier := &recordingNotifier{}
	receiptCache := newMemReceiptCache()

	uc := NewDonationUsecase(
		donations,
		campaigns,
		receipts,
		receiptCache,
		validator,
		provider.NewRegistry(card, redirect),
		notifier,
		zap.NewNop(),
		"http://localhost:8042",
	)

	return &fixture{
		uc:           uc,
		donations:    donations,
		campaigns:    campaigns,
		receipts:     receipts,
		receiptCache: receiptCache,
		card:         card,
		redirect:     redirect,
		notifier:     notifier,
	}
}

func cardInput(amount string) *CreateDonationInput {
	return &CreateDonationInput{
		CampaignID:    "camp-1",
		Amount:        decimal.RequireFromString(amount),
		Currency:      "USD",
		PaymentMethod: domain.MethodCard,
		DonorID:       "user-1",
		DonorEmail:    "donor@example.com",
		IPAddress:     "10.0.0.1",
	}
}

func TestCreateCardDonation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.uc.Create(ctx, cardInput("50.00"))
	if err != nil {
		t.Fatal(err)
	}

	d := result.Donation
	if d.Status != domain.StatusProcessing {
		t.Errorf("status = %s, want processing", d.Status)
	}
	if d.ProcessingFee.StringFixed(2) != "1.75" {
		t.Errorf("fee = %s, want 1.75", d.ProcessingFee.StringFixed(2))
	}
	if d.NetAmount.StringFixed(2) != "48.25" {
		t.Errorf("net = %s, want 48.25", d.NetAmount.StringFixed(2))
	}
	if result.ClientSecret != "pi_1_secret" {
		t.Errorf("client secret = %s", result.ClientSecret)
	}
	if result.ApprovalURL != "" || result.Instructions != "" {
		t.Error("card flow must only return a client secret")
	}
	if f.card.createN != 1 {
		t.Errorf("gateway called %d times", f.card.createN)
	}
}

func TestConfirmCardDonationCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.uc.Create(ctx, cardInput("50.00"))
	if err != nil {
		t.Fatal(err)
	}

	d, err := f.uc.Confirm(ctx, result.Donation.ID, provider.ConfirmationInput{})
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", d.Status)
	}
	if d.CompletedAt == nil {
		t.Error("completed donation must carry completion time")
	}

	// Campaign aggregate reflects net, not gross.
	campaign, _ := f.campaigns.GetByID(ctx, "camp-1")
	if campaign.CurrentAmount.StringFixed(2) != "48.25" {
		t.Errorf("campaign current = %s, want 48.25", campaign.CurrentAmount.StringFixed(2))
	}

	receipt, err := f.receipts.GetByDonation(ctx, d.ID)
	if err != nil {
		t.Fatal("completed donation must have a receipt")
	}
	if receipt.ReceiptNumber == "" {
		t.Error("receipt number empty")
	}
	if !receipt.EmailSent {
		t.Error("receipt email should be marked sent after confirmation")
	}
	if f.notifier.confirmations != 1 {
		t.Errorf("confirmations sent = %d, want 1", f.notifier.confirmations)
	}
}

func TestConfirmIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, _ := f.uc.Create(ctx, cardInput("50.00"))
	if _, err := f.uc.Confirm(ctx, result.Donation.ID, provider.ConfirmationInput{}); err != nil {
		t.Fatal(err)
	}
	d, err := f.uc.Confirm(ctx, result.Donation.ID, provider.ConfirmationInput{})
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != domain.StatusCompleted {
		t.Errorf("status = %s", d.Status)
	}
	if f.notifier.confirmations != 1 {
		t.Errorf("confirmations sent = %d, want 1", f.notifier.confirmations)
	}
}

func TestGetReceiptServesFromCacheOnRepeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, _ := f.uc.Create(ctx, cardInput("50.00"))
	if _, err := f.uc.Confirm(ctx, result.Donation.ID, provider.ConfirmationInput{}); err != nil {
		t.Fatal(err)
	}

	first, err := f.uc.GetReceipt(ctx, result.Donation.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.uc.GetReceipt(ctx, result.Donation.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.ReceiptNumber != second.ReceiptNumber {
		t.Errorf("receipt number changed between lookups: %s vs %s", first.ReceiptNumber, second.ReceiptNumber)
	}
	if f.receiptCache.hits != 1 {
		t.Errorf("cache hits = %d, want 1", f.receiptCache.hits)
	}
}

func TestGetReceiptNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.uc.GetReceipt(context.Background(), "missing")
	if !errors.Is(err, domain.ErrReceiptNotFound) {
		t.Fatalf("err = %v, want ErrReceiptNotFound", err)
	}
}

func TestCreateManualDonation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	input := cardInput("100.00")
	input.PaymentMethod = domain.MethodMobileMoney

	result, err := f.uc.Create(ctx, input)
	if err != nil {
		t.Fatal(err)
	}
	if result.Donation.Status != domain.StatusPending {
		t.Errorf("status = %s, want pending", result.Donation.Status)
	}
	if result.Instructions == "" {
		t.Error("manual methods must return settlement instructions")
	}
	if f.card.createN != 0 || f.redirect.createN != 0 {
		t.Error("manual methods must not touch a gateway")
	}
	if result.Donation.ProcessingFee.StringFixed(2) != "4.00" {
		t.Errorf("mobile money fee = %s, want 4.00", result.Donation.ProcessingFee.StringFixed(2))
	}
}

func TestApproveManualDonation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	input := cardInput("100.00")
	input.PaymentMethod = domain.MethodBankTransfer

	result, _ := f.uc.Create(ctx, input)
	d, err := f.uc.ApproveManual(ctx, result.Donation.ID, "wire-ref-77")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want completed", d.Status)
	}
	if d.ExternalPaymentID == nil || *d.ExternalPaymentID != "wire-ref-77" {
		t.Error("approval must store the settlement reference")
	}

	campaign, _ := f.campaigns.GetByID(ctx, "camp-1")
	if campaign.CurrentAmount.StringFixed(2) != "98.00" {
		t.Errorf("campaign current = %s, want 98.00", campaign.CurrentAmount.StringFixed(2))
	}
}

func TestApproveManualRejectsGatewayMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, _ := f.uc.Create(ctx, cardInput("50.00"))
	if _, err := f.uc.ApproveManual(ctx, result.Donation.ID, ""); !errors.Is(err, domain.ErrUnsupportedPaymentMethod) {
		t.Errorf("err = %v, want ErrUnsupportedPaymentMethod", err)
	}
}

func TestRejectManualDonation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	input := cardInput("100.00")
	input.PaymentMethod = domain.MethodMobileMoney

	result, _ := f.uc.Create(ctx, input)
	d, err := f.uc.RejectManual(ctx, result.Donation.ID, "no matching transfer found")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != domain.StatusFailed {
		t.Errorf("status = %s, want failed", d.Status)
	}
	if f.notifier.failures != 1 {
		t.Errorf("failure notices = %d, want 1", f.notifier.failures)
	}
}

func TestCreateValidationRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.uc.Create(ctx, cardInput("0.50"))
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("err = %v, want ErrValidationFailed", err)
	}
	if result.Verdict == nil || result.Verdict.Valid {
		t.Error("verdict must carry the rejection")
	}
	if result.Donation != nil {
		t.Error("rejected donation must not be persisted")
	}
	if len(f.donations.donations) != 0 {
		t.Error("store must stay empty after rejection")
	}
}

func TestCreateCampaignClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.campaigns.put(&domain.Campaign{ID: "camp-closed", Approved: true, Active: false})

	input := cardInput("50.00")
	input.CampaignID = "camp-closed"
	if _, err := f.uc.Create(ctx, input); !errors.Is(err, domain.ErrCampaignClosed) {
		t.Errorf("err = %v, want ErrCampaignClosed", err)
	}
}

func TestCreateGatewayFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.card.createErr = &domain.GatewayError{Provider: "stripe", Reason: "down"}

	result, err := f.uc.Create(ctx, cardInput("50.00"))
	if err == nil {
		t.Fatal("expected gateway error")
	}

	stored, _ := f.donations.GetByID(ctx, result.Donation.ID)
	if stored.Status != domain.StatusFailed {
		t.Errorf("status = %s, want failed", stored.Status)
	}
}

func TestCancelDonation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, _ := f.uc.Create(ctx, cardInput("50.00"))
	d, err := f.uc.Cancel(ctx, result.Donation.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != domain.StatusCancelled {
		t.Errorf("status = %s, want cancelled", d.Status)
	}

	// A settled donation cannot be cancelled.
	result2, _ := f.uc.Create(ctx, cardInput("50.00"))
	f.uc.Confirm(ctx, result2.Donation.ID, provider.ConfirmationInput{})
	if _, err := f.uc.Cancel(ctx, result2.Donation.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestRefundDonation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, _ := f.uc.Create(ctx, cardInput("50.00"))
	f.uc.Confirm(ctx, result.Donation.ID, provider.ConfirmationInput{})

	d, err := f.uc.Refund(ctx, result.Donation.ID, "donor request")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != domain.StatusRefunded {
		t.Errorf("status = %s, want refunded", d.Status)
	}
	if f.card.refundN != 1 {
		t.Errorf("gateway refunds = %d, want 1", f.card.refundN)
	}
	if f.card.refundCurrency != "USD" {
		t.Errorf("refund currency = %q, want the donation's currency", f.card.refundCurrency)
	}
	if f.notifier.refunds != 1 {
		t.Errorf("refund notices = %d, want 1", f.notifier.refunds)
	}

	// Refunded net no longer counts toward the campaign.
	campaign, _ := f.campaigns.GetByID(ctx, "camp-1")
	if campaign.CurrentAmount.StringFixed(2) != "0.00" {
		t.Errorf("campaign current = %s, want 0.00", campaign.CurrentAmount.StringFixed(2))
	}
}

func TestRefundRequiresCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, _ := f.uc.Create(ctx, cardInput("50.00"))
	if _, err := f.uc.Refund(ctx, result.Donation.ID, "too soon"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
	if f.card.refundN != 0 {
		t.Error("gateway must not be called for an invalid refund")
	}
}

func TestRefundGatewayErrorLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, _ := f.uc.Create(ctx, cardInput("50.00"))
	f.uc.Confirm(ctx, result.Donation.ID, provider.ConfirmationInput{})

	f.card.refundErr = &domain.GatewayError{Provider: "stripe", Reason: "refund rejected"}
	if _, err := f.uc.Refund(ctx, result.Donation.ID, "donor request"); err == nil {
		t.Fatal("expected gateway error")
	}

	stored, _ := f.donations.GetByID(ctx, result.Donation.ID)
	if stored.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want completed after failed provider refund", stored.Status)
	}
}

func TestRecomputeCampaign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, _ := f.uc.Create(ctx, cardInput("50.00"))
	if _, err := f.uc.Confirm(ctx, result.Donation.ID, provider.ConfirmationInput{}); err != nil {
		t.Fatal(err)
	}

	total, err := f.uc.RecomputeCampaign(ctx, "camp-1")
	if err != nil {
		t.Fatal(err)
	}
	if total.StringFixed(2) != "48.25" {
		t.Errorf("recomputed total = %s, want 48.25", total.StringFixed(2))
	}

	if _, err := f.uc.RecomputeCampaign(ctx, "missing"); !errors.Is(err, domain.ErrCampaignNotFound) {
		t.Fatalf("err = %v, want ErrCampaignNotFound", err)
	}
}
