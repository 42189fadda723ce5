package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"donation-service/internal/domain"
	"donation-service/internal/fees"
	"donation-service/internal/provider"
	"donation-service/internal/repository"
	"donation-service/internal/security"
	"donation-service/pkg/generator"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrValidationFailed signals the request was rejected by the fraud
// validator; the verdict attached to the result carries the reasons.
var ErrValidationFailed = errors.New("donation validation failed")

type CreateDonationInput struct {
	CampaignID    string
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod domain.PaymentMethod
	Message       string

	DonorID          string
	DonorName        string
	DonorEmail       string
	Anonymous        bool
	AccountCreatedAt *time.Time

	IsRecurring bool
	Frequency   domain.RecurringFrequency

	IPAddress string
	UserAgent string
}

type CreateDonationResult struct {
	Donation *domain.Donation  `json:"donation"`
	Verdict  *security.Verdict `json:"verdict,omitempty"`

	// ClientSecret is returned for card payments so the donor's client can
	// confirm the held payment.
	ClientSecret string `json:"client_secret,omitempty"`
	// ApprovalURL is returned for redirect payments.
	ApprovalURL string `json:"approval_url,omitempty"`
	// Instructions are returned for manual methods awaiting settlement.
	Instructions string `json:"instructions,omitempty"`
}

// ReceiptCache is a read-through cache for donor receipt lookups.
type ReceiptCache interface {
	Get(ctx context.Context, donationID string, out interface{}) bool
	Set(ctx context.Context, donationID string, v interface{})
}

type DonationUsecase struct {
	donations    repository.DonationRepository
	campaigns    repository.CampaignRepository
	receipts     repository.ReceiptRepository
	receiptCache ReceiptCache
	validator    *security.Validator
	registry     *provider.Registry
	notifier     Notifier
	logger       *zap.Logger
	baseURL      string
	now          func() time.Time
}

func NewDonationUsecase(
	donations repository.DonationRepository,
	campaigns repository.CampaignRepository,
	receipts repository.ReceiptRepository,
	receiptCache ReceiptCache,
	validator *security.Validator,
	registry *provider.Registry,
	notifier Notifier,
	logger *zap.Logger,
	baseURL string,
) *DonationUsecase {
	return &DonationUsecase{
		donations:    donations,
		campaigns:    campaigns,
		receipts:     receipts,
		receiptCache: receiptCache,
		validator:    validator,
		registry:     registry,
		notifier:     notifier,
		logger:       logger,
		baseURL:      baseURL,
		now:          time.Now,
	}
}

// Create runs the intake pipeline: campaign gate, fraud validation, fee
// computation, persistence, then gateway initiation for non-manual methods.
func (uc *DonationUsecase) Create(ctx context.Context, input *CreateDonationInput) (*CreateDonationResult, error) {
	campaign, err := uc.campaigns.GetByID(ctx, input.CampaignID)
	if err != nil {
		return nil, err
	}
	if !campaign.AcceptsDonations() {
		return nil, domain.ErrCampaignClosed
	}

	verdict := uc.validator.Validate(ctx, &security.DonationRequest{
		Amount:           input.Amount,
		PaymentMethod:    input.PaymentMethod,
		Message:          input.Message,
		UserID:           input.DonorID,
		DonorEmail:       input.DonorEmail,
		AccountCreatedAt: input.AccountCreatedAt,
		IPAddress:        input.IPAddress,
		UserAgent:        input.UserAgent,
	})
	if !verdict.Valid {
		return &CreateDonationResult{Verdict: verdict}, ErrValidationFailed
	}

	fee := fees.ProcessingFee(input.Amount, input.PaymentMethod)
	donation := uc.buildDonation(input, fee, verdict)

	if err := uc.donations.Create(ctx, donation); err != nil {
		return nil, fmt.Errorf("persist donation: %w", err)
	}

	result := &CreateDonationResult{Donation: donation, Verdict: verdict}

	if input.PaymentMethod.IsManual() {
		result.Instructions = manualInstructions(input.PaymentMethod)
		return result, nil
	}

	if err := uc.initiatePayment(ctx, donation, result); err != nil {
		return result, err
	}
	return result, nil
}

func (uc *DonationUsecase) buildDonation(input *CreateDonationInput, fee decimal.Decimal, verdict *security.Verdict) *domain.Donation {
	d := &domain.Donation{
		ID:             uuid.NewString(),
		CampaignID:     input.CampaignID,
		Amount:         input.Amount,
		ProcessingFee:  fee,
		Currency:       input.Currency,
		Status:         domain.StatusPending,
		PaymentMethod:  input.PaymentMethod,
		Anonymous:      input.Anonymous,
		IsRecurring:    input.IsRecurring,
		RequiresReview: verdict.RequiresReview,
	}
	d.RecomputeNet()

	if d.Currency == "" {
		d.Currency = "USD"
	}
	if input.DonorID != "" {
		d.DonorID = &input.DonorID
	}
	if input.DonorName != "" {
		d.DonorName = &input.DonorName
	}
	if input.DonorEmail != "" {
		d.DonorEmail = &input.DonorEmail
	}
	if input.Message != "" {
		d.Message = &input.Message
	}
	if input.IPAddress != "" {
		d.IPAddress = &input.IPAddress
	}
	if input.UserAgent != "" {
		d.UserAgent = &input.UserAgent
	}
	if input.IsRecurring && input.Frequency != "" {
		f := input.Frequency
		d.Frequency = &f
	}
	return d
}

func (uc *DonationUsecase) initiatePayment(ctx context.Context, d *domain.Donation, result *CreateDonationResult) error {
	gw, err := uc.registry.ForMethod(d.PaymentMethod)
	if err != nil {
		return err
	}

	resp, err := gw.CreatePayment(ctx, &provider.CreatePaymentRequest{
		Amount:      d.Amount,
		Currency:    d.Currency,
		Description: "Donation " + d.ID,
		ReturnURL:   uc.baseURL + "/api/v1/donations/" + d.ID + "/confirm",
		CancelURL:   uc.baseURL + "/api/v1/donations/" + d.ID + "/cancel",
		Metadata: map[string]string{
			"donation_id": d.ID,
			"campaign_id": d.CampaignID,
		},
		IdempotencyKey: generator.DonationKey(d.ID),
	})
	if err != nil {
		uc.logger.Error("gateway create payment",
			zap.Error(err),
			zap.String("donation_id", d.ID),
			zap.String("gateway", gw.Name()))
		if ferr := uc.donations.MarkFailed(ctx, d.ID, "payment initiation failed"); ferr != nil {
			uc.logger.Error("mark failed after gateway error", zap.Error(ferr), zap.String("donation_id", d.ID))
		}
		d.Status = domain.StatusFailed
		return err
	}

	if err := uc.donations.SetProcessing(ctx, d.ID, resp.ExternalID); err != nil {
		return err
	}
	d.Status = domain.StatusProcessing
	d.ExternalPaymentID = &resp.ExternalID

	result.ClientSecret = resp.ClientSecret
	result.ApprovalURL = resp.ApprovalURL
	return nil
}

// Confirm settles a processing donation after the donor completed the
// provider-side step (client confirmation or redirect approval).
func (uc *DonationUsecase) Confirm(ctx context.Context, donationID string, input provider.ConfirmationInput) (*domain.Donation, error) {
	d, err := uc.donations.GetByID(ctx, donationID)
	if err != nil {
		return nil, err
	}
	if d.Status == domain.StatusCompleted {
		return d, nil
	}
	if d.ExternalPaymentID == nil {
		return nil, &domain.TransitionError{DonationID: d.ID, From: d.Status, To: domain.StatusCompleted}
	}

	gw, err := uc.registry.ForMethod(d.PaymentMethod)
	if err != nil {
		return nil, err
	}

	res, err := gw.ConfirmPayment(ctx, *d.ExternalPaymentID, input)
	if err != nil {
		return nil, err
	}
	if !res.Settled {
		uc.logger.Info("confirmation not settled",
			zap.String("donation_id", d.ID),
			zap.String("provider_status", res.Status))
		return d, nil
	}

	if err := uc.complete(ctx, d, d.ExternalPaymentID); err != nil {
		return nil, err
	}
	return uc.donations.GetByID(ctx, donationID)
}

// complete applies the completion transition, issues the receipt, and
// dispatches the confirmation notice.
func (uc *DonationUsecase) complete(ctx context.Context, d *domain.Donation, externalID *string) error {
	now := uc.now()
	if err := uc.donations.MarkCompleted(ctx, d.ID, externalID, now); err != nil {
		return err
	}

	receipt := &domain.Receipt{
		ID:            uuid.NewString(),
		DonationID:    d.ID,
		ReceiptNumber: generator.ReceiptNumber(now),
	}
	if err := uc.receipts.Create(ctx, receipt); err != nil {
		// The transition already committed; a receipt gap is repairable and
		// must not surface as a payment failure.
		uc.logger.Error("issue receipt", zap.Error(err), zap.String("donation_id", d.ID))
	} else {
		uc.notifier.SendConfirmation(ctx, d, receipt.ReceiptNumber)
		if err := uc.receipts.MarkEmailSent(ctx, receipt.ID, now); err != nil {
			uc.logger.Warn("mark receipt email sent", zap.Error(err), zap.String("receipt_id", receipt.ID))
		}
	}
	return nil
}

// Cancel aborts a pending or processing donation at the donor's request.
func (uc *DonationUsecase) Cancel(ctx context.Context, donationID string) (*domain.Donation, error) {
	if err := uc.donations.MarkCancelled(ctx, donationID); err != nil {
		return nil, err
	}
	return uc.donations.GetByID(ctx, donationID)
}

// ApproveManual settles a manual-method donation after an admin verified the
// off-platform payment. The reference is stored as the external payment id.
func (uc *DonationUsecase) ApproveManual(ctx context.Context, donationID, reference string) (*domain.Donation, error) {
	d, err := uc.donations.GetByID(ctx, donationID)
	if err != nil {
		return nil, err
	}
	if !d.PaymentMethod.IsManual() {
		return nil, fmt.Errorf("donation %s uses %s: %w", d.ID, d.PaymentMethod, domain.ErrUnsupportedPaymentMethod)
	}

	var ext *string
	if reference != "" {
		ext = &reference
	}
	if err := uc.complete(ctx, d, ext); err != nil {
		return nil, err
	}
	return uc.donations.GetByID(ctx, donationID)
}

// RejectManual fails a manual-method donation the admin could not verify.
func (uc *DonationUsecase) RejectManual(ctx context.Context, donationID, reason string) (*domain.Donation, error) {
	d, err := uc.donations.GetByID(ctx, donationID)
	if err != nil {
		return nil, err
	}
	if !d.PaymentMethod.IsManual() {
		return nil, fmt.Errorf("donation %s uses %s: %w", d.ID, d.PaymentMethod, domain.ErrUnsupportedPaymentMethod)
	}

	if err := uc.donations.MarkFailed(ctx, donationID, reason); err != nil {
		return nil, err
	}
	d.Status = domain.StatusFailed
	uc.notifier.SendFailureNotice(ctx, d, reason)
	return uc.donations.GetByID(ctx, donationID)
}

// Refund reverses a completed donation. Gateway-settled donations are
// refunded at the provider first; the local transition only applies once the
// provider accepted the refund.
func (uc *DonationUsecase) Refund(ctx context.Context, donationID, reason string) (*domain.Donation, error) {
	d, err := uc.donations.GetByID(ctx, donationID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(d.Status, domain.StatusRefunded) {
		return nil, &domain.TransitionError{DonationID: d.ID, From: d.Status, To: domain.StatusRefunded}
	}

	if !d.PaymentMethod.IsManual() {
		gw, err := uc.registry.ForMethod(d.PaymentMethod)
		if err != nil {
			return nil, err
		}
		if d.ExternalPaymentID == nil {
			return nil, fmt.Errorf("donation %s completed without external payment id", d.ID)
		}
		refundReq := &provider.RefundRequest{
			ExternalID: *d.ExternalPaymentID,
			Amount:     &d.Amount,
			Currency:   d.Currency,
		}
		if _, err := gw.CreateRefund(ctx, refundReq); err != nil {
			return nil, err
		}
	}

	if err := uc.donations.MarkRefunded(ctx, donationID, reason); err != nil {
		return nil, err
	}
	d.Status = domain.StatusRefunded
	uc.notifier.SendRefundNotice(ctx, d, reason)
	return uc.donations.GetByID(ctx, donationID)
}

func (uc *DonationUsecase) Get(ctx context.Context, donationID string) (*domain.Donation, error) {
	return uc.donations.GetByID(ctx, donationID)
}

// GetReceipt returns the receipt issued for a completed donation,
// serving repeated lookups from the cache.
func (uc *DonationUsecase) GetReceipt(ctx context.Context, donationID string) (*domain.Receipt, error) {
	var cached domain.Receipt
	if uc.receiptCache.Get(ctx, donationID, &cached) {
		return &cached, nil
	}
	rec, err := uc.receipts.GetByDonation(ctx, donationID)
	if err != nil {
		return nil, err
	}
	uc.receiptCache.Set(ctx, donationID, rec)
	return rec, nil
}

// RecomputeCampaign rebuilds a campaign's aggregate from its completed
// donations. Admin repair tool for drift after manual data fixes.
func (uc *DonationUsecase) RecomputeCampaign(ctx context.Context, campaignID string) (decimal.Decimal, error) {
	total, err := uc.campaigns.RecomputeCurrentAmount(ctx, campaignID)
	if err != nil {
		return decimal.Zero, err
	}
	uc.logger.Info("campaign aggregate recomputed",
		zap.String("campaign_id", campaignID),
		zap.String("current_amount", total.StringFixed(2)))
	return total, nil
}

func (uc *DonationUsecase) GetCampaign(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	return uc.campaigns.GetByID(ctx, campaignID)
}

func manualInstructions(method domain.PaymentMethod) string {
	switch method {
	case domain.MethodMobileMoney:
		return "Send the amount to the campaign's mobile money number and keep the transaction code; an administrator will confirm your donation."
	case domain.MethodBankTransfer:
		return "Transfer the amount to the campaign's bank account using the donation id as reference; an administrator will confirm your donation."
	case domain.MethodCrypto:
		return "Send the amount to the campaign's wallet address; an administrator will confirm your donation after on-chain settlement."
	}
	return ""
}
