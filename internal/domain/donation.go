package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string
type DonationStatus string
type RecurringFrequency string

const (
	MethodCard         PaymentMethod = "card"
	MethodPayPal       PaymentMethod = "paypal"
	MethodMobileMoney  PaymentMethod = "mobile_money"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCrypto       PaymentMethod = "crypto"
)

const (
	StatusPending    DonationStatus = "pending"
	StatusProcessing DonationStatus = "processing"
	StatusCompleted  DonationStatus = "completed"
	StatusFailed     DonationStatus = "failed"
	StatusRefunded   DonationStatus = "refunded"
	StatusCancelled  DonationStatus = "cancelled"
)

const (
	FrequencyMonthly   RecurringFrequency = "monthly"
	FrequencyQuarterly RecurringFrequency = "quarterly"
	FrequencyYearly    RecurringFrequency = "yearly"
)

// ValidMethods is the closed set of supported payment channels.
var ValidMethods = map[PaymentMethod]bool{
	MethodCard:         true,
	MethodPayPal:       true,
	MethodMobileMoney:  true,
	MethodBankTransfer: true,
	MethodCrypto:       true,
}

// IsManual reports whether the method settles outside a gateway and requires
// an admin to approve or reject the pending donation.
func (m PaymentMethod) IsManual() bool {
	switch m {
	case MethodMobileMoney, MethodBankTransfer, MethodCrypto:
		return true
	}
	return false
}

// RenewalInterval returns the fixed-day-count interval between renewals.
func (f RecurringFrequency) RenewalInterval() time.Duration {
	switch f {
	case FrequencyMonthly:
		return 30 * 24 * time.Hour
	case FrequencyQuarterly:
		return 90 * 24 * time.Hour
	case FrequencyYearly:
		return 365 * 24 * time.Hour
	}
	return 0
}

// Donation is a single monetary contribution progressing through the
// state machine. Monetary fields are 2dp decimals; NetAmount must always
// equal Amount minus ProcessingFee.
type Donation struct {
	ID         string          `json:"id" db:"id"`
	CampaignID string          `json:"campaign_id" db:"campaign_id"`

	Amount        decimal.Decimal `json:"amount" db:"amount"`
	ProcessingFee decimal.Decimal `json:"processing_fee" db:"processing_fee"`
	NetAmount     decimal.Decimal `json:"net_amount" db:"net_amount"`
	Currency      string          `json:"currency" db:"currency"`

	Status        DonationStatus `json:"status" db:"status"`
	PaymentMethod PaymentMethod  `json:"payment_method" db:"payment_method"`

	// ExternalPaymentID is the gateway-assigned id; unique per provider once
	// set, used to resolve webhook events idempotently.
	ExternalPaymentID *string `json:"external_payment_id,omitempty" db:"external_payment_id"`

	DonorID    *string `json:"donor_id,omitempty" db:"donor_id"`
	DonorName  *string `json:"donor_name,omitempty" db:"donor_name"`
	DonorEmail *string `json:"donor_email,omitempty" db:"donor_email"`
	Anonymous  bool    `json:"anonymous" db:"anonymous"`

	IsRecurring      bool                `json:"is_recurring" db:"is_recurring"`
	Frequency        *RecurringFrequency `json:"frequency,omitempty" db:"frequency"`
	ParentDonationID *string             `json:"parent_donation_id,omitempty" db:"parent_donation_id"`

	Message   *string `json:"message,omitempty" db:"message"`
	IPAddress *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent *string `json:"user_agent,omitempty" db:"user_agent"`

	RequiresReview bool    `json:"requires_review" db:"requires_review"`
	AdminNotes     *string `json:"admin_notes,omitempty" db:"admin_notes"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// transitions enumerates every legal state change. Terminal states have no
// outgoing edges except completed -> refunded.
var transitions = map[DonationStatus][]DonationStatus{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {StatusRefunded},
	StatusFailed:     {},
	StatusCancelled:  {},
	StatusRefunded:   {},
}

// CanTransition reports whether moving from -> to is legal.
func CanTransition(from, to DonationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionSources returns all statuses from which `to` is reachable.
// Repositories use this as the guard set in UPDATE ... WHERE status = ANY($n).
func TransitionSources(to DonationStatus) []DonationStatus {
	var from []DonationStatus
	for src, nexts := range transitions {
		for _, next := range nexts {
			if next == to {
				from = append(from, src)
			}
		}
	}
	return from
}

// IsTerminal reports whether no further transitions are possible, treating
// completed as terminal for webhook idempotency purposes (the only edge out
// of completed is an explicit refund, never a replayed success event).
func (s DonationStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled || s == StatusRefunded
}

// RecomputeNet re-establishes the NetAmount invariant. Called on every
// persist so a drifted fee or amount can never be written inconsistently.
func (d *Donation) RecomputeNet() {
	d.NetAmount = d.Amount.Sub(d.ProcessingFee)
}

// NewRenewal builds the next donation in a recurring chain, copying the
// fields the renewal inherits from its head. Status starts at pending and
// the child re-enters the normal payment pipeline.
func (d *Donation) NewRenewal(id string, now time.Time) *Donation {
	parentID := d.ID
	child := &Donation{
		ID:               id,
		CampaignID:       d.CampaignID,
		Amount:           d.Amount,
		ProcessingFee:    d.ProcessingFee,
		Currency:         d.Currency,
		Status:           StatusPending,
		PaymentMethod:    d.PaymentMethod,
		DonorID:          d.DonorID,
		DonorName:        d.DonorName,
		DonorEmail:       d.DonorEmail,
		Anonymous:        d.Anonymous,
		IsRecurring:      true,
		Frequency:        d.Frequency,
		ParentDonationID: &parentID,
		Message:          d.Message,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	child.RecomputeNet()
	return child
}
