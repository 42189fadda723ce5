package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedPaymentMethod is returned when a payment method has no
	// gateway mapping and is not a manual method.
	ErrUnsupportedPaymentMethod = errors.New("unsupported payment method")

	// ErrInvalidTransition is returned when a state change is attempted that
	// the state machine does not permit from the donation's current status.
	ErrInvalidTransition = errors.New("invalid donation status transition")

	ErrDonationNotFound = errors.New("donation not found")
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrCampaignClosed   = errors.New("campaign is not accepting donations")
	ErrReceiptNotFound  = errors.New("receipt not found")
)

// GatewayError wraps a failure reported by an external payment provider.
// Gateway failures are retryable from the caller's perspective; the donation
// is left in a well-defined state (pending or failed), never ambiguous.
type GatewayError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway %s: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("gateway %s: %s", e.Provider, e.Reason)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// TransitionError carries the rejected edge for logging. Wraps
// ErrInvalidTransition so callers can match with errors.Is.
type TransitionError struct {
	DonationID string
	From       DonationStatus
	To         DonationStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("donation %s: transition %s -> %s not permitted", e.DonationID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
