package domain

import "time"

// Receipt is issued once per completed donation and is immutable afterwards
// except for its delivery-tracking fields.
type Receipt struct {
	ID            string     `json:"id" db:"id"`
	DonationID    string     `json:"donation_id" db:"donation_id"`
	ReceiptNumber string     `json:"receipt_number" db:"receipt_number"`
	EmailSent     bool       `json:"email_sent" db:"email_sent"`
	EmailSentAt   *time.Time `json:"email_sent_at,omitempty" db:"email_sent_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}
