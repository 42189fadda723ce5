package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Campaign aggregates completed donations. CurrentAmount is a materialized
// view: it is recomputed from the completed donation set after every
// transition that changes that set, never incremented in place.
type Campaign struct {
	ID            string          `json:"id" db:"id"`
	Title         string          `json:"title" db:"title"`
	Goal          decimal.Decimal `json:"goal" db:"goal"`
	CurrentAmount decimal.Decimal `json:"current_amount" db:"current_amount"`
	OwnerID       string          `json:"owner_id" db:"owner_id"`
	Approved      bool            `json:"approved" db:"approved"`
	Active        bool            `json:"active" db:"active"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// AcceptsDonations reports whether the campaign can receive new donations.
func (c *Campaign) AcceptsDonations() bool {
	return c.Approved && c.Active
}

// ProgressPercent returns funding progress capped at 100.
func (c *Campaign) ProgressPercent() int {
	if c.Goal.IsZero() {
		return 0
	}
	pct := c.CurrentAmount.Div(c.Goal).Mul(decimal.NewFromInt(100)).IntPart()
	if pct > 100 {
		return 100
	}
	return int(pct)
}
