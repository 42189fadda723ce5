package fees

import (
	"donation-service/internal/domain"

	"github.com/shopspring/decimal"
)

// feeRule is a (percentage, fixed) pair for one payment method. The table is
// static configuration, not computed.
type feeRule struct {
	percentage decimal.Decimal
	fixed      decimal.Decimal
}

var methodFees = map[domain.PaymentMethod]feeRule{
	domain.MethodCard:         {percentage: decimal.NewFromFloat(0.029), fixed: decimal.NewFromFloat(0.30)},
	domain.MethodPayPal:       {percentage: decimal.NewFromFloat(0.029), fixed: decimal.NewFromFloat(0.30)},
	domain.MethodMobileMoney:  {percentage: decimal.NewFromFloat(0.035), fixed: decimal.NewFromFloat(0.50)},
	domain.MethodBankTransfer: {percentage: decimal.NewFromFloat(0.01), fixed: decimal.NewFromFloat(1.00)},
	domain.MethodCrypto:       {percentage: decimal.NewFromFloat(0.015), fixed: decimal.Zero},
}

// ProcessingFee returns round(amount*percentage + fixed, 2) half-up for the
// given method. The result is clamped to [0, amount]: a fee can never be
// negative and never exceeds the donation itself. Pure and deterministic so
// reconciliation can recompute it at any point.
func ProcessingFee(amount decimal.Decimal, method domain.PaymentMethod) decimal.Decimal {
	rule, ok := methodFees[method]
	if !ok {
		// Unknown methods are rejected upstream by validation; fall back to
		// the card rule like the legacy fee table did.
		rule = methodFees[domain.MethodCard]
	}

	fee := amount.Mul(rule.percentage).Add(rule.fixed).Round(2)
	if fee.IsNegative() {
		return decimal.Zero
	}
	if fee.GreaterThan(amount) {
		return amount
	}
	return fee
}

// NetAmount returns the amount credited toward a campaign after fees.
func NetAmount(amount decimal.Decimal, method domain.PaymentMethod) decimal.Decimal {
	return amount.Sub(ProcessingFee(amount, method))
}
