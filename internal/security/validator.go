package security

import (
	"context"
	"regexp"
	"strings"
	"time"

	"donation-service/internal/domain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Suspicious patterns screened out of donation messages.
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`test\s*payment`),
	regexp.MustCompile(`fake\s*donation`),
	regexp.MustCompile(`money\s*laundering`),
	regexp.MustCompile(`fraud`),
	regexp.MustCompile(`scam`),
	regexp.MustCompile(`illegal`),
}

var disposableEmailDomains = []string{
	"tempmail.com",
	"10minutemail.com",
	"guerrillamail.com",
}

const (
	minAmount         = "1.00"
	maxAmount         = "10000.00"
	newAccountCeiling = "5000.00"
	mobileMoneyCap    = "1000.00"
	cryptoFloor       = "10.00"
	maxMessageLen     = 500

	riskRapidDonations  = 30
	riskDisposableEmail = 20
	riskTestAmount      = 10
	reviewThreshold     = 50

	rapidWindow    = 10 * time.Minute
	rapidThreshold = 3
)

// DonationRequest carries everything the validation pipeline inspects.
type DonationRequest struct {
	Amount        decimal.Decimal
	PaymentMethod domain.PaymentMethod
	Message       string

	UserID           string // empty for anonymous donors
	DonorEmail       string
	AccountCreatedAt *time.Time // registration instant of the donor account, if known

	IPAddress string
	UserAgent string
}

// Verdict is the single structured outcome of the pipeline. Errors block the
// donation; warnings and the risk score do not.
type Verdict struct {
	Valid          bool     `json:"valid"`
	Errors         []string `json:"errors"`
	Warnings       []string `json:"warnings"`
	RiskScore      int      `json:"risk_score"`
	RiskFlags      []string `json:"-"`
	RequiresReview bool     `json:"requires_review"`
}

// Validator runs the ordered security checks against a donation request.
// Rule internals are logged, never exposed in responses.
type Validator struct {
	limiter *RateLimiter
	store   CounterStore
	logger  *zap.Logger
	now     func() time.Time
}

func NewValidator(limiter *RateLimiter, store CounterStore, logger *zap.Logger) *Validator {
	return &Validator{
		limiter: limiter,
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
}

func recentKey(userID string) string { return "donation:recent:user:" + userID }

// Validate runs the full pipeline. Rate-limit and rapid-donation counters are
// incremented only when the verdict is valid, so rejected attempts never
// count toward the limit.
func (v *Validator) Validate(ctx context.Context, req *DonationRequest) *Verdict {
	verdict := &Verdict{}

	verdict.Errors = append(verdict.Errors, v.checkAmount(req)...)
	verdict.Errors = append(verdict.Errors, v.checkMessage(req)...)
	verdict.Errors = append(verdict.Errors, v.limiter.Check(ctx, req.UserID, req.IPAddress)...)
	verdict.Errors = append(verdict.Errors, v.checkMethod(req)...)

	v.scoreFraud(ctx, req, verdict)

	verdict.Valid = len(verdict.Errors) == 0
	if verdict.Valid {
		v.limiter.Record(ctx, req.UserID, req.IPAddress)
		if req.UserID != "" {
			if _, err := v.store.Incr(ctx, recentKey(req.UserID), rapidWindow); err != nil {
				v.logger.Error("recent donation counter failed", zap.String("user_id", req.UserID), zap.Error(err))
			}
		}
	}

	return verdict
}

func (v *Validator) checkAmount(req *DonationRequest) []string {
	var errs []string

	if req.Amount.LessThan(decimal.RequireFromString(minAmount)) {
		errs = append(errs, "Minimum donation amount is 1.00")
	}
	if req.Amount.GreaterThan(decimal.RequireFromString(maxAmount)) {
		errs = append(errs, "Maximum single donation is 10,000.00")
	}

	return errs
}

func (v *Validator) checkMessage(req *DonationRequest) []string {
	if req.Message == "" {
		return nil
	}

	var errs []string
	lower := strings.ToLower(req.Message)
	for _, pattern := range suspiciousPatterns {
		if pattern.MatchString(lower) {
			v.logger.Warn("suspicious donation message",
				zap.String("pattern", pattern.String()),
				zap.String("ip", req.IPAddress))
			errs = append(errs, "Message contains suspicious content")
			break
		}
	}

	if len(req.Message) > maxMessageLen {
		errs = append(errs, "Message is too long (maximum 500 characters)")
	}

	return errs
}

func (v *Validator) checkMethod(req *DonationRequest) []string {
	var errs []string

	if !domain.ValidMethods[req.PaymentMethod] {
		errs = append(errs, "Invalid payment method selected")
		return errs
	}

	if req.PaymentMethod == domain.MethodMobileMoney &&
		req.Amount.GreaterThan(decimal.RequireFromString(mobileMoneyCap)) {
		errs = append(errs, "Mobile money payments are limited to 1,000.00")
	}
	if req.PaymentMethod == domain.MethodCrypto &&
		req.Amount.LessThan(decimal.RequireFromString(cryptoFloor)) {
		errs = append(errs, "Cryptocurrency payments have a minimum of 10.00")
	}

	return errs
}

// scoreFraud accumulates a risk score from weighted signals. Crossing the
// review threshold sets RequiresReview but never blocks the donation.
func (v *Validator) scoreFraud(ctx context.Context, req *DonationRequest, verdict *Verdict) {
	if req.UserID != "" {
		recent, err := v.store.Get(ctx, recentKey(req.UserID))
		if err != nil {
			v.logger.Error("recent donation lookup failed", zap.String("user_id", req.UserID), zap.Error(err))
		} else if recent >= rapidThreshold {
			verdict.RiskScore += riskRapidDonations
			verdict.RiskFlags = append(verdict.RiskFlags, "multiple rapid donations")
		}
	}

	if req.DonorEmail != "" {
		email := strings.ToLower(req.DonorEmail)
		for _, domainName := range disposableEmailDomains {
			if strings.HasSuffix(email, "@"+domainName) || strings.Contains(email, domainName) {
				verdict.RiskScore += riskDisposableEmail
				verdict.RiskFlags = append(verdict.RiskFlags, "temporary email address")
				break
			}
		}
	}

	if req.Amount.Equal(decimal.RequireFromString("1.00")) || req.Amount.Equal(decimal.RequireFromString("0.01")) {
		verdict.RiskScore += riskTestAmount
		verdict.RiskFlags = append(verdict.RiskFlags, "test amount detected")
	}

	// Large donation from an account younger than 24h: forced into review,
	// never rejected.
	if req.AccountCreatedAt != nil &&
		req.Amount.GreaterThan(decimal.RequireFromString(newAccountCeiling)) &&
		v.now().Sub(*req.AccountCreatedAt) < 24*time.Hour {
		verdict.RequiresReview = true
		verdict.RiskFlags = append(verdict.RiskFlags, "large donation from new account")
		v.logger.Warn("large donation from new account",
			zap.String("user_id", req.UserID),
			zap.String("amount", req.Amount.String()))
	}

	if verdict.RiskScore >= reviewThreshold {
		verdict.RequiresReview = true
		verdict.Warnings = append(verdict.Warnings, "Donation flagged for manual review")
		v.logger.Warn("donation flagged for review",
			zap.Int("risk_score", verdict.RiskScore),
			zap.Strings("flags", verdict.RiskFlags),
			zap.String("ip", req.IPAddress))
	}
}
