package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"donation-service/config"
	"donation-service/internal/domain"
	"donation-service/internal/provider"

	"github.com/shopspring/decimal"
)

const (
	defaultBaseURL = "https://api.stripe.com"
	// signatureTolerance bounds how old a signed webhook timestamp may be.
	signatureTolerance = 5 * time.Minute
)

// Provider implements the card-style gateway: funds are held in a payment
// intent and the donor's client confirms it with the returned secret.
type Provider struct {
	config     config.StripeConfig
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

func NewProvider(cfg config.StripeConfig) *Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Provider{
		config:     cfg,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
	}
}

func (p *Provider) Name() string { return "stripe" }

type paymentIntent struct {
	ID             string `json:"id"`
	ClientSecret   string `json:"client_secret"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	AmountReceived int64  `json:"amount_received"`
}

type refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreatePayment creates a payment intent. Amounts are sent in minor units.
func (p *Provider) CreatePayment(ctx context.Context, req *provider.CreatePaymentRequest) (*provider.CreatePaymentResponse, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(toMinorUnits(req.Amount), 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("description", req.Description)
	form.Set("automatic_payment_methods[enabled]", "true")
	for k, v := range req.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	var intent paymentIntent
	if err := p.call(ctx, http.MethodPost, "/v1/payment_intents", form, req.IdempotencyKey, &intent); err != nil {
		return nil, err
	}

	return &provider.CreatePaymentResponse{
		ExternalID:   intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       intent.Status,
	}, nil
}

// ConfirmPayment retrieves the intent; the actual confirmation happens on the
// donor's client with the client secret, so this reports settlement state.
func (p *Provider) ConfirmPayment(ctx context.Context, externalID string, _ provider.ConfirmationInput) (*provider.ConfirmResult, error) {
	var intent paymentIntent
	path := "/v1/payment_intents/" + url.PathEscape(externalID)
	if err := p.call(ctx, http.MethodGet, path, nil, "", &intent); err != nil {
		return nil, err
	}

	return &provider.ConfirmResult{
		Status:        intent.Status,
		Settled:       intent.Status == "succeeded",
		SettledAmount: fromMinorUnits(intent.AmountReceived),
	}, nil
}

// CreateRefund refunds against the original intent; the charge currency is
// implied by the intent, so the request currency is not sent.
func (p *Provider) CreateRefund(ctx context.Context, req *provider.RefundRequest) (*provider.RefundResult, error) {
	form := url.Values{}
	form.Set("payment_intent", req.ExternalID)
	if req.Amount != nil {
		form.Set("amount", strconv.FormatInt(toMinorUnits(*req.Amount), 10))
	}

	var ref refund
	if err := p.call(ctx, http.MethodPost, "/v1/refunds", form, "", &ref); err != nil {
		return nil, err
	}

	return &provider.RefundResult{
		RefundID:       ref.ID,
		Status:         ref.Status,
		RefundedAmount: fromMinorUnits(ref.Amount),
	}, nil
}

// VerifyWebhook checks the signature header: HMAC-SHA256 of "<t>.<payload>"
// with the webhook secret, plus a timestamp tolerance against replay.
func (p *Provider) VerifyWebhook(headers http.Header, payload []byte) error {
	sigHeader := headers.Get("Stripe-Signature")
	if sigHeader == "" {
		return errors.New("missing signature header")
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(sigHeader, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			signatures = append(signatures, v)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return errors.New("malformed signature header")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errors.New("malformed signature timestamp")
	}
	age := p.now().Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return errors.New("signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(p.config.WebhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return errors.New("signature mismatch")
}

type webhookEnvelope struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID             string `json:"id"`
			AmountReceived int64  `json:"amount_received"`
			Amount         int64  `json:"amount"`
			PaymentIntent  string `json:"payment_intent"`
		} `json:"object"`
	} `json:"data"`
}

func (p *Provider) ParseWebhookEvent(payload []byte) (*provider.WebhookEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("parse webhook payload: %w", err)
	}

	event := &provider.WebhookEvent{RawType: env.Type}

	switch env.Type {
	case "payment_intent.succeeded":
		event.Type = provider.EventPaymentCompleted
		event.ExternalID = env.Data.Object.ID
		event.Amount = fromMinorUnits(env.Data.Object.AmountReceived)
	case "payment_intent.payment_failed":
		event.Type = provider.EventPaymentFailed
		event.ExternalID = env.Data.Object.ID
	case "payment_intent.canceled":
		event.Type = provider.EventPaymentCancelled
		event.ExternalID = env.Data.Object.ID
	case "charge.refunded":
		event.Type = provider.EventRefundCompleted
		event.ExternalID = env.Data.Object.PaymentIntent
		event.Amount = fromMinorUnits(env.Data.Object.Amount)
	default:
		event.Type = provider.EventUnknown
		event.ExternalID = env.Data.Object.ID
	}

	return event, nil
}

func (p *Provider) call(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.config.SecretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &domain.GatewayError{Provider: p.Name(), Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.GatewayError{Provider: p.Name(), Reason: "read response", Err: err}
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		reason := fmt.Sprintf("http %d", resp.StatusCode)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			reason = apiErr.Error.Message
		}
		return &domain.GatewayError{Provider: p.Name(), Reason: reason}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &domain.GatewayError{Provider: p.Name(), Reason: "parse response", Err: err}
	}
	return nil
}

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func fromMinorUnits(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(decimal.NewFromInt(100))
}
