package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"donation-service/config"
	"donation-service/internal/domain"
	"donation-service/internal/provider"

	"github.com/shopspring/decimal"
)

// Provider implements the redirect-style gateway: the donor approves the
// payment on the provider's site, then the service executes it with the
// payer id carried back on the return URL.
type Provider struct {
	config     config.PayPalConfig
	baseURL    string
	httpClient *http.Client
}

func NewProvider(cfg config.PayPalConfig) *Provider {
	baseURL := "https://api.sandbox.paypal.com"
	if cfg.Mode == "live" {
		baseURL = "https://api.paypal.com"
	}
	if cfg.BaseURL != "" {
		baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &Provider{
		config:     cfg,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *Provider) Name() string { return "paypal" }

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type amountObject struct {
	Total    string `json:"total"`
	Currency string `json:"currency"`
}

type paymentResource struct {
	ID           string `json:"id"`
	State        string `json:"state"`
	Links        []link `json:"links"`
	Transactions []struct {
		Amount amountObject `json:"amount"`
	} `json:"transactions"`
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type refundResource struct {
	ID     string        `json:"id"`
	State  string        `json:"state"`
	Amount *amountObject `json:"amount"`
}

// CreatePayment creates a sale payment and extracts the approval URL the
// donor is redirected to.
func (p *Provider) CreatePayment(ctx context.Context, req *provider.CreatePaymentRequest) (*provider.CreatePaymentResponse, error) {
	body := map[string]interface{}{
		"intent": "sale",
		"payer":  map[string]string{"payment_method": "paypal"},
		"redirect_urls": map[string]string{
			"return_url": req.ReturnURL,
			"cancel_url": req.CancelURL,
		},
		"transactions": []map[string]interface{}{{
			"amount": amountObject{
				Total:    req.Amount.StringFixed(2),
				Currency: strings.ToUpper(req.Currency),
			},
			"description": req.Description,
		}},
	}

	var payment paymentResource
	if err := p.call(ctx, http.MethodPost, "/v1/payments/payment", body, req.IdempotencyKey, &payment); err != nil {
		return nil, err
	}

	approvalURL := ""
	for _, l := range payment.Links {
		if l.Rel == "approval_url" {
			approvalURL = l.Href
			break
		}
	}
	if approvalURL == "" {
		return nil, &domain.GatewayError{Provider: p.Name(), Reason: "no approval url in response"}
	}

	return &provider.CreatePaymentResponse{
		ExternalID:  payment.ID,
		ApprovalURL: approvalURL,
		Status:      payment.State,
	}, nil
}

// ConfirmPayment executes an approved payment with the payer id.
func (p *Provider) ConfirmPayment(ctx context.Context, externalID string, input provider.ConfirmationInput) (*provider.ConfirmResult, error) {
	if input.PayerID == "" {
		return nil, &domain.GatewayError{Provider: p.Name(), Reason: "payer id is required to execute payment"}
	}

	body := map[string]string{"payer_id": input.PayerID}

	var payment paymentResource
	path := fmt.Sprintf("/v1/payments/payment/%s/execute", externalID)
	if err := p.call(ctx, http.MethodPost, path, body, "", &payment); err != nil {
		return nil, err
	}

	settled := payment.State == "approved" || payment.State == "completed"
	result := &provider.ConfirmResult{Status: payment.State, Settled: settled}
	if len(payment.Transactions) > 0 {
		amount, err := decimal.NewFromString(payment.Transactions[0].Amount.Total)
		if err == nil {
			result.SettledAmount = amount
		}
	}
	return result, nil
}

// CreateRefund refunds a sale. Partial refunds carry an explicit amount
// object denominated in the original donation's currency.
func (p *Provider) CreateRefund(ctx context.Context, req *provider.RefundRequest) (*provider.RefundResult, error) {
	body := map[string]interface{}{}
	if req.Amount != nil {
		if req.Currency == "" {
			return nil, &domain.GatewayError{Provider: p.Name(), Reason: "currency is required for a partial refund"}
		}
		body["amount"] = amountObject{Total: req.Amount.StringFixed(2), Currency: strings.ToUpper(req.Currency)}
	}

	var ref refundResource
	path := fmt.Sprintf("/v1/payments/sale/%s/refund", req.ExternalID)
	if err := p.call(ctx, http.MethodPost, path, body, "", &ref); err != nil {
		return nil, err
	}

	result := &provider.RefundResult{RefundID: ref.ID, Status: ref.State}
	if ref.Amount != nil {
		if refunded, err := decimal.NewFromString(ref.Amount.Total); err == nil {
			result.RefundedAmount = refunded
		}
	}
	return result, nil
}

// VerifyWebhook requires the provider's transmission headers to be present.
// Without them the notification is rejected before any parsing.
func (p *Provider) VerifyWebhook(headers http.Header, _ []byte) error {
	required := []string{"Paypal-Transmission-Id", "Paypal-Cert-Id"}
	for _, h := range required {
		if headers.Get(h) == "" {
			return fmt.Errorf("missing required header %s", h)
		}
	}
	return nil
}

type webhookEnvelope struct {
	EventType string `json:"event_type"`
	Resource  struct {
		ID            string        `json:"id"`
		ParentPayment string        `json:"parent_payment"`
		State         string        `json:"state"`
		Amount        *amountObject `json:"amount"`
	} `json:"resource"`
}

func (p *Provider) ParseWebhookEvent(payload []byte) (*provider.WebhookEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("parse webhook payload: %w", err)
	}

	// Sale events reference the payment they settle through parent_payment.
	externalID := env.Resource.ParentPayment
	if externalID == "" {
		externalID = env.Resource.ID
	}

	event := &provider.WebhookEvent{RawType: env.EventType, ExternalID: externalID}
	if env.Resource.Amount != nil {
		if amount, err := decimal.NewFromString(env.Resource.Amount.Total); err == nil {
			event.Amount = amount
		}
	}

	switch env.EventType {
	case "PAYMENT.SALE.COMPLETED":
		event.Type = provider.EventPaymentCompleted
	case "PAYMENT.SALE.DENIED":
		event.Type = provider.EventPaymentFailed
	case "PAYMENT.SALE.REVERSED", "PAYMENT.SALE.REFUNDED":
		event.Type = provider.EventRefundCompleted
	case "PAYMENTS.PAYMENT.CANCELLED":
		event.Type = provider.EventPaymentCancelled
	default:
		event.Type = provider.EventUnknown
	}

	return event, nil
}

func (p *Provider) getAccessToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/oauth2/token", strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(p.config.ClientID, p.config.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", &domain.GatewayError{Provider: p.Name(), Reason: "token request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &domain.GatewayError{Provider: p.Name(), Reason: fmt.Sprintf("token request http %d", resp.StatusCode)}
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", &domain.GatewayError{Provider: p.Name(), Reason: "parse token response", Err: err}
	}
	if token.AccessToken == "" {
		return "", &domain.GatewayError{Provider: p.Name(), Reason: "empty access token"}
	}
	return token.AccessToken, nil
}

func (p *Provider) call(ctx context.Context, method, path string, body interface{}, requestID string, out interface{}) error {
	token, err := p.getAccessToken(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
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
		return &domain.GatewayError{Provider: p.Name(), Reason: fmt.Sprintf("http %d: %s", resp.StatusCode, truncate(data, 200))}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &domain.GatewayError{Provider: p.Name(), Reason: "parse response", Err: err}
		}
	}
	return nil
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
