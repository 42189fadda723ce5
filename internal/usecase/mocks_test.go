package usecase

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"donation-service/internal/domain"
	"donation-service/internal/provider"

	"github.com/shopspring/decimal"
)

// In-memory repositories mirroring the store's transition guards so usecase
// tests exercise the same semantics without a database.

type memCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
}

func newMemCampaignRepo() *memCampaignRepo {
	return &memCampaignRepo{campaigns: make(map[string]*domain.Campaign)}
}

func (r *memCampaignRepo) put(c *domain.Campaign) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[c.ID] = c
}

func (r *memCampaignRepo) GetByID(_ context.Context, id string) (*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, domain.ErrCampaignNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memCampaignRepo) RecomputeCurrentAmount(_ context.Context, id string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return decimal.Zero, domain.ErrCampaignNotFound
	}
	return c.CurrentAmount, nil
}

type memDonationRepo struct {
	mu        sync.Mutex
	donations map[string]*domain.Donation
	campaigns *memCampaignRepo
	createErr error
}

func newMemDonationRepo(campaigns *memCampaignRepo) *memDonationRepo {
	return &memDonationRepo{
		donations: make(map[string]*domain.Donation),
		campaigns: campaigns,
	}
}

func (r *memDonationRepo) Create(_ context.Context, d *domain.Donation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	d.RecomputeNet()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.UpdatedAt = d.CreatedAt
	cp := *d
	r.donations[d.ID] = &cp
	return nil
}

func (r *memDonationRepo) GetByID(_ context.Context, id string) (*domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.donations[id]
	if !ok {
		return nil, domain.ErrDonationNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memDonationRepo) GetByExternalID(_ context.Context, externalID string) (*domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.donations {
		if d.ExternalPaymentID != nil && *d.ExternalPaymentID == externalID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, domain.ErrDonationNotFound
}

func (r *memDonationRepo) transition(id string, to domain.DonationStatus, mutate func(*domain.Donation)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.donations[id]
	if !ok {
		return domain.ErrDonationNotFound
	}
	if !domain.CanTransition(d.Status, to) {
		return &domain.TransitionError{DonationID: id, From: d.Status, To: to}
	}
	d.Status = to
	d.UpdatedAt = time.Now()
	if mutate != nil {
		mutate(d)
	}
	r.recomputeLocked(d.CampaignID)
	return nil
}

func (r *memDonationRepo) recomputeLocked(campaignID string) {
	total := decimal.Zero
	for _, d := range r.donations {
		if d.CampaignID == campaignID && d.Status == domain.StatusCompleted {
			total = total.Add(d.NetAmount)
		}
	}
	r.campaigns.mu.Lock()
	if c, ok := r.campaigns.campaigns[campaignID]; ok {
		c.CurrentAmount = total
	}
	r.campaigns.mu.Unlock()
}

func (r *memDonationRepo) SetProcessing(_ context.Context, id, externalID string) error {
	return r.transition(id, domain.StatusProcessing, func(d *domain.Donation) {
		ext := externalID
		d.ExternalPaymentID = &ext
	})
}

func (r *memDonationRepo) MarkCompleted(_ context.Context, id string, externalID *string, completedAt time.Time) error {
	return r.transition(id, domain.StatusCompleted, func(d *domain.Donation) {
		if externalID != nil {
			ext := *externalID
			d.ExternalPaymentID = &ext
		}
		at := completedAt
		d.CompletedAt = &at
	})
}

func (r *memDonationRepo) MarkFailed(_ context.Context, id, reason string) error {
	return r.transition(id, domain.StatusFailed, func(d *domain.Donation) {
		note := reason
		d.AdminNotes = &note
	})
}

func (r *memDonationRepo) MarkCancelled(_ context.Context, id string) error {
	return r.transition(id, domain.StatusCancelled, nil)
}

func (r *memDonationRepo) MarkRefunded(_ context.Context, id, reason string) error {
	return r.transition(id, domain.StatusRefunded, func(d *domain.Donation) {
		note := "Refunded: " + reason
		d.AdminNotes = &note
	})
}

func (r *memDonationRepo) ListRecurringHeads(_ context.Context) ([]*domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var heads []*domain.Donation
	for _, d := range r.donations {
		if d.IsRecurring && d.Status == domain.StatusCompleted && d.ParentDonationID == nil {
			cp := *d
			heads = append(heads, &cp)
		}
	}
	sort.Slice(heads, func(i, j int) bool { return heads[i].CreatedAt.Before(heads[j].CreatedAt) })
	return heads, nil
}

func (r *memDonationRepo) LatestCompletedChild(_ context.Context, parentID string) (*domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.Donation
	for _, d := range r.donations {
		if d.ParentDonationID != nil && *d.ParentDonationID == parentID && d.Status == domain.StatusCompleted {
			if latest == nil || d.CreatedAt.After(latest.CreatedAt) {
				latest = d
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

type memReceiptRepo struct {
	mu       sync.Mutex
	receipts map[string]*domain.Receipt // keyed by donation id
}

func newMemReceiptRepo() *memReceiptRepo {
	return &memReceiptRepo{receipts: make(map[string]*domain.Receipt)}
}

func (r *memReceiptRepo) Create(_ context.Context, rec *domain.Receipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.receipts[rec.DonationID]; ok {
		*rec = *existing
		return nil
	}
	rec.CreatedAt = time.Now()
	cp := *rec
	r.receipts[rec.DonationID] = &cp
	return nil
}

func (r *memReceiptRepo) GetByDonation(_ context.Context, donationID string) (*domain.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.receipts[donationID]
	if !ok {
		return nil, domain.ErrReceiptNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *memReceiptRepo) MarkEmailSent(_ context.Context, id string, sentAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.receipts {
		if rec.ID == id {
			rec.EmailSent = true
			at := sentAt
			rec.EmailSentAt = &at
			return nil
		}
	}
	return domain.ErrReceiptNotFound
}

// memReceiptCache implements ReceiptCache over a map and counts hits.
type memReceiptCache struct {
	entries map[string]domain.Receipt
	hits    int
}

func newMemReceiptCache() *memReceiptCache {
	return &memReceiptCache{entries: make(map[string]domain.Receipt)}
}

func (c *memReceiptCache) Get(_ context.Context, donationID string, out interface{}) bool {
	rec, ok := c.entries[donationID]
	if !ok {
		return false
	}
	c.hits++
	*out.(*domain.Receipt) = rec
	return true
}

func (c *memReceiptCache) Set(_ context.Context, donationID string, v interface{}) {
	c.entries[donationID] = *v.(*domain.Receipt)
}

// fakeGateway is a scriptable provider.Gateway.
type fakeGateway struct {
	name string

	createResp *provider.CreatePaymentResponse
	createErr  error
	createN    int

	confirmResp *provider.ConfirmResult
	confirmErr  error

	refundErr      error
	refundN        int
	refundCurrency string

	verifyErr error
	event     *provider.WebhookEvent
	parseErr  error
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) CreatePayment(context.Context, *provider.CreatePaymentRequest) (*provider.CreatePaymentResponse, error) {
	g.createN++
	if g.createErr != nil {
		return nil, g.createErr
	}
	return g.createResp, nil
}

func (g *fakeGateway) ConfirmPayment(context.Context, string, provider.ConfirmationInput) (*provider.ConfirmResult, error) {
	if g.confirmErr != nil {
		return nil, g.confirmErr
	}
	return g.confirmResp, nil
}

func (g *fakeGateway) CreateRefund(_ context.Context, req *provider.RefundRequest) (*provider.RefundResult, error) {
	g.refundN++
	g.refundCurrency = req.Currency
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &provider.RefundResult{RefundID: "ref-1", Status: "succeeded"}, nil
}

func (g *fakeGateway) VerifyWebhook(http.Header, []byte) error { return g.verifyErr }

func (g *fakeGateway) ParseWebhookEvent([]byte) (*provider.WebhookEvent, error) {
	if g.parseErr != nil {
		return nil, g.parseErr
	}
	return g.event, nil
}

// recordingNotifier counts dispatched notifications.
type recordingNotifier struct {
	mu            sync.Mutex
	confirmations int
	failures      int
	refunds       int
}

func (n *recordingNotifier) SendConfirmation(context.Context, *domain.Donation, string) {
	n.mu.Lock()
	n.confirmations++
	n.mu.Unlock()
}

func (n *recordingNotifier) SendFailureNotice(context.Context, *domain.Donation, string) {
	n.mu.Lock()
	n.failures++
	n.mu.Unlock()
}

func (n *recordingNotifier) SendRefundNotice(context.Context, *domain.Donation, string) {
	n.mu.Lock()
	n.refunds++
	n.mu.Unlock()
}

// recordingTracker captures webhook failure records.
type recordingTracker struct {
	mu      sync.Mutex
	entries []string
}

func (t *recordingTracker) RecordFailure(_ context.Context, providerName, externalID, reason string) {
	t.mu.Lock()
	t.entries = append(t.entries, providerName+":"+externalID+":"+reason)
	t.mu.Unlock()
}
