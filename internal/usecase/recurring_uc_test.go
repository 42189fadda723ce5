package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"donation-service/internal/domain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newRecurringFixture(t *testing.T, now time.Time) (*RecurringUsecase, *memDonationRepo) {
	t.Helper()

	campaigns := newMemCampaignRepo()
	campaigns.put(&domain.Campaign{
		ID:       "camp-1",
		Goal:     decimal.RequireFromString("1000.00"),
		Approved: true,
		Active:   true,
	})
	donations := newMemDonationRepo(campaigns)

	uc := NewRecurringUsecase(donations, zap.NewNop())
	uc.now = func() time.Time { return now }
	n := 0
	uc.newID = func() string {
		n++
		return fmt.Sprintf("renewal-%d", n)
	}
	return uc, donations
}

func seedHead(t *testing.T, repo *memDonationRepo, id string, freq domain.RecurringFrequency, completedAt time.Time) *domain.Donation {
	t.Helper()
	f := freq
	at := completedAt
	head := &domain.Donation{
		ID:            id,
		CampaignID:    "camp-1",
		Amount:        decimal.RequireFromString("25.00"),
		ProcessingFee: decimal.RequireFromString("1.03"),
		Currency:      "USD",
		Status:        domain.StatusCompleted,
		PaymentMethod: domain.MethodCard,
		IsRecurring:   true,
		Frequency:     &f,
		CreatedAt:     completedAt,
		CompletedAt:   &at,
	}
	if err := repo.Create(context.Background(), head); err != nil {
		t.Fatal(err)
	}
	return head
}

func TestProcessDueCreatesRenewal(t *testing.T) {
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	uc, repo := newRecurringFixture(t, now)
	ctx := context.Background()

	// Completed 31 days ago, monthly: due.
	seedHead(t, repo, "head-1", domain.FrequencyMonthly, now.Add(-31*24*time.Hour))

	report, err := uc.ProcessDue(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Processed != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v, want 1 processed", report)
	}

	renewal, err := repo.GetByID(ctx, "renewal-1")
	if err != nil {
		t.Fatal("expected renewal to be created")
	}
	if renewal.Status != domain.StatusPending {
		t.Errorf("renewal status = %s, want pending", renewal.Status)
	}
	if renewal.ParentDonationID == nil || *renewal.ParentDonationID != "head-1" {
		t.Error("renewal must reference its head")
	}
}

func TestProcessDueNotYet(t *testing.T) {
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	uc, repo := newRecurringFixture(t, now)

	// Completed 29 days ago, monthly: not due.
	seedHead(t, repo, "head-1", domain.FrequencyMonthly, now.Add(-29*24*time.Hour))

	report, err := uc.ProcessDue(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Processed != 0 || report.Failed != 0 {
		t.Errorf("report = %+v, want nothing due", report)
	}
}

func TestProcessDueExactBoundary(t *testing.T) {
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	uc, repo := newRecurringFixture(t, now)

	// Exactly 30 days: due.
	seedHead(t, repo, "head-1", domain.FrequencyMonthly, now.Add(-30*24*time.Hour))

	report, err := uc.ProcessDue(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Processed != 1 {
		t.Errorf("report = %+v, want due at the exact interval", report)
	}
}

func TestProcessDueUsesLatestCompletedChild(t *testing.T) {
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	uc, repo := newRecurringFixture(t, now)
	ctx := context.Background()

	head := seedHead(t, repo, "head-1", domain.FrequencyMonthly, now.Add(-90*24*time.Hour))

	// A renewal completed 5 days ago resets the clock.
	child := head.NewRenewal("child-1", now.Add(-5*24*time.Hour))
	child.Status = domain.StatusCompleted
	at := now.Add(-5 * 24 * time.Hour)
	child.CompletedAt = &at
	if err := repo.Create(ctx, child); err != nil {
		t.Fatal(err)
	}

	report, err := uc.ProcessDue(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Processed != 0 {
		t.Errorf("report = %+v, chain renewed 5 days ago must not be due", report)
	}
}

func TestProcessDuePendingChildDoesNotResetClock(t *testing.T) {
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	uc, repo := newRecurringFixture(t, now)
	ctx := context.Background()

	head := seedHead(t, repo, "head-1", domain.FrequencyMonthly, now.Add(-40*24*time.Hour))

	// A renewal that never settled does not count as the reference.
	child := head.NewRenewal("child-1", now.Add(-35*24*time.Hour))
	if err := repo.Create(ctx, child); err != nil {
		t.Fatal(err)
	}

	report, err := uc.ProcessDue(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Processed != 1 {
		t.Errorf("report = %+v, head anchored 40 days back must be due", report)
	}
}

func TestProcessDueDryRun(t *testing.T) {
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	uc, repo := newRecurringFixture(t, now)
	ctx := context.Background()

	seedHead(t, repo, "head-1", domain.FrequencyMonthly, now.Add(-31*24*time.Hour))
	seedHead(t, repo, "head-2", domain.FrequencyYearly, now.Add(-366*24*time.Hour))
	seedHead(t, repo, "head-3", domain.FrequencyQuarterly, now.Add(-10*24*time.Hour))

	report, err := uc.ProcessDue(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if report.Processed != 2 || report.Failed != 0 {
		t.Errorf("report = %+v, want 2 due and nothing written", report)
	}
	if len(repo.donations) != 3 {
		t.Errorf("donations = %d, dry run must not create renewals", len(repo.donations))
	}
}

func TestProcessDueChainIsolation(t *testing.T) {
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	uc, repo := newRecurringFixture(t, now)
	ctx := context.Background()

	seedHead(t, repo, "head-1", domain.FrequencyMonthly, now.Add(-31*24*time.Hour))
	seedHead(t, repo, "head-2", domain.FrequencyMonthly, now.Add(-31*24*time.Hour))

	// Every create fails; both chains must be counted, neither aborts the run.
	repo.createErr = errors.New("insert failed")

	report, err := uc.ProcessDue(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Processed != 0 || report.Failed != 2 {
		t.Errorf("report = %+v, want both chains failed independently", report)
	}
}
