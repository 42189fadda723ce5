package usecase

import (
	"context"
	"time"

	"donation-service/internal/domain"
	"donation-service/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecurringReport summarizes one scheduler run.
type RecurringReport struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// RecurringUsecase renews due recurring donation chains. A chain is headed
// by its originating completed donation; each run creates at most one new
// pending renewal per due chain.
type RecurringUsecase struct {
	donations repository.DonationRepository
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

func NewRecurringUsecase(donations repository.DonationRepository, logger *zap.Logger) *RecurringUsecase {
	return &RecurringUsecase{
		donations: donations,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// ProcessDue walks every recurring chain and creates renewals for the due
// ones. Chains are isolated: one chain failing never aborts the run. With
// dryRun set, due chains are counted but nothing is written.
func (uc *RecurringUsecase) ProcessDue(ctx context.Context, dryRun bool) (*RecurringReport, error) {
	heads, err := uc.donations.ListRecurringHeads(ctx)
	if err != nil {
		return nil, err
	}

	report := &RecurringReport{}
	now := uc.now()

	for _, head := range heads {
		due, err := uc.chainDue(ctx, head, now)
		if err != nil {
			uc.logger.Error("inspect recurring chain",
				zap.Error(err),
				zap.String("head_id", head.ID))
			report.Failed++
			continue
		}
		if !due {
			continue
		}

		if dryRun {
			report.Processed++
			continue
		}

		renewal := head.NewRenewal(uc.newID(), now)
		if err := uc.donations.Create(ctx, renewal); err != nil {
			uc.logger.Error("create renewal",
				zap.Error(err),
				zap.String("head_id", head.ID))
			report.Failed++
			continue
		}

		uc.logger.Info("renewal created",
			zap.String("head_id", head.ID),
			zap.String("renewal_id", renewal.ID),
			zap.String("frequency", string(*head.Frequency)))
		report.Processed++
	}

	return report, nil
}

// chainDue decides whether a chain owes a renewal now. The reference point
// is the latest completed renewal, falling back to the head itself, and the
// interval is the chain's fixed day count.
func (uc *RecurringUsecase) chainDue(ctx context.Context, head *domain.Donation, now time.Time) (bool, error) {
	if head.Frequency == nil {
		return false, nil
	}
	interval := head.Frequency.RenewalInterval()
	if interval == 0 {
		return false, nil
	}

	reference := head
	if latest, err := uc.donations.LatestCompletedChild(ctx, head.ID); err != nil {
		return false, err
	} else if latest != nil {
		reference = latest
	}

	anchor := reference.CreatedAt
	if reference.CompletedAt != nil {
		anchor = *reference.CompletedAt
	}
	return !now.Before(anchor.Add(interval)), nil
}
