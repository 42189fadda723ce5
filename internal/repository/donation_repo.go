package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"donation-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DonationRepository interface {
	Create(ctx context.Context, d *domain.Donation) error
	GetByID(ctx context.Context, id string) (*domain.Donation, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.Donation, error)

	// SetProcessing moves pending -> processing and records the gateway id.
	SetProcessing(ctx context.Context, id, externalID string) error

	// MarkCompleted applies the completion transition and recomputes the
	// campaign aggregate inside one transaction.
	MarkCompleted(ctx context.Context, id string, externalID *string, completedAt time.Time) error

	MarkFailed(ctx context.Context, id, reason string) error
	MarkCancelled(ctx context.Context, id string) error

	// MarkRefunded applies completed -> refunded and recomputes the campaign
	// aggregate inside one transaction.
	MarkRefunded(ctx context.Context, id, reason string) error

	// ListRecurringHeads returns completed originating donations of recurring
	// chains (parent id null).
	ListRecurringHeads(ctx context.Context) ([]*domain.Donation, error)

	// LatestCompletedChild returns the most recent completed renewal of a
	// chain, nil when the head has no completed children.
	LatestCompletedChild(ctx context.Context, parentID string) (*domain.Donation, error)
}

type donationRepo struct {
	db *pgxpool.Pool
}

func NewDonationRepository(db *pgxpool.Pool) DonationRepository {
	return &donationRepo{db: db}
}

const donationColumns = `
	id, campaign_id, amount::text, processing_fee::text, net_amount::text, currency,
	status, payment_method, external_payment_id,
	donor_id, donor_name, donor_email, anonymous,
	is_recurring, frequency, parent_donation_id,
	message, ip_address, user_agent, requires_review, admin_notes,
	created_at, updated_at, completed_at`

func (r *donationRepo) Create(ctx context.Context, d *domain.Donation) error {
	d.RecomputeNet()

	query := `
		INSERT INTO donations (
			id, campaign_id, amount, processing_fee, net_amount, currency,
			status, payment_method, external_payment_id,
			donor_id, donor_name, donor_email, anonymous,
			is_recurring, frequency, parent_donation_id,
			message, ip_address, user_agent, requires_review
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		RETURNING created_at, updated_at
	`

	return r.db.QueryRow(ctx, query,
		d.ID,
		d.CampaignID,
		d.Amount.StringFixed(2),
		d.ProcessingFee.StringFixed(2),
		d.NetAmount.StringFixed(2),
		d.Currency,
		d.Status,
		d.PaymentMethod,
		d.ExternalPaymentID,
		d.DonorID,
		d.DonorName,
		d.DonorEmail,
		d.Anonymous,
		d.IsRecurring,
		d.Frequency,
		d.ParentDonationID,
		d.Message,
		d.IPAddress,
		d.UserAgent,
		d.RequiresReview,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (r *donationRepo) GetByID(ctx context.Context, id string) (*domain.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations WHERE id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

func (r *donationRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations WHERE external_payment_id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, externalID))
}

// guardSet renders the legal source statuses for a transition as a text
// array for a `status = ANY($n)` clause.
func guardSet(to domain.DonationStatus) []string {
	sources := domain.TransitionSources(to)
	set := make([]string, len(sources))
	for i, s := range sources {
		set[i] = string(s)
	}
	return set
}

func (r *donationRepo) SetProcessing(ctx context.Context, id, externalID string) error {
	query := `
		UPDATE donations
		SET status = 'processing', external_payment_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`
	tag, err := r.db.Exec(ctx, query, id, externalID, guardSet(domain.StatusProcessing))
	if err != nil {
		return fmt.Errorf("set processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionError(ctx, id, domain.StatusProcessing)
	}
	return nil
}

func (r *donationRepo) MarkCompleted(ctx context.Context, id string, externalID *string, completedAt time.Time) error {
	return r.transitionAndRecompute(ctx, id, domain.StatusCompleted, func(ctx context.Context, tx pgx.Tx) (int64, error) {
		query := `
			UPDATE donations
			SET status = 'completed',
			    external_payment_id = COALESCE($2, external_payment_id),
			    completed_at = $3,
			    updated_at = NOW()
			WHERE id = $1 AND status = ANY($4)
		`
		tag, err := tx.Exec(ctx, query, id, externalID, completedAt, guardSet(domain.StatusCompleted))
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	})
}

func (r *donationRepo) MarkFailed(ctx context.Context, id, reason string) error {
	query := `
		UPDATE donations
		SET status = 'failed', admin_notes = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`
	tag, err := r.db.Exec(ctx, query, id, reason, guardSet(domain.StatusFailed))
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionError(ctx, id, domain.StatusFailed)
	}
	return nil
}

func (r *donationRepo) MarkCancelled(ctx context.Context, id string) error {
	query := `
		UPDATE donations
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
	`
	tag, err := r.db.Exec(ctx, query, id, guardSet(domain.StatusCancelled))
	if err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionError(ctx, id, domain.StatusCancelled)
	}
	return nil
}

func (r *donationRepo) MarkRefunded(ctx context.Context, id, reason string) error {
	return r.transitionAndRecompute(ctx, id, domain.StatusRefunded, func(ctx context.Context, tx pgx.Tx) (int64, error) {
		query := `
			UPDATE donations
			SET status = 'refunded', admin_notes = $2, updated_at = NOW()
			WHERE id = $1 AND status = ANY($3)
		`
		tag, err := tx.Exec(ctx, query, id, "Refunded: "+reason, guardSet(domain.StatusRefunded))
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	})
}

// transitionAndRecompute runs the guarded transition and the campaign
// aggregate recomputation in one transaction, so a racing webhook and a
// manual admin action can never partially apply.
func (r *donationRepo) transitionAndRecompute(
	ctx context.Context,
	id string,
	to domain.DonationStatus,
	apply func(ctx context.Context, tx pgx.Tx) (int64, error),
) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	affected, err := apply(ctx, tx)
	if err != nil {
		return fmt.Errorf("transition to %s: %w", to, err)
	}
	if affected == 0 {
		return r.transitionError(ctx, id, to)
	}

	recompute := `
		UPDATE campaigns
		SET current_amount = COALESCE((
			SELECT SUM(net_amount) FROM donations
			WHERE campaign_id = campaigns.id AND status = 'completed'
		), 0),
		updated_at = NOW()
		WHERE id = (SELECT campaign_id FROM donations WHERE id = $1)
	`
	if _, err := tx.Exec(ctx, recompute, id); err != nil {
		return fmt.Errorf("recompute campaign aggregate: %w", err)
	}

	return tx.Commit(ctx)
}

// transitionError distinguishes a missing donation from a guarded rejection.
func (r *donationRepo) transitionError(ctx context.Context, id string, to domain.DonationStatus) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return domain.ErrDonationNotFound
	}
	return &domain.TransitionError{DonationID: id, From: current.Status, To: to}
}

func (r *donationRepo) ListRecurringHeads(ctx context.Context) ([]*domain.Donation, error) {
	query := `SELECT ` + donationColumns + `
		FROM donations
		WHERE is_recurring = TRUE AND status = 'completed' AND parent_donation_id IS NULL
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list recurring heads: %w", err)
	}
	defer rows.Close()

	var heads []*domain.Donation
	for rows.Next() {
		d, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		heads = append(heads, d)
	}
	return heads, rows.Err()
}

func (r *donationRepo) LatestCompletedChild(ctx context.Context, parentID string) (*domain.Donation, error) {
	query := `SELECT ` + donationColumns + `
		FROM donations
		WHERE parent_donation_id = $1 AND status = 'completed'
		ORDER BY created_at DESC
		LIMIT 1
	`
	d, err := r.scanOne(r.db.QueryRow(ctx, query, parentID))
	if errors.Is(err, domain.ErrDonationNotFound) {
		return nil, nil
	}
	return d, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *donationRepo) scanOne(row rowScanner) (*domain.Donation, error) {
	d, err := r.scanRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrDonationNotFound
	}
	return d, err
}

func (r *donationRepo) scanRow(row rowScanner) (*domain.Donation, error) {
	var d domain.Donation
	var amount, fee, net string

	err := row.Scan(
		&d.ID,
		&d.CampaignID,
		&amount,
		&fee,
		&net,
		&d.Currency,
		&d.Status,
		&d.PaymentMethod,
		&d.ExternalPaymentID,
		&d.DonorID,
		&d.DonorName,
		&d.DonorEmail,
		&d.Anonymous,
		&d.IsRecurring,
		&d.Frequency,
		&d.ParentDonationID,
		&d.Message,
		&d.IPAddress,
		&d.UserAgent,
		&d.RequiresReview,
		&d.AdminNotes,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if d.Amount, err = parseMoney(amount); err != nil {
		return nil, err
	}
	if d.ProcessingFee, err = parseMoney(fee); err != nil {
		return nil, err
	}
	if d.NetAmount, err = parseMoney(net); err != nil {
		return nil, err
	}
	return &d, nil
}
