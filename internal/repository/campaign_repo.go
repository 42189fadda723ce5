package repository

import (
	"context"
	"errors"
	"fmt"

	"donation-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type CampaignRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)

	// RecomputeCurrentAmount rebuilds the aggregate from completed donations.
	// Returns the new total.
	RecomputeCurrentAmount(ctx context.Context, id string) (decimal.Decimal, error)
}

type campaignRepo struct {
	db *pgxpool.Pool
}

func NewCampaignRepository(db *pgxpool.Pool) CampaignRepository {
	return &campaignRepo{db: db}
}

func (r *campaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	query := `
		SELECT id, title, goal::text, current_amount::text, owner_id,
		       approved, active, created_at, updated_at
		FROM campaigns WHERE id = $1
	`
	var c domain.Campaign
	var goal, current string

	err := r.db.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.Title,
		&goal,
		&current,
		&c.OwnerID,
		&c.Approved,
		&c.Active,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}

	if c.Goal, err = parseMoney(goal); err != nil {
		return nil, err
	}
	if c.CurrentAmount, err = parseMoney(current); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *campaignRepo) RecomputeCurrentAmount(ctx context.Context, id string) (decimal.Decimal, error) {
	query := `
		UPDATE campaigns
		SET current_amount = COALESCE((
			SELECT SUM(net_amount) FROM donations
			WHERE campaign_id = $1 AND status = 'completed'
		), 0),
		updated_at = NOW()
		WHERE id = $1
		RETURNING current_amount::text
	`
	var total string
	if err := r.db.QueryRow(ctx, query, id).Scan(&total); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, domain.ErrCampaignNotFound
		}
		return decimal.Zero, fmt.Errorf("recompute campaign: %w", err)
	}
	return parseMoney(total)
}

func parseMoney(s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return v, nil
}
