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

type ReceiptRepository interface {
	Create(ctx context.Context, rec *domain.Receipt) error
	GetByDonation(ctx context.Context, donationID string) (*domain.Receipt, error)
	MarkEmailSent(ctx context.Context, id string, sentAt time.Time) error
}

type receiptRepo struct {
	db *pgxpool.Pool
}

func NewReceiptRepository(db *pgxpool.Pool) ReceiptRepository {
	return &receiptRepo{db: db}
}

func (r *receiptRepo) Create(ctx context.Context, rec *domain.Receipt) error {
	query := `
		INSERT INTO receipts (id, donation_id, receipt_number)
		VALUES ($1, $2, $3)
		ON CONFLICT (donation_id) DO NOTHING
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query, rec.ID, rec.DonationID, rec.ReceiptNumber).Scan(&rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Receipt already issued for this donation, replayed completion.
		existing, getErr := r.GetByDonation(ctx, rec.DonationID)
		if getErr != nil {
			return getErr
		}
		*rec = *existing
		return nil
	}
	if err != nil {
		return fmt.Errorf("create receipt: %w", err)
	}
	return nil
}

func (r *receiptRepo) GetByDonation(ctx context.Context, donationID string) (*domain.Receipt, error) {
	query := `
		SELECT id, donation_id, receipt_number, email_sent, email_sent_at, created_at
		FROM receipts WHERE donation_id = $1
	`
	var rec domain.Receipt
	err := r.db.QueryRow(ctx, query, donationID).Scan(
		&rec.ID,
		&rec.DonationID,
		&rec.ReceiptNumber,
		&rec.EmailSent,
		&rec.EmailSentAt,
		&rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrReceiptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	return &rec, nil
}

func (r *receiptRepo) MarkEmailSent(ctx context.Context, id string, sentAt time.Time) error {
	query := `UPDATE receipts SET email_sent = TRUE, email_sent_at = $2 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, sentAt)
	if err != nil {
		return fmt.Errorf("mark receipt sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReceiptNotFound
	}
	return nil
}
