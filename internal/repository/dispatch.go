package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/salonkit/campaignd/internal/models"
)

// DispatchRepository is the at-most-once ledger for campaign sends. A row
// per (campaign, occurrence, address) is claimed before any provider call;
// a recipient whose claim was lost to an earlier attempt of the same
// occurrence is silently skipped, while each recurrence instance starts
// with a clean ledger.
type DispatchRepository struct {
	db *sql.DB
}

func NewDispatchRepository(db *sql.DB) *DispatchRepository {
	return &DispatchRepository{db: db}
}

// Claim attempts to claim each recipient for one dispatch occurrence and
// returns only the ones this call won. Recipients already present in the
// occurrence's log were handled (or are being handled) by a previous
// attempt.
func (r *DispatchRepository) Claim(ctx context.Context, campaignID string, occurrence int, variant string, recipients []models.Recipient) ([]models.Recipient, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO dispatch_log (campaign_id, occurrence, address, recipient_id, variant, status)
		VALUES (?, ?, ?, ?, ?, 'pending')`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare claim: %w", err)
	}
	defer stmt.Close()

	claimed := make([]models.Recipient, 0, len(recipients))
	for _, rcpt := range recipients {
		recipientID := rcpt.CustomerID
		if recipientID == "" {
			recipientID = rcpt.Address
		}
		res, err := stmt.ExecContext(ctx, campaignID, occurrence, rcpt.Address, recipientID, variant)
		if err != nil {
			return nil, fmt.Errorf("failed to claim recipient: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			claimed = append(claimed, rcpt)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claims: %w", err)
	}
	return claimed, nil
}

// MarkOutcome records the provider result for one claimed recipient.
func (r *DispatchRepository) MarkOutcome(ctx context.Context, campaignID string, occurrence int, address, status, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE dispatch_log SET status = ?, error = ?
		WHERE campaign_id = ? AND occurrence = ? AND address = ?`,
		status, errMsg, campaignID, occurrence, address)
	if err != nil {
		return fmt.Errorf("failed to mark dispatch outcome: %w", err)
	}
	return nil
}

// Counts returns the per-status dispatch totals for a campaign.
func (r *DispatchRepository) Counts(ctx context.Context, campaignID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM dispatch_log
		WHERE campaign_id = ? GROUP BY status`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to count dispatches: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// CountRecipients returns how many recipients were ever claimed for a
// campaign.
func (r *DispatchRepository) CountRecipients(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM dispatch_log WHERE campaign_id = ?", campaignID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count recipients: %w", err)
	}
	return n, nil
}

// VariantRecipients returns how many recipients were dispatched under each
// variant label.
func (r *DispatchRepository) VariantRecipients(ctx context.Context, campaignID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT variant, COUNT(*) FROM dispatch_log
		WHERE campaign_id = ? AND variant != '' GROUP BY variant`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to count variant recipients: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var variant string
		var n int
		if err := rows.Scan(&variant, &n); err != nil {
			return nil, err
		}
		counts[variant] = n
	}
	return counts, rows.Err()
}
