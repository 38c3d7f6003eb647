package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/SanaullahForhad/sooqkabeer-production/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const commissionColumns = `entry_id, payee_account_id, source_order_id, source_key, cause,
	base_amount, rate, amount, status, notes, created_at, paid_at, settled_at`

func scanCommission(row rowScanner) (*domain.CommissionEntry, error) {
	var (
		entry     domain.CommissionEntry
		orderID   sql.NullString
		cause     string
		status    string
		rate      decimal.NullDecimal
		createdAt dbTime
		paidAt    dbTime
		settledAt dbTime
	)
	err := row.Scan(
		&entry.ID,
		&entry.PayeeAccountID,
		&orderID,
		&entry.SourceKey,
		&cause,
		&entry.BaseAmount,
		&rate,
		&entry.Amount,
		&status,
		&entry.Notes,
		&createdAt,
		&paidAt,
		&settledAt,
	)
	if err != nil {
		return nil, err
	}
	if orderID.Valid {
		v := orderID.String
		entry.SourceOrderID = &v
	}
	if rate.Valid {
		v := rate.Decimal
		entry.Rate = &v
	}
	entry.Cause = domain.CommissionCause(cause)
	entry.Status = domain.CommissionStatus(status)
	entry.CreatedAt = createdAt.Time
	entry.PaidAt = paidAt.ptr()
	entry.SettledAt = settledAt.ptr()
	return &entry, nil
}

// InsertCommission inserts the entry unless one with the same idempotency key exists.
// With settle=true a newly created entry is written as paid and its amount credited to
// the payee in the same transaction.
func (r *SQLRepository) InsertCommission(ctx context.Context, entry *domain.CommissionEntry, settle bool) (*domain.CommissionEntry, bool, error) {
	var (
		stored  *domain.CommissionEntry
		created bool
	)
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		stored, created, err = r.insertCommission(ctx, tx, entry, settle)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (r *SQLRepository) insertCommission(ctx context.Context, tx *sql.Tx, entry *domain.CommissionEntry, settle bool) (*domain.CommissionEntry, bool, error) {
	if entry == nil {
		return nil, false, errors.New("commission entry is nil")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	// Serialise with every other balance change for this payee.
	if _, err := r.lockAccount(ctx, tx, entry.PayeeAccountID); err != nil {
		return nil, false, err
	}

	entry.Status = domain.CommissionPending
	entry.PaidAt = nil
	entry.SettledAt = nil
	if settle {
		at := entry.CreatedAt
		entry.Status = domain.CommissionPaid
		entry.PaidAt = &at
		entry.SettledAt = &at
	}

	var rate interface{}
	if entry.Rate != nil {
		rate = entry.Rate.String()
	}
	var orderID interface{}
	if entry.SourceOrderID != nil {
		orderID = *entry.SourceOrderID
	}

	query := `
		INSERT INTO commission_entries (
			entry_id, payee_account_id, source_order_id, source_key, cause,
			base_amount, rate, amount, status, notes, created_at, paid_at, settled_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_key, payee_account_id, cause) DO NOTHING
	`
	res, err := tx.ExecContext(ctx, r.q(query),
		entry.ID,
		entry.PayeeAccountID,
		orderID,
		entry.SourceKey,
		string(entry.Cause),
		entry.BaseAmount,
		rate,
		entry.Amount,
		string(entry.Status),
		entry.Notes,
		r.dialect.timeValue(entry.CreatedAt),
		r.dialect.nullTimeValue(entry.PaidAt),
		r.dialect.nullTimeValue(entry.SettledAt),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert commission: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert commission rows affected: %w", err)
	}

	if affected == 0 {
		existing, err := r.findCommissionByKey(ctx, tx, entry.SourceKey, entry.PayeeAccountID, entry.Cause)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	if settle {
		if err := r.creditAccount(ctx, tx, entry.PayeeAccountID, entry.Amount, entry.CreatedAt); err != nil {
			return nil, false, err
		}
	}

	stored := *entry
	return &stored, true, nil
}

func (r *SQLRepository) findCommissionByKey(ctx context.Context, db queryer, sourceKey, payeeID string, cause domain.CommissionCause) (*domain.CommissionEntry, error) {
	query := `SELECT ` + commissionColumns + ` FROM commission_entries
		WHERE source_key = ? AND payee_account_id = ? AND cause = ?`
	entry, err := scanCommission(db.QueryRowContext(ctx, r.q(query), sourceKey, payeeID, string(cause)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommissionNotFound
		}
		return nil, fmt.Errorf("find commission by key: %w", err)
	}
	return entry, nil
}

// FindCommissionByID returns a single commission entry.
func (r *SQLRepository) FindCommissionByID(ctx context.Context, entryID uuid.UUID) (*domain.CommissionEntry, error) {
	return r.findCommission(ctx, r.db, entryID, false)
}

func (r *SQLRepository) findCommission(ctx context.Context, db queryer, entryID uuid.UUID, lock bool) (*domain.CommissionEntry, error) {
	query := `SELECT ` + commissionColumns + ` FROM commission_entries WHERE entry_id = ?`
	if lock {
		query += r.dialect.lockClause()
	}
	entry, err := scanCommission(db.QueryRowContext(ctx, r.q(query), entryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommissionNotFound
		}
		return nil, fmt.Errorf("find commission: %w", err)
	}
	return entry, nil
}

// SettleCommission moves a pending entry to paid (crediting the payee) or cancelled.
// Entries that already left pending are rejected with ErrInvalidTransition.
func (r *SQLRepository) SettleCommission(ctx context.Context, params SettleCommissionParams) (*domain.CommissionEntry, error) {
	if params.Status != domain.CommissionPaid && params.Status != domain.CommissionCancelled {
		return nil, fmt.Errorf("%w: cannot settle to %q", ErrInvalidTransition, params.Status)
	}
	at := params.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var settled *domain.CommissionEntry
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		entry, err := r.findCommission(ctx, tx, params.EntryID, true)
		if err != nil {
			return err
		}
		if entry.Status != domain.CommissionPending {
			return fmt.Errorf("%w: commission %s is %s", ErrInvalidTransition, entry.ID, entry.Status)
		}

		if params.Status == domain.CommissionPaid {
			if _, err := r.lockAccount(ctx, tx, entry.PayeeAccountID); err != nil {
				return err
			}
			if err := r.creditAccount(ctx, tx, entry.PayeeAccountID, entry.Amount, at); err != nil {
				return err
			}
			entry.PaidAt = &at
		}
		entry.Status = params.Status
		entry.SettledAt = &at
		if params.Notes != "" {
			entry.Notes = params.Notes
		}

		update := `
			UPDATE commission_entries
			SET status = ?, notes = ?, paid_at = ?, settled_at = ?
			WHERE entry_id = ? AND status = 'pending'
		`
		res, err := tx.ExecContext(ctx, r.q(update),
			string(entry.Status),
			entry.Notes,
			r.dialect.nullTimeValue(entry.PaidAt),
			r.dialect.timeValue(at),
			entry.ID,
		)
		if err != nil {
			return fmt.Errorf("update commission status: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: commission %s is no longer pending", ErrInvalidTransition, entry.ID)
		}
		settled = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settled, nil
}

// ListCommissionsByPayee returns the payee's entries, newest first.
func (r *SQLRepository) ListCommissionsByPayee(ctx context.Context, payeeID string, limit int) ([]domain.CommissionEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + commissionColumns + ` FROM commission_entries
		WHERE payee_account_id = ?
		ORDER BY created_at DESC, entry_id DESC
		LIMIT ?`
	rows, err := r.db.QueryContext(ctx, r.q(query), payeeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list commissions: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.CommissionEntry, 0)
	for rows.Next() {
		entry, err := scanCommission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan commission: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commissions: %w", err)
	}
	return entries, nil
}

// SumCommissions totals the payee's non-cancelled entries for the given causes.
func (r *SQLRepository) SumCommissions(ctx context.Context, payeeID string, causes []domain.CommissionCause) (int64, error) {
	if len(causes) == 0 {
		return 0, nil
	}
	args := make([]interface{}, 0, len(causes)+1)
	args = append(args, payeeID)
	for _, cause := range causes {
		args = append(args, string(cause))
	}
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM commission_entries
		WHERE payee_account_id = ?
			AND status <> 'cancelled'
			AND cause IN (` + placeholders(len(causes)) + `)
	`
	var total int64
	if err := r.db.QueryRowContext(ctx, r.q(query), args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum commissions: %w", err)
	}
	return total, nil
}
