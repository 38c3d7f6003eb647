package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/SanaullahForhad/sooqkabeer-production/internal/domain"
	"github.com/google/uuid"
)

const withdrawalColumns = `request_id, account_id, amount, payout_method, account_details, status,
	rejection_reason, notes, requested_at, processed_at, updated_at`

func scanWithdrawal(row rowScanner) (*domain.WithdrawalRequest, error) {
	var (
		req         domain.WithdrawalRequest
		status      string
		requestedAt dbTime
		processedAt dbTime
		updatedAt   dbTime
	)
	err := row.Scan(
		&req.ID,
		&req.AccountID,
		&req.Amount,
		&req.PayoutMethod,
		&req.AccountDetails,
		&status,
		&req.RejectionReason,
		&req.Notes,
		&requestedAt,
		&processedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.Status = domain.WithdrawalStatus(status)
	req.RequestedAt = requestedAt.Time
	req.ProcessedAt = processedAt.ptr()
	req.UpdatedAt = updatedAt.Time
	return &req, nil
}

// CreateWithdrawal moves req.Amount from available to reserved and records a pending
// request. ErrInsufficientFunds is returned when available cannot cover the amount.
func (r *SQLRepository) CreateWithdrawal(ctx context.Context, req *domain.WithdrawalRequest) error {
	if req == nil {
		return errors.New("withdrawal request is nil")
	}
	if req.Amount <= 0 {
		return fmt.Errorf("withdrawal amount must be positive, got %d", req.Amount)
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	req.Status = domain.WithdrawalPending
	req.UpdatedAt = req.RequestedAt
	req.ProcessedAt = nil

	return r.inTx(ctx, func(tx *sql.Tx) error {
		acct, err := r.lockAccount(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}
		// available_balance is already net of every open reservation.
		if acct.AvailableBalance < req.Amount {
			return ErrInsufficientFunds
		}

		reserve := `
			UPDATE ledger_accounts
			SET available_balance = available_balance - ?,
				reserved_balance = reserved_balance + ?,
				updated_at = ?
			WHERE account_id = ?
		`
		if _, err := tx.ExecContext(ctx, r.q(reserve), req.Amount, req.Amount, r.dialect.timeValue(req.RequestedAt), req.AccountID); err != nil {
			return fmt.Errorf("reserve withdrawal funds: %w", err)
		}

		insert := `
			INSERT INTO withdrawal_requests (
				request_id, account_id, amount, payout_method, account_details, status,
				rejection_reason, notes, requested_at, processed_at, updated_at
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err = tx.ExecContext(ctx, r.q(insert),
			req.ID,
			req.AccountID,
			req.Amount,
			req.PayoutMethod,
			req.AccountDetails,
			string(req.Status),
			req.RejectionReason,
			req.Notes,
			r.dialect.timeValue(req.RequestedAt),
			nil,
			r.dialect.timeValue(req.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert withdrawal request: %w", err)
		}
		return nil
	})
}

// TransitionWithdrawal applies a status change and its balance effect atomically:
// rejected returns the reserved amount to available, completed moves it to withdrawn.
func (r *SQLRepository) TransitionWithdrawal(ctx context.Context, params TransitionWithdrawalParams) (*domain.WithdrawalRequest, error) {
	at := params.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var updated *domain.WithdrawalRequest
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		req, err := r.findWithdrawal(ctx, tx, params.RequestID, true)
		if err != nil {
			return err
		}
		if !req.Status.CanTransitionTo(params.To) {
			return fmt.Errorf("%w: withdrawal %s cannot move from %s to %s", ErrInvalidTransition, req.ID, req.Status, params.To)
		}

		var balanceUpdate string
		switch params.To {
		case domain.WithdrawalRejected:
			balanceUpdate = `
				UPDATE ledger_accounts
				SET available_balance = available_balance + ?,
					reserved_balance = reserved_balance - ?,
					updated_at = ?
				WHERE account_id = ?
			`
		case domain.WithdrawalCompleted:
			balanceUpdate = `
				UPDATE ledger_accounts
				SET withdrawn_total = withdrawn_total + ?,
					reserved_balance = reserved_balance - ?,
					updated_at = ?
				WHERE account_id = ?
			`
		}
		if balanceUpdate != "" {
			if _, err := r.lockAccount(ctx, tx, req.AccountID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, r.q(balanceUpdate), req.Amount, req.Amount, r.dialect.timeValue(at), req.AccountID); err != nil {
				return fmt.Errorf("apply withdrawal balance change: %w", err)
			}
		}

		req.Status = params.To
		req.UpdatedAt = at
		if params.To == domain.WithdrawalCompleted || params.To == domain.WithdrawalRejected {
			req.ProcessedAt = &at
		}
		if params.To == domain.WithdrawalRejected {
			req.RejectionReason = params.Reason
		}
		if params.Notes != "" {
			req.Notes = params.Notes
		}

		update := `
			UPDATE withdrawal_requests
			SET status = ?, rejection_reason = ?, notes = ?, processed_at = ?, updated_at = ?
			WHERE request_id = ?
		`
		_, err = tx.ExecContext(ctx, r.q(update),
			string(req.Status),
			req.RejectionReason,
			req.Notes,
			r.dialect.nullTimeValue(req.ProcessedAt),
			r.dialect.timeValue(req.UpdatedAt),
			req.ID,
		)
		if err != nil {
			return fmt.Errorf("update withdrawal request: %w", err)
		}
		updated = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// FindWithdrawalByID returns a single withdrawal request.
func (r *SQLRepository) FindWithdrawalByID(ctx context.Context, requestID uuid.UUID) (*domain.WithdrawalRequest, error) {
	return r.findWithdrawal(ctx, r.db, requestID, false)
}

func (r *SQLRepository) findWithdrawal(ctx context.Context, db queryer, requestID uuid.UUID, lock bool) (*domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE request_id = ?`
	if lock {
		query += r.dialect.lockClause()
	}
	req, err := scanWithdrawal(db.QueryRowContext(ctx, r.q(query), requestID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, fmt.Errorf("find withdrawal: %w", err)
	}
	return req, nil
}

// ListWithdrawalsByAccount returns the account's requests, newest first.
func (r *SQLRepository) ListWithdrawalsByAccount(ctx context.Context, accountID string, limit int) ([]domain.WithdrawalRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests
		WHERE account_id = ?
		ORDER BY requested_at DESC, request_id DESC
		LIMIT ?`
	return r.listWithdrawals(ctx, query, accountID, limit)
}

// ListStalePendingWithdrawals returns pending requests created before the cutoff,
// oldest first.
func (r *SQLRepository) ListStalePendingWithdrawals(ctx context.Context, requestedBefore time.Time, limit int) ([]domain.WithdrawalRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests
		WHERE status = 'pending' AND requested_at < ?
		ORDER BY requested_at ASC
		LIMIT ?`
	return r.listWithdrawals(ctx, query, r.dialect.timeValue(requestedBefore), limit)
}

func (r *SQLRepository) listWithdrawals(ctx context.Context, query string, args ...interface{}) ([]domain.WithdrawalRequest, error) {
	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	defer rows.Close()

	requests := make([]domain.WithdrawalRequest, 0)
	for rows.Next() {
		req, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		requests = append(requests, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate withdrawals: %w", err)
	}
	return requests, nil
}
