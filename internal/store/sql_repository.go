/**
 * @description
 * SQLRepository implements the Repository interface over database/sql. The same
 * statements run on PostgreSQL (through the pgx stdlib bridge) and SQLite; the Dialect
 * decides placeholder style, row locking and timestamp encoding.
 *
 * @notes
 * - Every balance mutation reads the account row with a row lock inside the same
 *   transaction that writes it.
 * - Timestamps are generated by the caller in UTC, never by the database.
 */

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SanaullahForhad/sooqkabeer-production/internal/domain"
)

// SQLRepository is the database/sql implementation of Repository.
type SQLRepository struct {
	db      *sql.DB
	dialect Dialect
}

var _ Repository = (*SQLRepository)(nil)

// NewSQLRepository wraps an already migrated database handle.
func NewSQLRepository(db *sql.DB, dialect Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: dialect}
}

// Dialect reports which SQL flavour the repository is using.
func (r *SQLRepository) Dialect() Dialect {
	return r.dialect
}

// Close releases the underlying database handle.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLRepository) q(query string) string {
	return r.dialect.rebind(query)
}

// inTx runs fn inside a transaction and commits when fn returns nil.
func (r *SQLRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const accountColumns = `account_id, kind, referral_code, available_balance, reserved_balance,
	lifetime_earned, withdrawn_total, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var (
		acct      domain.Account
		kind      string
		createdAt dbTime
		updatedAt dbTime
	)
	err := row.Scan(
		&acct.ID,
		&kind,
		&acct.ReferralCode,
		&acct.AvailableBalance,
		&acct.ReservedBalance,
		&acct.LifetimeEarned,
		&acct.WithdrawnTotal,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	acct.Kind = domain.AccountKind(kind)
	acct.CreatedAt = createdAt.Time
	acct.UpdatedAt = updatedAt.Time
	return &acct, nil
}

// EnsureAccount inserts the account if it is missing and returns the stored row.
func (r *SQLRepository) EnsureAccount(ctx context.Context, account *domain.Account) (*domain.Account, bool, error) {
	if account == nil {
		return nil, false, errors.New("account is nil")
	}
	now := account.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	query := `
		INSERT INTO ledger_accounts (
			account_id, kind, referral_code, available_balance, reserved_balance,
			lifetime_earned, withdrawn_total, created_at, updated_at
		)
		VALUES (?, ?, ?, 0, 0, 0, 0, ?, ?)
		ON CONFLICT (account_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, r.q(query),
		account.ID,
		string(account.Kind),
		account.ReferralCode,
		r.dialect.timeValue(now),
		r.dialect.timeValue(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, false, ErrReferralCodeTaken
		}
		return nil, false, fmt.Errorf("insert account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert account rows affected: %w", err)
	}

	stored, err := r.findAccount(ctx, r.db, account.ID, false)
	if err != nil {
		return nil, false, err
	}
	return stored, affected > 0, nil
}

// FindAccountByID returns a single account.
func (r *SQLRepository) FindAccountByID(ctx context.Context, accountID string) (*domain.Account, error) {
	return r.findAccount(ctx, r.db, accountID, false)
}

// FindAccountByReferralCode resolves a referral code to its owner.
func (r *SQLRepository) FindAccountByReferralCode(ctx context.Context, code string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM ledger_accounts WHERE referral_code = ?`
	acct, err := scanAccount(r.db.QueryRowContext(ctx, r.q(query), strings.ToUpper(strings.TrimSpace(code))))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("find account by referral code: %w", err)
	}
	return acct, nil
}

func (r *SQLRepository) findAccount(ctx context.Context, db queryer, accountID string, lock bool) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM ledger_accounts WHERE account_id = ?`
	if lock {
		query += r.dialect.lockClause()
	}
	acct, err := scanAccount(db.QueryRowContext(ctx, r.q(query), accountID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	return acct, nil
}

// lockAccount reads the account row and holds its lock until the transaction ends.
func (r *SQLRepository) lockAccount(ctx context.Context, tx *sql.Tx, accountID string) (*domain.Account, error) {
	return r.findAccount(ctx, tx, accountID, true)
}

// creditAccount adds a settled commission to the spendable and lifetime totals.
func (r *SQLRepository) creditAccount(ctx context.Context, tx *sql.Tx, accountID string, amount int64, at time.Time) error {
	query := `
		UPDATE ledger_accounts
		SET available_balance = available_balance + ?,
			lifetime_earned = lifetime_earned + ?,
			updated_at = ?
		WHERE account_id = ?
	`
	res, err := tx.ExecContext(ctx, r.q(query), amount, amount, r.dialect.timeValue(at), accountID)
	if err != nil {
		return fmt.Errorf("credit account: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAccountNotFound
	}
	return nil
}
