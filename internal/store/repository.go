/**
 * @description
 * This file defines the `Repository` interface, the contract for every data access
 * operation the ledger-service needs. Business logic depends on this interface only,
 * so the SQL implementation can run on PostgreSQL in production and SQLite in
 * development and tests.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For entry and request identifiers.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/SanaullahForhad/sooqkabeer-production/internal/domain"
	"github.com/google/uuid"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account methods
	// EnsureAccount inserts the account when it does not exist and returns the stored
	// row. The bool reports whether a new row was created.
	EnsureAccount(ctx context.Context, account *domain.Account) (*domain.Account, bool, error)
	FindAccountByID(ctx context.Context, accountID string) (*domain.Account, error)
	FindAccountByReferralCode(ctx context.Context, code string) (*domain.Account, error)

	// Referral graph methods
	// ListReferralAncestry returns the edges whose referred_id is the given account,
	// ordered by level.
	ListReferralAncestry(ctx context.Context, referredID string) ([]domain.ReferralEdge, error)
	CreateReferral(ctx context.Context, params CreateReferralParams) (*domain.CommissionEntry, error)
	CountReferrals(ctx context.Context, referrerID string) (direct int, indirect int, err error)

	// Commission ledger methods
	// InsertCommission is insert-or-skip on (source_key, payee, cause). When a row with
	// the same key exists it is returned with created=false and nothing is changed.
	InsertCommission(ctx context.Context, entry *domain.CommissionEntry, settle bool) (stored *domain.CommissionEntry, created bool, err error)
	SettleCommission(ctx context.Context, params SettleCommissionParams) (*domain.CommissionEntry, error)
	FindCommissionByID(ctx context.Context, entryID uuid.UUID) (*domain.CommissionEntry, error)
	ListCommissionsByPayee(ctx context.Context, payeeID string, limit int) ([]domain.CommissionEntry, error)
	SumCommissions(ctx context.Context, payeeID string, causes []domain.CommissionCause) (int64, error)

	// Withdrawal methods
	// CreateWithdrawal reserves req.Amount from the account and inserts the request in
	// one transaction.
	CreateWithdrawal(ctx context.Context, req *domain.WithdrawalRequest) error
	TransitionWithdrawal(ctx context.Context, params TransitionWithdrawalParams) (*domain.WithdrawalRequest, error)
	FindWithdrawalByID(ctx context.Context, requestID uuid.UUID) (*domain.WithdrawalRequest, error)
	ListWithdrawalsByAccount(ctx context.Context, accountID string, limit int) ([]domain.WithdrawalRequest, error)
	ListStalePendingWithdrawals(ctx context.Context, requestedBefore time.Time, limit int) ([]domain.WithdrawalRequest, error)
}

// CreateReferralParams carries a complete referral registration: the new edges and the
// optional signup bonus for the direct referrer.
type CreateReferralParams struct {
	ReferredID  string
	Edges       []domain.ReferralEdge
	SignupBonus *domain.CommissionEntry
	SettleBonus bool
}

// SettleCommissionParams moves a pending entry to paid or cancelled.
type SettleCommissionParams struct {
	EntryID uuid.UUID
	Status  domain.CommissionStatus
	Notes   string
	At      time.Time
}

// TransitionWithdrawalParams moves a withdrawal request to a new status.
type TransitionWithdrawalParams struct {
	RequestID uuid.UUID
	To        domain.WithdrawalStatus
	Reason    string
	Notes     string
	At        time.Time
}
