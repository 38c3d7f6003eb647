package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrReferralCodeTaken  = errors.New("referral code already in use")
	ErrAlreadyReferred    = errors.New("account already has a referrer")
	ErrReferralCycle      = errors.New("referral would make an account its own ancestor")
	ErrCommissionNotFound = errors.New("commission entry not found")
	ErrWithdrawalNotFound = errors.New("withdrawal request not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInvalidTransition  = errors.New("invalid status transition")
)

// isUniqueViolation reports whether err is a unique or primary key violation on
// either supported driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}
