/**
 * @description
 * Core domain models for the ledger-service: payee accounts, the referral graph,
 * commission entries and withdrawal requests.
 *
 * @notes
 * - Amounts are `int64` in fils (1 KWD = 1000 fils). Rates are decimals and are never
 *   stored as floats.
 * - A ReferralEdge carries the rate it was created with. Later changes to the configured
 *   base rate do not touch existing edges.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FilsPerKWD is the number of minor units in one Kuwaiti dinar.
const FilsPerKWD = 1000

// AccountKind distinguishes end users from vendors.
type AccountKind string

const (
	AccountKindUser   AccountKind = "user"
	AccountKindVendor AccountKind = "vendor"
)

// Valid reports whether k is a known account kind.
func (k AccountKind) Valid() bool {
	return k == AccountKindUser || k == AccountKindVendor
}

// Account is a payee wallet. It maps to the `ledger_accounts` table.
type Account struct {
	ID               string      `json:"account_id"`
	Kind             AccountKind `json:"kind"`
	ReferralCode     string      `json:"referral_code"`
	AvailableBalance int64       `json:"available_balance"` // in fils
	ReservedBalance  int64       `json:"reserved_balance"`  // in fils, open withdrawals
	LifetimeEarned   int64       `json:"lifetime_earned"`   // in fils
	WithdrawnTotal   int64       `json:"withdrawn_total"`   // in fils
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Balance is the dashboard view of an account's money.
type Balance struct {
	AccountID        string `json:"account_id"`
	AvailableBalance int64  `json:"available_balance"`
	ReservedBalance  int64  `json:"reserved_balance"`
	LifetimeEarned   int64  `json:"lifetime_earned"`
	WithdrawnTotal   int64  `json:"withdrawn_total"`
}

// ReferralEdge means "referrer earns from referred's future activity".
type ReferralEdge struct {
	ReferrerID string          `json:"referrer_id"`
	ReferredID string          `json:"referred_id"`
	Level      int             `json:"level"` // 1..3
	Rate       decimal.Decimal `json:"rate"`
	CreatedAt  time.Time       `json:"created_at"`
}

// MaxReferralDepth caps how far up the tree a referral pays out.
const MaxReferralDepth = 3

// CommissionCause is the reason a commission entry exists.
type CommissionCause string

const (
	CauseVendorSale     CommissionCause = "vendor_sale"
	CauseReferralLevel1 CommissionCause = "referral_level1"
	CauseReferralLevel2 CommissionCause = "referral_level2"
	CauseReferralLevel3 CommissionCause = "referral_level3"
	CauseSignupBonus    CommissionCause = "signup_bonus"
)

// ReferralCauseForLevel maps an edge level to its commission cause.
func ReferralCauseForLevel(level int) (CommissionCause, bool) {
	switch level {
	case 1:
		return CauseReferralLevel1, true
	case 2:
		return CauseReferralLevel2, true
	case 3:
		return CauseReferralLevel3, true
	default:
		return "", false
	}
}

// ReferralCauses lists every cause that counts toward referral earnings.
var ReferralCauses = []CommissionCause{
	CauseReferralLevel1,
	CauseReferralLevel2,
	CauseReferralLevel3,
	CauseSignupBonus,
}

// CommissionStatus is the settlement state of an entry.
type CommissionStatus string

const (
	CommissionPending   CommissionStatus = "pending"
	CommissionPaid      CommissionStatus = "paid"
	CommissionCancelled CommissionStatus = "cancelled"
)

// CommissionEntry is one append-only ledger row.
// (SourceKey, PayeeAccountID, Cause) is unique: SourceKey is the order id for order
// commissions and "signup:<referred id>" for signup bonuses.
type CommissionEntry struct {
	ID             uuid.UUID        `json:"entry_id"`
	PayeeAccountID string           `json:"payee_account_id"`
	SourceOrderID  *string          `json:"source_order_id"`
	SourceKey      string           `json:"-"`
	Cause          CommissionCause  `json:"cause"`
	BaseAmount     int64            `json:"base_amount"` // in fils
	Rate           *decimal.Decimal `json:"rate,omitempty"`
	Amount         int64            `json:"amount"` // in fils
	Status         CommissionStatus `json:"status"`
	Notes          string           `json:"notes,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	PaidAt         *time.Time       `json:"paid_at,omitempty"`
	SettledAt      *time.Time       `json:"settled_at,omitempty"`
}

// SignupSourceKey builds the idempotency source for a signup bonus.
func SignupSourceKey(referredID string) string {
	return "signup:" + referredID
}

// ReferralStats summarises a payee's downline and referral earnings.
type ReferralStats struct {
	AccountID     string `json:"account_id"`
	DirectCount   int    `json:"direct_count"`
	IndirectCount int    `json:"indirect_count"`
	TotalEarned   int64  `json:"total_earned"` // in fils
}

// WithdrawalStatus is the state of a withdrawal request.
type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalRejected   WithdrawalStatus = "rejected"
)

// CanTransitionTo reports whether a withdrawal may move from s to next.
func (s WithdrawalStatus) CanTransitionTo(next WithdrawalStatus) bool {
	switch s {
	case WithdrawalPending:
		return next == WithdrawalProcessing || next == WithdrawalCompleted || next == WithdrawalRejected
	case WithdrawalProcessing:
		return next == WithdrawalCompleted
	default:
		return false
	}
}

// WithdrawalRequest maps to the `withdrawal_requests` table. Amount is reserved from the
// account's available balance when the request is created.
type WithdrawalRequest struct {
	ID              uuid.UUID        `json:"request_id"`
	AccountID       string           `json:"account_id"`
	Amount          int64            `json:"amount"` // in fils
	PayoutMethod    string           `json:"payout_method"`
	AccountDetails  string           `json:"account_details,omitempty"`
	Status          WithdrawalStatus `json:"status"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	Notes           string           `json:"notes,omitempty"`
	RequestedAt     time.Time        `json:"requested_at"`
	ProcessedAt     *time.Time       `json:"processed_at,omitempty"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// OrderCompletion is the fan-out input for one completed order.
// Total is the value referral commissions are computed on; zero means the sum of lines.
type OrderCompletion struct {
	OrderID          string           `json:"order_id"`
	BuyerID          string           `json:"buyer_id"`
	Total            int64            `json:"total"` // in fils
	VendorLineTotals map[string]int64 `json:"vendor_line_totals"`
}

// ReferralResult is returned by a successful referral registration.
type ReferralResult struct {
	Edges       []ReferralEdge   `json:"edges"`
	SignupBonus *CommissionEntry `json:"signup_bonus,omitempty"`
}
