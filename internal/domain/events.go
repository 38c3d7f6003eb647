package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderCompletedEvent is consumed from the order service when an order reaches its
// completed state.
type OrderCompletedEvent struct {
	EventID     string           `json:"event_id"`
	OrderID     string           `json:"order_id"`
	BuyerID     string           `json:"buyer_id"`
	Total       int64            `json:"total"` // in fils
	VendorLines map[string]int64 `json:"vendor_line_totals"`
	CompletedAt time.Time        `json:"completed_at"`
}

// UserSignedUpEvent is consumed from the auth service for every new account.
type UserSignedUpEvent struct {
	EventID      string      `json:"event_id"`
	UserID       string      `json:"user_id"`
	Kind         AccountKind `json:"kind"`
	ReferralCode string      `json:"referral_code,omitempty"` // the account's own code, if pre-assigned
	ReferredBy   string      `json:"referred_by,omitempty"`   // the code used at signup
	SignedUpAt   time.Time   `json:"signed_up_at"`
}

// CommissionEvent is published after a commission entry is created or settled.
type CommissionEvent struct {
	EntryID        uuid.UUID        `json:"entry_id"`
	PayeeAccountID string           `json:"payee_account_id"`
	SourceOrderID  *string          `json:"source_order_id,omitempty"`
	Cause          CommissionCause  `json:"cause"`
	Amount         int64            `json:"amount"`
	Status         CommissionStatus `json:"status"`
	Timestamp      time.Time        `json:"timestamp"`
}

// ReferralEvent is published after a referral registration commits.
type ReferralEvent struct {
	ReferredID string    `json:"referred_id"`
	ReferrerID string    `json:"referrer_id"`
	Levels     int       `json:"levels"`
	Timestamp  time.Time `json:"timestamp"`
}

// WithdrawalEvent is published on every withdrawal state change.
type WithdrawalEvent struct {
	RequestID uuid.UUID        `json:"request_id"`
	AccountID string           `json:"account_id"`
	Amount    int64            `json:"amount"`
	Status    WithdrawalStatus `json:"status"`
	Reason    string           `json:"reason,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewCommissionEvent builds the outbound payload for an entry.
func NewCommissionEvent(entry CommissionEntry, at time.Time) CommissionEvent {
	return CommissionEvent{
		EntryID:        entry.ID,
		PayeeAccountID: entry.PayeeAccountID,
		SourceOrderID:  entry.SourceOrderID,
		Cause:          entry.Cause,
		Amount:         entry.Amount,
		Status:         entry.Status,
		Timestamp:      at,
	}
}

// NewWithdrawalEvent builds the outbound payload for a request.
func NewWithdrawalEvent(req WithdrawalRequest, at time.Time) WithdrawalEvent {
	return WithdrawalEvent{
		RequestID: req.ID,
		AccountID: req.AccountID,
		Amount:    req.Amount,
		Status:    req.Status,
		Reason:    req.RejectionReason,
		Timestamp: at,
	}
}
