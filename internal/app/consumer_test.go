package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/SanaullahForhad/sooqkabeer-production/internal/domain"
	"github.com/SanaullahForhad/sooqkabeer-production/pkg/rabbitmq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ledgerStub struct {
	accountErr  error
	referralErr error
	orderErr    error

	accounts  []string
	referrals []string
	orders    []domain.OrderCompletion
}

func (s *ledgerStub) RegisterAccount(_ context.Context, accountID string, kind domain.AccountKind, _ string) (*domain.Account, error) {
	s.accounts = append(s.accounts, accountID)
	if s.accountErr != nil {
		return nil, s.accountErr
	}
	return &domain.Account{ID: accountID, Kind: kind}, nil
}

func (s *ledgerStub) RegisterReferral(_ context.Context, newUserID, code string) (*domain.ReferralResult, error) {
	s.referrals = append(s.referrals, newUserID+"<-"+code)
	if s.referralErr != nil {
		return nil, s.referralErr
	}
	return &domain.ReferralResult{}, nil
}

func (s *ledgerStub) ProcessOrderCompletion(_ context.Context, order domain.OrderCompletion) ([]domain.CommissionEntry, error) {
	s.orders = append(s.orders, order)
	if s.orderErr != nil {
		return nil, s.orderErr
	}
	return nil, nil
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return body
}

func TestEventConsumer_Bindings(t *testing.T) {
	consumer := NewEventConsumer(&ledgerStub{})
	bindings := consumer.Bindings()
	assert.Contains(t, bindings, rabbitmq.RoutingKeyOrderCompleted)
	assert.Contains(t, bindings, rabbitmq.RoutingKeyUserSignedUp)
}

func TestHandleOrderCompleted_MapsEvent(t *testing.T) {
	ledger := &ledgerStub{}
	consumer := NewEventConsumer(ledger)

	ok := consumer.HandleOrderCompleted(mustJSON(t, domain.OrderCompletedEvent{
		OrderID:     "order-1",
		BuyerID:     "C",
		Total:       100000,
		VendorLines: map[string]int64{"V": 100000},
	}))
	assert.True(t, ok)
	require.Len(t, ledger.orders, 1)
	assert.Equal(t, "order-1", ledger.orders[0].OrderID)
	assert.Equal(t, int64(100000), ledger.orders[0].VendorLineTotals["V"])
}

func TestHandleOrderCompleted_AckOrRequeue(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "validation", err: ErrInvalidAmount, want: true},
		{name: "kind mismatch joined", err: errors.Join(ErrAccountKindMismatch), want: true},
		{name: "storage", err: &StorageError{Op: "insert commission", Err: errors.New("connection reset")}, want: false},
		{name: "partial storage", err: errors.Join(ErrAccountKindMismatch, &StorageError{Op: "x", Err: errors.New("boom")}), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			consumer := NewEventConsumer(&ledgerStub{orderErr: tc.err})
			got := consumer.HandleOrderCompleted(mustJSON(t, domain.OrderCompletedEvent{OrderID: "o", BuyerID: "b"}))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHandleOrderCompleted_MalformedIsDropped(t *testing.T) {
	ledger := &ledgerStub{}
	consumer := NewEventConsumer(ledger)

	assert.True(t, consumer.HandleOrderCompleted([]byte("{not json")))
	assert.Empty(t, ledger.orders)
}

func TestHandleUserSignedUp_RegistersAccountThenReferral(t *testing.T) {
	ledger := &ledgerStub{}
	consumer := NewEventConsumer(ledger)

	ok := consumer.HandleUserSignedUp(mustJSON(t, domain.UserSignedUpEvent{
		UserID:     "B",
		Kind:       domain.AccountKindUser,
		ReferredBy: "SKA",
	}))
	assert.True(t, ok)
	assert.Equal(t, []string{"B"}, ledger.accounts)
	assert.Equal(t, []string{"B<-SKA"}, ledger.referrals)
}

func TestHandleUserSignedUp_WithoutCodeSkipsReferral(t *testing.T) {
	ledger := &ledgerStub{}
	consumer := NewEventConsumer(ledger)

	assert.True(t, consumer.HandleUserSignedUp(mustJSON(t, domain.UserSignedUpEvent{UserID: "A"})))
	assert.Empty(t, ledger.referrals)
}

func TestHandleUserSignedUp_AlreadyReferredIsAcked(t *testing.T) {
	consumer := NewEventConsumer(&ledgerStub{referralErr: ErrAlreadyReferred})
	assert.True(t, consumer.HandleUserSignedUp(mustJSON(t, domain.UserSignedUpEvent{UserID: "B", ReferredBy: "SKA"})))
}

func TestHandleUserSignedUp_StorageFailureRequeues(t *testing.T) {
	consumer := NewEventConsumer(&ledgerStub{accountErr: &StorageError{Op: "ensure account", Err: errors.New("timeout")}})
	assert.False(t, consumer.HandleUserSignedUp(mustJSON(t, domain.UserSignedUpEvent{UserID: "B"})))
}
