package app

import (
	"context"
	"sync"
	"testing"

	"github.com/SanaullahForhad/sooqkabeer-production/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildChain registers head and refers each following id by its predecessor.
func buildChain(t *testing.T, svc *Service, ids ...string) {
	t.Helper()
	ctx := context.Background()
	registerUser(t, svc, ids[0])
	for i := 1; i < len(ids); i++ {
		parent, err := svc.GetAccount(ctx, ids[i-1])
		require.NoError(t, err)
		_, err = svc.RegisterReferral(ctx, ids[i], parent.ReferralCode)
		require.NoError(t, err)
	}
}

func entryFor(entries []domain.CommissionEntry, payee string, cause domain.CommissionCause) *domain.CommissionEntry {
	for i := range entries {
		if entries[i].PayeeAccountID == payee && entries[i].Cause == cause {
			return &entries[i]
		}
	}
	return nil
}

func TestProcessOrderCompletion_Scenario(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	buildChain(t, svc, "A", "B", "C")

	beforeA := balanceOf(t, svc, "A")
	beforeB := balanceOf(t, svc, "B")

	entries, err := svc.ProcessOrderCompletion(ctx, domain.OrderCompletion{
		OrderID:          "order-1",
		BuyerID:          "C",
		VendorLineTotals: map[string]int64{"V": 100000},
	})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	vendor := entries[0]
	assert.Equal(t, "V", vendor.PayeeAccountID)
	assert.Equal(t, domain.CauseVendorSale, vendor.Cause)
	assert.Equal(t, int64(10000), vendor.Amount)
	assert.Equal(t, domain.CommissionPending, vendor.Status)
	require.NotNil(t, vendor.SourceOrderID)
	assert.Equal(t, "order-1", *vendor.SourceOrderID)

	level1 := entries[1]
	assert.Equal(t, "B", level1.PayeeAccountID)
	assert.Equal(t, domain.CauseReferralLevel1, level1.Cause)
	assert.Equal(t, int64(5000), level1.Amount)
	assert.Equal(t, domain.CommissionPaid, level1.Status)

	level2 := entries[2]
	assert.Equal(t, "A", level2.PayeeAccountID)
	assert.Equal(t, domain.CauseReferralLevel2, level2.Cause)
	assert.Equal(t, int64(2500), level2.Amount)

	assert.Equal(t, beforeB.AvailableBalance+5000, balanceOf(t, svc, "B").AvailableBalance)
	assert.Equal(t, beforeA.AvailableBalance+2500, balanceOf(t, svc, "A").AvailableBalance)

	vendorAccount, err := svc.GetAccount(ctx, "V")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountKindVendor, vendorAccount.Kind)
	assert.Equal(t, int64(0), vendorAccount.AvailableBalance)
}

func TestProcessOrderCompletion_LevelDecay(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	buildChain(t, svc, "A", "B", "C", "D")

	entries, err := svc.ProcessOrderCompletion(ctx, domain.OrderCompletion{
		OrderID: "order-decay",
		BuyerID: "D",
		Total:   100000,
	})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(5000), entryFor(entries, "C", domain.CauseReferralLevel1).Amount)
	assert.Equal(t, int64(2500), entryFor(entries, "B", domain.CauseReferralLevel2).Amount)
	assert.Equal(t, int64(1250), entryFor(entries, "A", domain.CauseReferralLevel3).Amount)
}

func TestProcessOrderCompletion_IsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	buildChain(t, svc, "A", "B", "C")

	order := domain.OrderCompletion{
		OrderID:          "order-2",
		BuyerID:          "C",
		VendorLineTotals: map[string]int64{"V1": 40000, "V2": 60000},
	}

	first, err := svc.ProcessOrderCompletion(ctx, order)
	require.NoError(t, err)
	balancesAfterFirst := map[string]domain.Balance{
		"A": balanceOf(t, svc, "A"),
		"B": balanceOf(t, svc, "B"),
	}

	second, err := svc.ProcessOrderCompletion(ctx, order)
	require.NoError(t, err)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Amount, second[i].Amount)
	}
	assert.Equal(t, balancesAfterFirst["A"], balanceOf(t, svc, "A"))
	assert.Equal(t, balancesAfterFirst["B"], balanceOf(t, svc, "B"))

	history, err := svc.GetCommissionHistory(ctx, "B", 0)
	require.NoError(t, err)
	orderEntries := 0
	for _, entry := range history {
		if entry.SourceOrderID != nil && *entry.SourceOrderID == "order-2" {
			orderEntries++
		}
	}
	assert.Equal(t, 1, orderEntries)
}

func TestProcessOrderCompletion_ConcurrentDuplicateDeliveriesCreditOnce(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	buildChain(t, svc, "A", "B")
	before := balanceOf(t, svc, "A")

	order := domain.OrderCompletion{OrderID: "order-dup", BuyerID: "B", Total: 20000}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ProcessOrderCompletion(ctx, order)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, before.AvailableBalance+1000, balanceOf(t, svc, "A").AvailableBalance)
}

func TestProcessOrderCompletion_PartialFailureKeepsOtherEntries(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	buildChain(t, svc, "A", "B")

	// "A" is a user, so it cannot receive a vendor commission.
	order := domain.OrderCompletion{
		OrderID:          "order-3",
		BuyerID:          "B",
		VendorLineTotals: map[string]int64{"A": 30000, "V": 20000},
	}

	entries, err := svc.ProcessOrderCompletion(ctx, order)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrAccountKindMismatch)
	require.Len(t, entries, 2)
	assert.NotNil(t, entryFor(entries, "V", domain.CauseVendorSale))
	referral := entryFor(entries, "A", domain.CauseReferralLevel1)
	require.NotNil(t, referral)
	assert.Equal(t, int64(2500), referral.Amount)

	retried, err := svc.ProcessOrderCompletion(ctx, order)
	require.ErrorIs(t, err, ErrAccountKindMismatch)
	require.Len(t, retried, 2)
	assert.Equal(t, referral.ID, entryFor(retried, "A", domain.CauseReferralLevel1).ID)
}

func TestProcessOrderCompletion_MergesLinesOfTheSameVendor(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	buildChain(t, svc, "A", "B")

	entries, err := svc.ProcessOrderCompletion(ctx, domain.OrderCompletion{
		OrderID:          "order-4",
		BuyerID:          "B",
		VendorLineTotals: map[string]int64{"V": 50000, " V": 70000},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	vendor := entryFor(entries, "V", domain.CauseVendorSale)
	require.NotNil(t, vendor)
	assert.Equal(t, int64(120000), vendor.BaseAmount)
	assert.Equal(t, int64(12000), vendor.Amount)

	referral := entryFor(entries, "A", domain.CauseReferralLevel1)
	require.NotNil(t, referral)
	assert.Equal(t, int64(6000), referral.Amount)

	history, err := svc.GetCommissionHistory(ctx, "V", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestProcessOrderCompletion_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []domain.OrderCompletion{
		{BuyerID: "B", Total: 100},
		{OrderID: "o", Total: 100},
		{OrderID: "o", BuyerID: "B", Total: -1},
		{OrderID: "o", BuyerID: "B", VendorLineTotals: map[string]int64{"V": -5}},
		{OrderID: "o", BuyerID: "B", VendorLineTotals: map[string]int64{" ": 5}},
	}
	for _, order := range cases {
		_, err := svc.ProcessOrderCompletion(ctx, order)
		require.ErrorIs(t, err, ErrValidation, "order %+v", order)
	}

	entries, err := svc.ProcessOrderCompletion(ctx, domain.OrderCompletion{OrderID: "o", BuyerID: "B"})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcessOrderCompletion_TotalDefaultsToLineSum(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	buildChain(t, svc, "A", "B")

	entries, err := svc.ProcessOrderCompletion(ctx, domain.OrderCompletion{
		OrderID:          "order-4",
		BuyerID:          "B",
		VendorLineTotals: map[string]int64{"V1": 10000, "V2": 30000},
	})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "V1", entries[0].PayeeAccountID)
	assert.Equal(t, "V2", entries[1].PayeeAccountID)
	assert.Equal(t, int64(40000), entries[2].BaseAmount)
	assert.Equal(t, int64(2000), entries[2].Amount)
}
