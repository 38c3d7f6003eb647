package store

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SanaullahForhad/sooqkabeer-production/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *SQLRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func seedAccount(t *testing.T, repo *SQLRepository, id string, kind domain.AccountKind) *domain.Account {
	t.Helper()
	acct, created, err := repo.EnsureAccount(context.Background(), &domain.Account{
		ID:           id,
		Kind:         kind,
		ReferralCode: "SK" + strings.ToUpper(id),
	})
	require.NoError(t, err)
	require.True(t, created)
	return acct
}

func orderEntry(orderID, payee string, cause domain.CommissionCause, amount int64) *domain.CommissionEntry {
	return &domain.CommissionEntry{
		PayeeAccountID: payee,
		SourceOrderID:  &orderID,
		SourceKey:      orderID,
		Cause:          cause,
		BaseAmount:     amount * 10,
		Amount:         amount,
	}
}

func TestRebind(t *testing.T) {
	query := "SELECT a FROM t WHERE x = ? AND y IN (?, ?)"
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y IN ($2, $3)", DialectPostgres.rebind(query))
	assert.Equal(t, query, DialectSQLite.rebind(query))
	assert.Equal(t, " FOR UPDATE", DialectPostgres.lockClause())
	assert.Empty(t, DialectSQLite.lockClause())
}

func TestParseDialect(t *testing.T) {
	for raw, want := range map[string]Dialect{
		"postgres":   DialectPostgres,
		" PGX ":      DialectPostgres,
		"postgresql": DialectPostgres,
		"sqlite":     DialectSQLite,
		"sqlite3":    DialectSQLite,
	} {
		got, err := ParseDialect(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	_, err := ParseDialect("mysql")
	assert.Error(t, err)
}

func TestEnsureAccount_IsIdempotentAndRejectsTakenCode(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	first := seedAccount(t, repo, "alice", domain.AccountKindUser)
	again, created, err := repo.EnsureAccount(ctx, &domain.Account{ID: "alice", Kind: domain.AccountKindUser, ReferralCode: "SKOTHER"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ReferralCode, again.ReferralCode)

	_, _, err = repo.EnsureAccount(ctx, &domain.Account{ID: "bob", Kind: domain.AccountKindUser, ReferralCode: "SKALICE"})
	assert.ErrorIs(t, err, ErrReferralCodeTaken)

	byCode, err := repo.FindAccountByReferralCode(ctx, " skalice ")
	require.NoError(t, err)
	assert.Equal(t, "alice", byCode.ID)

	_, err = repo.FindAccountByID(ctx, "nobody")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestInsertCommission_SkipsDuplicateKey(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedAccount(t, repo, "vendor-1", domain.AccountKindVendor)

	stored, created, err := repo.InsertCommission(ctx, orderEntry("order-1", "vendor-1", domain.CauseVendorSale, 1000), true)
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, domain.CommissionPaid, stored.Status)
	require.NotNil(t, stored.PaidAt)

	dup, created, err := repo.InsertCommission(ctx, orderEntry("order-1", "vendor-1", domain.CauseVendorSale, 9999), true)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.ID, dup.ID)
	assert.Equal(t, int64(1000), dup.Amount)

	acct, err := repo.FindAccountByID(ctx, "vendor-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), acct.AvailableBalance)
	assert.Equal(t, int64(1000), acct.LifetimeEarned)
}

func TestInsertCommission_ConcurrentDuplicatesCreditOnce(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedAccount(t, repo, "payee", domain.AccountKindUser)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := repo.InsertCommission(ctx, orderEntry("order-c", "payee", domain.CauseReferralLevel1, 500), true)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	acct, err := repo.FindAccountByID(ctx, "payee")
	require.NoError(t, err)
	assert.Equal(t, int64(500), acct.AvailableBalance)
}

func TestSettleCommission_PendingToPaidCreditsOnce(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedAccount(t, repo, "vendor-2", domain.AccountKindVendor)

	pending, created, err := repo.InsertCommission(ctx, orderEntry("order-2", "vendor-2", domain.CauseVendorSale, 2500), false)
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, domain.CommissionPending, pending.Status)

	acct, err := repo.FindAccountByID(ctx, "vendor-2")
	require.NoError(t, err)
	assert.Zero(t, acct.AvailableBalance)

	paid, err := repo.SettleCommission(ctx, SettleCommissionParams{EntryID: pending.ID, Status: domain.CommissionPaid, Notes: "approved"})
	require.NoError(t, err)
	assert.Equal(t, domain.CommissionPaid, paid.Status)
	assert.Equal(t, "approved", paid.Notes)

	_, err = repo.SettleCommission(ctx, SettleCommissionParams{EntryID: pending.ID, Status: domain.CommissionCancelled})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	acct, err = repo.FindAccountByID(ctx, "vendor-2")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), acct.AvailableBalance)
	assert.Equal(t, int64(2500), acct.LifetimeEarned)

	_, err = repo.SettleCommission(ctx, SettleCommissionParams{EntryID: uuid.New(), Status: domain.CommissionPaid})
	assert.ErrorIs(t, err, ErrCommissionNotFound)
}

func TestCreateReferral_RejectsSecondClaim(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedAccount(t, repo, "a", domain.AccountKindUser)
	seedAccount(t, repo, "b", domain.AccountKindUser)
	seedAccount(t, repo, "c", domain.AccountKindUser)

	rate := decimal.RequireFromString("0.05")
	bonus := &domain.CommissionEntry{
		PayeeAccountID: "a",
		SourceKey:      domain.SignupSourceKey("b"),
		Cause:          domain.CauseSignupBonus,
		Amount:         5000,
	}
	stored, err := repo.CreateReferral(ctx, CreateReferralParams{
		ReferredID:  "b",
		Edges:       []domain.ReferralEdge{{ReferrerID: "a", ReferredID: "b", Level: 1, Rate: rate}},
		SignupBonus: bonus,
		SettleBonus: true,
	})
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Nil(t, stored.SourceOrderID)

	_, err = repo.CreateReferral(ctx, CreateReferralParams{
		ReferredID: "b",
		Edges:      []domain.ReferralEdge{{ReferrerID: "c", ReferredID: "b", Level: 1, Rate: rate}},
	})
	assert.ErrorIs(t, err, ErrAlreadyReferred)

	edges, err := repo.ListReferralAncestry(ctx, "b")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "a", edges[0].ReferrerID)
	assert.True(t, edges[0].Rate.Equal(rate))

	direct, indirect, err := repo.CountReferrals(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, direct)
	assert.Zero(t, indirect)

	total, err := repo.SumCommissions(ctx, "a", domain.ReferralCauses)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), total)
}

func TestCreateReferral_RejectsCycleInsideTransaction(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		seedAccount(t, repo, id, domain.AccountKindUser)
	}
	rate := decimal.RequireFromString("0.05")

	_, err := repo.CreateReferral(ctx, CreateReferralParams{
		ReferredID: "b",
		Edges:      []domain.ReferralEdge{{ReferrerID: "a", ReferredID: "b", Level: 1, Rate: rate}},
	})
	require.NoError(t, err)
	_, err = repo.CreateReferral(ctx, CreateReferralParams{
		ReferredID: "c",
		Edges: []domain.ReferralEdge{
			{ReferrerID: "b", ReferredID: "c", Level: 1, Rate: rate},
			{ReferrerID: "a", ReferredID: "c", Level: 2, Rate: rate},
		},
	})
	require.NoError(t, err)

	bonus := &domain.CommissionEntry{
		PayeeAccountID: "c",
		SourceKey:      domain.SignupSourceKey("a"),
		Cause:          domain.CauseSignupBonus,
		Amount:         5000,
	}
	_, err = repo.CreateReferral(ctx, CreateReferralParams{
		ReferredID:  "a",
		Edges:       []domain.ReferralEdge{{ReferrerID: "c", ReferredID: "a", Level: 1, Rate: rate}},
		SignupBonus: bonus,
		SettleBonus: true,
	})
	assert.ErrorIs(t, err, ErrReferralCycle)

	edges, err := repo.ListReferralAncestry(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, edges)
	total, err := repo.SumCommissions(ctx, "c", domain.ReferralCauses)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestWithdrawalLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedAccount(t, repo, "payee", domain.AccountKindUser)
	_, _, err := repo.InsertCommission(ctx, orderEntry("order-w", "payee", domain.CauseReferralLevel1, 8000), true)
	require.NoError(t, err)

	req := &domain.WithdrawalRequest{AccountID: "payee", Amount: 6000, PayoutMethod: "bank"}
	require.NoError(t, repo.CreateWithdrawal(ctx, req))

	acct, err := repo.FindAccountByID(ctx, "payee")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), acct.AvailableBalance)
	assert.Equal(t, int64(6000), acct.ReservedBalance)

	err = repo.CreateWithdrawal(ctx, &domain.WithdrawalRequest{AccountID: "payee", Amount: 2001, PayoutMethod: "bank"})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	processing, err := repo.TransitionWithdrawal(ctx, TransitionWithdrawalParams{RequestID: req.ID, To: domain.WithdrawalProcessing})
	require.NoError(t, err)
	assert.Nil(t, processing.ProcessedAt)

	_, err = repo.TransitionWithdrawal(ctx, TransitionWithdrawalParams{RequestID: req.ID, To: domain.WithdrawalRejected, Reason: "late"})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	done, err := repo.TransitionWithdrawal(ctx, TransitionWithdrawalParams{RequestID: req.ID, To: domain.WithdrawalCompleted})
	require.NoError(t, err)
	require.NotNil(t, done.ProcessedAt)

	acct, err = repo.FindAccountByID(ctx, "payee")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), acct.AvailableBalance)
	assert.Zero(t, acct.ReservedBalance)
	assert.Equal(t, int64(6000), acct.WithdrawnTotal)

	list, err := repo.ListWithdrawalsByAccount(ctx, "payee", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.WithdrawalCompleted, list[0].Status)
}

func TestListStalePendingWithdrawals(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedAccount(t, repo, "payee", domain.AccountKindUser)
	_, _, err := repo.InsertCommission(ctx, orderEntry("order-s", "payee", domain.CauseReferralLevel1, 20000), true)
	require.NoError(t, err)

	now := time.Now().UTC()
	old := &domain.WithdrawalRequest{AccountID: "payee", Amount: 5000, PayoutMethod: "bank", RequestedAt: now.Add(-30 * time.Hour)}
	fresh := &domain.WithdrawalRequest{AccountID: "payee", Amount: 5000, PayoutMethod: "bank", RequestedAt: now.Add(-time.Hour)}
	require.NoError(t, repo.CreateWithdrawal(ctx, old))
	require.NoError(t, repo.CreateWithdrawal(ctx, fresh))

	stale, err := repo.ListStalePendingWithdrawals(ctx, now.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
	assert.WithinDuration(t, old.RequestedAt, stale[0].RequestedAt, time.Microsecond)
}
