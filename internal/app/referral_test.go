package app

import (
	"context"
	"regexp"
	"sync"
	"testing"

	"github.com/SanaullahForhad/sooqkabeer-production/internal/domain"
	"github.com/SanaullahForhad/sooqkabeer-production/pkg/rabbitmq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReferralCode_Format(t *testing.T) {
	pattern := regexp.MustCompile(`^SK[0-9A-F]{6}$`)
	for i := 0; i < 20; i++ {
		code, err := GenerateReferralCode()
		require.NoError(t, err)
		assert.Regexp(t, pattern, code)
	}
}

func TestRegisterAccount_IsIdempotentAndChecksKind(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.RegisterAccount(ctx, "vendor-1", domain.AccountKindVendor, "")
	require.NoError(t, err)
	assert.Regexp(t, `^SK[0-9A-F]{6}$`, first.ReferralCode)

	again, err := svc.RegisterAccount(ctx, "vendor-1", domain.AccountKindVendor, "")
	require.NoError(t, err)
	assert.Equal(t, first.ReferralCode, again.ReferralCode)

	_, err = svc.RegisterAccount(ctx, "vendor-1", domain.AccountKindUser, "")
	require.ErrorIs(t, err, ErrAccountKindMismatch)
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.RegisterAccount(ctx, "other", domain.AccountKindUser, first.ReferralCode)
	require.ErrorIs(t, err, ErrReferralCodeTaken)
	require.ErrorIs(t, err, ErrConflict)

	_, err = svc.RegisterAccount(ctx, "  ", domain.AccountKindUser, "")
	require.ErrorIs(t, err, ErrValidation)
}

func TestRegisterAccount_RetriesGeneratedCodeCollision(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	registerUser(t, svc, "AAAAAA")

	codes := []string{"SKAAAAAA", "SKBBBBBB"}
	svc.newCode = func() (string, error) {
		code := codes[0]
		codes = codes[1:]
		return code, nil
	}

	acct, err := svc.RegisterAccount(ctx, "newcomer", domain.AccountKindUser, "")
	require.NoError(t, err)
	assert.Equal(t, "SKBBBBBB", acct.ReferralCode)
}

func TestRegisterReferral_BuildsDecayingEdgesWithFrozenRates(t *testing.T) {
	svc, _, publisher := newTestService(t)
	ctx := context.Background()

	registerUser(t, svc, "A")

	resultB, err := svc.RegisterReferral(ctx, "B", "SKA")
	require.NoError(t, err)
	require.Len(t, resultB.Edges, 1)
	assert.Equal(t, "A", resultB.Edges[0].ReferrerID)
	assert.True(t, resultB.Edges[0].Rate.Equal(decimal.RequireFromString("0.05")))
	require.NotNil(t, resultB.SignupBonus)
	assert.Equal(t, "A", resultB.SignupBonus.PayeeAccountID)
	assert.Equal(t, domain.CauseSignupBonus, resultB.SignupBonus.Cause)
	assert.Equal(t, int64(5000), resultB.SignupBonus.Amount)
	assert.Equal(t, domain.CommissionPaid, resultB.SignupBonus.Status)
	assert.Nil(t, resultB.SignupBonus.SourceOrderID)

	bAccount, err := svc.GetAccount(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountKindUser, bAccount.Kind)

	// A later policy change must not touch existing edges.
	svc.policy.ReferralBaseRate = decimal.RequireFromString("0.08")

	resultC, err := svc.RegisterReferral(ctx, "C", bAccount.ReferralCode)
	require.NoError(t, err)
	require.Len(t, resultC.Edges, 2)
	assert.Equal(t, "B", resultC.Edges[0].ReferrerID)
	assert.Equal(t, 1, resultC.Edges[0].Level)
	assert.Equal(t, "A", resultC.Edges[1].ReferrerID)
	assert.Equal(t, 2, resultC.Edges[1].Level)
	assert.True(t, resultC.Edges[1].Rate.Equal(decimal.RequireFromString("0.04")))

	stored, err := svc.repo.ListReferralAncestry(ctx, "B")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Rate.Equal(decimal.RequireFromString("0.05")))

	assert.Equal(t, int64(5000), balanceOf(t, svc, "A").AvailableBalance)
	assert.Equal(t, int64(5000), balanceOf(t, svc, "B").AvailableBalance)
	assert.Contains(t, publisher.keys(), rabbitmq.RoutingKeyReferralRegistered)
	assert.Contains(t, publisher.keys(), rabbitmq.RoutingKeyCommissionCreated)
}

func TestRegisterReferral_StopsAtThreeLevels(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	registerUser(t, svc, "L0")
	chain := []string{"L0", "L1", "L2", "L3", "L4"}
	for i := 1; i < len(chain); i++ {
		parent, err := svc.GetAccount(ctx, chain[i-1])
		require.NoError(t, err)
		_, err = svc.RegisterReferral(ctx, chain[i], parent.ReferralCode)
		require.NoError(t, err)
	}

	edges, err := svc.repo.ListReferralAncestry(ctx, "L4")
	require.NoError(t, err)
	require.Len(t, edges, 3)
	assert.Equal(t, "L3", edges[0].ReferrerID)
	assert.Equal(t, "L2", edges[1].ReferrerID)
	assert.Equal(t, "L1", edges[2].ReferrerID)
}

func TestRegisterReferral_SecondClaimFails(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	registerUser(t, svc, "A")
	registerUser(t, svc, "Z")

	_, err := svc.RegisterReferral(ctx, "B", "SKA")
	require.NoError(t, err)

	for _, code := range []string{"SKA", "SKZ"} {
		_, err = svc.RegisterReferral(ctx, "B", code)
		require.ErrorIs(t, err, ErrAlreadyReferred)
		require.ErrorIs(t, err, ErrConflict)
	}

	edges, err := svc.repo.ListReferralAncestry(ctx, "B")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "A", edges[0].ReferrerID)
	assert.Equal(t, int64(0), balanceOf(t, svc, "Z").LifetimeEarned)
	assert.Equal(t, int64(5000), balanceOf(t, svc, "A").LifetimeEarned)
}

func TestRegisterReferral_RejectsInvalidClaims(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	registerUser(t, svc, "A")

	_, err := svc.RegisterReferral(ctx, "B", "SKNOPE")
	require.ErrorIs(t, err, ErrUnknownCode)
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.RegisterReferral(ctx, "A", "SKA")
	require.ErrorIs(t, err, ErrSelfReferral)

	_, err = svc.RegisterReferral(ctx, "", "SKA")
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.RegisterReferral(ctx, "B", " ")
	require.ErrorIs(t, err, ErrValidation)
}

func TestRegisterReferral_RejectsCycle(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	registerUser(t, svc, "A")
	_, err := svc.RegisterReferral(ctx, "B", "SKA")
	require.NoError(t, err)
	b, err := svc.GetAccount(ctx, "B")
	require.NoError(t, err)

	// A has no referrer yet, but is B's ancestor.
	_, err = svc.RegisterReferral(ctx, "A", b.ReferralCode)
	require.ErrorIs(t, err, ErrReferralCycle)

	edges, err := svc.repo.ListReferralAncestry(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestRegisterReferral_RejectsCycleBeyondThreeLevels(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	registerUser(t, svc, "N0")
	chain := []string{"N0", "N1", "N2", "N3", "N4", "N5"}
	for i := 1; i < len(chain); i++ {
		parent, err := svc.GetAccount(ctx, chain[i-1])
		require.NoError(t, err)
		_, err = svc.RegisterReferral(ctx, chain[i], parent.ReferralCode)
		require.NoError(t, err)
	}

	tail, err := svc.GetAccount(ctx, "N5")
	require.NoError(t, err)
	_, err = svc.RegisterReferral(ctx, "N0", tail.ReferralCode)
	require.ErrorIs(t, err, ErrReferralCycle)
}

func TestRegisterReferral_ConcurrentMutualClaimsKeepForestAcyclic(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	a := registerUser(t, svc, "A")
	b := registerUser(t, svc, "B")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = svc.RegisterReferral(ctx, "A", b.ReferralCode)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = svc.RegisterReferral(ctx, "B", a.ReferralCode)
	}()
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrReferralCycle)
	}
	assert.Equal(t, 1, succeeded)

	aEdges, err := svc.repo.ListReferralAncestry(ctx, "A")
	require.NoError(t, err)
	bEdges, err := svc.repo.ListReferralAncestry(ctx, "B")
	require.NoError(t, err)
	assert.Len(t, append(aEdges, bEdges...), 1)
}

func TestRegisterReferral_PendingBonusWhenNotInstant(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.policy.InstantCreditSignupBonus = false
	ctx := context.Background()

	registerUser(t, svc, "A")
	result, err := svc.RegisterReferral(ctx, "B", "SKA")
	require.NoError(t, err)
	require.NotNil(t, result.SignupBonus)
	assert.Equal(t, domain.CommissionPending, result.SignupBonus.Status)
	assert.Equal(t, int64(0), balanceOf(t, svc, "A").AvailableBalance)
}
