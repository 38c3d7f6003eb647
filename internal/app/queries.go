package app

import (
	"context"
	"strings"

	"github.com/SanaullahForhad/sooqkabeer-production/internal/domain"
)

const (
	defaultCommissionHistoryLimit = 100
	maxHistoryLimit               = 500
)

// GetAccount returns the stored account.
func (s *Service) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, invalidf("account id is required")
	}
	acct, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, translateStoreError("find account", err)
	}
	return acct, nil
}

// GetBalance returns the dashboard balance view for an account.
func (s *Service) GetBalance(ctx context.Context, accountID string) (*domain.Balance, error) {
	acct, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &domain.Balance{
		AccountID:        acct.ID,
		AvailableBalance: acct.AvailableBalance,
		ReservedBalance:  acct.ReservedBalance,
		LifetimeEarned:   acct.LifetimeEarned,
		WithdrawnTotal:   acct.WithdrawnTotal,
	}, nil
}

// GetCommissionHistory returns the payee's entries, newest first.
func (s *Service) GetCommissionHistory(ctx context.Context, accountID string, limit int) ([]domain.CommissionEntry, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, invalidf("account id is required")
	}
	switch {
	case limit <= 0:
		limit = defaultCommissionHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	entries, err := s.repo.ListCommissionsByPayee(ctx, accountID, limit)
	if err != nil {
		return nil, translateStoreError("list commissions", err)
	}
	return entries, nil
}

// GetReferralStats counts the account's direct and indirect referrals and sums its
// non-cancelled referral earnings, signup bonuses included.
func (s *Service) GetReferralStats(ctx context.Context, accountID string) (*domain.ReferralStats, error) {
	acct, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	direct, indirect, err := s.repo.CountReferrals(ctx, acct.ID)
	if err != nil {
		return nil, translateStoreError("count referrals", err)
	}
	earned, err := s.repo.SumCommissions(ctx, acct.ID, domain.ReferralCauses)
	if err != nil {
		return nil, translateStoreError("sum referral earnings", err)
	}
	return &domain.ReferralStats{
		AccountID:     acct.ID,
		DirectCount:   direct,
		IndirectCount: indirect,
		TotalEarned:   earned,
	}, nil
}
