package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/SanaullahForhad/sooqkabeer-production/internal/domain"
	"github.com/SanaullahForhad/sooqkabeer-production/internal/store"
	"github.com/SanaullahForhad/sooqkabeer-production/pkg/rabbitmq"
	"github.com/google/uuid"
)

const defaultWithdrawalListLimit = 50

// RequestWithdrawal reserves amount from the account's available balance and records a
// pending request. The reservation and the balance check happen under the account lock,
// so concurrent requests can never reserve more than the account holds.
func (s *Service) RequestWithdrawal(ctx context.Context, accountID string, amount int64, payoutMethod, accountDetails string) (*domain.WithdrawalRequest, error) {
	accountID = strings.TrimSpace(accountID)
	payoutMethod = strings.TrimSpace(payoutMethod)
	if accountID == "" {
		return nil, invalidf("account id is required")
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if payoutMethod == "" {
		return nil, ErrMissingPayoutMethod
	}
	if amount < s.policy.MinWithdrawal {
		return nil, fmt.Errorf("%d fils requested, minimum is %d: %w", amount, s.policy.MinWithdrawal, ErrBelowMinimum)
	}
	if err := s.checkWithdrawalRateLimit(ctx, accountID); err != nil {
		return nil, err
	}

	req := &domain.WithdrawalRequest{
		ID:             uuid.New(),
		AccountID:      accountID,
		Amount:         amount,
		PayoutMethod:   payoutMethod,
		AccountDetails: strings.TrimSpace(accountDetails),
		RequestedAt:    s.now(),
	}
	if err := s.repo.CreateWithdrawal(ctx, req); err != nil {
		return nil, translateStoreError("create withdrawal", err)
	}

	log.Printf("level=info component=withdrawals msg=\"withdrawal requested\" request_id=%s account_id=%s amount=%d", req.ID, req.AccountID, req.Amount)
	s.metrics.ObserveWithdrawal(string(req.Status))
	s.notify(ctx, withdrawalRoutingKey(req.Status), domain.NewWithdrawalEvent(*req, req.RequestedAt))
	return req, nil
}

// checkWithdrawalRateLimit fails open: a limiter outage must not block payouts.
func (s *Service) checkWithdrawalRateLimit(ctx context.Context, accountID string) error {
	limit := s.policy.WithdrawalRateLimitPerHour
	if s.limiter == nil || limit <= 0 {
		return nil
	}
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, withdrawalRateLimitScope, accountID, limit, time.Hour)
	if err != nil {
		log.Printf("level=warn component=withdrawals msg=\"rate limiter unavailable; allowing request\" account_id=%s err=%v", accountID, err)
		return nil
	}
	if count > limit {
		return &RateLimitError{Scope: "withdrawal", RetryAfterSeconds: retryAfter}
	}
	return nil
}

// MarkWithdrawalProcessing moves a pending request to processing. Balances do not change.
func (s *Service) MarkWithdrawalProcessing(ctx context.Context, requestID uuid.UUID, notes string) (*domain.WithdrawalRequest, error) {
	return s.transitionWithdrawal(ctx, requestID, domain.WithdrawalProcessing, "", notes)
}

// ApproveWithdrawal completes a pending or processing request. The reserved amount moves
// to the withdrawn total; available balance is untouched.
func (s *Service) ApproveWithdrawal(ctx context.Context, requestID uuid.UUID, notes string) (*domain.WithdrawalRequest, error) {
	return s.transitionWithdrawal(ctx, requestID, domain.WithdrawalCompleted, "", notes)
}

// RejectWithdrawal rejects a pending request and returns exactly the reserved amount to
// available balance.
func (s *Service) RejectWithdrawal(ctx context.Context, requestID uuid.UUID, reason string) (*domain.WithdrawalRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalidf("rejection reason is required")
	}
	return s.transitionWithdrawal(ctx, requestID, domain.WithdrawalRejected, reason, "")
}

func (s *Service) transitionWithdrawal(ctx context.Context, requestID uuid.UUID, to domain.WithdrawalStatus, reason, notes string) (*domain.WithdrawalRequest, error) {
	if requestID == uuid.Nil {
		return nil, invalidf("request id is required")
	}
	req, err := s.repo.TransitionWithdrawal(ctx, store.TransitionWithdrawalParams{
		RequestID: requestID,
		To:        to,
		Reason:    reason,
		Notes:     strings.TrimSpace(notes),
		At:        s.now(),
	})
	if err != nil {
		return nil, translateStoreError("transition withdrawal", err)
	}

	log.Printf("level=info component=withdrawals msg=\"withdrawal updated\" request_id=%s account_id=%s status=%s amount=%d", req.ID, req.AccountID, req.Status, req.Amount)
	s.metrics.ObserveWithdrawal(string(req.Status))
	s.notify(ctx, withdrawalRoutingKey(req.Status), domain.NewWithdrawalEvent(*req, req.UpdatedAt))
	return req, nil
}

// GetWithdrawal returns one request.
func (s *Service) GetWithdrawal(ctx context.Context, requestID uuid.UUID) (*domain.WithdrawalRequest, error) {
	req, err := s.repo.FindWithdrawalByID(ctx, requestID)
	if err != nil {
		return nil, translateStoreError("find withdrawal", err)
	}
	return req, nil
}

// ListWithdrawals returns the account's requests, newest first.
func (s *Service) ListWithdrawals(ctx context.Context, accountID string, limit int) ([]domain.WithdrawalRequest, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, invalidf("account id is required")
	}
	if limit <= 0 {
		limit = defaultWithdrawalListLimit
	}
	reqs, err := s.repo.ListWithdrawalsByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, translateStoreError("list withdrawals", err)
	}
	return reqs, nil
}

// AutoProcessStaleWithdrawals moves pending requests older than olderThan to
// processing. A request that changed state concurrently is skipped. It returns how many
// requests were moved.
func (s *Service) AutoProcessStaleWithdrawals(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	stale, err := s.repo.ListStalePendingWithdrawals(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return 0, translateStoreError("list stale withdrawals", err)
	}

	moved := 0
	for _, req := range stale {
		if ctx.Err() != nil {
			return moved, ctx.Err()
		}
		_, err := s.MarkWithdrawalProcessing(ctx, req.ID, "auto-processed after pending window")
		if err != nil {
			if errors.Is(err, ErrInvalidStateTransition) {
				continue
			}
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func withdrawalRoutingKey(status domain.WithdrawalStatus) string {
	if status == domain.WithdrawalPending {
		return rabbitmq.RoutingKeyWithdrawalPrefix + "requested"
	}
	return rabbitmq.RoutingKeyWithdrawalPrefix + string(status)
}
