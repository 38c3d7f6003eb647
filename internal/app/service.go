/**
 * @description
 * This file contains the core business logic for the ledger-service. The `Service`
 * struct owns every balance-affecting operation: referral registration, order
 * commission fan-out, commission settlement and the withdrawal workflow.
 *
 * Key features:
 * - All state changes go through the store.Repository in single transactions.
 * - Commission and rate arithmetic uses decimals; balances are integer fils.
 * - Ledger events are published to RabbitMQ after commit, never before.
 *
 * @dependencies
 * - github.com/shopspring/decimal: For rates and commission amounts.
 * - internal/domain, internal/store: For domain models and data access.
 * - internal/metrics: For Prometheus counters.
 * - pkg/rabbitmq: For outbound ledger events.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/SanaullahForhad/sooqkabeer-production/internal/metrics"
	"github.com/SanaullahForhad/sooqkabeer-production/internal/store"
	"github.com/SanaullahForhad/sooqkabeer-production/pkg/rabbitmq"
	"github.com/shopspring/decimal"
)

// Policy holds the commission and withdrawal rules. It is fixed for the lifetime of
// the process.
type Policy struct {
	ReferralBaseRate     decimal.Decimal
	Level2Factor         decimal.Decimal
	Level3Factor         decimal.Decimal
	VendorCommissionRate decimal.Decimal
	SignupBonus          int64 // in fils
	MinWithdrawal        int64 // in fils

	// Instant-credit flags. An instant cause is written as paid and credited in the
	// same transaction; otherwise it stays pending until SettleCommission.
	InstantCreditReferral    bool
	InstantCreditSignupBonus bool
	InstantCreditVendor      bool

	FanoutConcurrency          int
	WithdrawalRateLimitPerHour int
}

// DefaultPolicy mirrors the marketplace's long-standing constants.
func DefaultPolicy() Policy {
	return Policy{
		ReferralBaseRate:           decimal.RequireFromString("0.05"),
		Level2Factor:               decimal.RequireFromString("0.5"),
		Level3Factor:               decimal.RequireFromString("0.25"),
		VendorCommissionRate:       decimal.RequireFromString("0.10"),
		SignupBonus:                5000,
		MinWithdrawal:              5000,
		InstantCreditReferral:      true,
		InstantCreditSignupBonus:   true,
		InstantCreditVendor:        false,
		FanoutConcurrency:          4,
		WithdrawalRateLimitPerHour: 10,
	}
}

// levelRate returns the rate frozen onto a new edge at the given level.
func (p Policy) levelRate(level int) decimal.Decimal {
	switch level {
	case 1:
		return p.ReferralBaseRate
	case 2:
		return p.ReferralBaseRate.Mul(p.Level2Factor)
	case 3:
		return p.ReferralBaseRate.Mul(p.Level3Factor)
	default:
		return decimal.Zero
	}
}

// Service provides the core business logic for the ledger.
type Service struct {
	repo      store.Repository
	policy    Policy
	publisher rabbitmq.Publisher
	exchange  string
	limiter   RateLimiter
	metrics   *metrics.LedgerMetrics
	now       func() time.Time
	newCode   func() (string, error)
}

// NewService creates a new ledger service instance. A nil publisher disables outbound
// events.
func NewService(repo store.Repository, policy Policy, publisher rabbitmq.Publisher, exchange string) *Service {
	if policy.FanoutConcurrency <= 0 {
		policy.FanoutConcurrency = 1
	}
	return &Service{
		repo:      repo,
		policy:    policy,
		publisher: publisher,
		exchange:  exchange,
		metrics:   metrics.Ledger(),
		now:       func() time.Time { return time.Now().UTC() },
		newCode:   GenerateReferralCode,
	}
}

// SetRateLimiter enables per-account throttling of withdrawal requests.
func (s *Service) SetRateLimiter(limiter RateLimiter) {
	s.limiter = limiter
}

// Policy returns the active policy.
func (s *Service) Policy() Policy {
	return s.policy
}

// notify publishes a ledger event after commit. Failures are logged and counted but
// never returned: delivery is fire-and-forget.
func (s *Service) notify(ctx context.Context, routingKey string, payload interface{}) {
	if s.publisher == nil || s.exchange == "" {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, s.exchange, routingKey, payload); err != nil {
		s.metrics.ObserveNotificationFailure(routingKey)
		log.Printf("level=warn component=notifier msg=\"ledger event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

// commissionAmount rounds base*rate to whole fils, half away from zero.
func commissionAmount(base int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(base).Mul(rate).Round(0).IntPart()
}
