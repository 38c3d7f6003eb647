package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/SanaullahForhad/sooqkabeer-production/internal/domain"
	"github.com/SanaullahForhad/sooqkabeer-production/pkg/rabbitmq"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// commissionTask is one (order, payee, cause) unit of work.
type commissionTask struct {
	payeeID   string
	payeeKind domain.AccountKind
	// strictKind rejects the task when the payee exists with another kind.
	strictKind bool
	cause      domain.CommissionCause
	base       int64
	rate       decimal.Decimal
	settle     bool
}

// ProcessOrderCompletion writes the vendor and referral commissions for a completed
// order. Every entry is inserted in its own transaction, so a failure for one payee
// leaves the others committed; the joined error lists every failed entry and the
// returned slice holds every entry that is now stored, in vendor-then-level order.
// Calling it again for the same order is safe: existing entries are returned unchanged.
func (s *Service) ProcessOrderCompletion(ctx context.Context, order domain.OrderCompletion) ([]domain.CommissionEntry, error) {
	started := time.Now()
	defer func() { s.metrics.ObserveFanoutDuration(time.Since(started)) }()

	order.OrderID = strings.TrimSpace(order.OrderID)
	order.BuyerID = strings.TrimSpace(order.BuyerID)
	if err := validateOrder(&order); err != nil {
		return nil, err
	}
	if order.Total == 0 {
		return []domain.CommissionEntry{}, nil
	}

	ancestry, err := s.repo.ListReferralAncestry(ctx, order.BuyerID)
	if err != nil {
		return nil, translateStoreError("load buyer ancestry", err)
	}

	tasks := s.buildCommissionTasks(order, ancestry)
	stored := make([]*domain.CommissionEntry, len(tasks))
	failures := make([]error, len(tasks))

	var g errgroup.Group
	g.SetLimit(s.policy.FanoutConcurrency)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			entry, err := s.writeCommission(ctx, order.OrderID, task)
			if err != nil {
				failures[i] = fmt.Errorf("%s for %s: %w", task.cause, task.payeeID, err)
				return nil
			}
			stored[i] = entry
			return nil
		})
	}
	_ = g.Wait()

	entries := make([]domain.CommissionEntry, 0, len(tasks))
	for _, entry := range stored {
		if entry != nil {
			entries = append(entries, *entry)
		}
	}

	if joined := errors.Join(failures...); joined != nil {
		log.Printf("level=error component=fanout msg=\"order fan-out partially failed\" order_id=%s stored=%d tasks=%d err=%q", order.OrderID, len(entries), len(tasks), joined.Error())
		return entries, joined
	}

	log.Printf("level=info component=fanout msg=\"order fan-out complete\" order_id=%s buyer_id=%s entries=%d", order.OrderID, order.BuyerID, len(entries))
	return entries, nil
}

func validateOrder(order *domain.OrderCompletion) error {
	if order.OrderID == "" {
		return invalidf("order id is required")
	}
	if order.BuyerID == "" {
		return invalidf("buyer id is required")
	}
	if order.Total < 0 {
		return fmt.Errorf("order total %d: %w", order.Total, ErrInvalidAmount)
	}
	// Lines whose vendor ids differ only in surrounding space belong to one vendor.
	var lines int64
	normalized := make(map[string]int64, len(order.VendorLineTotals))
	for vendorID, lineTotal := range order.VendorLineTotals {
		id := strings.TrimSpace(vendorID)
		if id == "" {
			return invalidf("vendor id is required for every line")
		}
		if lineTotal < 0 {
			return fmt.Errorf("line total %d for vendor %s: %w", lineTotal, id, ErrInvalidAmount)
		}
		normalized[id] += lineTotal
		lines += lineTotal
	}
	order.VendorLineTotals = normalized
	if order.Total == 0 {
		order.Total = lines
	}
	return nil
}

// buildCommissionTasks lists vendors by id, then referral levels 1..3. Tasks whose
// commission rounds to zero are dropped.
func (s *Service) buildCommissionTasks(order domain.OrderCompletion, ancestry []domain.ReferralEdge) []commissionTask {
	vendorIDs := make([]string, 0, len(order.VendorLineTotals))
	for vendorID := range order.VendorLineTotals {
		vendorIDs = append(vendorIDs, vendorID)
	}
	sort.Strings(vendorIDs)

	tasks := make([]commissionTask, 0, len(vendorIDs)+len(ancestry))
	for _, vendorID := range vendorIDs {
		task := commissionTask{
			payeeID:    vendorID,
			payeeKind:  domain.AccountKindVendor,
			strictKind: true,
			cause:      domain.CauseVendorSale,
			base:       order.VendorLineTotals[vendorID],
			rate:       s.policy.VendorCommissionRate,
			settle:     s.policy.InstantCreditVendor,
		}
		if commissionAmount(task.base, task.rate) > 0 {
			tasks = append(tasks, task)
		}
	}

	for _, edge := range ancestry {
		cause, ok := domain.ReferralCauseForLevel(edge.Level)
		if !ok {
			continue
		}
		task := commissionTask{
			payeeID:   edge.ReferrerID,
			payeeKind: domain.AccountKindUser,
			cause:     cause,
			base:      order.Total,
			rate:      edge.Rate,
			settle:    s.policy.InstantCreditReferral,
		}
		if commissionAmount(task.base, task.rate) > 0 {
			tasks = append(tasks, task)
		}
	}
	return tasks
}

func (s *Service) writeCommission(ctx context.Context, orderID string, task commissionTask) (*domain.CommissionEntry, error) {
	if _, err := s.ensureAccount(ctx, task.payeeID, task.payeeKind, "", task.strictKind); err != nil {
		return nil, err
	}

	rate := task.rate
	source := orderID
	entry := &domain.CommissionEntry{
		PayeeAccountID: task.payeeID,
		SourceOrderID:  &source,
		SourceKey:      orderID,
		Cause:          task.cause,
		BaseAmount:     task.base,
		Rate:           &rate,
		Amount:         commissionAmount(task.base, task.rate),
		CreatedAt:      s.now(),
	}

	stored, created, err := s.repo.InsertCommission(ctx, entry, task.settle)
	if err != nil {
		return nil, translateStoreError("insert commission", err)
	}
	if !created {
		s.metrics.ObserveCommissionSkipped(string(task.cause))
		log.Printf("level=info component=fanout msg=\"commission exists; skipping\" order_id=%s payee_id=%s cause=%s", orderID, task.payeeID, task.cause)
		return stored, nil
	}

	s.metrics.ObserveCommissionCreated(string(stored.Cause), string(stored.Status), stored.Amount)
	s.notify(ctx, rabbitmq.RoutingKeyCommissionCreated, domain.NewCommissionEvent(*stored, stored.CreatedAt))
	return stored, nil
}
