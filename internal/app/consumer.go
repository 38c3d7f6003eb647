package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/SanaullahForhad/sooqkabeer-production/internal/domain"
	"github.com/SanaullahForhad/sooqkabeer-production/internal/metrics"
	"github.com/SanaullahForhad/sooqkabeer-production/pkg/rabbitmq"
)

// EventLedger is the part of the Service the broker consumer drives.
type EventLedger interface {
	RegisterAccount(ctx context.Context, accountID string, kind domain.AccountKind, referralCode string) (*domain.Account, error)
	RegisterReferral(ctx context.Context, newUserID, referralCodeUsed string) (*domain.ReferralResult, error)
	ProcessOrderCompletion(ctx context.Context, order domain.OrderCompletion) ([]domain.CommissionEntry, error)
}

// EventConsumer turns inbound order and signup events into ledger operations. Handlers
// return false only for storage failures, which requeues the message; everything else
// is acknowledged because a redelivery would fail the same way.
type EventConsumer struct {
	ledger  EventLedger
	metrics *metrics.LedgerMetrics
	timeout time.Duration
}

func NewEventConsumer(ledger EventLedger) *EventConsumer {
	return &EventConsumer{ledger: ledger, metrics: metrics.Ledger(), timeout: 15 * time.Second}
}

// Bindings maps each consumed routing key to its handler.
func (c *EventConsumer) Bindings() map[string]rabbitmq.Handler {
	return map[string]rabbitmq.Handler{
		rabbitmq.RoutingKeyOrderCompleted: c.HandleOrderCompleted,
		rabbitmq.RoutingKeyUserSignedUp:   c.HandleUserSignedUp,
	}
}

func (c *EventConsumer) HandleOrderCompleted(body []byte) bool {
	var event domain.OrderCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=ledger_consumer msg=\"malformed order event; dropping\" err=%v", err)
		c.metrics.ObserveConsumerMessage(rabbitmq.RoutingKeyOrderCompleted, "malformed")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	entries, err := c.ledger.ProcessOrderCompletion(ctx, domain.OrderCompletion{
		OrderID:          event.OrderID,
		BuyerID:          event.BuyerID,
		Total:            event.Total,
		VendorLineTotals: event.VendorLines,
	})
	if err != nil {
		return c.settle(rabbitmq.RoutingKeyOrderCompleted, "order_id="+event.OrderID, err)
	}

	log.Printf("level=info component=ledger_consumer msg=\"order processed\" order_id=%s entries=%d", event.OrderID, len(entries))
	c.metrics.ObserveConsumerMessage(rabbitmq.RoutingKeyOrderCompleted, "processed")
	return true
}

func (c *EventConsumer) HandleUserSignedUp(body []byte) bool {
	var event domain.UserSignedUpEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=ledger_consumer msg=\"malformed signup event; dropping\" err=%v", err)
		c.metrics.ObserveConsumerMessage(rabbitmq.RoutingKeyUserSignedUp, "malformed")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if _, err := c.ledger.RegisterAccount(ctx, event.UserID, event.Kind, event.ReferralCode); err != nil {
		return c.settle(rabbitmq.RoutingKeyUserSignedUp, "user_id="+event.UserID, err)
	}

	if strings.TrimSpace(event.ReferredBy) != "" {
		if _, err := c.ledger.RegisterReferral(ctx, event.UserID, event.ReferredBy); err != nil {
			return c.settle(rabbitmq.RoutingKeyUserSignedUp, "user_id="+event.UserID, err)
		}
	}

	c.metrics.ObserveConsumerMessage(rabbitmq.RoutingKeyUserSignedUp, "processed")
	return true
}

// settle decides between ack and requeue for a failed event.
func (c *EventConsumer) settle(routingKey, subject string, err error) bool {
	if errors.Is(err, ErrStorage) {
		log.Printf("level=error component=ledger_consumer msg=\"storage failure; requeueing\" routing_key=%s %s err=%v", routingKey, subject, err)
		c.metrics.ObserveConsumerMessage(routingKey, "requeued")
		return false
	}
	log.Printf("level=warn component=ledger_consumer msg=\"event rejected; acknowledging\" routing_key=%s %s err=%v", routingKey, subject, err)
	c.metrics.ObserveConsumerMessage(routingKey, "rejected")
	return true
}
