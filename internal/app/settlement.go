package app

import (
	"context"
	"log"
	"strings"

	"github.com/SanaullahForhad/sooqkabeer-production/internal/domain"
	"github.com/SanaullahForhad/sooqkabeer-production/internal/store"
	"github.com/SanaullahForhad/sooqkabeer-production/pkg/rabbitmq"
	"github.com/google/uuid"
)

// SettleCommission moves a pending entry to paid, crediting the payee, or to cancelled,
// which changes no balance. An entry that already left pending cannot be settled again.
func (s *Service) SettleCommission(ctx context.Context, entryID uuid.UUID, status domain.CommissionStatus, notes string) (*domain.CommissionEntry, error) {
	if entryID == uuid.Nil {
		return nil, invalidf("entry id is required")
	}
	if status != domain.CommissionPaid && status != domain.CommissionCancelled {
		return nil, invalidf("commission can only be settled as %s or %s, got %q", domain.CommissionPaid, domain.CommissionCancelled, status)
	}

	entry, err := s.repo.SettleCommission(ctx, store.SettleCommissionParams{
		EntryID: entryID,
		Status:  status,
		Notes:   strings.TrimSpace(notes),
		At:      s.now(),
	})
	if err != nil {
		return nil, translateStoreError("settle commission", err)
	}

	log.Printf("level=info component=settlement msg=\"commission settled\" entry_id=%s payee_id=%s status=%s amount=%d", entry.ID, entry.PayeeAccountID, entry.Status, entry.Amount)
	s.metrics.ObserveCommissionSettled(string(entry.Status))
	s.notify(ctx, rabbitmq.RoutingKeyCommissionSettled, domain.NewCommissionEvent(*entry, s.now()))
	return entry, nil
}
