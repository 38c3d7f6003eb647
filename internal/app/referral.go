package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/SanaullahForhad/sooqkabeer-production/internal/domain"
	"github.com/SanaullahForhad/sooqkabeer-production/internal/store"
	"github.com/SanaullahForhad/sooqkabeer-production/pkg/rabbitmq"
)

const (
	referralCodePrefix   = "SK"
	referralCodeAttempts = 5
)

// GenerateReferralCode returns "SK" followed by six uppercase hex digits.
func GenerateReferralCode() (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate referral code: %w", err)
	}
	return referralCodePrefix + strings.ToUpper(hex.EncodeToString(buf)), nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// RegisterAccount creates the account if it does not exist yet and returns it. When
// referralCode is empty a code is generated. An existing account keeps its code; its
// kind must match.
func (s *Service) RegisterAccount(ctx context.Context, accountID string, kind domain.AccountKind, referralCode string) (*domain.Account, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, invalidf("account id is required")
	}
	if kind == "" {
		kind = domain.AccountKindUser
	}
	if !kind.Valid() {
		return nil, invalidf("unknown account kind %q", kind)
	}
	return s.ensureAccount(ctx, accountID, kind, normalizeCode(referralCode), true)
}

// ensureAccount lazily creates accounts. A generated code that collides is retried; a
// caller-supplied code that collides is a conflict.
func (s *Service) ensureAccount(ctx context.Context, accountID string, kind domain.AccountKind, code string, strictKind bool) (*domain.Account, error) {
	if existing, err := s.repo.FindAccountByID(ctx, accountID); err == nil {
		if strictKind && existing.Kind != kind {
			return nil, fmt.Errorf("account %s is %s, not %s: %w", accountID, existing.Kind, kind, ErrAccountKindMismatch)
		}
		return existing, nil
	} else if !errors.Is(err, store.ErrAccountNotFound) {
		return nil, translateStoreError("find account", err)
	}

	supplied := code != ""
	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		if !supplied {
			generated, err := s.newCode()
			if err != nil {
				return nil, err
			}
			code = generated
		}
		acct, created, err := s.repo.EnsureAccount(ctx, &domain.Account{
			ID:           accountID,
			Kind:         kind,
			ReferralCode: code,
			CreatedAt:    s.now(),
		})
		if err == nil {
			if strictKind && acct.Kind != kind {
				return nil, fmt.Errorf("account %s is %s, not %s: %w", accountID, acct.Kind, kind, ErrAccountKindMismatch)
			}
			if created {
				log.Printf("level=info component=accounts msg=\"account created\" account_id=%s kind=%s referral_code=%s", acct.ID, acct.Kind, acct.ReferralCode)
			}
			return acct, nil
		}
		if !errors.Is(err, store.ErrReferralCodeTaken) || supplied {
			return nil, translateStoreError("ensure account", err)
		}
	}
	return nil, &StorageError{Op: "ensure account", Err: fmt.Errorf("no free referral code after %d attempts", referralCodeAttempts)}
}

// RegisterReferral links newUserID under the owner of referralCodeUsed, adds the level
// 2 and 3 edges inherited from the referrer's own ancestry and credits the direct
// referrer's signup bonus. A second claim for the same user fails with
// ErrAlreadyReferred.
func (s *Service) RegisterReferral(ctx context.Context, newUserID, referralCodeUsed string) (*domain.ReferralResult, error) {
	result, err := s.registerReferral(ctx, strings.TrimSpace(newUserID), normalizeCode(referralCodeUsed))
	if err != nil {
		s.metrics.ObserveReferral(referralOutcome(err))
		return nil, err
	}
	s.metrics.ObserveReferral("registered")
	return result, nil
}

func (s *Service) registerReferral(ctx context.Context, newUserID, code string) (*domain.ReferralResult, error) {
	if newUserID == "" {
		return nil, invalidf("new user id is required")
	}
	if code == "" {
		return nil, invalidf("referral code is required")
	}

	referrer, err := s.repo.FindAccountByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, fmt.Errorf("code %s: %w", code, ErrUnknownCode)
		}
		return nil, translateStoreError("resolve referral code", err)
	}
	if referrer.ID == newUserID {
		return nil, ErrSelfReferral
	}

	if _, err := s.ensureAccount(ctx, newUserID, domain.AccountKindUser, "", false); err != nil {
		return nil, err
	}

	existing, err := s.repo.ListReferralAncestry(ctx, newUserID)
	if err != nil {
		return nil, translateStoreError("load referred ancestry", err)
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("user %s: %w", newUserID, ErrAlreadyReferred)
	}

	referrerAncestry, err := s.repo.ListReferralAncestry(ctx, referrer.ID)
	if err != nil {
		return nil, translateStoreError("load referrer ancestry", err)
	}

	now := s.now()
	edges := s.buildReferralEdges(referrer.ID, newUserID, referrerAncestry)
	for i := range edges {
		edges[i].CreatedAt = now
	}

	var bonus *domain.CommissionEntry
	if s.policy.SignupBonus > 0 {
		bonus = &domain.CommissionEntry{
			PayeeAccountID: referrer.ID,
			SourceKey:      domain.SignupSourceKey(newUserID),
			Cause:          domain.CauseSignupBonus,
			BaseAmount:     s.policy.SignupBonus,
			Amount:         s.policy.SignupBonus,
			CreatedAt:      now,
		}
	}

	storedBonus, err := s.repo.CreateReferral(ctx, store.CreateReferralParams{
		ReferredID:  newUserID,
		Edges:       edges,
		SignupBonus: bonus,
		SettleBonus: s.policy.InstantCreditSignupBonus,
	})
	if err != nil {
		return nil, translateStoreError("create referral", err)
	}

	log.Printf("level=info component=referrals msg=\"referral registered\" referred_id=%s referrer_id=%s levels=%d", newUserID, referrer.ID, len(edges))

	s.notify(ctx, rabbitmq.RoutingKeyReferralRegistered, domain.ReferralEvent{
		ReferredID: newUserID,
		ReferrerID: referrer.ID,
		Levels:     len(edges),
		Timestamp:  now,
	})
	if storedBonus != nil {
		s.metrics.ObserveCommissionCreated(string(storedBonus.Cause), string(storedBonus.Status), storedBonus.Amount)
		s.notify(ctx, rabbitmq.RoutingKeyCommissionCreated, domain.NewCommissionEvent(*storedBonus, now))
	}

	return &domain.ReferralResult{Edges: edges, SignupBonus: storedBonus}, nil
}

// buildReferralEdges creates the level 1 edge to the referrer plus one edge per
// ancestor of the referrer, up to the depth cap. Rates come from the current policy and
// are frozen on the edge.
func (s *Service) buildReferralEdges(referrerID, newUserID string, referrerAncestry []domain.ReferralEdge) []domain.ReferralEdge {
	edges := []domain.ReferralEdge{{
		ReferrerID: referrerID,
		ReferredID: newUserID,
		Level:      1,
		Rate:       s.policy.levelRate(1),
	}}
	for _, ancestor := range referrerAncestry {
		level := ancestor.Level + 1
		if level > domain.MaxReferralDepth {
			break
		}
		edges = append(edges, domain.ReferralEdge{
			ReferrerID: ancestor.ReferrerID,
			ReferredID: newUserID,
			Level:      level,
			Rate:       s.policy.levelRate(level),
		})
	}
	return edges
}

func referralOutcome(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyReferred):
		return "already_referred"
	case errors.Is(err, ErrUnknownCode):
		return "unknown_code"
	case errors.Is(err, ErrReferralCycle), errors.Is(err, ErrSelfReferral):
		return "cycle"
	case errors.Is(err, ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
