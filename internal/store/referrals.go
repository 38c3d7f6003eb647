package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/SanaullahForhad/sooqkabeer-production/internal/domain"
	"github.com/shopspring/decimal"
)

// ListReferralAncestry returns up to three edges pointing at referredID, level 1 first.
func (r *SQLRepository) ListReferralAncestry(ctx context.Context, referredID string) ([]domain.ReferralEdge, error) {
	return r.listAncestry(ctx, r.db, referredID)
}

func (r *SQLRepository) listAncestry(ctx context.Context, db queryer, referredID string) ([]domain.ReferralEdge, error) {
	query := `
		SELECT referrer_id, referred_id, level, rate, created_at
		FROM referral_edges
		WHERE referred_id = ?
		ORDER BY level ASC
	`
	rows, err := db.QueryContext(ctx, r.q(query), referredID)
	if err != nil {
		return nil, fmt.Errorf("list referral ancestry: %w", err)
	}
	defer rows.Close()

	edges := make([]domain.ReferralEdge, 0, domain.MaxReferralDepth)
	for rows.Next() {
		var (
			edge      domain.ReferralEdge
			rate      decimal.Decimal
			createdAt dbTime
		)
		if err := rows.Scan(&edge.ReferrerID, &edge.ReferredID, &edge.Level, &rate, &createdAt); err != nil {
			return nil, fmt.Errorf("scan referral edge: %w", err)
		}
		edge.Rate = rate
		edge.CreatedAt = createdAt.Time
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate referral edges: %w", err)
	}
	return edges, nil
}

// maxAncestorHops bounds the ancestor walk when guarding against cycles.
const maxAncestorHops = 1024

// CreateReferral writes all edges for a new referral and the direct referrer's signup
// bonus atomically. Any existing edge for the referred account fails the whole call
// with ErrAlreadyReferred. A referrer whose chain already contains the referred account
// fails it with ErrReferralCycle.
func (r *SQLRepository) CreateReferral(ctx context.Context, params CreateReferralParams) (*domain.CommissionEntry, error) {
	if len(params.Edges) == 0 {
		return nil, errors.New("no referral edges to create")
	}

	var bonus *domain.CommissionEntry
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if stmt := r.dialect.referralLockStatement(); stmt != "" {
			if _, err := tx.ExecContext(ctx, r.q(stmt), referralLockKey); err != nil {
				return fmt.Errorf("lock referral writes: %w", err)
			}
		}

		// Lock the referred account and every referrer in a stable order.
		ids := []string{params.ReferredID}
		for _, edge := range params.Edges {
			ids = append(ids, edge.ReferrerID)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if _, err := r.lockAccount(ctx, tx, id); err != nil {
				return err
			}
		}

		existing, err := r.listAncestry(ctx, tx, params.ReferredID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return ErrAlreadyReferred
		}

		for _, edge := range params.Edges {
			if edge.Level != 1 {
				continue
			}
			cycle, err := r.reachesAncestor(ctx, tx, params.ReferredID, edge.ReferrerID)
			if err != nil {
				return err
			}
			if cycle {
				return ErrReferralCycle
			}
		}

		insert := `
			INSERT INTO referral_edges (referrer_id, referred_id, level, rate, created_at)
			VALUES (?, ?, ?, ?, ?)
		`
		for _, edge := range params.Edges {
			createdAt := edge.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now().UTC()
			}
			_, err := tx.ExecContext(ctx, r.q(insert),
				edge.ReferrerID,
				edge.ReferredID,
				edge.Level,
				edge.Rate.String(),
				r.dialect.timeValue(createdAt),
			)
			if err != nil {
				if isUniqueViolation(err) {
					return ErrAlreadyReferred
				}
				return fmt.Errorf("insert referral edge level %d: %w", edge.Level, err)
			}
		}

		if params.SignupBonus != nil {
			stored, _, err := r.insertCommission(ctx, tx, params.SignupBonus, params.SettleBonus)
			if err != nil {
				return err
			}
			bonus = stored
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bonus, nil
}

// reachesAncestor walks accountID's chain of referrers looking for candidate. Each
// lookup returns up to three ancestors, so the walk continues from the farthest one.
func (r *SQLRepository) reachesAncestor(ctx context.Context, db queryer, candidate, accountID string) (bool, error) {
	if candidate == accountID {
		return true, nil
	}
	current := accountID
	for hops := 0; hops < maxAncestorHops; hops += domain.MaxReferralDepth {
		edges, err := r.listAncestry(ctx, db, current)
		if err != nil {
			return false, err
		}
		for _, edge := range edges {
			if edge.ReferrerID == candidate {
				return true, nil
			}
		}
		if len(edges) < domain.MaxReferralDepth {
			return false, nil
		}
		current = edges[len(edges)-1].ReferrerID
	}
	return false, fmt.Errorf("referral chain above %s exceeds %d hops", accountID, maxAncestorHops)
}

// CountReferrals returns how many accounts the referrer earns from directly (level 1)
// and indirectly (levels 2 and 3).
func (r *SQLRepository) CountReferrals(ctx context.Context, referrerID string) (int, int, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN level = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN level > 1 THEN 1 ELSE 0 END), 0)
		FROM referral_edges
		WHERE referrer_id = ?
	`
	var direct, indirect int64
	if err := r.db.QueryRowContext(ctx, r.q(query), referrerID).Scan(&direct, &indirect); err != nil {
		return 0, 0, fmt.Errorf("count referrals: %w", err)
	}
	return int(direct), int(indirect), nil
}
