// Package pool resolves a concrete owner for a routed lead according to the
// pool's load-balancing strategy.
package pool

import (
	"context"
	"fmt"
	"sort"

	"github.com/open-leads/talon/internal/domain"
)

// Assigner resolves owners within pools. The round-robin cursor lives in
// the pool record; all cursor movement goes through the repository's
// serialized advance so concurrent assignments against one pool stay
// ordered.
type Assigner struct {
	repo domain.Repository
}

// NewAssigner creates a new pool assigner.
func NewAssigner(repo domain.Repository) *Assigner {
	return &Assigner{repo: repo}
}

// Assign fills in the owner slot of a route result. A missing pool, an
// empty pool, or a pool with every owner at capacity leaves the owner
// unset and records an alert; assignment never fails a routing decision.
func (a *Assigner) Assign(ctx context.Context, tenantID string, result *domain.RouteResult) error {
	if result == nil || result.Pool == "" {
		return nil
	}

	p, err := a.repo.GetPool(ctx, tenantID, result.Pool)
	if err != nil {
		result.Alerts = append(result.Alerts, fmt.Sprintf("pool %s not found", result.Pool))
		return nil
	}

	owners, err := a.repo.ListOwners(ctx, tenantID, p.ID)
	if err != nil {
		return fmt.Errorf("failed to list owners for pool %s: %w", p.ID, err)
	}
	if len(owners) == 0 {
		result.Alerts = append(result.Alerts, fmt.Sprintf("pool %s has no owners", p.ID))
		return nil
	}

	// Stable owner ordering for deterministic selection.
	sort.Slice(owners, func(i, j int) bool { return owners[i].ID < owners[j].ID })

	var owner *domain.Owner
	switch p.Strategy {
	case domain.StrategyLeastLoaded:
		owner = pickLeastLoaded(owners)
	default:
		// round_robin is the default strategy.
		owner, err = a.pickRoundRobin(ctx, tenantID, p.ID, owners)
		if err != nil {
			return err
		}
	}

	if owner == nil {
		result.Alerts = append(result.Alerts, fmt.Sprintf("pool %s exhausted: all owners at capacity", p.ID))
		return nil
	}

	result.OwnerID = owner.ID
	if err := a.repo.IncrementOwnerLoad(ctx, tenantID, owner.ID); err != nil {
		return fmt.Errorf("failed to increment load for owner %s: %w", owner.ID, err)
	}
	return nil
}

// pickRoundRobin advances the persisted cursor once, then scans forward
// from that position for the first available owner.
func (a *Assigner) pickRoundRobin(ctx context.Context, tenantID, poolID string, owners []*domain.Owner) (*domain.Owner, error) {
	cursor, err := a.repo.AdvancePoolCursor(ctx, tenantID, poolID)
	if err != nil {
		return nil, fmt.Errorf("failed to advance cursor for pool %s: %w", poolID, err)
	}

	n := len(owners)
	start := int(cursor % int64(n))
	for i := 0; i < n; i++ {
		candidate := owners[(start+i)%n]
		if candidate.Available() {
			return candidate, nil
		}
	}
	return nil, nil
}

// pickLeastLoaded selects the available owner with the lowest
// load/capacity ratio. The id-ascending input order makes ties
// deterministic.
func pickLeastLoaded(owners []*domain.Owner) *domain.Owner {
	var best *domain.Owner
	var bestRatio float64
	for _, candidate := range owners {
		if !candidate.Available() {
			continue
		}
		ratio := float64(candidate.CurrentLoad) / float64(candidate.Capacity)
		if best == nil || ratio < bestRatio {
			best = candidate
			bestRatio = ratio
		}
	}
	return best
}
