package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/open-leads/talon/internal/domain"
	"github.com/open-leads/talon/internal/repository"
)

// DefaultSnapshotTTL bounds how stale a cached rule snapshot can get when
// invalidation is missed (e.g. rule writes on another node without Redis).
const DefaultSnapshotTTL = 30 * time.Second

// SnapshotStore builds per-tenant rule snapshots from the repository and
// caches them for the hot triage path.
type SnapshotStore struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration
}

// NewSnapshotStore creates a snapshot store. The cache may be nil, in which
// case every load hits the repository.
func NewSnapshotStore(repo domain.Repository, cache domain.Cache, ttl time.Duration) *SnapshotStore {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &SnapshotStore{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
	}
}

// Load returns the tenant's rule snapshot, from cache when fresh. A tenant
// with no configuration at all gets an empty snapshot, not an error; the
// engine scores such leads to 0/LOW.
func (s *SnapshotStore) Load(ctx context.Context, tenantID string) (*domain.RuleSnapshot, error) {
	if s.cache != nil {
		snap, err := s.cache.GetRuleSnapshot(ctx, tenantID)
		if err == nil && snap != nil {
			return snap, nil
		}
	}

	cfg, err := s.repo.GetScoringConfig(ctx, tenantID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load scoring config: %w", err)
	}

	scoringRules, err := s.repo.ListScoringRules(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scoring rules: %w", err)
	}

	routingRules, err := s.repo.ListRoutingRules(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load routing rules: %w", err)
	}

	snap := &domain.RuleSnapshot{
		Config:       cfg,
		ScoringRules: scoringRules,
		RoutingRules: routingRules,
	}

	if s.cache != nil {
		_ = s.cache.SetRuleSnapshot(ctx, tenantID, snap, s.ttl)
	}

	return snap, nil
}

// Invalidate drops the cached snapshot after a rule or config write. The
// next load rebuilds from the repository.
func (s *SnapshotStore) Invalidate(ctx context.Context, tenantID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, tenantID, domain.SnapshotCacheKey)
}
