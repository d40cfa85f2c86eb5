package pool

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/open-leads/talon/internal/domain"
	"github.com/open-leads/talon/internal/repository"
)

const testTenant = "tenant-001"

func newAssignerFixture(t *testing.T) (*Assigner, domain.Repository) {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "pool.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return NewAssigner(repo), repo
}

func seedPool(t *testing.T, repo domain.Repository, poolID string, strategy domain.AssignStrategy, owners ...*domain.Owner) {
	t.Helper()
	ctx := context.Background()
	if err := repo.SavePool(ctx, testTenant, &domain.Pool{
		ID:       poolID,
		Name:     poolID,
		Strategy: strategy,
	}); err != nil {
		t.Fatalf("failed to save pool: %v", err)
	}
	for _, o := range owners {
		o.PoolID = poolID
		if err := repo.SaveOwner(ctx, testTenant, o); err != nil {
			t.Fatalf("failed to save owner %s: %v", o.ID, err)
		}
	}
}

func TestAssignRoundRobin(t *testing.T) {
	assigner, repo := newAssignerFixture(t)
	ctx := context.Background()

	seedPool(t, repo, "sales", domain.StrategyRoundRobin,
		&domain.Owner{ID: "owner-1", Capacity: 10, IsActive: true},
		&domain.Owner{ID: "owner-2", Capacity: 10, IsActive: true},
		&domain.Owner{ID: "owner-3", Capacity: 10, IsActive: true},
	)

	// Three assignments rotate through the pool in id order.
	want := []string{"owner-1", "owner-2", "owner-3", "owner-1"}
	for i, expected := range want {
		result := &domain.RouteResult{Pool: "sales"}
		if err := assigner.Assign(ctx, testTenant, result); err != nil {
			t.Fatalf("assignment %d failed: %v", i, err)
		}
		if result.OwnerID != expected {
			t.Errorf("assignment %d: expected %s, got %s", i, expected, result.OwnerID)
		}
	}

	// Load was incremented on each pick.
	owners, err := repo.ListOwners(ctx, testTenant, "sales")
	if err != nil {
		t.Fatalf("failed to list owners: %v", err)
	}
	loads := map[string]int{}
	for _, o := range owners {
		loads[o.ID] = o.CurrentLoad
	}
	if loads["owner-1"] != 2 || loads["owner-2"] != 1 || loads["owner-3"] != 1 {
		t.Errorf("unexpected loads after rotation: %v", loads)
	}
}

func TestAssignRoundRobinSkipsUnavailable(t *testing.T) {
	assigner, repo := newAssignerFixture(t)
	ctx := context.Background()

	seedPool(t, repo, "sales", domain.StrategyRoundRobin,
		&domain.Owner{ID: "owner-1", Capacity: 1, CurrentLoad: 1, IsActive: true},
		&domain.Owner{ID: "owner-2", Capacity: 10, IsActive: true},
		&domain.Owner{ID: "owner-3", Capacity: 10, IsActive: false},
	)

	// owner-1 is at capacity and owner-3 is inactive, so every pick
	// lands on owner-2 regardless of cursor position.
	for i := 0; i < 3; i++ {
		result := &domain.RouteResult{Pool: "sales"}
		if err := assigner.Assign(ctx, testTenant, result); err != nil {
			t.Fatalf("assignment %d failed: %v", i, err)
		}
		if result.OwnerID != "owner-2" {
			t.Errorf("assignment %d: expected owner-2, got %s", i, result.OwnerID)
		}
	}
}

func TestAssignLeastLoaded(t *testing.T) {
	assigner, repo := newAssignerFixture(t)
	ctx := context.Background()

	seedPool(t, repo, "support", domain.StrategyLeastLoaded,
		&domain.Owner{ID: "owner-1", Capacity: 10, CurrentLoad: 5, IsActive: true},
		&domain.Owner{ID: "owner-2", Capacity: 10, CurrentLoad: 2, IsActive: true},
		&domain.Owner{ID: "owner-3", Capacity: 4, CurrentLoad: 2, IsActive: true},
	)

	// owner-2 has ratio 0.2, owner-3 has 0.5, owner-1 has 0.5.
	result := &domain.RouteResult{Pool: "support"}
	if err := assigner.Assign(ctx, testTenant, result); err != nil {
		t.Fatalf("assignment failed: %v", err)
	}
	if result.OwnerID != "owner-2" {
		t.Errorf("expected least loaded owner-2, got %s", result.OwnerID)
	}
}

func TestAssignLeastLoadedTieBreaksByID(t *testing.T) {
	assigner, repo := newAssignerFixture(t)
	ctx := context.Background()

	seedPool(t, repo, "support", domain.StrategyLeastLoaded,
		&domain.Owner{ID: "owner-b", Capacity: 10, CurrentLoad: 3, IsActive: true},
		&domain.Owner{ID: "owner-a", Capacity: 10, CurrentLoad: 3, IsActive: true},
	)

	result := &domain.RouteResult{Pool: "support"}
	if err := assigner.Assign(ctx, testTenant, result); err != nil {
		t.Fatalf("assignment failed: %v", err)
	}
	if result.OwnerID != "owner-a" {
		t.Errorf("expected id-ascending tie break to pick owner-a, got %s", result.OwnerID)
	}
}

func TestAssignAlerts(t *testing.T) {
	assigner, repo := newAssignerFixture(t)
	ctx := context.Background()

	t.Run("MissingPool", func(t *testing.T) {
		result := &domain.RouteResult{Pool: "no-such-pool"}
		if err := assigner.Assign(ctx, testTenant, result); err != nil {
			t.Fatalf("expected alert instead of error, got %v", err)
		}
		if result.OwnerID != "" || len(result.Alerts) != 1 {
			t.Errorf("expected unassigned with one alert, got %+v", result)
		}
	})

	t.Run("EmptyPool", func(t *testing.T) {
		seedPool(t, repo, "empty", domain.StrategyRoundRobin)
		result := &domain.RouteResult{Pool: "empty"}
		if err := assigner.Assign(ctx, testTenant, result); err != nil {
			t.Fatalf("expected alert instead of error, got %v", err)
		}
		if result.OwnerID != "" || len(result.Alerts) != 1 {
			t.Errorf("expected unassigned with one alert, got %+v", result)
		}
	})

	t.Run("Exhausted", func(t *testing.T) {
		seedPool(t, repo, "full", domain.StrategyRoundRobin,
			&domain.Owner{ID: "owner-1", Capacity: 1, CurrentLoad: 1, IsActive: true},
		)
		result := &domain.RouteResult{Pool: "full"}
		if err := assigner.Assign(ctx, testTenant, result); err != nil {
			t.Fatalf("expected alert instead of error, got %v", err)
		}
		if result.OwnerID != "" {
			t.Errorf("expected no owner from an exhausted pool, got %s", result.OwnerID)
		}
		if len(result.Alerts) != 1 {
			t.Errorf("expected exhaustion alert, got %v", result.Alerts)
		}
	})
}

func TestAssignNoPoolRequested(t *testing.T) {
	assigner, _ := newAssignerFixture(t)

	// An unrouted lead passes through untouched.
	result := &domain.RouteResult{}
	if err := assigner.Assign(context.Background(), testTenant, result); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if result.OwnerID != "" || len(result.Alerts) != 0 {
		t.Errorf("expected untouched result, got %+v", result)
	}

	if err := assigner.Assign(context.Background(), testTenant, nil); err != nil {
		t.Fatalf("expected nil result to be a no-op, got %v", err)
	}
}
