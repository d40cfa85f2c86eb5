package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/open-leads/talon/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "talon-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetLead", func(t *testing.T) {
		lead := &domain.Lead{
			ID:        "lead-001",
			Email:     "jane@acme.com",
			Name:      "Jane Doe",
			Company:   "Acme Corp",
			Domain:    "acme.com",
			Source:    "webinar",
			Score:     42,
			Fields:    map[string]interface{}{"budget": 50000.0, "title": "VP Sales"},
			UTM:       map[string]interface{}{"campaign": "q3-launch"},
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}

		if err := repo.SaveLead(ctx, tenantID, lead); err != nil {
			t.Fatalf("SaveLead failed: %v", err)
		}

		retrieved, err := repo.GetLead(ctx, tenantID, lead.ID)
		if err != nil {
			t.Fatalf("GetLead failed: %v", err)
		}

		if retrieved.Email != lead.Email {
			t.Errorf("expected Email %s, got %s", lead.Email, retrieved.Email)
		}
		if retrieved.Score != lead.Score {
			t.Errorf("expected Score %d, got %d", lead.Score, retrieved.Score)
		}
		if retrieved.Fields["title"] != "VP Sales" {
			t.Errorf("expected title field to survive round trip, got %v", retrieved.Fields["title"])
		}
		if retrieved.TenantID != tenantID {
			t.Errorf("expected TenantID %s, got %s", tenantID, retrieved.TenantID)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetLead(ctx, "tenant-002", "lead-001")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for cross-tenant read, got %v", err)
		}
	})

	t.Run("EmptyTenantRejected", func(t *testing.T) {
		if err := repo.SaveLead(ctx, "", &domain.Lead{ID: "x"}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("ScoringConfigRoundTrip", func(t *testing.T) {
		cfg := &domain.ScoringConfig{
			Version: "1.0.0",
			Weights: map[string]float64{"fields.budget": 0.001, "email": 5},
			Bands:   domain.DefaultBands(),
			Negative: []domain.NegativeRule{
				{Field: "email", Operator: domain.OpContains, Value: "test@", Penalty: 10, Reason: "test address"},
			},
		}

		if err := repo.SaveScoringConfig(ctx, tenantID, cfg); err != nil {
			t.Fatalf("SaveScoringConfig failed: %v", err)
		}

		got, err := repo.GetScoringConfig(ctx, tenantID)
		if err != nil {
			t.Fatalf("GetScoringConfig failed: %v", err)
		}
		if got.Weights["fields.budget"] != 0.001 {
			t.Errorf("expected weight 0.001, got %v", got.Weights["fields.budget"])
		}
		if len(got.Negative) != 1 || got.Negative[0].Penalty != 10 {
			t.Errorf("negative rules did not survive round trip: %+v", got.Negative)
		}
		if got.Bands.High.Max != 100 {
			t.Errorf("expected high band max 100, got %v", got.Bands.High.Max)
		}
	})

	t.Run("ScoringRuleRoundTrip", func(t *testing.T) {
		add := 20.0
		rule := &domain.ScoringRule{
			ID:      "rule-001",
			Name:    "enterprise boost",
			Kind:    domain.RuleKindIfThen,
			Order:   5,
			Enabled: true,
			Conditions: []domain.Condition{
				{Field: "fields.employees", Operator: domain.OpGreaterThan, Value: 500.0},
			},
			Action: domain.RuleAction{Add: &add, Tag: "enterprise"},
		}

		if err := repo.SaveScoringRule(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveScoringRule failed: %v", err)
		}

		got, err := repo.GetScoringRule(ctx, tenantID, rule.ID)
		if err != nil {
			t.Fatalf("GetScoringRule failed: %v", err)
		}
		if got.Kind != domain.RuleKindIfThen {
			t.Errorf("expected kind if_then, got %s", got.Kind)
		}
		if got.Action.Add == nil || *got.Action.Add != 20 {
			t.Errorf("expected add action 20, got %+v", got.Action.Add)
		}
		if len(got.Conditions) != 1 || got.Conditions[0].Operator != domain.OpGreaterThan {
			t.Errorf("conditions did not survive round trip: %+v", got.Conditions)
		}
	})

	t.Run("ListScoringRulesOrdered", func(t *testing.T) {
		for _, r := range []*domain.ScoringRule{
			{ID: "rule-b", Name: "later", Kind: domain.RuleKindWeight, Order: 10, Enabled: true, Field: "score", Weight: 1},
			{ID: "rule-a", Name: "earlier", Kind: domain.RuleKindWeight, Order: 1, Enabled: false, Field: "email", Weight: 2},
		} {
			if err := repo.SaveScoringRule(ctx, tenantID, r); err != nil {
				t.Fatalf("SaveScoringRule failed: %v", err)
			}
		}

		ruleset, err := repo.ListScoringRules(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListScoringRules failed: %v", err)
		}
		if len(ruleset) < 3 {
			t.Fatalf("expected at least 3 rules, got %d", len(ruleset))
		}
		if ruleset[0].ID != "rule-a" {
			t.Errorf("expected rule-a first by sort order, got %s", ruleset[0].ID)
		}
		if ruleset[0].Enabled {
			t.Error("expected disabled flag to survive round trip")
		}
	})

	t.Run("RoutingRuleRoundTrip", func(t *testing.T) {
		sla := 15
		rule := &domain.RoutingRule{
			ID:      "route-001",
			Name:    "hot leads",
			Order:   1,
			Enabled: true,
			Conditions: []domain.Condition{
				{Field: "scoreBand", Operator: domain.OpEquals, Value: "HIGH"},
			},
			Action: domain.RouteAction{AssignPool: "enterprise-team", SLAMinutes: &sla},
		}

		if err := repo.SaveRoutingRule(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveRoutingRule failed: %v", err)
		}

		ruleset, err := repo.ListRoutingRules(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListRoutingRules failed: %v", err)
		}
		if len(ruleset) != 1 {
			t.Fatalf("expected 1 routing rule, got %d", len(ruleset))
		}
		got := ruleset[0]
		if got.Action.AssignPool != "enterprise-team" {
			t.Errorf("expected pool enterprise-team, got %s", got.Action.AssignPool)
		}
		if got.Action.SLAMinutes == nil || *got.Action.SLAMinutes != 15 {
			t.Errorf("expected SLA 15, got %+v", got.Action.SLAMinutes)
		}
	})

	t.Run("EvaluationRoundTrip", func(t *testing.T) {
		eval := &domain.Evaluation{
			ID:        "eval-001",
			LeadID:    "lead-001",
			Score:     77,
			Band:      domain.BandHigh,
			Timestamp: time.Now().UTC(),
			Scoring: &domain.ScoreResult{
				Score: 77,
				Band:  domain.BandHigh,
				Tags:  []string{"enterprise"},
			},
			Routing: &domain.RouteResult{Pool: "enterprise-team", OwnerID: "owner-1"},
			Metadata: domain.EvaluationMetadata{
				TraceID:       "trace-abc",
				EngineVersion: "talon-1.0",
			},
		}

		if err := repo.SaveEvaluation(ctx, tenantID, eval); err != nil {
			t.Fatalf("SaveEvaluation failed: %v", err)
		}

		got, err := repo.GetEvaluation(ctx, tenantID, eval.ID)
		if err != nil {
			t.Fatalf("GetEvaluation failed: %v", err)
		}
		if got.Band != domain.BandHigh {
			t.Errorf("expected band HIGH, got %s", got.Band)
		}
		if got.Routing == nil || got.Routing.Pool != "enterprise-team" {
			t.Errorf("routing result did not survive round trip: %+v", got.Routing)
		}
		if got.Metadata.TraceID != "trace-abc" {
			t.Errorf("expected trace id trace-abc, got %s", got.Metadata.TraceID)
		}
	})
}

func TestPoolsAndOwners(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	pool := &domain.Pool{ID: "pool-1", Name: "SMB Team", Strategy: domain.StrategyRoundRobin}
	if err := repo.SavePool(ctx, tenantID, pool); err != nil {
		t.Fatalf("SavePool failed: %v", err)
	}

	got, err := repo.GetPool(ctx, tenantID, "pool-1")
	if err != nil {
		t.Fatalf("GetPool failed: %v", err)
	}
	if got.Strategy != domain.StrategyRoundRobin {
		t.Errorf("expected round_robin strategy, got %s", got.Strategy)
	}
	if got.Cursor != 0 {
		t.Errorf("expected fresh cursor 0, got %d", got.Cursor)
	}

	t.Run("CursorAdvance", func(t *testing.T) {
		for want := int64(0); want < 3; want++ {
			cursor, err := repo.AdvancePoolCursor(ctx, tenantID, "pool-1")
			if err != nil {
				t.Fatalf("AdvancePoolCursor failed: %v", err)
			}
			if cursor != want {
				t.Errorf("expected pre-increment cursor %d, got %d", want, cursor)
			}
		}
	})

	t.Run("CursorSurvivesPoolUpdate", func(t *testing.T) {
		pool.Name = "SMB Team (renamed)"
		if err := repo.SavePool(ctx, tenantID, pool); err != nil {
			t.Fatalf("SavePool failed: %v", err)
		}
		got, err := repo.GetPool(ctx, tenantID, "pool-1")
		if err != nil {
			t.Fatalf("GetPool failed: %v", err)
		}
		if got.Cursor != 3 {
			t.Errorf("expected cursor 3 after update, got %d", got.Cursor)
		}
		if got.Name != "SMB Team (renamed)" {
			t.Errorf("expected renamed pool, got %s", got.Name)
		}
	})

	t.Run("CursorMissingPool", func(t *testing.T) {
		if _, err := repo.AdvancePoolCursor(ctx, tenantID, "no-such-pool"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("OwnerLoad", func(t *testing.T) {
		owner := &domain.Owner{
			ID:       "owner-1",
			PoolID:   "pool-1",
			Name:     "Sam Rep",
			Capacity: 5,
			IsActive: true,
		}
		if err := repo.SaveOwner(ctx, tenantID, owner); err != nil {
			t.Fatalf("SaveOwner failed: %v", err)
		}

		if err := repo.IncrementOwnerLoad(ctx, tenantID, "owner-1"); err != nil {
			t.Fatalf("IncrementOwnerLoad failed: %v", err)
		}

		owners, err := repo.ListOwners(ctx, tenantID, "pool-1")
		if err != nil {
			t.Fatalf("ListOwners failed: %v", err)
		}
		if len(owners) != 1 {
			t.Fatalf("expected 1 owner, got %d", len(owners))
		}
		if owners[0].CurrentLoad != 1 {
			t.Errorf("expected load 1, got %d", owners[0].CurrentLoad)
		}

		if err := repo.IncrementOwnerLoad(ctx, tenantID, "no-such-owner"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for missing owner, got %v", err)
		}
	})
}
