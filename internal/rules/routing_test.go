package rules

import (
	"strings"
	"testing"

	"github.com/open-leads/talon/internal/domain"
)

func TestRouteFirstMatchWins(t *testing.T) {
	engine := newTestEngine(t)

	activation := map[string]interface{}{
		"email": "jane@acme.com",
		"fields": map[string]interface{}{
			"budget": 50000.0,
		},
	}
	ruleset := []*domain.RoutingRule{
		{ID: "rt2", Name: "catch-all", Order: 2, Enabled: true,
			Conditions: []domain.Condition{{Field: "email", Operator: domain.OpExists}},
			Action:     domain.RouteAction{AssignPool: "default-team", SLAMinutes: intPtr(240)}},
		{ID: "rt1", Name: "big budget", Order: 1, Enabled: true,
			Conditions: []domain.Condition{{Field: "fields.budget", Operator: domain.OpGreaterEqual, Value: 25000.0}},
			Action:     domain.RouteAction{AssignPool: "enterprise-team", SLAMinutes: intPtr(15), Priority: intPtr(1)}},
	}

	result := engine.Route(activation, ruleset)
	if result.Pool != "enterprise-team" {
		t.Errorf("expected enterprise-team via order sort, got %s", result.Pool)
	}
	if result.SLAMinutes == nil || *result.SLAMinutes != 15 {
		t.Errorf("expected SLA 15, got %+v", result.SLAMinutes)
	}
	if result.Priority == nil || *result.Priority != 1 {
		t.Errorf("expected priority 1, got %+v", result.Priority)
	}
	if !strings.Contains(result.Reason, "rt1") {
		t.Errorf("expected reason to name the matched rule, got %q", result.Reason)
	}
}

func TestRouteLaterRulesNotConsulted(t *testing.T) {
	engine := newTestEngine(t)

	ruleset := []*domain.RoutingRule{
		{ID: "a", Name: "a", Order: 1, Enabled: true,
			Conditions: []domain.Condition{{Field: "email", Operator: domain.OpExists}},
			Action:     domain.RouteAction{AssignPool: "pool-a"}},
		{ID: "b", Name: "b", Order: 2, Enabled: true,
			Conditions: []domain.Condition{{Field: "email", Operator: domain.OpExists}},
			Action:     domain.RouteAction{AssignPool: "pool-b"}},
	}
	result := engine.Route(map[string]interface{}{"email": "a@b.com"}, ruleset)
	if result.Pool != "pool-a" {
		t.Errorf("expected first matching rule to win, got %s", result.Pool)
	}
	// The trace ends at the match: rule b never appears.
	for _, entry := range result.Trace {
		if entry.RuleID == "b" {
			t.Errorf("rule b should not have been evaluated: %+v", entry)
		}
	}
}

func TestRouteSkipsTraced(t *testing.T) {
	engine := newTestEngine(t)

	ruleset := []*domain.RoutingRule{
		{ID: "miss", Name: "miss", Order: 1, Enabled: true,
			Conditions: []domain.Condition{{Field: "fields.budget", Operator: domain.OpGreaterThan, Value: 1000000.0}},
			Action:     domain.RouteAction{AssignPool: "whale-team"}},
		{ID: "hit", Name: "hit", Order: 2, Enabled: true,
			Conditions: []domain.Condition{{Field: "email", Operator: domain.OpExists}},
			Action:     domain.RouteAction{AssignPool: "default-team"}},
	}
	result := engine.Route(map[string]interface{}{"email": "a@b.com"}, ruleset)

	if result.Pool != "default-team" {
		t.Fatalf("expected default-team, got %s", result.Pool)
	}
	if len(result.Trace) != 2 {
		t.Fatalf("expected skip + match trace entries, got %+v", result.Trace)
	}
	if result.Trace[0].RuleID != "miss" || result.Trace[0].Operation != domain.TraceOpRouteSkip {
		t.Errorf("expected route_skip for miss, got %+v", result.Trace[0])
	}
	if result.Trace[1].Operation != domain.TraceOpRouteMatch {
		t.Errorf("expected route_match for hit, got %+v", result.Trace[1])
	}
}

func TestRouteMalformedAndDisabledSkipped(t *testing.T) {
	engine := newTestEngine(t)

	ruleset := []*domain.RoutingRule{
		{ID: "off", Name: "disabled", Enabled: false,
			Conditions: []domain.Condition{{Field: "email", Operator: domain.OpExists}},
			Action:     domain.RouteAction{AssignPool: "pool-a"}},
		{ID: "nc", Name: "no conditions", Enabled: true,
			Action: domain.RouteAction{AssignPool: "pool-b"}},
		{ID: "np", Name: "no pool", Enabled: true,
			Conditions: []domain.Condition{{Field: "email", Operator: domain.OpExists}}},
		nil,
	}
	result := engine.Route(map[string]interface{}{"email": "a@b.com"}, ruleset)

	if result.Pool != "" {
		t.Errorf("expected no assignment, got %s", result.Pool)
	}
	if result.Reason != NoMatchReason {
		t.Errorf("expected %q, got %q", NoMatchReason, result.Reason)
	}
}

func TestRouteNoRules(t *testing.T) {
	engine := newTestEngine(t)

	result := engine.Route(map[string]interface{}{"email": "a@b.com"}, nil)
	if result.Pool != "" || result.Reason != NoMatchReason {
		t.Errorf("expected unassigned with no-match reason, got %+v", result)
	}
	if len(result.Trace) != 1 || result.Trace[0].Operation != domain.TraceOpNoMatch {
		t.Errorf("expected single no_match trace entry, got %+v", result.Trace)
	}
}
