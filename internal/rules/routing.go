package rules

import (
	"fmt"
	"sort"

	"github.com/open-leads/talon/internal/domain"
)

// NoMatchReason is the reason string when no routing rule matches.
const NoMatchReason = "no matching rule"

// Route runs the routing profile over a lead activation: enabled rules in
// ascending order, all conditions ANDed, first full match wins. Unlike
// scoring, later matching rules are never consulted. A lead no rule claims
// comes back unassigned with an explanatory reason, never an error.
func (e *Engine) Route(activation map[string]interface{}, ruleset []*domain.RoutingRule) *domain.RouteResult {
	result := &domain.RouteResult{}
	tr := &tracer{}

	ordered := make([]*domain.RoutingRule, 0, len(ruleset))
	for _, rule := range ruleset {
		if rule == nil || !rule.Enabled {
			continue
		}
		if len(rule.Conditions) == 0 || rule.Action.AssignPool == "" {
			// Malformed: no conditions or no assignment. Skip.
			continue
		}
		ordered = append(ordered, rule)
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	for _, rule := range ordered {
		if !EvalAll(activation, rule.Conditions) {
			tr.add(domain.TraceEntry{
				RuleID:    rule.ID,
				Operation: domain.TraceOpRouteSkip,
				Reason:    "conditions not met",
			})
			continue
		}

		result.Pool = rule.Action.AssignPool
		result.SLAMinutes = rule.Action.SLAMinutes
		result.Priority = rule.Action.Priority
		result.Reason = fmt.Sprintf("matched rule %s", rule.ID)
		tr.add(domain.TraceEntry{
			RuleID:    rule.ID,
			Operation: domain.TraceOpRouteMatch,
			Reason:    fmt.Sprintf("%s -> pool %s", rule.Name, rule.Action.AssignPool),
		})
		result.Trace = tr.entries
		return result
	}

	result.Reason = NoMatchReason
	tr.add(domain.TraceEntry{
		Operation: domain.TraceOpNoMatch,
		Reason:    NoMatchReason,
	})
	result.Trace = tr.entries
	return result
}
