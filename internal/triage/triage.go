// Package triage orchestrates the scoring and routing passes over a lead
// and produces the persisted evaluation record.
package triage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/open-leads/talon/internal/domain"
	"github.com/open-leads/talon/internal/pool"
	"github.com/open-leads/talon/internal/rules"
)

// Processor runs one lead through score -> route -> assign.
type Processor struct {
	engine   *rules.Engine
	assigner *pool.Assigner
}

// NewProcessor creates a new triage processor. The assigner may be nil, in
// which case routing stops at the pool decision.
func NewProcessor(engine *rules.Engine, assigner *pool.Assigner) *Processor {
	return &Processor{
		engine:   engine,
		assigner: assigner,
	}
}

// Input contains all data needed for one triage pass.
type Input struct {
	TenantID  string
	TraceID   string
	Lead      *domain.Lead
	Snapshot  *domain.RuleSnapshot
	StartTime time.Time
}

// Process scores the lead, feeds the resulting band back into the
// activation as "scoreBand", routes it, and resolves a concrete owner.
// The returned evaluation always carries a score, a band, and the full
// trace; owner assignment degrades to alerts rather than errors.
func (p *Processor) Process(ctx context.Context, input *Input) (*domain.Evaluation, error) {
	activation := input.Lead.Activation()
	snap := input.Snapshot
	if snap == nil {
		snap = &domain.RuleSnapshot{}
	}

	scoreStart := time.Now()
	scoring := p.engine.Score(activation, snap.Config, snap.ScoringRules)
	scoreMs := time.Since(scoreStart).Milliseconds()

	// Routing conditions can reference the freshly computed score.
	activation["score"] = float64(scoring.Score)
	activation["scoreBand"] = string(scoring.Band)

	routeStart := time.Now()
	routing := p.engine.Route(activation, snap.RoutingRules)
	if p.assigner != nil {
		if err := p.assigner.Assign(ctx, input.TenantID, routing); err != nil {
			return nil, err
		}
	}
	routeMs := time.Since(routeStart).Milliseconds()

	// The scoring pass can suggest a pool before routing rules run; a
	// route hint only applies when no routing rule claimed the lead.
	if routing.Pool == "" && scoring.RouteHint != "" {
		routing.Reason = "route hint from scoring"
		routing.Pool = scoring.RouteHint
		if p.assigner != nil {
			if err := p.assigner.Assign(ctx, input.TenantID, routing); err != nil {
				return nil, err
			}
		}
	}
	if routing.SLAMinutes == nil && scoring.SLAMinutes != nil {
		routing.SLAMinutes = scoring.SLAMinutes
	}

	eval := &domain.Evaluation{
		ID:        uuid.New().String(),
		TenantID:  input.TenantID,
		LeadID:    input.Lead.ID,
		Score:     scoring.Score,
		Band:      scoring.Band,
		Timestamp: time.Now().UTC(),
		Scoring:   scoring,
		Routing:   routing,
		Metadata: domain.EvaluationMetadata{
			TraceID:        input.TraceID,
			ScoreMs:        scoreMs,
			RouteMs:        routeMs,
			TotalMs:        time.Since(input.StartTime).Milliseconds(),
			RulesEvaluated: len(snap.ScoringRules) + len(snap.RoutingRules),
			EngineVersion:  rules.EngineVersion,
		},
	}
	return eval, nil
}

// ShouldAlert reports whether the evaluation carries alerts the caller
// should surface (capacity exhaustion, missing pools).
func ShouldAlert(eval *domain.Evaluation) bool {
	return eval.Routing != nil && len(eval.Routing.Alerts) > 0
}
