// Package rules implements the scoring and routing rule engine: field path
// resolution, condition evaluation, and the ordered application of
// team-configured rules against a lead.
package rules

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/open-leads/talon/internal/domain"
)

// EngineVersion is recorded in evaluation metadata.
const EngineVersion = "talon-1.0"

// Engine evaluates scoring and routing rules. Evaluation itself is pure and
// side-effect free; the only internal state is a cache of compiled CEL
// programs for expression rules, guarded for concurrent use.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]*compiledExpr
}

type compiledExpr struct {
	expression string
	program    cel.Program // nil when compilation failed
}

// NewEngine creates a new rule engine.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("lead", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("score", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		programs: make(map[string]*compiledExpr),
	}, nil
}

// ValidateExpression compiles an expression rule without caching it.
// Used at write time; evaluation never surfaces compile errors.
func (e *Engine) ValidateExpression(expression string) error {
	_, err := e.compile(expression)
	return err
}

// Close clears the compiled program cache.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.programs = make(map[string]*compiledExpr)
	return nil
}

// Score runs the scoring profile over a lead activation. Processing order is
// fixed: base weights, negative rules, conditional/expression rules in rule
// order, weight rules in rule order, clamp, band lookup. Malformed rules are
// skipped, never raised; the result is deterministic for fixed inputs.
func (e *Engine) Score(activation map[string]interface{}, cfg *domain.ScoringConfig, ruleset []*domain.ScoringRule) *domain.ScoreResult {
	result := &domain.ScoreResult{}
	tr := &tracer{}

	// 1. Base weights, in sorted field order for a stable trace.
	if cfg != nil {
		fields := make([]string, 0, len(cfg.Weights))
		for field := range cfg.Weights {
			fields = append(fields, field)
		}
		sort.Strings(fields)

		for _, field := range fields {
			weight := cfg.Weights[field]
			value := Resolve(activation, field)
			delta, ok := weightContribution(value, weight)
			if !ok || delta == 0 {
				continue
			}
			tr.add(domain.TraceEntry{
				Field:       field,
				Value:       value,
				Operation:   domain.TraceOpBaseWeight,
				PointsDelta: delta,
				Reason:      fmt.Sprintf("base weight %s", field),
			})
		}

		// 2. Negative rules, in config order.
		for _, neg := range cfg.Negative {
			if neg.Field == "" || neg.Operator == "" {
				continue
			}
			value := Resolve(activation, neg.Field)
			if !EvalCondition(value, neg.Operator, neg.Value) {
				continue
			}
			tr.add(domain.TraceEntry{
				Field:       neg.Field,
				Value:       value,
				Operation:   domain.TraceOpPenalty,
				PointsDelta: -neg.Penalty,
				Reason:      neg.Reason,
			})
		}
	}

	conditionals, weights := splitScoringRules(ruleset)

	// 3. Conditional and expression rules, ascending by order (stable).
	for _, rule := range conditionals {
		switch rule.Kind {
		case domain.RuleKindIfThen:
			e.applyIfThen(activation, rule, tr, result)
		case domain.RuleKindExpression:
			e.applyExpression(activation, rule, tr)
		}
	}

	// 4. Weight rules, ascending by order (stable).
	for _, rule := range weights {
		value := Resolve(activation, rule.Field)
		delta, ok := weightContribution(value, rule.Weight)
		if !ok || delta == 0 {
			continue
		}
		tr.add(domain.TraceEntry{
			RuleID:      rule.ID,
			Field:       rule.Field,
			Value:       value,
			Operation:   domain.TraceOpWeightRule,
			PointsDelta: delta,
			Reason:      rule.Name,
		})
	}

	// 5. Clamp to [0,100] and round.
	clamped := math.Round(math.Min(100, math.Max(0, tr.total)))
	result.Score = int(clamped)

	// 6. Band lookup, total over any band config.
	bands := domain.DefaultBands()
	if cfg != nil {
		bands = cfg.Bands
	}
	result.Band = LookupBand(clamped, bands)
	tr.add(domain.TraceEntry{
		Operation:   domain.TraceOpBand,
		PointsDelta: 0,
		Reason:      fmt.Sprintf("score %d -> band %s", result.Score, result.Band),
	})

	result.Trace = tr.entries
	return result
}

// applyIfThen ANDs the rule's conditions and, on a full match, applies the
// action payload: add, multiply (against the running total), tag, and the
// route/sla side-effect slots, which each matching rule overwrites (last
// match wins).
func (e *Engine) applyIfThen(activation map[string]interface{}, rule *domain.ScoringRule, tr *tracer, result *domain.ScoreResult) {
	if len(rule.Conditions) == 0 || rule.Action.Empty() {
		// Malformed: missing if or then. Skip, keep going.
		return
	}
	if !EvalAll(activation, rule.Conditions) {
		return
	}

	if rule.Action.Add != nil {
		tr.add(domain.TraceEntry{
			RuleID:      rule.ID,
			Operation:   domain.TraceOpAdd,
			PointsDelta: *rule.Action.Add,
			Reason:      rule.Name,
		})
	}
	if rule.Action.Multiply != nil {
		// Multiply scales the running total, not the rule's own
		// contribution. Order-sensitive and preserved as-is.
		oldTotal := tr.total
		newTotal := oldTotal * *rule.Action.Multiply
		tr.add(domain.TraceEntry{
			RuleID:      rule.ID,
			Operation:   domain.TraceOpMultiply,
			PointsDelta: newTotal - oldTotal,
			Reason:      fmt.Sprintf("%s (x%g)", rule.Name, *rule.Action.Multiply),
		})
	}

	touched := false
	if rule.Action.Tag != "" {
		result.Tags = append(result.Tags, rule.Action.Tag)
		touched = true
	}
	if rule.Action.Route != "" {
		result.RouteHint = rule.Action.Route
		touched = true
	}
	if rule.Action.SLAMinutes != nil {
		result.SLAMinutes = rule.Action.SLAMinutes
		touched = true
	}
	if touched && rule.Action.Add == nil && rule.Action.Multiply == nil {
		tr.add(domain.TraceEntry{
			RuleID:      rule.ID,
			Operation:   domain.TraceOpSideEffect,
			PointsDelta: 0,
			Reason:      rule.Name,
		})
	}
}

// applyExpression evaluates a CEL expression rule against the activation
// and adds its numeric result to the total. Compile and eval failures
// contribute nothing; the error is recorded in the trace only.
func (e *Engine) applyExpression(activation map[string]interface{}, rule *domain.ScoringRule, tr *tracer) {
	if rule.Expression == "" {
		return
	}
	program := e.programFor(rule.ID, rule.Expression)
	if program == nil {
		tr.add(domain.TraceEntry{
			RuleID:    rule.ID,
			Operation: domain.TraceOpExpression,
			Reason:    "expression failed to compile",
		})
		return
	}

	out, _, err := program.Eval(map[string]interface{}{
		"lead":  activation,
		"score": tr.total,
	})
	if err != nil {
		tr.add(domain.TraceEntry{
			RuleID:    rule.ID,
			Operation: domain.TraceOpExpression,
			Reason:    fmt.Sprintf("evaluation error: %v", err),
		})
		return
	}

	delta := toDelta(out)
	if delta == 0 {
		return
	}
	tr.add(domain.TraceEntry{
		RuleID:      rule.ID,
		Operation:   domain.TraceOpExpression,
		PointsDelta: delta,
		Reason:      rule.Name,
	})
}

// LookupBand maps a clamped score to its qualitative band. Total over any
// band configuration: anything outside the high and medium ranges, including
// scores orphaned by a malformed config, resolves to LOW.
func LookupBand(score float64, bands domain.BandSet) domain.BandLabel {
	if bands.High.Contains(score) {
		return domain.BandHigh
	}
	if bands.Medium.Contains(score) {
		return domain.BandMedium
	}
	return domain.BandLow
}

// weightContribution computes a weighted contribution for a resolved value.
// Null and empty-string values contribute nothing. Booleans gate the full
// weight, numbers scale it, strings contribute up to the full weight at
// length >= 10, and any other present value earns the flat weight.
func weightContribution(value interface{}, weight float64) (float64, bool) {
	if value == nil {
		return 0, false
	}
	switch v := value.(type) {
	case bool:
		if v {
			return weight, true
		}
		return 0, true
	case string:
		if v == "" {
			return 0, false
		}
		return math.Min(float64(len(v))/10, 1) * weight, true
	default:
		if n, ok := toFloat(value); ok {
			return n * weight, true
		}
		return weight, true
	}
}

// splitScoringRules partitions enabled rules into the conditional pass
// (if_then + expression) and the weight pass, each stably sorted by order.
func splitScoringRules(ruleset []*domain.ScoringRule) (conditionals, weights []*domain.ScoringRule) {
	for _, rule := range ruleset {
		if rule == nil || !rule.Enabled {
			continue
		}
		switch rule.Kind {
		case domain.RuleKindIfThen, domain.RuleKindExpression:
			conditionals = append(conditionals, rule)
		case domain.RuleKindWeight:
			if rule.Field != "" {
				weights = append(weights, rule)
			}
		default:
			// Unknown kind: skip defensively.
		}
	}
	sort.SliceStable(conditionals, func(i, j int) bool { return conditionals[i].Order < conditionals[j].Order })
	sort.SliceStable(weights, func(i, j int) bool { return weights[i].Order < weights[j].Order })
	return conditionals, weights
}

// programFor returns the cached compiled program for a rule, compiling on
// first use or when the expression text changed. A nil return means the
// expression does not compile.
func (e *Engine) programFor(ruleID, expression string) cel.Program {
	e.mu.RLock()
	cached, ok := e.programs[ruleID]
	e.mu.RUnlock()
	if ok && cached.expression == expression {
		return cached.program
	}

	program, err := e.compile(expression)
	entry := &compiledExpr{expression: expression}
	if err == nil {
		entry.program = program
	}

	e.mu.Lock()
	e.programs[ruleID] = entry
	e.mu.Unlock()

	return entry.program
}

func (e *Engine) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("expression must return bool, int, or double, got %s", outputType)
	}

	return e.env.Program(ast)
}

// toDelta converts a CEL value to a score delta.
func toDelta(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// tracer accumulates trace entries and the running total.
type tracer struct {
	entries []domain.TraceEntry
	total   float64
}

func (t *tracer) add(entry domain.TraceEntry) {
	t.total += entry.PointsDelta
	entry.Step = len(t.entries) + 1
	entry.RunningTotal = t.total
	t.entries = append(t.entries, entry)
}
