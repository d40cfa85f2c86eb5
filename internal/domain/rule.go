package domain

import (
	"fmt"
	"time"
)

// Operator identifies a condition comparison.
type Operator string

// Supported condition operators. Anything outside this set evaluates false.
const (
	OpEquals       Operator = "equals"
	OpNotEquals    Operator = "not_equals"
	OpGreaterThan  Operator = "greater_than"
	OpLessThan     Operator = "less_than"
	OpGreaterEqual Operator = "greater_equal"
	OpLessEqual    Operator = "less_equal"
	OpContains     Operator = "contains"
	OpNotContains  Operator = "not_contains"
	OpStartsWith   Operator = "starts_with"
	OpEndsWith     Operator = "ends_with"
	OpRegex        Operator = "regex"
	OpIn           Operator = "in"
	OpNotIn        Operator = "not_in"
	OpExists       Operator = "exists"
	OpNotExists    Operator = "not_exists"
)

// Condition is a declarative (field, operator, value) triple. It has no
// behavior of its own; the condition evaluator interprets it.
type Condition struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value,omitempty"`
}

// RuleKind discriminates the closed set of scoring rule shapes.
type RuleKind string

const (
	// RuleKindIfThen applies an action payload when all conditions match.
	RuleKindIfThen RuleKind = "if_then"

	// RuleKindWeight contributes proportionally to a resolved field value.
	RuleKindWeight RuleKind = "weight"

	// RuleKindExpression evaluates a CEL expression to a numeric delta.
	RuleKindExpression RuleKind = "expression"
)

// RuleAction is the payload applied when an if_then rule matches.
// Unset slots (nil pointers, empty strings) are no-ops.
type RuleAction struct {
	Add        *float64 `json:"add,omitempty"`
	Multiply   *float64 `json:"multiply,omitempty"`
	Tag        string   `json:"tag,omitempty"`
	Route      string   `json:"route,omitempty"`
	SLAMinutes *int     `json:"slaMinutes,omitempty"`
}

// Empty reports whether the action would have no effect.
func (a RuleAction) Empty() bool {
	return a.Add == nil && a.Multiply == nil && a.Tag == "" && a.Route == "" && a.SLAMinutes == nil
}

// ScoringRule is one team-configured scoring rule. Kind selects which of the
// shape-specific fields are meaningful; the engine skips rules whose shape
// does not match their kind.
type ScoringRule struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"tenantId"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Kind        RuleKind `json:"kind"`
	Order       int      `json:"order"`
	Enabled     bool     `json:"enabled"`

	// if_then
	Conditions []Condition `json:"conditions,omitempty"`
	Action     RuleAction  `json:"action,omitempty"`

	// weight
	Field  string  `json:"field,omitempty"`
	Weight float64 `json:"weight,omitempty"`

	// expression (CEL over the lead activation)
	Expression string `json:"expression,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// NegativeRule subtracts a penalty when its condition matches.
type NegativeRule struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value,omitempty"`
	Penalty  float64     `json:"penalty"`
	Reason   string      `json:"reason"`
}

// Band is an inclusive numeric score range.
type Band struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether score falls inside the band.
func (b Band) Contains(score float64) bool {
	return score >= b.Min && score <= b.Max
}

// BandSet maps clamped scores to qualitative bands.
type BandSet struct {
	Low    Band `json:"low"`
	Medium Band `json:"medium"`
	High   Band `json:"high"`
}

// BandLabel is the qualitative classification of a score.
type BandLabel string

const (
	BandLow    BandLabel = "LOW"
	BandMedium BandLabel = "MEDIUM"
	BandHigh   BandLabel = "HIGH"
)

// DefaultBands returns the stock 0-30 / 31-70 / 71-100 banding.
func DefaultBands() BandSet {
	return BandSet{
		Low:    Band{Min: 0, Max: 30},
		Medium: Band{Min: 31, Max: 70},
		High:   Band{Min: 71, Max: 100},
	}
}

// ScoringConfig is a per-tenant versioned snapshot of base weights, band
// ranges, and negative rules. The engine treats it as an immutable snapshot
// per evaluation.
type ScoringConfig struct {
	TenantID string             `json:"tenantId"`
	Version  string             `json:"version"`
	Weights  map[string]float64 `json:"weights,omitempty"`
	Bands    BandSet            `json:"bands"`
	Negative []NegativeRule     `json:"negative,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Validate enforces the write-time band invariant: ranges must be
// non-overlapping and increasing. Evaluation never calls this; a malformed
// config that slips through degrades to the LOW fallback instead of failing.
func (c *ScoringConfig) Validate() error {
	b := c.Bands
	for _, band := range []Band{b.Low, b.Medium, b.High} {
		if band.Min > band.Max {
			return fmt.Errorf("band range inverted: min %.1f > max %.1f", band.Min, band.Max)
		}
	}
	if b.Low.Max >= b.Medium.Min {
		return fmt.Errorf("low and medium bands overlap: low.max %.1f >= medium.min %.1f", b.Low.Max, b.Medium.Min)
	}
	if b.Medium.Max >= b.High.Min {
		return fmt.Errorf("medium and high bands overlap: medium.max %.1f >= high.min %.1f", b.Medium.Max, b.High.Min)
	}
	return nil
}
