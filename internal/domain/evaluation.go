package domain

import (
	"time"
)

// TraceEntry is one step of the evaluation audit log. Entries are appended
// in order, never mutated, and returned verbatim to callers.
type TraceEntry struct {
	Step         int         `json:"step"`
	RuleID       string      `json:"ruleId,omitempty"`
	Field        string      `json:"field,omitempty"`
	Value        interface{} `json:"value,omitempty"`
	Operation    string      `json:"operation"`
	PointsDelta  float64     `json:"pointsDelta"`
	RunningTotal float64     `json:"runningTotal"`
	Reason       string      `json:"reason,omitempty"`
}

// Trace operation names.
const (
	TraceOpBaseWeight = "base_weight"
	TraceOpPenalty    = "penalty"
	TraceOpAdd        = "add"
	TraceOpMultiply   = "multiply"
	TraceOpSideEffect = "side_effect"
	TraceOpExpression = "expression"
	TraceOpWeightRule = "weight_rule"
	TraceOpBand       = "band"
	TraceOpRouteMatch = "route_match"
	TraceOpRouteSkip  = "route_skip"
	TraceOpNoMatch    = "no_match"
)

// ScoreResult is the outcome of the scoring profile for one lead.
type ScoreResult struct {
	Score      int          `json:"score"`
	Band       BandLabel    `json:"band"`
	Trace      []TraceEntry `json:"trace"`
	Tags       []string     `json:"tags,omitempty"`
	RouteHint  string       `json:"routeHint,omitempty"`
	SLAMinutes *int         `json:"slaMinutes,omitempty"`
}

// RouteResult is the outcome of the routing profile for one lead.
// An empty OwnerID/Pool means the lead was left unassigned; Reason explains
// why. Alerts carry conditions the caller should surface (e.g. a pool with
// every owner at capacity).
type RouteResult struct {
	OwnerID    string       `json:"ownerId,omitempty"`
	Pool       string       `json:"pool,omitempty"`
	SLAMinutes *int         `json:"slaMinutes,omitempty"`
	Priority   *int         `json:"priority,omitempty"`
	Reason     string       `json:"reason"`
	Trace      []TraceEntry `json:"trace"`
	Alerts     []string     `json:"alerts,omitempty"`
}

// Evaluation is the persisted record of one triage pass over a lead.
type Evaluation struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	LeadID    string    `json:"leadId"`
	Score     int       `json:"score"`
	Band      BandLabel `json:"band"`
	Timestamp time.Time `json:"timestamp"`

	Scoring *ScoreResult `json:"scoring,omitempty"`
	Routing *RouteResult `json:"routing,omitempty"`

	Metadata EvaluationMetadata `json:"metadata"`
}

// EvaluationMetadata contains processing information.
type EvaluationMetadata struct {
	TraceID        string `json:"traceId"`
	ScoreMs        int64  `json:"scoreMs"`
	RouteMs        int64  `json:"routeMs"`
	TotalMs        int64  `json:"totalMs"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	EngineVersion  string `json:"engineVersion"`
}

// EvaluationResponse is the API response for a lead triage.
type EvaluationResponse struct {
	EvaluationID string             `json:"evaluationId"`
	LeadID       string             `json:"leadId"`
	TenantID     string             `json:"tenantId"`
	Score        int                `json:"score"`
	Band         BandLabel          `json:"band"`
	Tags         []string           `json:"tags,omitempty"`
	OwnerID      string             `json:"ownerId,omitempty"`
	Pool         string             `json:"pool,omitempty"`
	SLAMinutes   *int               `json:"slaMinutes,omitempty"`
	Alerts       []string           `json:"alerts,omitempty"`
	Metadata     EvaluationMetadata `json:"metadata"`
}

// ToResponse converts an Evaluation to an API response.
func (e *Evaluation) ToResponse() *EvaluationResponse {
	resp := &EvaluationResponse{
		EvaluationID: e.ID,
		LeadID:       e.LeadID,
		TenantID:     e.TenantID,
		Score:        e.Score,
		Band:         e.Band,
		Metadata:     e.Metadata,
	}
	if e.Scoring != nil {
		resp.Tags = e.Scoring.Tags
	}
	if e.Routing != nil {
		resp.OwnerID = e.Routing.OwnerID
		resp.Pool = e.Routing.Pool
		resp.SLAMinutes = e.Routing.SLAMinutes
		resp.Alerts = e.Routing.Alerts
	}
	return resp
}
