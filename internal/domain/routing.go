package domain

import "time"

// RouteAction is the assignment payload of a routing rule.
type RouteAction struct {
	// AssignPool names the owner pool to route into.
	AssignPool string `json:"assignPool"`

	// SLAMinutes is the response-time window to attach, if any.
	SLAMinutes *int `json:"slaMinutes,omitempty"`

	// Priority is an optional urgency marker carried to the caller.
	Priority *int `json:"priority,omitempty"`
}

// RoutingRule assigns matching leads to a pool. Unlike scoring, routing
// stops at the first enabled rule whose conditions all match.
type RoutingRule struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenantId"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Order       int         `json:"order"`
	Enabled     bool        `json:"enabled"`
	Conditions  []Condition `json:"conditions,omitempty"`
	Action      RouteAction `json:"action"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// AssignStrategy selects how a pool resolves a concrete owner.
type AssignStrategy string

const (
	// StrategyRoundRobin cycles a persisted per-pool cursor over the
	// id-ordered owner list, skipping owners at capacity.
	StrategyRoundRobin AssignStrategy = "round_robin"

	// StrategyLeastLoaded picks the owner with the lowest load/capacity
	// ratio; ties break by owner id ascending.
	StrategyLeastLoaded AssignStrategy = "least_loaded"
)

// Pool is a named group of owners eligible to receive leads.
type Pool struct {
	ID       string         `json:"id"`
	TenantID string         `json:"tenantId"`
	Name     string         `json:"name"`
	Strategy AssignStrategy `json:"strategy"`

	// Cursor is the round-robin position. Owned by the pool record;
	// callers must advance it through the repository's serialized update,
	// never mutate it in process.
	Cursor int64 `json:"cursor"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Owner is a member of a pool with a lead capacity.
type Owner struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	PoolID      string `json:"poolId"`
	Name        string `json:"name,omitempty"`
	Capacity    int    `json:"capacity"`
	CurrentLoad int    `json:"currentLoad"`
	IsActive    bool   `json:"isActive"`
}

// Available reports whether the owner can accept another lead.
func (o *Owner) Available() bool {
	return o.IsActive && o.Capacity > 0 && o.CurrentLoad < o.Capacity
}
