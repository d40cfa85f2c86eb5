package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetRuleSnapshot retrieves a cached per-tenant rule snapshot.
	GetRuleSnapshot(ctx context.Context, tenantID string) (*RuleSnapshot, error)

	// SetRuleSnapshot caches a per-tenant rule snapshot for the triage path.
	SetRuleSnapshot(ctx context.Context, tenantID string, snap *RuleSnapshot, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for intake accounting (e.g. leads ingested per tenant per window).
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// SnapshotCacheKey is the per-tenant cache key under which the rule
// snapshot lives. Rule writes invalidate this key.
const SnapshotCacheKey = "rules:snapshot"

// RuleSnapshot is the cached, immutable bundle of configuration the triage
// pipeline evaluates a lead against. Built from the repository, cached with
// a short TTL, and invalidated on rule writes.
type RuleSnapshot struct {
	Config       *ScoringConfig `json:"config,omitempty"`
	ScoringRules []*ScoringRule `json:"scoringRules,omitempty"`
	RoutingRules []*RoutingRule `json:"routingRules,omitempty"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `koanf:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `koanf:"local_max_size"`
	LocalTTL     time.Duration `koanf:"local_ttl"`

	// Redis settings (Pro tier)
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	// Two-phase settings
	EnableTwoPhase bool `koanf:"enable_two_phase"` // If true, check local first, then Redis
}
