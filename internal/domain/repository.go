// Package domain defines the core interfaces and types for Talon.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Lead operations
	SaveLead(ctx context.Context, tenantID string, lead *Lead) error
	GetLead(ctx context.Context, tenantID string, leadID string) (*Lead, error)

	// Scoring configuration
	SaveScoringConfig(ctx context.Context, tenantID string, cfg *ScoringConfig) error
	GetScoringConfig(ctx context.Context, tenantID string) (*ScoringConfig, error)

	// Scoring rules
	SaveScoringRule(ctx context.Context, tenantID string, rule *ScoringRule) error
	GetScoringRule(ctx context.Context, tenantID string, ruleID string) (*ScoringRule, error)
	ListScoringRules(ctx context.Context, tenantID string) ([]*ScoringRule, error)

	// Routing rules
	SaveRoutingRule(ctx context.Context, tenantID string, rule *RoutingRule) error
	ListRoutingRules(ctx context.Context, tenantID string) ([]*RoutingRule, error)

	// Pools and owners
	SavePool(ctx context.Context, tenantID string, pool *Pool) error
	GetPool(ctx context.Context, tenantID string, poolID string) (*Pool, error)
	ListPools(ctx context.Context, tenantID string) ([]*Pool, error)
	SaveOwner(ctx context.Context, tenantID string, owner *Owner) error
	ListOwners(ctx context.Context, tenantID string, poolID string) ([]*Owner, error)

	// AdvancePoolCursor atomically increments the pool's round-robin
	// cursor and returns the pre-increment value. This is the single
	// serialized writer for the cursor; concurrent routing decisions
	// against the same pool are ordered here.
	AdvancePoolCursor(ctx context.Context, tenantID string, poolID string) (int64, error)

	// IncrementOwnerLoad bumps an owner's current load after assignment.
	IncrementOwnerLoad(ctx context.Context, tenantID string, ownerID string) error

	// Evaluation results
	SaveEvaluation(ctx context.Context, tenantID string, eval *Evaluation) error
	GetEvaluation(ctx context.Context, tenantID string, evalID string) (*Evaluation, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `koanf:"driver"`

	// SQLite specific
	SQLitePath string `koanf:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `koanf:"postgres_host"`
	PostgresPort     int    `koanf:"postgres_port"`
	PostgresUser     string `koanf:"postgres_user"`
	PostgresPassword string `koanf:"postgres_password"`
	PostgresDB       string `koanf:"postgres_db"`
	PostgresSSLMode  string `koanf:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}
