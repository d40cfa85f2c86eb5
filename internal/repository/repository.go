// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/open-leads/talon/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveLead stores a lead with tenant isolation.
func (r *SQLRepository) SaveLead(ctx context.Context, tenantID string, lead *domain.Lead) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	fields, _ := json.Marshal(lead.Fields)
	utm, _ := json.Marshal(lead.UTM)
	enrichment, _ := json.Marshal(lead.Enrichment)

	query := `
		INSERT INTO leads (
			id, tenant_id, email, name, company, domain, source, score,
			fields, utm, enrichment, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			company = excluded.company,
			domain = excluded.domain,
			source = excluded.source,
			score = excluded.score,
			fields = excluded.fields,
			utm = excluded.utm,
			enrichment = excluded.enrichment,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		lead.ID, tenantID, lead.Email, lead.Name, lead.Company,
		lead.Domain, lead.Source, lead.Score,
		string(fields), string(utm), string(enrichment),
		lead.CreatedAt, lead.UpdatedAt,
	)
	return err
}

// GetLead retrieves a lead by ID with tenant isolation.
func (r *SQLRepository) GetLead(ctx context.Context, tenantID string, leadID string) (*domain.Lead, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, email, name, company, domain, source, score,
			   fields, utm, enrichment, created_at, updated_at
		FROM leads
		WHERE tenant_id = ? AND id = ?
	`

	var lead domain.Lead
	var fields, utm, enrichment string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, leadID).Scan(
		&lead.ID, &lead.TenantID, &lead.Email, &lead.Name, &lead.Company,
		&lead.Domain, &lead.Source, &lead.Score,
		&fields, &utm, &enrichment,
		&lead.CreatedAt, &lead.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(fields), &lead.Fields)
	json.Unmarshal([]byte(utm), &lead.UTM)
	json.Unmarshal([]byte(enrichment), &lead.Enrichment)

	return &lead, nil
}

// SaveScoringConfig stores a scoring configuration snapshot.
func (r *SQLRepository) SaveScoringConfig(ctx context.Context, tenantID string, cfg *domain.ScoringConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	weights, _ := json.Marshal(cfg.Weights)
	bands, _ := json.Marshal(cfg.Bands)
	negative, _ := json.Marshal(cfg.Negative)

	now := time.Now().UTC()
	version := cfg.Version
	if version == "" {
		version = "1.0.0"
	}

	query := `
		INSERT INTO scoring_configs (
			tenant_id, version, weights, bands, negative, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, version) DO UPDATE SET
			weights = excluded.weights,
			bands = excluded.bands,
			negative = excluded.negative,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tenantID, version, string(weights), string(bands), string(negative),
		now, now,
	)
	return err
}

// GetScoringConfig retrieves the latest scoring configuration for a tenant.
func (r *SQLRepository) GetScoringConfig(ctx context.Context, tenantID string) (*domain.ScoringConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT tenant_id, version, weights, bands, negative, created_at, updated_at
		FROM scoring_configs
		WHERE tenant_id = ?
		ORDER BY version DESC
		LIMIT 1
	`

	var cfg domain.ScoringConfig
	var weights, bands, negative string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID).Scan(
		&cfg.TenantID, &cfg.Version, &weights, &bands, &negative,
		&cfg.CreatedAt, &cfg.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(weights), &cfg.Weights)
	json.Unmarshal([]byte(bands), &cfg.Bands)
	json.Unmarshal([]byte(negative), &cfg.Negative)

	return &cfg, nil
}

// SaveScoringRule stores a scoring rule with tenant isolation.
func (r *SQLRepository) SaveScoringRule(ctx context.Context, tenantID string, rule *domain.ScoringRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	conditions, _ := json.Marshal(rule.Conditions)
	action, _ := json.Marshal(rule.Action)

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO scoring_rules (
			id, tenant_id, name, description, kind, sort_order, enabled,
			conditions, action, field, weight, expression, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			kind = excluded.kind,
			sort_order = excluded.sort_order,
			enabled = excluded.enabled,
			conditions = excluded.conditions,
			action = excluded.action,
			field = excluded.field,
			weight = excluded.weight,
			expression = excluded.expression,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description, string(rule.Kind),
		rule.Order, enabled, string(conditions), string(action),
		rule.Field, rule.Weight, rule.Expression,
		now, now,
	)
	return err
}

// GetScoringRule retrieves a scoring rule with tenant isolation.
func (r *SQLRepository) GetScoringRule(ctx context.Context, tenantID string, ruleID string) (*domain.ScoringRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, kind, sort_order, enabled,
			   conditions, action, field, weight, expression
		FROM scoring_rules
		WHERE tenant_id = ? AND id = ?
	`

	rule, err := scanScoringRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListScoringRules retrieves all scoring rules for a tenant in rule order.
// Disabled rules are included; the engine filters them at evaluation time.
func (r *SQLRepository) ListScoringRules(ctx context.Context, tenantID string) ([]*domain.ScoringRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, kind, sort_order, enabled,
			   conditions, action, field, weight, expression
		FROM scoring_rules
		WHERE tenant_id = ?
		ORDER BY sort_order, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ruleset []*domain.ScoringRule
	for rows.Next() {
		rule, err := scanScoringRule(rows)
		if err != nil {
			return nil, err
		}
		ruleset = append(ruleset, rule)
	}

	return ruleset, rows.Err()
}

// SaveRoutingRule stores a routing rule with tenant isolation.
func (r *SQLRepository) SaveRoutingRule(ctx context.Context, tenantID string, rule *domain.RoutingRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	conditions, _ := json.Marshal(rule.Conditions)
	action, _ := json.Marshal(rule.Action)

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO routing_rules (
			id, tenant_id, name, description, sort_order, enabled,
			conditions, action, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			sort_order = excluded.sort_order,
			enabled = excluded.enabled,
			conditions = excluded.conditions,
			action = excluded.action,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Order, enabled, string(conditions), string(action),
		now, now,
	)
	return err
}

// ListRoutingRules retrieves all routing rules for a tenant in rule order.
func (r *SQLRepository) ListRoutingRules(ctx context.Context, tenantID string) ([]*domain.RoutingRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, sort_order, enabled, conditions, action
		FROM routing_rules
		WHERE tenant_id = ?
		ORDER BY sort_order, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ruleset []*domain.RoutingRule
	for rows.Next() {
		var rule domain.RoutingRule
		var conditions, action string
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
			&rule.Order, &enabled, &conditions, &action,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		json.Unmarshal([]byte(conditions), &rule.Conditions)
		json.Unmarshal([]byte(action), &rule.Action)
		ruleset = append(ruleset, &rule)
	}

	return ruleset, rows.Err()
}

// SavePool stores a pool with tenant isolation. The cursor is preserved on
// update; only the repository's cursor advance may move it.
func (r *SQLRepository) SavePool(ctx context.Context, tenantID string, pool *domain.Pool) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO pools (id, tenant_id, name, strategy, cursor, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			strategy = excluded.strategy,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		pool.ID, tenantID, pool.Name, string(pool.Strategy),
		now, now,
	)
	return err
}

// GetPool retrieves a pool by ID with tenant isolation.
func (r *SQLRepository) GetPool(ctx context.Context, tenantID string, poolID string) (*domain.Pool, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, strategy, cursor, created_at, updated_at
		FROM pools
		WHERE tenant_id = ? AND id = ?
	`

	var pool domain.Pool
	var strategy string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, poolID).Scan(
		&pool.ID, &pool.TenantID, &pool.Name, &strategy, &pool.Cursor,
		&pool.CreatedAt, &pool.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	pool.Strategy = domain.AssignStrategy(strategy)
	return &pool, nil
}

// ListPools retrieves all pools for a tenant.
func (r *SQLRepository) ListPools(ctx context.Context, tenantID string) ([]*domain.Pool, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, strategy, cursor, created_at, updated_at
		FROM pools
		WHERE tenant_id = ?
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []*domain.Pool
	for rows.Next() {
		var pool domain.Pool
		var strategy string

		if err := rows.Scan(
			&pool.ID, &pool.TenantID, &pool.Name, &strategy, &pool.Cursor,
			&pool.CreatedAt, &pool.UpdatedAt,
		); err != nil {
			return nil, err
		}

		pool.Strategy = domain.AssignStrategy(strategy)
		pools = append(pools, &pool)
	}

	return pools, rows.Err()
}

// SaveOwner stores an owner with tenant isolation.
func (r *SQLRepository) SaveOwner(ctx context.Context, tenantID string, owner *domain.Owner) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	active := 0
	if owner.IsActive {
		active = 1
	}

	query := `
		INSERT INTO owners (id, tenant_id, pool_id, name, capacity, current_load, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			pool_id = excluded.pool_id,
			name = excluded.name,
			capacity = excluded.capacity,
			current_load = excluded.current_load,
			is_active = excluded.is_active
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		owner.ID, tenantID, owner.PoolID, owner.Name,
		owner.Capacity, owner.CurrentLoad, active,
	)
	return err
}

// ListOwners retrieves the owners of a pool in stable id order.
func (r *SQLRepository) ListOwners(ctx context.Context, tenantID string, poolID string) ([]*domain.Owner, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, pool_id, name, capacity, current_load, is_active
		FROM owners
		WHERE tenant_id = ? AND pool_id = ?
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []*domain.Owner
	for rows.Next() {
		var owner domain.Owner
		var active int

		if err := rows.Scan(
			&owner.ID, &owner.TenantID, &owner.PoolID, &owner.Name,
			&owner.Capacity, &owner.CurrentLoad, &active,
		); err != nil {
			return nil, err
		}

		owner.IsActive = active == 1
		owners = append(owners, &owner)
	}

	return owners, rows.Err()
}

// AdvancePoolCursor atomically increments the pool's round-robin cursor and
// returns the pre-increment value. The single UPDATE ... RETURNING keeps
// concurrent advances serialized in the database, which is the
// at-most-one-writer contract the assignment step relies on.
func (r *SQLRepository) AdvancePoolCursor(ctx context.Context, tenantID string, poolID string) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE pools
		SET cursor = cursor + 1, updated_at = ?
		WHERE tenant_id = ? AND id = ?
		RETURNING cursor
	`

	var cursor int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, poolID).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	return cursor - 1, nil
}

// IncrementOwnerLoad bumps an owner's current load after an assignment.
func (r *SQLRepository) IncrementOwnerLoad(ctx context.Context, tenantID string, ownerID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE owners
		SET current_load = current_load + 1
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, ownerID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveEvaluation stores an evaluation result with tenant isolation.
func (r *SQLRepository) SaveEvaluation(ctx context.Context, tenantID string, eval *domain.Evaluation) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	scoring, _ := json.Marshal(eval.Scoring)
	routing, _ := json.Marshal(eval.Routing)
	metadata, _ := json.Marshal(eval.Metadata)

	query := `
		INSERT INTO evaluations (
			id, tenant_id, lead_id, score, band, timestamp, scoring, routing, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		eval.ID, tenantID, eval.LeadID, eval.Score, string(eval.Band), eval.Timestamp,
		string(scoring), string(routing), string(metadata),
	)
	return err
}

// GetEvaluation retrieves an evaluation by ID with tenant isolation.
func (r *SQLRepository) GetEvaluation(ctx context.Context, tenantID string, evalID string) (*domain.Evaluation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, lead_id, score, band, timestamp, scoring, routing, metadata
		FROM evaluations
		WHERE tenant_id = ? AND id = ?
	`

	var eval domain.Evaluation
	var band, scoring, routing, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, evalID).Scan(
		&eval.ID, &eval.TenantID, &eval.LeadID, &eval.Score, &band, &eval.Timestamp,
		&scoring, &routing, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	eval.Band = domain.BandLabel(band)
	json.Unmarshal([]byte(scoring), &eval.Scoring)
	json.Unmarshal([]byte(routing), &eval.Routing)
	json.Unmarshal([]byte(metadata), &eval.Metadata)

	return &eval, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanScoringRule(s scanner) (*domain.ScoringRule, error) {
	var rule domain.ScoringRule
	var kind, conditions, action string
	var enabled int

	if err := s.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description, &kind,
		&rule.Order, &enabled, &conditions, &action,
		&rule.Field, &rule.Weight, &rule.Expression,
	); err != nil {
		return nil, err
	}

	rule.Kind = domain.RuleKind(kind)
	rule.Enabled = enabled == 1
	json.Unmarshal([]byte(conditions), &rule.Conditions)
	json.Unmarshal([]byte(action), &rule.Action)

	return &rule, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
