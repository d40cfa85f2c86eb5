package repository

// Schema definitions for the Talon database.
// Compatible with both SQLite and PostgreSQL.

const schemaLeads = `
CREATE TABLE IF NOT EXISTS leads (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    email TEXT NOT NULL,
    name TEXT,
    company TEXT,
    domain TEXT,
    source TEXT,
    score INTEGER NOT NULL DEFAULT 0,
    fields TEXT,
    utm TEXT,
    enrichment TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_tenant ON leads(tenant_id);
CREATE INDEX IF NOT EXISTS idx_leads_email ON leads(tenant_id, email);
CREATE INDEX IF NOT EXISTS idx_leads_created ON leads(tenant_id, created_at);
`

const schemaScoringConfigs = `
CREATE TABLE IF NOT EXISTS scoring_configs (
    tenant_id TEXT NOT NULL,
    version TEXT NOT NULL,
    weights TEXT NOT NULL,
    bands TEXT NOT NULL,
    negative TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, version)
);
`

const schemaScoringRules = `
CREATE TABLE IF NOT EXISTS scoring_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    kind TEXT NOT NULL,
    sort_order INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    conditions TEXT,
    action TEXT,
    field TEXT,
    weight REAL NOT NULL DEFAULT 0,
    expression TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_scoring_rules_tenant ON scoring_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_scoring_rules_order ON scoring_rules(tenant_id, sort_order);
`

const schemaRoutingRules = `
CREATE TABLE IF NOT EXISTS routing_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    sort_order INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    conditions TEXT,
    action TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_routing_rules_tenant ON routing_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_routing_rules_order ON routing_rules(tenant_id, sort_order);
`

const schemaPools = `
CREATE TABLE IF NOT EXISTS pools (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    strategy TEXT NOT NULL DEFAULT 'round_robin',
    cursor INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_pools_tenant ON pools(tenant_id);
`

const schemaOwners = `
CREATE TABLE IF NOT EXISTS owners (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    pool_id TEXT NOT NULL,
    name TEXT,
    capacity INTEGER NOT NULL DEFAULT 0,
    current_load INTEGER NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_owners_pool ON owners(tenant_id, pool_id);
`

const schemaEvaluations = `
CREATE TABLE IF NOT EXISTS evaluations (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    lead_id TEXT NOT NULL,
    score INTEGER NOT NULL,
    band TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    scoring TEXT,
    routing TEXT,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluations_tenant ON evaluations(tenant_id);
CREATE INDEX IF NOT EXISTS idx_evaluations_lead ON evaluations(tenant_id, lead_id);
CREATE INDEX IF NOT EXISTS idx_evaluations_band ON evaluations(tenant_id, band);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaLeads,
		schemaScoringConfigs,
		schemaScoringRules,
		schemaRoutingRules,
		schemaPools,
		schemaOwners,
		schemaEvaluations,
	}
}
