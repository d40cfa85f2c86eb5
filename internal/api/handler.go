package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/open-leads/talon/internal/domain"
	"github.com/open-leads/talon/internal/metrics"
	"github.com/open-leads/talon/internal/repository"
	"github.com/open-leads/talon/internal/rules"
	"github.com/open-leads/talon/internal/triage"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *rules.Engine
	snapshots *triage.SnapshotStore
	processor *triage.Processor
	metrics   *metrics.Metrics
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, snapshots *triage.SnapshotStore, processor *triage.Processor, m *metrics.Metrics, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    engine,
		snapshots: snapshots,
		processor: processor,
		metrics:   m,
		version:   version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// CreateLead handles POST /leads: ingest a lead and triage it. With
// ?mode=async the lead is persisted and queued on the bus instead, and the
// response carries no evaluation.
func (h *Handler) CreateLead(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req domain.LeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "email is required",
		})
		return
	}

	lead := req.ToLead(tenantID)
	lead.ID = uuid.New().String()

	if err := h.repo.SaveLead(ctx, tenantID, lead); err != nil {
		slog.Error("failed to save lead", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save lead",
		})
		return
	}

	// Intake accounting; failures here never block the lead.
	if h.cache != nil {
		_, _ = h.cache.IncrementCounter(ctx, tenantID, "leads_ingested", 24*time.Hour)
	}

	if r.URL.Query().Get("mode") == "async" {
		payload, _ := json.Marshal(map[string]string{
			"leadId":   lead.ID,
			"tenantId": tenantID,
			"traceId":  traceID,
		})
		if err := h.bus.Publish(ctx, tenantID, domain.TopicLeadIngested, payload); err != nil {
			slog.Error("failed to queue lead", "lead_id", lead.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to queue lead",
			})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"leadId": lead.ID,
			"status": "queued",
		})
		return
	}

	h.triageLead(w, r, tenantID, traceID, lead, start)
}

// EvaluateLead handles POST /leads/{id}/evaluate: re-run triage over a
// stored lead, e.g. after enrichment or a rule change.
func (h *Handler) EvaluateLead(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)
	leadID := chi.URLParam(r, "id")

	lead, err := h.repo.GetLead(ctx, tenantID, leadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "lead not found",
			})
			return
		}
		slog.Error("failed to get lead", "id", leadID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load lead",
		})
		return
	}

	h.triageLead(w, r, tenantID, traceID, lead, start)
}

// triageLead runs the shared score/route/assign path and writes the
// response.
func (h *Handler) triageLead(w http.ResponseWriter, r *http.Request, tenantID, traceID string, lead *domain.Lead, start time.Time) {
	ctx := r.Context()

	snap, err := h.snapshots.Load(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load rule snapshot", "tenant_id", tenantID, "error", err)
		h.metrics.RecordFailure(tenantID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules",
		})
		return
	}

	evaluation, err := h.processor.Process(ctx, &triage.Input{
		TenantID:  tenantID,
		TraceID:   traceID,
		Lead:      lead,
		Snapshot:  snap,
		StartTime: start,
	})
	if err != nil {
		slog.Error("triage failed", "lead_id", lead.ID, "error", err)
		h.metrics.RecordFailure(tenantID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "evaluation failed",
		})
		return
	}

	lead.Score = evaluation.Score
	lead.UpdatedAt = time.Now().UTC()
	if err := h.repo.SaveLead(ctx, tenantID, lead); err != nil {
		slog.Error("failed to save lead score", "lead_id", lead.ID, "error", err)
	}
	if err := h.repo.SaveEvaluation(ctx, tenantID, evaluation); err != nil {
		slog.Error("failed to save evaluation", "lead_id", lead.ID, "error", err)
	}

	h.metrics.RecordEvaluation(tenantID, evaluation)

	if h.bus != nil {
		payload, _ := json.Marshal(evaluation.ToResponse())
		if err := h.bus.Publish(ctx, tenantID, domain.TopicLeadScored, payload); err != nil {
			slog.Error("failed to publish scored event", "lead_id", lead.ID, "error", err)
		}
		if triage.ShouldAlert(evaluation) {
			if err := h.bus.Publish(ctx, tenantID, domain.TopicLeadAlert, payload); err != nil {
				slog.Error("failed to publish alert", "lead_id", lead.ID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, evaluation.ToResponse())
}

// GetLead retrieves a lead by ID.
func (h *Handler) GetLead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	leadID := chi.URLParam(r, "id")

	lead, err := h.repo.GetLead(ctx, tenantID, leadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "lead not found",
			})
			return
		}
		slog.Error("failed to get lead", "id", leadID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load lead",
		})
		return
	}

	writeJSON(w, http.StatusOK, lead)
}

// GetEvaluation retrieves an evaluation by ID, trace included.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	evalID := chi.URLParam(r, "id")

	eval, err := h.repo.GetEvaluation(ctx, tenantID, evalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "evaluation not found",
			})
			return
		}
		slog.Error("failed to get evaluation", "id", evalID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load evaluation",
		})
		return
	}

	writeJSON(w, http.StatusOK, eval)
}

// GetScoringConfig returns the tenant's scoring configuration.
func (h *Handler) GetScoringConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	cfg, err := h.repo.GetScoringConfig(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "scoring config not found",
			})
			return
		}
		slog.Error("failed to get scoring config", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load scoring config",
		})
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

// PutScoringConfig stores the tenant's scoring configuration. Overlapping
// or misordered bands are rejected at write time; the read path never
// validates.
func (h *Handler) PutScoringConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var cfg domain.ScoringConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	cfg.TenantID = tenantID
	if err := cfg.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.repo.SaveScoringConfig(ctx, tenantID, &cfg); err != nil {
		slog.Error("failed to save scoring config", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save scoring config",
		})
		return
	}

	h.invalidateSnapshot(r, tenantID)
	slog.Info("scoring config updated", "tenant_id", tenantID, "version", cfg.Version)
	writeJSON(w, http.StatusOK, &cfg)
}

// ListScoringRules returns all scoring rules for the tenant.
func (h *Handler) ListScoringRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	ruleset, err := h.repo.ListScoringRules(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list scoring rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load scoring rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": ruleset,
		"count": len(ruleset),
	})
}

// GetScoringRule retrieves a scoring rule by ID.
func (h *Handler) GetScoringRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	rule, err := h.repo.GetScoringRule(ctx, tenantID, ruleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
		slog.Error("failed to get scoring rule", "id", ruleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rule",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateScoringRule creates or updates a scoring rule. Expression rules are
// compiled before they are accepted so a bad expression can never enter the
// hot path.
func (h *Handler) CreateScoringRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var rule domain.ScoringRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if rule.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.TenantID = tenantID

	switch rule.Kind {
	case domain.RuleKindIfThen:
		if len(rule.Conditions) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "if_then rules require at least one condition",
			})
			return
		}
		if rule.Action.Empty() {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "if_then rules require an action",
			})
			return
		}
	case domain.RuleKindWeight:
		if rule.Field == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "weight rules require a field",
			})
			return
		}
	case domain.RuleKindExpression:
		if err := h.engine.ValidateExpression(rule.Expression); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid expression: " + err.Error(),
			})
			return
		}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "kind must be one of if_then, weight, expression",
		})
		return
	}

	if err := h.repo.SaveScoringRule(ctx, tenantID, &rule); err != nil {
		slog.Error("failed to save scoring rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	h.invalidateSnapshot(r, tenantID)
	slog.Info("scoring rule saved", "id", rule.ID, "kind", rule.Kind, "tenant_id", tenantID)
	writeJSON(w, http.StatusCreated, &rule)
}

// ListRoutingRules returns all routing rules for the tenant.
func (h *Handler) ListRoutingRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	ruleset, err := h.repo.ListRoutingRules(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list routing rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load routing rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": ruleset,
		"count": len(ruleset),
	})
}

// CreateRoutingRule creates or updates a routing rule.
func (h *Handler) CreateRoutingRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var rule domain.RoutingRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if rule.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}
	if len(rule.Conditions) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one condition is required",
		})
		return
	}
	if rule.Action.AssignPool == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "action.assignPool is required",
		})
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.TenantID = tenantID

	if err := h.repo.SaveRoutingRule(ctx, tenantID, &rule); err != nil {
		slog.Error("failed to save routing rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	h.invalidateSnapshot(r, tenantID)
	slog.Info("routing rule saved", "id", rule.ID, "tenant_id", tenantID)
	writeJSON(w, http.StatusCreated, &rule)
}

// ReloadRules drops the tenant's cached rule snapshot so the next
// evaluation picks up repository state.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if err := h.snapshots.Invalidate(ctx, tenantID); err != nil {
		slog.Error("failed to invalidate rule snapshot", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules",
		})
		return
	}

	slog.Info("rule snapshot invalidated", "tenant_id", tenantID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rules reloaded",
	})
}

// ListPools returns all pools for the tenant.
func (h *Handler) ListPools(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	pools, err := h.repo.ListPools(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list pools", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load pools",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pools": pools,
		"count": len(pools),
	})
}

// CreatePool creates or updates a pool.
func (h *Handler) CreatePool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var pool domain.Pool
	if err := json.NewDecoder(r.Body).Decode(&pool); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if pool.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}
	switch pool.Strategy {
	case "":
		pool.Strategy = domain.StrategyRoundRobin
	case domain.StrategyRoundRobin, domain.StrategyLeastLoaded:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "strategy must be round_robin or least_loaded",
		})
		return
	}
	if pool.ID == "" {
		pool.ID = uuid.New().String()
	}
	pool.TenantID = tenantID

	if err := h.repo.SavePool(ctx, tenantID, &pool); err != nil {
		slog.Error("failed to save pool", "id", pool.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save pool",
		})
		return
	}

	slog.Info("pool saved", "id", pool.ID, "strategy", pool.Strategy, "tenant_id", tenantID)
	writeJSON(w, http.StatusCreated, &pool)
}

// ListOwners returns the owners of a pool.
func (h *Handler) ListOwners(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	poolID := chi.URLParam(r, "id")

	owners, err := h.repo.ListOwners(ctx, tenantID, poolID)
	if err != nil {
		slog.Error("failed to list owners", "pool_id", poolID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load owners",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owners": owners,
		"count":  len(owners),
	})
}

// CreateOwner adds or updates an owner in a pool.
func (h *Handler) CreateOwner(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	poolID := chi.URLParam(r, "id")

	if _, err := h.repo.GetPool(ctx, tenantID, poolID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "pool not found",
			})
			return
		}
		slog.Error("failed to get pool", "id", poolID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load pool",
		})
		return
	}

	var owner domain.Owner
	if err := json.NewDecoder(r.Body).Decode(&owner); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if owner.Capacity <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "capacity must be positive",
		})
		return
	}
	if owner.ID == "" {
		owner.ID = uuid.New().String()
	}
	owner.TenantID = tenantID
	owner.PoolID = poolID

	if err := h.repo.SaveOwner(ctx, tenantID, &owner); err != nil {
		slog.Error("failed to save owner", "id", owner.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save owner",
		})
		return
	}

	slog.Info("owner saved", "id", owner.ID, "pool_id", poolID, "tenant_id", tenantID)
	writeJSON(w, http.StatusCreated, &owner)
}

// invalidateSnapshot drops the cached rule snapshot after a write. Best
// effort; the snapshot TTL bounds staleness if it fails.
func (h *Handler) invalidateSnapshot(r *http.Request, tenantID string) {
	if h.snapshots == nil {
		return
	}
	if err := h.snapshots.Invalidate(r.Context(), tenantID); err != nil {
		slog.Warn("failed to invalidate rule snapshot", "tenant_id", tenantID, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
