//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Talon lead triage
// engine.
//
// These tests verify the COMPLETE triage pipeline:
//
//	Lead → Scoring → Band → Routing → Pool Assignment → Evaluation
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. LEAD: An inbound prospect (email, company, source, custom fields)
//
// 2. SCORING CONFIG: Per-tenant weights, bands, and negative rules:
//   - Weights: field path → points contribution
//   - Bands: score ranges mapping to LOW / MEDIUM / HIGH
//   - Negative: penalty rules (test addresses, free mail domains)
//
// 3. SCORING RULE: An ordered conditional adjustment. Kinds:
//   - if_then: conditions + add/multiply/tag/route/sla action
//   - weight: extra field weight
//   - expression: CEL formula returning a numeric delta
//
// 4. ROUTING RULE: First full match assigns the lead to a pool.
//
// 5. POOL: A team of owners with capacity; round_robin or least_loaded.
//
// 6. EVALUATION: The persisted triage verdict with a full trace.
//
// Each test seeds its own tenant through the API, so a bare server with an
// empty database is all that is required.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL  string
	TenantID string
}

func getTestConfig(t *testing.T) TestConfig {
	baseURL := os.Getenv("TALON_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	// A fresh tenant per test keeps seeded rules isolated.
	return TestConfig{
		BaseURL:  baseURL,
		TenantID: fmt.Sprintf("it-%s-%d", t.Name(), time.Now().UnixNano()),
	}
}

// ============================================================================
// API Request/Response Types (matching Talon's API contract)
// ============================================================================

// LeadRequest is the lead sent to POST /leads
type LeadRequest struct {
	Email   string         `json:"email"`
	Name    string         `json:"name,omitempty"`
	Company string         `json:"company,omitempty"`
	Source  string         `json:"source,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// EvaluationResponse is the triage verdict returned by POST /leads
type EvaluationResponse struct {
	EvaluationID string         `json:"evaluationId"`
	LeadID       string         `json:"leadId"`
	TenantID     string         `json:"tenantId"`
	Score        int            `json:"score"`
	Band         string         `json:"band"`
	Tags         []string       `json:"tags,omitempty"`
	OwnerID      string         `json:"ownerId,omitempty"`
	Pool         string         `json:"pool,omitempty"`
	SLAMinutes   *int           `json:"slaMinutes,omitempty"`
	Alerts       []string       `json:"alerts,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ============================================================================
// Helpers
// ============================================================================

func doRequest(t *testing.T, config TestConfig, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, config.BaseURL+path, body)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return resp, respBody
}

func mustStatus(t *testing.T, resp *http.Response, body []byte, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, string(body))
	}
}

func triage(t *testing.T, config TestConfig, req LeadRequest) EvaluationResponse {
	t.Helper()

	resp, body := doRequest(t, config, http.MethodPost, "/leads", req)
	mustStatus(t, resp, body, http.StatusOK)

	var result EvaluationResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("failed to decode evaluation: %v: %s", err, string(body))
	}
	return result
}

// seedScoringConfig installs the standard test weights and bands:
// budget contributes 1 point per $1000, demo requests get a boost, and
// test addresses are penalized into the floor.
func seedScoringConfig(t *testing.T, config TestConfig) {
	t.Helper()

	payload := map[string]any{
		"weights": map[string]float64{
			"fields.budget": 0.001,
		},
		"bands": map[string]any{
			"low":    map[string]int{"min": 0, "max": 40},
			"medium": map[string]int{"min": 41, "max": 70},
			"high":   map[string]int{"min": 71, "max": 100},
		},
		"negative": []map[string]any{
			{
				"field":    "email",
				"operator": "starts_with",
				"value":    "test@",
				"penalty":  100,
				"reason":   "test address",
			},
		},
	}
	resp, body := doRequest(t, config, http.MethodPut, "/scoring/config", payload)
	mustStatus(t, resp, body, http.StatusOK)
}

func seedPoolWithOwner(t *testing.T, config TestConfig, poolID, ownerID string, capacity int) {
	t.Helper()

	resp, body := doRequest(t, config, http.MethodPost, "/pools", map[string]any{
		"id":       poolID,
		"name":     poolID,
		"strategy": "round_robin",
	})
	mustStatus(t, resp, body, http.StatusCreated)

	resp, body = doRequest(t, config, http.MethodPost, "/pools/"+poolID+"/owners", map[string]any{
		"id":       ownerID,
		"name":     ownerID,
		"capacity": capacity,
		"isActive": true,
	})
	mustStatus(t, resp, body, http.StatusCreated)
}

func seedRoutingRule(t *testing.T, config TestConfig, id string, order int, conditions []map[string]any, poolID string, slaMinutes int) {
	t.Helper()

	resp, body := doRequest(t, config, http.MethodPost, "/routing/rules", map[string]any{
		"id":         id,
		"name":       id,
		"order":      order,
		"enabled":    true,
		"conditions": conditions,
		"action": map[string]any{
			"assignPool": poolID,
			"slaMinutes": slaMinutes,
		},
	})
	mustStatus(t, resp, body, http.StatusCreated)
}

// ============================================================================
// SCENARIO 1: Cold lead scores LOW and goes unrouted
// ============================================================================

func TestColdLead_ScoresLowUnrouted(t *testing.T) {
	config := getTestConfig(t)
	seedScoringConfig(t, config)

	result := triage(t, config, LeadRequest{
		Email:  "student@gmail.com",
		Source: "organic",
		Fields: map[string]any{"budget": 5000.0},
	})

	if result.Score != 5 {
		t.Errorf("expected score 5 ($5k budget), got %d", result.Score)
	}
	if result.Band != "LOW" {
		t.Errorf("expected LOW band, got %s", result.Band)
	}
	if result.Pool != "" || result.OwnerID != "" {
		t.Errorf("expected no routing for cold lead, got pool=%q owner=%q", result.Pool, result.OwnerID)
	}
	if result.EvaluationID == "" {
		t.Error("expected evaluation id")
	}
}

// ============================================================================
// SCENARIO 2: Test address is penalized to the floor
// ============================================================================

func TestTestAddress_PenalizedToZero(t *testing.T) {
	config := getTestConfig(t)
	seedScoringConfig(t, config)

	result := triage(t, config, LeadRequest{
		Email:  "test@example.com",
		Fields: map[string]any{"budget": 90000.0},
	})

	if result.Score != 0 {
		t.Errorf("expected penalty to clamp score at 0, got %d", result.Score)
	}
	if result.Band != "LOW" {
		t.Errorf("expected LOW band, got %s", result.Band)
	}
}

// ============================================================================
// SCENARIO 3: Hot lead routes to the enterprise pool with an owner
// ============================================================================

func TestHotLead_RoutedAndAssigned(t *testing.T) {
	config := getTestConfig(t)
	seedScoringConfig(t, config)
	seedPoolWithOwner(t, config, "enterprise-team", "owner-1", 10)
	seedRoutingRule(t, config, "rt-high", 1, []map[string]any{
		{"field": "scoreBand", "operator": "equals", "value": "HIGH"},
	}, "enterprise-team", 15)

	result := triage(t, config, LeadRequest{
		Email:   "vp@bigcorp.com",
		Company: "BigCorp",
		Source:  "demo_request",
		Fields:  map[string]any{"budget": 80000.0},
	})

	if result.Band != "HIGH" {
		t.Fatalf("expected HIGH band for $80k budget, got %s (score %d)", result.Band, result.Score)
	}
	if result.Pool != "enterprise-team" {
		t.Errorf("expected enterprise-team pool, got %q", result.Pool)
	}
	if result.OwnerID != "owner-1" {
		t.Errorf("expected owner-1 assigned, got %q", result.OwnerID)
	}
	if result.SLAMinutes == nil || *result.SLAMinutes != 15 {
		t.Errorf("expected 15 minute SLA, got %v", result.SLAMinutes)
	}
}

// ============================================================================
// SCENARIO 4: First matching routing rule wins
// ============================================================================

func TestRoutingOrder_FirstMatchWins(t *testing.T) {
	config := getTestConfig(t)
	seedScoringConfig(t, config)
	seedPoolWithOwner(t, config, "priority-team", "owner-p", 10)
	seedPoolWithOwner(t, config, "general-team", "owner-g", 10)

	// Both rules match a MEDIUM lead; the lower order must win.
	seedRoutingRule(t, config, "rt-specific", 1, []map[string]any{
		{"field": "scoreBand", "operator": "in", "value": []string{"MEDIUM", "HIGH"}},
	}, "priority-team", 60)
	seedRoutingRule(t, config, "rt-catchall", 2, []map[string]any{
		{"field": "email", "operator": "exists"},
	}, "general-team", 480)

	result := triage(t, config, LeadRequest{
		Email:  "manager@midsize.io",
		Fields: map[string]any{"budget": 50000.0},
	})

	if result.Pool != "priority-team" {
		t.Errorf("expected first matching rule's pool, got %q", result.Pool)
	}
}

// ============================================================================
// SCENARIO 5: Round-robin rotates owners across consecutive leads
// ============================================================================

func TestRoundRobin_RotatesOwners(t *testing.T) {
	config := getTestConfig(t)
	seedScoringConfig(t, config)

	resp, body := doRequest(t, config, http.MethodPost, "/pools", map[string]any{
		"id": "rotation-team", "name": "Rotation", "strategy": "round_robin",
	})
	mustStatus(t, resp, body, http.StatusCreated)
	for _, ownerID := range []string{"owner-a", "owner-b"} {
		resp, body := doRequest(t, config, http.MethodPost, "/pools/rotation-team/owners", map[string]any{
			"id": ownerID, "capacity": 10, "isActive": true,
		})
		mustStatus(t, resp, body, http.StatusCreated)
	}
	seedRoutingRule(t, config, "rt-all", 1, []map[string]any{
		{"field": "email", "operator": "exists"},
	}, "rotation-team", 120)

	seen := make(map[string]int)
	for i := 0; i < 4; i++ {
		result := triage(t, config, LeadRequest{
			Email:  fmt.Sprintf("lead%d@corp.com", i),
			Fields: map[string]any{"budget": 50000.0},
		})
		if result.OwnerID == "" {
			t.Fatalf("lead %d not assigned: %+v", i, result)
		}
		seen[result.OwnerID]++
	}

	if seen["owner-a"] != 2 || seen["owner-b"] != 2 {
		t.Errorf("expected even rotation across owners, got %v", seen)
	}
}

// ============================================================================
// SCENARIO 6: Exhausted pool raises an alert instead of failing
// ============================================================================

func TestExhaustedPool_Alerts(t *testing.T) {
	config := getTestConfig(t)
	seedScoringConfig(t, config)
	seedPoolWithOwner(t, config, "tiny-team", "only-owner", 1)
	seedRoutingRule(t, config, "rt-tiny", 1, []map[string]any{
		{"field": "email", "operator": "exists"},
	}, "tiny-team", 60)

	// First lead takes the only capacity slot.
	first := triage(t, config, LeadRequest{
		Email:  "first@corp.com",
		Fields: map[string]any{"budget": 50000.0},
	})
	if first.OwnerID != "only-owner" {
		t.Fatalf("expected first lead assigned, got %+v", first)
	}

	// Second lead finds everyone at capacity.
	second := triage(t, config, LeadRequest{
		Email:  "second@corp.com",
		Fields: map[string]any{"budget": 50000.0},
	})
	if second.OwnerID != "" {
		t.Errorf("expected no owner from exhausted pool, got %q", second.OwnerID)
	}
	if len(second.Alerts) == 0 {
		t.Error("expected capacity alert on evaluation")
	}
	if second.Pool != "tiny-team" {
		t.Errorf("pool decision should survive exhaustion, got %q", second.Pool)
	}
}

// ============================================================================
// SCENARIO 7: Scoring rules adjust, tag, and hot-reload
// ============================================================================

func TestScoringRule_AppliedAfterReload(t *testing.T) {
	config := getTestConfig(t)
	seedScoringConfig(t, config)

	baseline := triage(t, config, LeadRequest{
		Email:  "dir@corp.com",
		Source: "webinar",
		Fields: map[string]any{"budget": 30000.0},
	})
	if baseline.Score != 30 {
		t.Fatalf("expected baseline 30, got %d", baseline.Score)
	}

	resp, body := doRequest(t, config, http.MethodPost, "/scoring/rules", map[string]any{
		"name":    "webinar boost",
		"kind":    "if_then",
		"enabled": true,
		"conditions": []map[string]any{
			{"field": "source", "operator": "equals", "value": "webinar"},
		},
		"action": map[string]any{
			"add": 20,
			"tag": "webinar",
		},
	})
	mustStatus(t, resp, body, http.StatusCreated)

	resp, body = doRequest(t, config, http.MethodPost, "/rules/reload", nil)
	mustStatus(t, resp, body, http.StatusOK)

	boosted := triage(t, config, LeadRequest{
		Email:  "dir2@corp.com",
		Source: "webinar",
		Fields: map[string]any{"budget": 30000.0},
	})
	if boosted.Score != 50 {
		t.Errorf("expected 50 after boost rule, got %d", boosted.Score)
	}
	if len(boosted.Tags) != 1 || boosted.Tags[0] != "webinar" {
		t.Errorf("expected webinar tag, got %v", boosted.Tags)
	}
}

// ============================================================================
// SCENARIO 8: Expression rules evaluate CEL against the lead
// ============================================================================

func TestExpressionRule_CELDelta(t *testing.T) {
	config := getTestConfig(t)
	seedScoringConfig(t, config)

	resp, body := doRequest(t, config, http.MethodPost, "/scoring/rules", map[string]any{
		"name":       "momentum",
		"kind":       "expression",
		"enabled":    true,
		"expression": `score >= 40.0 ? 25.0 : 0.0`,
	})
	mustStatus(t, resp, body, http.StatusCreated)

	result := triage(t, config, LeadRequest{
		Email:  "cto@scaleup.io",
		Fields: map[string]any{"budget": 45000.0},
	})
	if result.Score != 70 {
		t.Errorf("expected 45 base + 25 momentum = 70, got %d", result.Score)
	}
}

// ============================================================================
// ERROR HANDLING
// ============================================================================

func TestMissingEmail_Rejected(t *testing.T) {
	config := getTestConfig(t)

	resp, body := doRequest(t, config, http.MethodPost, "/leads", map[string]any{
		"company": "No Email Inc",
	})
	mustStatus(t, resp, body, http.StatusBadRequest)
}

func TestMissingTenantHeader_Rejected(t *testing.T) {
	config := getTestConfig(t)

	data, _ := json.Marshal(LeadRequest{Email: "a@b.com"})
	req, err := http.NewRequest(http.MethodPost, config.BaseURL+"/leads", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// No X-Tenant-ID on purpose.

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without tenant header, got %d", resp.StatusCode)
	}
}

func TestOverlappingBands_Rejected(t *testing.T) {
	config := getTestConfig(t)

	resp, body := doRequest(t, config, http.MethodPut, "/scoring/config", map[string]any{
		"bands": map[string]any{
			"low":    map[string]int{"min": 0, "max": 50},
			"medium": map[string]int{"min": 40, "max": 70},
			"high":   map[string]int{"min": 71, "max": 100},
		},
	})
	mustStatus(t, resp, body, http.StatusBadRequest)
}

func TestBadExpression_Rejected(t *testing.T) {
	config := getTestConfig(t)

	resp, body := doRequest(t, config, http.MethodPost, "/scoring/rules", map[string]any{
		"name":       "broken",
		"kind":       "expression",
		"enabled":    true,
		"expression": `lead["budget" >>>`,
	})
	mustStatus(t, resp, body, http.StatusBadRequest)
}

// ============================================================================
// METADATA
// ============================================================================

func TestEvaluationMetadata(t *testing.T) {
	config := getTestConfig(t)
	seedScoringConfig(t, config)

	result := triage(t, config, LeadRequest{
		Email:  "meta@corp.com",
		Fields: map[string]any{"budget": 50000.0},
	})

	if result.Metadata == nil {
		t.Fatal("expected metadata on evaluation")
	}
	if result.Metadata["engineVersion"] == "" {
		t.Error("expected engine version in metadata")
	}

	// The evaluation is retrievable by id afterwards.
	resp, body := doRequest(t, config, http.MethodGet, "/evaluations/"+result.EvaluationID, nil)
	mustStatus(t, resp, body, http.StatusOK)
}
