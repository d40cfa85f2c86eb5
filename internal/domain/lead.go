package domain

import (
	"time"
)

// Lead represents an incoming lead to be scored and routed.
type Lead struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// Well-known attributes
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Company string `json:"company,omitempty"`
	Domain  string `json:"domain,omitempty"`
	Source  string `json:"source,omitempty"`

	// Last computed score (0-100), carried for rule conditions on re-evaluation
	Score int `json:"score"`

	// Free-form custom attributes, addressable as "fields.<key>"
	Fields map[string]interface{} `json:"fields,omitempty"`

	// Tracking attributes, addressable as "utm.<key>"
	UTM map[string]interface{} `json:"utm,omitempty"`

	// Enrichment data from external providers, addressable as "enrichment.<key>"
	Enrichment map[string]interface{} `json:"enrichment,omitempty"`

	// Temporal
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Activation builds the flat map the rule engine resolves field paths
// against. The returned map is freshly allocated per call; the engine treats
// it as read-only.
func (l *Lead) Activation() map[string]interface{} {
	act := map[string]interface{}{
		"email":   l.Email,
		"name":    l.Name,
		"company": l.Company,
		"domain":  l.Domain,
		"source":  l.Source,
		"score":   float64(l.Score),
	}
	if l.Fields != nil {
		act["fields"] = l.Fields
	}
	if l.UTM != nil {
		act["utm"] = l.UTM
	}
	if l.Enrichment != nil {
		act["enrichment"] = l.Enrichment
	}
	return act
}

// LeadRequest is the API request payload for lead intake.
type LeadRequest struct {
	Email      string                 `json:"email"`
	Name       string                 `json:"name,omitempty"`
	Company    string                 `json:"company,omitempty"`
	Domain     string                 `json:"domain,omitempty"`
	Source     string                 `json:"source,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
	UTM        map[string]interface{} `json:"utm,omitempty"`
	Enrichment map[string]interface{} `json:"enrichment,omitempty"`
}

// ToLead converts a request to a Lead domain object.
func (r *LeadRequest) ToLead(tenantID string) *Lead {
	now := time.Now().UTC()
	return &Lead{
		TenantID:   tenantID,
		Email:      r.Email,
		Name:       r.Name,
		Company:    r.Company,
		Domain:     r.Domain,
		Source:     r.Source,
		Fields:     r.Fields,
		UTM:        r.UTM,
		Enrichment: r.Enrichment,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
