// Package worker provides async lead processing from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/open-leads/talon/internal/domain"
	"github.com/open-leads/talon/internal/triage"
)

// Worker consumes ingested leads from the EventBus and runs them through
// the triage pipeline asynchronously.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	snapshots *triage.SnapshotStore
	processor *triage.Processor

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via a
	// global subscription)
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, snapshots *triage.SnapshotStore, processor *triage.Processor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		repo:      repo,
		snapshots: snapshots,
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicLeadIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts a worker for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicLeadIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processLead(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicLeadIngested,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processLead(ctx, msg.TenantID, msg)
}

// LeadMessage is the message payload for async lead processing.
type LeadMessage struct {
	LeadID   string       `json:"leadId"`
	TenantID string       `json:"tenantId"`
	TraceID  string       `json:"traceId"`
	Lead     *domain.Lead `json:"lead,omitempty"`
}

// processLead runs a lead through the triage pipeline.
func (w *Worker) processLead(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var leadMsg LeadMessage
	if err := json.Unmarshal(msg.Payload, &leadMsg); err != nil {
		slog.Error("failed to parse lead message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if leadMsg.TenantID != "" {
		tenantID = leadMsg.TenantID
	}

	traceID := leadMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	// Inline lead payloads skip the repository read.
	lead := leadMsg.Lead
	if lead == nil {
		var err error
		lead, err = w.repo.GetLead(ctx, tenantID, leadMsg.LeadID)
		if err != nil {
			slog.Error("failed to load lead",
				"lead_id", leadMsg.LeadID,
				"tenant_id", tenantID,
				"error", err,
			)
			return err
		}
	}

	slog.Debug("processing lead",
		"lead_id", lead.ID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	snap, err := w.snapshots.Load(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load rule snapshot",
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	evaluation, err := w.processor.Process(ctx, &triage.Input{
		TenantID:  tenantID,
		TraceID:   traceID,
		Lead:      lead,
		Snapshot:  snap,
		StartTime: start,
	})
	if err != nil {
		slog.Error("triage failed",
			"lead_id", lead.ID,
			"error", err,
		)
		return err
	}

	// Persist the new score on the lead record.
	lead.Score = evaluation.Score
	lead.UpdatedAt = time.Now().UTC()
	if err := w.repo.SaveLead(ctx, tenantID, lead); err != nil {
		slog.Error("failed to save lead score",
			"lead_id", lead.ID,
			"error", err,
		)
	}

	if err := w.repo.SaveEvaluation(ctx, tenantID, evaluation); err != nil {
		slog.Error("failed to save evaluation",
			"lead_id", lead.ID,
			"error", err,
		)
	}

	resultPayload, _ := json.Marshal(evaluation.ToResponse())
	if err := w.bus.Publish(ctx, tenantID, domain.TopicLeadScored, resultPayload); err != nil {
		slog.Error("failed to publish scored event",
			"lead_id", lead.ID,
			"error", err,
		)
	}

	if evaluation.Routing != nil && evaluation.Routing.OwnerID != "" {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicLeadRouted, resultPayload); err != nil {
			slog.Error("failed to publish routed event",
				"lead_id", lead.ID,
				"error", err,
			)
		}
	}

	if triage.ShouldAlert(evaluation) {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicLeadAlert, resultPayload); err != nil {
			slog.Error("failed to publish alert",
				"lead_id", lead.ID,
				"error", err,
			)
		}
	}

	slog.Info("lead processed",
		"lead_id", lead.ID,
		"tenant_id", tenantID,
		"score", evaluation.Score,
		"band", evaluation.Band,
		"owner_id", evaluation.Routing.OwnerID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
