// Package worker provides async alert processing over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/alert"
	"github.com/opensource-finance/harrier/internal/domain"
)

// Worker consumes scored predictions from the EventBus, evaluates
// alert rules, and raises alerts.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	engine *alert.Engine

	subscriptions []domain.Subscription
	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process.
	TenantIDs []string
}

// NewWorker creates a new alert worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, engine *alert.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		engine: engine,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing scored predictions for the given tenants.
func (w *Worker) Start(cfg Config) error {
	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("alert workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicPredictionScored, func(ctx context.Context, msg *domain.Message) error {
		return w.processPrediction(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("tenant alert worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicPredictionScored,
	)

	return nil
}

// scoredMessage is the payload published on TopicPredictionScored.
type scoredMessage struct {
	Prediction  *domain.Prediction  `json:"prediction"`
	Transaction *domain.Transaction `json:"transaction"`
}

// processPrediction evaluates alert rules for one scored prediction.
func (w *Worker) processPrediction(ctx context.Context, tenantID string, msg *domain.Message) error {
	var scored scoredMessage
	if err := json.Unmarshal(msg.Payload, &scored); err != nil {
		slog.Error("failed to parse scored prediction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if scored.Prediction == nil {
		return nil
	}

	matches := w.engine.Evaluate(scored.Prediction, scored.Transaction)
	if len(matches) == 0 {
		return nil
	}

	for _, m := range matches {
		raised := &domain.Alert{
			ID:         uuid.New().String(),
			TenantID:   tenantID,
			RuleID:     m.Rule.ID,
			TxID:       scored.Prediction.TxID,
			FraudScore: scored.Prediction.FraudScore,
			RiskLabel:  scored.Prediction.RiskLabel,
			Severity:   m.Rule.Severity,
			Reason:     m.Reason,
			CreatedAt:  time.Now().UTC(),
		}

		if w.repo != nil {
			if err := w.repo.SaveAlert(ctx, tenantID, raised); err != nil {
				slog.Error("failed to save alert",
					"tenant_id", tenantID,
					"rule_id", m.Rule.ID,
					"tx_id", raised.TxID,
					"error", err,
				)
			}
		}

		payload, _ := json.Marshal(raised)
		if err := w.bus.Publish(ctx, tenantID, domain.TopicAlertRaised, payload); err != nil {
			slog.Error("failed to publish alert",
				"tenant_id", tenantID,
				"rule_id", m.Rule.ID,
				"error", err,
			)
		}

		slog.Info("alert raised",
			"tenant_id", tenantID,
			"rule_id", m.Rule.ID,
			"tx_id", raised.TxID,
			"severity", raised.Severity,
			"fraud_score", raised.FraudScore,
		)
	}

	return nil
}

// Stop stops all workers and waits for in-flight handlers.
func (w *Worker) Stop() {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		_ = sub.Unsubscribe()
	}
	w.subscriptions = nil

	slog.Info("alert workers stopped")
}
