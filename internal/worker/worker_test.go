package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/alert"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
)

func testWorker(t *testing.T) (*Worker, domain.EventBus, domain.Repository) {
	t.Helper()

	b := bus.NewChannelBus(100)
	t.Cleanup(func() { b.Close() })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "worker-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	engine, err := alert.NewEngine()
	if err != nil {
		t.Fatalf("failed to create alert engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	if err := engine.LoadRules(alert.DefaultRules()); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}

	w := NewWorker(b, repo, engine)
	if err := w.Start(Config{TenantIDs: []string{"tenant-001"}}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	t.Cleanup(w.Stop)

	return w, b, repo
}

func publishScored(t *testing.T, b domain.EventBus, pred *domain.Prediction, tx *domain.Transaction) {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"prediction":  pred,
		"transaction": tx,
	})
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	if err := b.Publish(context.Background(), pred.TenantID, domain.TopicPredictionScored, payload); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}
}

func waitForAlerts(t *testing.T, repo domain.Repository, tenantID string, want int) []*domain.Alert {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		alerts, err := repo.ListAlerts(context.Background(), tenantID, 10)
		if err != nil {
			t.Fatalf("failed to list alerts: %v", err)
		}
		if len(alerts) >= want {
			return alerts
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d alerts before deadline", want)
	return nil
}

func TestWorkerRaisesAlert(t *testing.T) {
	_, b, repo := testWorker(t)

	pred := &domain.Prediction{
		ID:         "pred-001",
		TenantID:   "tenant-001",
		TxID:       "tx-001",
		FraudScore: 0.92,
		RiskLabel:  domain.RiskHigh,
	}
	tx := &domain.Transaction{ID: "tx-001", UserID: "user-001", Amount: 100, Currency: "USD"}

	publishScored(t, b, pred, tx)

	alerts := waitForAlerts(t, repo, "tenant-001", 1)
	a := alerts[0]
	if a.RuleID != "builtin-high-risk" {
		t.Errorf("rule id = %s, want builtin-high-risk", a.RuleID)
	}
	if a.TxID != "tx-001" {
		t.Errorf("tx id = %s, want tx-001", a.TxID)
	}
	if a.Severity != domain.SeverityCritical {
		t.Errorf("severity = %s, want critical", a.Severity)
	}
	if a.FraudScore != 0.92 {
		t.Errorf("fraud score = %v, want 0.92", a.FraudScore)
	}
}

func TestWorkerPublishesAlertRaised(t *testing.T) {
	_, b, _ := testWorker(t)

	received := make(chan *domain.Alert, 1)
	sub, err := b.Subscribe(context.Background(), "tenant-001", domain.TopicAlertRaised, func(ctx context.Context, msg *domain.Message) error {
		var a domain.Alert
		if err := json.Unmarshal(msg.Payload, &a); err != nil {
			return err
		}
		select {
		case received <- &a:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	pred := &domain.Prediction{
		ID:         "pred-002",
		TenantID:   "tenant-001",
		TxID:       "tx-002",
		FraudScore: 0.55,
		RiskLabel:  domain.RiskMedium,
	}
	tx := &domain.Transaction{ID: "tx-002", UserID: "user-001", Amount: 8000, Currency: "USD"}

	publishScored(t, b, pred, tx)

	select {
	case a := <-received:
		if a.RuleID != "builtin-large-medium" {
			t.Errorf("rule id = %s, want builtin-large-medium", a.RuleID)
		}
		if a.Severity != domain.SeverityWarning {
			t.Errorf("severity = %s, want warning", a.Severity)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no alert published before deadline")
	}
}

func TestWorkerIgnoresLowRisk(t *testing.T) {
	_, b, repo := testWorker(t)

	pred := &domain.Prediction{
		ID:         "pred-003",
		TenantID:   "tenant-001",
		TxID:       "tx-003",
		FraudScore: 0.05,
		RiskLabel:  domain.RiskLow,
	}
	tx := &domain.Transaction{ID: "tx-003", UserID: "user-001", Amount: 20, Currency: "USD"}

	publishScored(t, b, pred, tx)
	time.Sleep(100 * time.Millisecond)

	alerts, err := repo.ListAlerts(context.Background(), "tenant-001", 10)
	if err != nil {
		t.Fatalf("failed to list alerts: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("expected no alerts for low risk, got %d", len(alerts))
	}
}

func TestWorkerMalformedPayload(t *testing.T) {
	_, b, repo := testWorker(t)

	if err := b.Publish(context.Background(), "tenant-001", domain.TopicPredictionScored, []byte("{broken")); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	alerts, err := repo.ListAlerts(context.Background(), "tenant-001", 10)
	if err != nil {
		t.Fatalf("failed to list alerts: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("expected no alerts for malformed payload, got %d", len(alerts))
	}
}
