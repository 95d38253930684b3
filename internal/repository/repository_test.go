package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func testRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "harrier-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sampleTx(id string, ts time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:         id,
		TenantID:   "tenant-001",
		UserID:     "user-001",
		Amount:     250.75,
		Currency:   "USD",
		MerchantID: "merchant-001",
		DeviceID:   "device-001",
		IPAddress:  "10.1.2.3",
		Timestamp:  ts,
		CreatedAt:  ts,
		Metadata:   map[string]interface{}{"channel": "web"},
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	tx := sampleTx("tx-001", now)
	if err := repo.SaveTransaction(ctx, "tenant-001", tx); err != nil {
		t.Fatalf("failed to save transaction: %v", err)
	}

	got, err := repo.GetTransaction(ctx, "tenant-001", "tx-001")
	if err != nil {
		t.Fatalf("failed to get transaction: %v", err)
	}
	if got.UserID != tx.UserID || got.Amount != tx.Amount || got.MerchantID != tx.MerchantID {
		t.Errorf("transaction mismatch: got %+v", got)
	}
	if got.DeviceID != tx.DeviceID || got.IPAddress != tx.IPAddress {
		t.Errorf("optional fields lost: got %+v", got)
	}

	t.Run("DuplicateInsertIgnored", func(t *testing.T) {
		dup := sampleTx("tx-001", now)
		dup.Amount = 999
		if err := repo.SaveTransaction(ctx, "tenant-001", dup); err != nil {
			t.Fatalf("duplicate insert errored: %v", err)
		}
		got, err := repo.GetTransaction(ctx, "tenant-001", "tx-001")
		if err != nil {
			t.Fatalf("failed to get transaction: %v", err)
		}
		if got.Amount != 250.75 {
			t.Errorf("duplicate insert overwrote the row: amount = %v", got.Amount)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, "tenant-001", "no-such-tx")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, "other-tenant", "tx-001")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound across tenants, got %v", err)
		}
	})
}

func TestGetRecentByUser(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 5; i++ {
		tx := sampleTx(fmt.Sprintf("tx-%d", i), base.Add(time.Duration(i)*time.Minute))
		if err := repo.SaveTransaction(ctx, "tenant-001", tx); err != nil {
			t.Fatalf("failed to save transaction: %v", err)
		}
	}

	recent, err := repo.GetRecentByUser(ctx, "tenant-001", "user-001", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(recent))
	}
	// Newest first
	if recent[0].ID != "tx-4" {
		t.Errorf("first transaction = %s, want tx-4", recent[0].ID)
	}
	if !recent[0].Timestamp.After(recent[1].Timestamp) {
		t.Error("transactions not ordered newest first")
	}

	t.Run("UnknownUser", func(t *testing.T) {
		recent, err := repo.GetRecentByUser(ctx, "tenant-001", "nobody", 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(recent) != 0 {
			t.Errorf("expected no transactions, got %d", len(recent))
		}
	})
}

func TestGetTransactionsSince(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 4; i++ {
		tx := sampleTx(fmt.Sprintf("tx-%d", i), base.Add(time.Duration(i)*time.Hour))
		if err := repo.SaveTransaction(ctx, "tenant-001", tx); err != nil {
			t.Fatalf("failed to save transaction: %v", err)
		}
	}

	since := base.Add(90 * time.Minute)
	txs, err := repo.GetTransactionsSince(ctx, "tenant-001", since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	// Oldest first for replay
	if txs[0].ID != "tx-2" || txs[1].ID != "tx-3" {
		t.Errorf("order = %s, %s; want tx-2, tx-3", txs[0].ID, txs[1].ID)
	}
}

func TestPredictionRoundTrip(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	pred := &domain.Prediction{
		ID:         "pred-001",
		TenantID:   "tenant-001",
		TxID:       "tx-001",
		Timestamp:  time.Now().UTC().Truncate(time.Second),
		FraudScore: 0.73,
		RiskLabel:  domain.RiskHigh,
		ModelScores: map[domain.ScorerID]float64{
			domain.ScorerReconstruction: 0.8,
			domain.ScorerDensity:        0.66,
		},
		Metadata: domain.PredictionMetadata{
			TraceID:       "trace-001",
			TotalMs:       12,
			ScorersUsed:   []domain.ScorerID{domain.ScorerReconstruction, domain.ScorerDensity},
			EngineVersion: "harrier-1.0",
		},
	}
	if err := repo.SavePrediction(ctx, "tenant-001", pred); err != nil {
		t.Fatalf("failed to save prediction: %v", err)
	}

	got, err := repo.GetPrediction(ctx, "tenant-001", "pred-001")
	if err != nil {
		t.Fatalf("failed to get prediction: %v", err)
	}
	if got.FraudScore != pred.FraudScore || got.RiskLabel != pred.RiskLabel {
		t.Errorf("prediction mismatch: got %+v", got)
	}
	if got.ModelScores[domain.ScorerDensity] != 0.66 {
		t.Errorf("model scores lost: %+v", got.ModelScores)
	}
	if got.Metadata.EngineVersion != "harrier-1.0" {
		t.Errorf("metadata lost: %+v", got.Metadata)
	}

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetPrediction(ctx, "tenant-001", "no-such-pred")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestAlertRuleLifecycle(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	rule := &domain.AlertRule{
		ID:         "rule-001",
		TenantID:   "tenant-001",
		Name:       "test-rule",
		Version:    "1.0",
		Expression: "fraud_score > 0.9",
		Severity:   domain.SeverityCritical,
		Enabled:    true,
	}
	if err := repo.SaveAlertRule(ctx, "tenant-001", rule); err != nil {
		t.Fatalf("failed to save rule: %v", err)
	}

	t.Run("Get", func(t *testing.T) {
		got, err := repo.GetAlertRule(ctx, "tenant-001", "rule-001")
		if err != nil {
			t.Fatalf("failed to get rule: %v", err)
		}
		if got.Expression != rule.Expression || got.Severity != rule.Severity {
			t.Errorf("rule mismatch: got %+v", got)
		}
	})

	t.Run("Upsert", func(t *testing.T) {
		rule.Expression = "fraud_score > 0.95"
		if err := repo.SaveAlertRule(ctx, "tenant-001", rule); err != nil {
			t.Fatalf("failed to upsert rule: %v", err)
		}
		got, err := repo.GetAlertRule(ctx, "tenant-001", "rule-001")
		if err != nil {
			t.Fatalf("failed to get rule: %v", err)
		}
		if got.Expression != "fraud_score > 0.95" {
			t.Errorf("upsert did not update: %s", got.Expression)
		}
	})

	t.Run("List", func(t *testing.T) {
		rules, err := repo.ListAlertRules(ctx, "tenant-001")
		if err != nil {
			t.Fatalf("failed to list rules: %v", err)
		}
		if len(rules) != 1 {
			t.Errorf("expected 1 rule, got %d", len(rules))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.DeleteAlertRule(ctx, "tenant-001", "rule-001"); err != nil {
			t.Fatalf("failed to delete rule: %v", err)
		}
		rules, err := repo.ListAlertRules(ctx, "tenant-001")
		if err != nil {
			t.Fatalf("failed to list rules: %v", err)
		}
		if len(rules) != 0 {
			t.Errorf("expected 0 rules after delete, got %d", len(rules))
		}
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		err := repo.DeleteAlertRule(ctx, "tenant-001", "no-such-rule")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestAlerts(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		alert := &domain.Alert{
			ID:         fmt.Sprintf("alert-%d", i),
			TenantID:   "tenant-001",
			RuleID:     "rule-001",
			TxID:       fmt.Sprintf("tx-%d", i),
			FraudScore: 0.8,
			RiskLabel:  domain.RiskHigh,
			Severity:   domain.SeverityCritical,
			Reason:     "test",
			CreatedAt:  time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := repo.SaveAlert(ctx, "tenant-001", alert); err != nil {
			t.Fatalf("failed to save alert: %v", err)
		}
	}

	alerts, err := repo.ListAlerts(ctx, "tenant-001", 2)
	if err != nil {
		t.Fatalf("failed to list alerts: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(alerts))
	}
	// Newest first
	if alerts[0].ID != "alert-2" {
		t.Errorf("first alert = %s, want alert-2", alerts[0].ID)
	}

	t.Run("TenantIsolation", func(t *testing.T) {
		alerts, err := repo.ListAlerts(ctx, "other-tenant", 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(alerts) != 0 {
			t.Errorf("expected 0 alerts for other tenant, got %d", len(alerts))
		}
	})
}

func TestPing(t *testing.T) {
	repo := testRepo(t)
	if err := repo.Ping(context.Background()); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}
