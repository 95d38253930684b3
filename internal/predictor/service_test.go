package predictor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/ring"
	"github.com/opensource-finance/harrier/internal/scorer"
)

type stubScorer struct {
	id    domain.ScorerID
	raw   float64
	err   error
	delay time.Duration
}

func (s *stubScorer) ID() domain.ScorerID { return s.id }

func (s *stubScorer) Available() bool { return s.err == nil }

func (s *stubScorer) Score(ctx context.Context, input *scorer.Input) (domain.RawScore, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return domain.RawScore{}, ctx.Err()
		}
	}
	if s.err != nil {
		return domain.RawScore{}, s.err
	}
	return domain.RawScore{Scorer: s.id, Value: s.raw}, nil
}

func testConfig() domain.ScoringConfig {
	return domain.ScoringConfig{
		Calibration: map[domain.ScorerID]domain.CalibrationParams{
			domain.ScorerReconstruction: {Steepness: 8.0, Center: 0.7, Gamma: 1.0},
			domain.ScorerDensity:        {Steepness: 8.0, Center: 0.0, Gamma: 1.0},
			domain.ScorerRelational:     {Steepness: 8.0, Center: 0.5, Gamma: 1.0},
		},
		ThresholdMedium: 0.3,
		ThresholdHigh:   0.7,
		ScorerTimeout:   150 * time.Millisecond,
		HistoryWindow:   50,
	}
}

func testService(ensemble scorer.Ensemble) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	detector := ring.NewDetector(domain.RingConfig{
		MinShared:     2,
		UpdateRetries: 3,
		LockTimeout:   250 * time.Millisecond,
	}, logger)
	return NewService(testConfig(), ensemble, detector, nil, nil, nil, logger)
}

func testRequest() *domain.PredictRequest {
	ts := time.Date(2025, 6, 11, 14, 30, 0, 0, time.UTC)
	return &domain.PredictRequest{
		UserID:     "user-001",
		Amount:     125.50,
		Currency:   "USD",
		MerchantID: "merchant-001",
		DeviceID:   "device-001",
		Timestamp:  &ts,
	}
}

func TestPredict(t *testing.T) {
	// Raw 0 at the density center calibrates to 0.5.
	svc := testService(scorer.Ensemble{
		&stubScorer{id: domain.ScorerDensity, raw: 0},
	})

	pred, err := svc.Predict(context.Background(), "tenant-001", "trace-001", testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pred.ID == "" {
		t.Error("prediction id not assigned")
	}
	if pred.TxID == "" {
		t.Error("transaction id not assigned")
	}
	if pred.TenantID != "tenant-001" {
		t.Errorf("tenant = %s, want tenant-001", pred.TenantID)
	}
	if diff := pred.FraudScore - 0.5; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("fraud score = %v, want 0.5", pred.FraudScore)
	}
	if pred.RiskLabel != domain.RiskMedium {
		t.Errorf("risk label = %v, want MEDIUM", pred.RiskLabel)
	}
	if len(pred.Metadata.ScorersUsed) != 1 || pred.Metadata.ScorersUsed[0] != domain.ScorerDensity {
		t.Errorf("scorers used = %v", pred.Metadata.ScorersUsed)
	}
	if pred.Metadata.TraceID != "trace-001" {
		t.Errorf("trace id = %s", pred.Metadata.TraceID)
	}
	if pred.Metadata.EngineVersion != EngineVersion {
		t.Errorf("engine version = %s", pred.Metadata.EngineVersion)
	}

	// The scored transaction must land in the entity graph.
	nodes, _ := svc.Detector().Stats("tenant-001")
	if nodes != 3 {
		t.Errorf("graph nodes = %d, want 3", nodes)
	}
}

func TestPredictDegraded(t *testing.T) {
	svc := testService(scorer.Ensemble{
		&stubScorer{id: domain.ScorerDensity, raw: 0},
		&stubScorer{id: domain.ScorerRelational, err: domain.ErrModelUnavailable},
	})

	pred, err := svc.Predict(context.Background(), "tenant-001", "", testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pred.Metadata.ScorersUsed) != 1 {
		t.Errorf("scorers used = %v, want density only", pred.Metadata.ScorersUsed)
	}
	if len(pred.Metadata.ScorersSkipped) != 1 || pred.Metadata.ScorersSkipped[0] != domain.ScorerRelational {
		t.Errorf("scorers skipped = %v, want relational", pred.Metadata.ScorersSkipped)
	}
	if _, ok := pred.ModelScores[domain.ScorerRelational]; ok {
		t.Error("skipped scorer leaked into model scores")
	}
}

func TestPredictAllScorersUnavailable(t *testing.T) {
	svc := testService(scorer.Ensemble{
		&stubScorer{id: domain.ScorerDensity, err: domain.ErrModelUnavailable},
		&stubScorer{id: domain.ScorerReconstruction, err: domain.ErrModelUnavailable},
	})

	_, err := svc.Predict(context.Background(), "tenant-001", "", testRequest())
	if !errors.Is(err, domain.ErrAllScorersUnavailable) {
		t.Errorf("expected ErrAllScorersUnavailable, got %v", err)
	}
}

func TestPredictScorerTimeout(t *testing.T) {
	svc := testService(scorer.Ensemble{
		&stubScorer{id: domain.ScorerDensity, raw: 0},
		&stubScorer{id: domain.ScorerReconstruction, raw: 2, delay: time.Second},
	})

	pred, err := svc.Predict(context.Background(), "tenant-001", "", testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pred.Metadata.ScorersUsed) != 1 || pred.Metadata.ScorersUsed[0] != domain.ScorerDensity {
		t.Errorf("scorers used = %v, want density only", pred.Metadata.ScorersUsed)
	}
	if len(pred.Metadata.ScorersSkipped) != 1 || pred.Metadata.ScorersSkipped[0] != domain.ScorerReconstruction {
		t.Errorf("scorers skipped = %v, want reconstruction", pred.Metadata.ScorersSkipped)
	}
}

func TestPredictInvalidInput(t *testing.T) {
	svc := testService(scorer.Ensemble{
		&stubScorer{id: domain.ScorerDensity, raw: 0},
	})

	req := testRequest()
	req.UserID = ""

	_, err := svc.Predict(context.Background(), "tenant-001", "", req)
	if !errors.Is(err, domain.ErrFeatureBuild) {
		t.Errorf("expected ErrFeatureBuild, got %v", err)
	}
}

func TestPredictCallerHistory(t *testing.T) {
	svc := testService(scorer.Ensemble{
		&stubScorer{id: domain.ScorerDensity, raw: 0},
	})

	req := testRequest()
	req.History = []*domain.Transaction{
		{ID: "h1", UserID: "user-001", Amount: 100, Currency: "USD",
			MerchantID: "merchant-001", Timestamp: req.Timestamp.Add(-10 * time.Minute)},
	}

	if _, err := svc.Predict(context.Background(), "tenant-001", "", req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPredictIdempotentGraph(t *testing.T) {
	svc := testService(scorer.Ensemble{
		&stubScorer{id: domain.ScorerDensity, raw: 0},
	})
	ctx := context.Background()

	req := testRequest()
	req.TransactionID = "tx-fixed"

	if _, err := svc.Predict(ctx, "tenant-001", "", req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	nodes1, edges1 := svc.Detector().Stats("tenant-001")

	if _, err := svc.Predict(ctx, "tenant-001", "", req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	nodes2, edges2 := svc.Detector().Stats("tenant-001")

	if nodes1 != nodes2 || edges1 != edges2 {
		t.Errorf("rescoring the same tx grew the graph: nodes %d->%d edges %d->%d",
			nodes1, nodes2, edges1, edges2)
	}
}

// contendedGraph behaves like a real detector whose write gate never
// frees up: every update reports a busy graph.
type contendedGraph struct {
	*ring.Detector
}

func (g *contendedGraph) Update(ctx context.Context, tenantID string, tx *domain.Transaction, fraudScore float64) error {
	return domain.ErrGraphBusy
}

func TestPredictGraphBusy(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	detector := &contendedGraph{Detector: ring.NewDetector(domain.RingConfig{
		MinShared:     2,
		UpdateRetries: 0,
		LockTimeout:   time.Millisecond,
	}, logger)}
	svc := NewService(testConfig(), scorer.Ensemble{
		&stubScorer{id: domain.ScorerDensity, raw: 0},
	}, detector, nil, nil, nil, logger)

	// A dropped graph update must fail the prediction, not succeed
	// with a transaction missing from ring detection.
	pred, err := svc.Predict(context.Background(), "tenant-001", "", testRequest())
	if !errors.Is(err, domain.ErrGraphBusy) {
		t.Fatalf("Predict with contended graph = (%v, %v), want ErrGraphBusy", pred, err)
	}
	if pred != nil {
		t.Errorf("prediction returned despite dropped graph update")
	}
}

func TestPredictBatch(t *testing.T) {
	svc := testService(scorer.Ensemble{
		&stubScorer{id: domain.ScorerDensity, raw: 0},
	})

	bad := testRequest()
	bad.UserID = ""

	items := svc.PredictBatch(context.Background(), "tenant-001", "", []*domain.PredictRequest{
		testRequest(),
		bad,
		testRequest(),
	})
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].Prediction == nil || items[2].Prediction == nil {
		t.Error("valid items missing predictions")
	}
	if items[1].Error == "" {
		t.Error("invalid item missing error")
	}
}

func TestReplay(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "replay-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		tx := &domain.Transaction{
			ID:         fmt.Sprintf("tx-%d", i),
			TenantID:   "tenant-001",
			UserID:     fmt.Sprintf("user-%d", i),
			Amount:     100,
			Currency:   "USD",
			MerchantID: "merchant-hub",
			Timestamp:  now.Add(-time.Duration(i) * time.Hour),
			CreatedAt:  now,
		}
		if err := repo.SaveTransaction(ctx, "tenant-001", tx); err != nil {
			t.Fatalf("failed to save transaction: %v", err)
		}
	}

	detector := ring.NewDetector(domain.RingConfig{
		MinShared:     2,
		UpdateRetries: 3,
		LockTimeout:   250 * time.Millisecond,
	}, logger)
	svc := NewService(testConfig(), scorer.Ensemble{
		&stubScorer{id: domain.ScorerDensity, raw: 0},
	}, detector, repo, nil, nil, logger)

	replayed, err := svc.Replay(ctx, "tenant-001", 24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replayed != 3 {
		t.Errorf("replayed = %d, want 3", replayed)
	}

	// 3 users + 1 merchant rebuilt from storage
	nodes, _ := detector.Stats("tenant-001")
	if nodes != 4 {
		t.Errorf("graph nodes = %d, want 4", nodes)
	}
	clusters := detector.DetectClusters("tenant-001", 2)
	if len(clusters) != 1 {
		t.Errorf("expected 1 cluster after replay, got %d", len(clusters))
	}
}

func TestAvailableScorers(t *testing.T) {
	svc := testService(scorer.Ensemble{
		&stubScorer{id: domain.ScorerDensity, raw: 0},
		&stubScorer{id: domain.ScorerRelational, err: domain.ErrModelUnavailable},
	})

	available := svc.AvailableScorers()
	if len(available) != 1 || available[0] != domain.ScorerDensity {
		t.Errorf("available = %v, want density only", available)
	}
}
