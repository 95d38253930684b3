// Package predictor orchestrates the scoring pipeline: feature
// extraction, ensemble scoring, calibration, fusion, and the entity
// graph update.
package predictor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/harrier/internal/calibrate"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/feature"
	"github.com/opensource-finance/harrier/internal/fusion"
	"github.com/opensource-finance/harrier/internal/scorer"
)

var tracer = otel.Tracer("harrier-predictor")

// EntityGraph is the detector surface the pipeline and the graph read
// endpoints depend on. ring.Detector is the production implementation.
type EntityGraph interface {
	scorer.GraphContext
	Update(ctx context.Context, tenantID string, tx *domain.Transaction, fraudScore float64) error
	DetectClusters(tenantID string, minShared int64) []domain.Cluster
	View(tenantID string, minShared int64) *domain.GraphView
	Stats(tenantID string) (nodes, edges int)
}

// EngineVersion is stamped into every prediction's metadata.
const EngineVersion = "harrier-1.0"

// historyTTL bounds how long a cached user history window stays warm.
const historyTTL = 5 * time.Minute

// Service is the scoring façade used by the API layer.
type Service struct {
	cfg        domain.ScoringConfig
	builder    *feature.Builder
	ensemble   scorer.Ensemble
	calibrator *calibrate.Calibrator
	fuser      *fusion.Fuser
	detector   EntityGraph

	repo  domain.Repository
	cache domain.Cache
	bus   domain.EventBus

	logger *slog.Logger
}

// NewService wires the scoring pipeline together. repo, cache, and bus
// may be nil in tests; persistence and publication are then skipped.
func NewService(
	cfg domain.ScoringConfig,
	ensemble scorer.Ensemble,
	detector EntityGraph,
	repo domain.Repository,
	cache domain.Cache,
	bus domain.EventBus,
	logger *slog.Logger,
) *Service {
	return &Service{
		cfg:        cfg,
		builder:    feature.NewBuilder(cfg.HistoryWindow),
		ensemble:   ensemble,
		calibrator: calibrate.New(cfg.Calibration),
		fuser:      fusion.New(cfg.ThresholdMedium, cfg.ThresholdHigh),
		detector:   detector,
		repo:       repo,
		cache:      cache,
		bus:        bus,
		logger:     logger,
	}
}

// Detector exposes the entity graph for the API layer.
func (s *Service) Detector() EntityGraph {
	return s.detector
}

// AvailableScorers lists the ensemble members whose artifacts loaded.
func (s *Service) AvailableScorers() []domain.ScorerID {
	return s.ensemble.Available()
}

// scoredPayload is published on TopicPredictionScored.
type scoredPayload struct {
	Prediction  *domain.Prediction  `json:"prediction"`
	Transaction *domain.Transaction `json:"transaction"`
}

// Predict scores one transaction end to end.
func (s *Service) Predict(ctx context.Context, tenantID, traceID string, req *domain.PredictRequest) (*domain.Prediction, error) {
	start := time.Now()

	tx := req.ToTransaction(tenantID)
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}

	ctx, span := tracer.Start(ctx, "predictor.Predict",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("tx.id", tx.ID),
		),
	)
	defer span.End()

	history := req.History
	if history == nil {
		history = s.resolveHistory(ctx, tenantID, tx.UserID)
	}

	featStart := time.Now()
	vector, err := s.builder.Build(tx, history)
	if err != nil {
		return nil, err
	}
	featureMs := time.Since(featStart).Milliseconds()

	scoreStart := time.Now()
	raws, skipped := s.scoreAll(ctx, tenantID, tx, vector)
	scoreMs := time.Since(scoreStart).Milliseconds()

	calibrated := make([]domain.CalibratedScore, 0, len(raws))
	used := make([]domain.ScorerID, 0, len(raws))
	for _, raw := range raws {
		cs, err := s.calibrator.Calibrate(raw)
		if err != nil {
			s.logger.Error("calibration failed",
				"tenant_id", tenantID,
				"tx_id", tx.ID,
				"scorer", raw.Scorer,
				"error", err,
			)
			skipped = append(skipped, raw.Scorer)
			continue
		}
		calibrated = append(calibrated, cs)
		used = append(used, raw.Scorer)
	}

	fused, err := s.fuser.Fuse(calibrated)
	if err != nil {
		return nil, err
	}

	pred := &domain.Prediction{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		TxID:        tx.ID,
		Timestamp:   time.Now().UTC(),
		FraudScore:  fused.FraudScore,
		RiskLabel:   fused.RiskLabel,
		ModelScores: fused.ModelScores,
		Metadata: domain.PredictionMetadata{
			TraceID:        traceID,
			FeatureMs:      featureMs,
			ScoreMs:        scoreMs,
			TotalMs:        time.Since(start).Milliseconds(),
			ScorersUsed:    used,
			ScorersSkipped: skipped,
			EngineVersion:  EngineVersion,
		},
	}

	span.SetAttributes(
		attribute.Float64("fraud.score", pred.FraudScore),
		attribute.String("risk.label", string(pred.RiskLabel)),
	)

	s.persist(ctx, tenantID, tx, pred, history)

	// A transaction that never entered the graph silently degrades
	// ring detection, so lock contention is an error to the caller.
	if err := s.detector.Update(ctx, tenantID, tx, pred.FraudScore); err != nil {
		s.logger.Error("entity graph update failed",
			"tenant_id", tenantID,
			"tx_id", tx.ID,
			"error", err,
		)
		return nil, err
	}

	s.publish(ctx, tenantID, tx, pred)

	s.logger.Info("transaction scored",
		"tenant_id", tenantID,
		"tx_id", tx.ID,
		"fraud_score", pred.FraudScore,
		"risk_label", pred.RiskLabel,
		"scorers_used", len(used),
		"total_ms", pred.Metadata.TotalMs,
	)

	return pred, nil
}

// BatchItem is one slot of a batch scoring result.
type BatchItem struct {
	Prediction *domain.Prediction `json:"prediction,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// PredictBatch scores multiple transactions in order. A failed item
// does not abort the batch; its slot carries the error instead.
func (s *Service) PredictBatch(ctx context.Context, tenantID, traceID string, reqs []*domain.PredictRequest) []BatchItem {
	items := make([]BatchItem, len(reqs))
	for i, req := range reqs {
		if ctx.Err() != nil {
			items[i] = BatchItem{Error: ctx.Err().Error()}
			continue
		}
		pred, err := s.Predict(ctx, tenantID, traceID, req)
		if err != nil {
			items[i] = BatchItem{Error: err.Error()}
			continue
		}
		items[i] = BatchItem{Prediction: pred}
	}
	return items
}

// scoreAll fans the feature vector out to every available scorer with
// a per-scorer timeout. Scorers that miss the deadline or error are
// skipped; the remaining scores carry the prediction.
func (s *Service) scoreAll(ctx context.Context, tenantID string, tx *domain.Transaction, vector domain.FeatureVector) (raws []domain.RawScore, skipped []domain.ScorerID) {
	input := &scorer.Input{
		Vector: vector,
		Tx:     tx,
		Graph:  s.detector,
	}

	type outcome struct {
		raw domain.RawScore
		err error
		id  domain.ScorerID
	}

	outcomes := make([]outcome, len(s.ensemble))
	var wg sync.WaitGroup
	for i, sc := range s.ensemble {
		wg.Add(1)
		go func(idx int, sc scorer.Scorer) {
			defer wg.Done()

			scoreCtx, cancel := context.WithTimeout(ctx, s.cfg.ScorerTimeout)
			defer cancel()

			done := make(chan outcome, 1)
			go func() {
				raw, err := sc.Score(scoreCtx, input)
				done <- outcome{raw: raw, err: err, id: sc.ID()}
			}()

			select {
			case out := <-done:
				outcomes[idx] = out
			case <-scoreCtx.Done():
				outcomes[idx] = outcome{err: scoreCtx.Err(), id: sc.ID()}
			}
		}(i, sc)
	}
	wg.Wait()

	for _, out := range outcomes {
		if out.err != nil {
			if !errors.Is(out.err, domain.ErrModelUnavailable) {
				s.logger.Warn("scorer skipped",
					"tenant_id", tenantID,
					"tx_id", tx.ID,
					"scorer", out.id,
					"error", out.err,
				)
			}
			skipped = append(skipped, out.id)
			continue
		}
		raws = append(raws, out.raw)
	}
	return raws, skipped
}

// resolveHistory loads the user's recent transactions, preferring the
// cache and falling back to the repository. Failures degrade to an
// empty window; the feature builder handles cold starts.
func (s *Service) resolveHistory(ctx context.Context, tenantID, userID string) []*domain.Transaction {
	if userID == "" {
		return nil
	}

	if s.cache != nil {
		history, err := s.cache.GetHistory(ctx, tenantID, userID)
		if err == nil && history != nil {
			return history
		}
	}

	if s.repo == nil {
		return nil
	}

	history, err := s.repo.GetRecentByUser(ctx, tenantID, userID, s.cfg.HistoryWindow)
	if err != nil {
		s.logger.Warn("history lookup failed",
			"tenant_id", tenantID,
			"user_id", userID,
			"error", err,
		)
		return nil
	}

	if s.cache != nil && len(history) > 0 {
		if err := s.cache.SetHistory(ctx, tenantID, userID, history, historyTTL); err != nil {
			s.logger.Debug("history cache write failed",
				"tenant_id", tenantID,
				"user_id", userID,
				"error", err,
			)
		}
	}
	return history
}

// persist saves the transaction and prediction and refreshes the
// cached history window. Persistence failures are logged, not fatal;
// the caller still gets their score.
func (s *Service) persist(ctx context.Context, tenantID string, tx *domain.Transaction, pred *domain.Prediction, history []*domain.Transaction) {
	if s.repo != nil {
		if err := s.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			s.logger.Error("failed to save transaction",
				"tenant_id", tenantID,
				"tx_id", tx.ID,
				"error", err,
			)
		}
		if err := s.repo.SavePrediction(ctx, tenantID, pred); err != nil {
			s.logger.Error("failed to save prediction",
				"tenant_id", tenantID,
				"prediction_id", pred.ID,
				"error", err,
			)
		}
	}

	if s.cache != nil && tx.UserID != "" {
		window := append([]*domain.Transaction{tx}, history...)
		if len(window) > s.cfg.HistoryWindow {
			window = window[:s.cfg.HistoryWindow]
		}
		if err := s.cache.SetHistory(ctx, tenantID, tx.UserID, window, historyTTL); err != nil {
			s.logger.Debug("history cache write failed",
				"tenant_id", tenantID,
				"user_id", tx.UserID,
				"error", err,
			)
		}

		// Hourly per-user scoring counter, visible to operators in
		// debug logs and usable for rate inspection.
		if n, err := s.cache.IncrementCounter(ctx, tenantID, "scored:"+tx.UserID, time.Hour); err == nil {
			s.logger.Debug("user scoring volume",
				"tenant_id", tenantID,
				"user_id", tx.UserID,
				"hour_count", n,
			)
		}
	}
}

// publish emits the scored prediction for async consumers.
func (s *Service) publish(ctx context.Context, tenantID string, tx *domain.Transaction, pred *domain.Prediction) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(&scoredPayload{Prediction: pred, Transaction: tx})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, tenantID, domain.TopicPredictionScored, payload); err != nil {
		s.logger.Error("failed to publish prediction",
			"tenant_id", tenantID,
			"prediction_id", pred.ID,
			"error", err,
		)
	}
}

// Replay rebuilds the tenant's entity graph from persisted
// transactions. Runs at startup so cluster detection survives
// restarts. Replayed transactions carry no fraud score; node risk is
// re-established as new predictions arrive.
func (s *Service) Replay(ctx context.Context, tenantID string, lookback time.Duration) (int, error) {
	if s.repo == nil {
		return 0, nil
	}

	since := time.Now().UTC().Add(-lookback)
	txs, err := s.repo.GetTransactionsSince(ctx, tenantID, since)
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, tx := range txs {
		if err := s.detector.Update(ctx, tenantID, tx, 0); err != nil {
			s.logger.Warn("graph replay skipped transaction",
				"tenant_id", tenantID,
				"tx_id", tx.ID,
				"error", err,
			)
			continue
		}
		replayed++
	}

	s.logger.Info("entity graph replayed",
		"tenant_id", tenantID,
		"transactions", replayed,
	)
	return replayed, nil
}
