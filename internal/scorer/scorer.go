// Package scorer provides the anomaly scoring ensemble. Each scorer
// wraps a pre-trained artifact loaded once at process start and
// treated as read-only for the process lifetime.
package scorer

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Input carries everything a scorer may consume for one call.
type Input struct {
	// Vector is the feature vector built for the transaction.
	Vector domain.FeatureVector

	// Tx is the transaction being scored.
	Tx *domain.Transaction

	// Graph is the entity graph view for relational context. Nil for
	// scorers that do not consume graph state.
	Graph GraphContext
}

// GraphContext is the narrow read view of the entity graph consumed
// by the relational scorer.
type GraphContext interface {
	// Degree returns the number of distinct graph neighbors of an
	// entity, or 0 if the entity has never been seen.
	Degree(tenantID string, entityID string) int
}

// Scorer computes a raw anomaly score from a feature vector. Raw
// scores are oriented so that higher always means more anomalous.
// Implementations are stateless at call time.
type Scorer interface {
	ID() domain.ScorerID

	// Available reports whether the backing artifact loaded.
	Available() bool

	// Score computes the raw score. Returns domain.ErrModelUnavailable
	// when the artifact is absent.
	Score(ctx context.Context, input *Input) (domain.RawScore, error)
}

// Ensemble is the ordered scorer set used by the prediction service.
type Ensemble []Scorer

// NewEnsemble loads all three scorers from the model directory.
// A scorer whose artifact is missing or corrupt is constructed in the
// unavailable state; loading never fails the process.
func NewEnsemble(modelDir string) Ensemble {
	recon := NewReconstruction(modelDir)
	density := NewDensity(modelDir)
	relational := NewRelational(modelDir)

	for _, s := range []Scorer{recon, density, relational} {
		if !s.Available() {
			slog.Warn("scorer artifact unavailable, fusion will degrade",
				"scorer", s.ID(),
				"model_dir", modelDir,
			)
		}
	}

	return Ensemble{recon, density, relational}
}

// Available returns the subset of scorers whose artifacts loaded.
func (e Ensemble) Available() []domain.ScorerID {
	var ids []domain.ScorerID
	for _, s := range e {
		if s.Available() {
			ids = append(ids, s.ID())
		}
	}
	return ids
}
