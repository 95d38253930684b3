// Package fusion combines calibrated ensemble scores into one fraud
// score and a discrete risk label.
package fusion

import (
	"github.com/opensource-finance/harrier/internal/domain"
)

// Fuser computes the weighted combination of calibrated scores.
// Weights are equal by default and renormalize automatically when a
// scorer is missing from the input set.
type Fuser struct {
	weights         map[domain.ScorerID]float64
	thresholdMedium float64
	thresholdHigh   float64
}

// New creates a fuser with equal weights and the given label
// thresholds.
func New(thresholdMedium, thresholdHigh float64) *Fuser {
	return &Fuser{
		weights: map[domain.ScorerID]float64{
			domain.ScorerReconstruction: 1.0,
			domain.ScorerDensity:        1.0,
			domain.ScorerRelational:     1.0,
		},
		thresholdMedium: thresholdMedium,
		thresholdHigh:   thresholdHigh,
	}
}

// Fuse combines the available calibrated scores:
// fraud_score = sum(w_i * p_i) / sum(w_i) over the scorers present.
// The result is independent of input order. An empty input set is the
// AllScorersUnavailable condition.
func (f *Fuser) Fuse(scores []domain.CalibratedScore) (*domain.FusionResult, error) {
	if len(scores) == 0 {
		return nil, domain.ErrAllScorersUnavailable
	}

	modelScores := make(map[domain.ScorerID]float64, len(scores))

	var weighted, total float64
	for _, s := range scores {
		w, ok := f.weights[s.Scorer]
		if !ok {
			w = 1.0
		}
		weighted += w * s.Probability
		total += w
		modelScores[s.Scorer] = s.Probability
	}

	fraudScore := weighted / total

	return &domain.FusionResult{
		FraudScore:  fraudScore,
		RiskLabel:   f.Label(fraudScore),
		ModelScores: modelScores,
	}, nil
}

// Label maps a fused score to its risk band. Bands are half-open with
// a closed lower bound, so a score exactly at a threshold resolves to
// the higher band.
func (f *Fuser) Label(score float64) domain.RiskLabel {
	switch {
	case score >= f.thresholdHigh:
		return domain.RiskHigh
	case score >= f.thresholdMedium:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}
