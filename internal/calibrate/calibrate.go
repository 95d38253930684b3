// Package calibrate maps raw anomaly scores to bounded probabilities.
package calibrate

import (
	"fmt"
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Calibrator applies a per-scorer logistic transform. Parameters are
// fixed at construction; calibration never reads ambient state.
type Calibrator struct {
	params map[domain.ScorerID]domain.CalibrationParams
}

// New creates a calibrator from validated configuration.
func New(params map[domain.ScorerID]domain.CalibrationParams) *Calibrator {
	return &Calibrator{params: params}
}

// Calibrate maps a raw score to a probability in (0,1) exclusive:
// p = 1 / (1 + exp(-k*(raw-loc))), optionally sharpened by p^gamma.
// The transform is monotone non-decreasing in the raw value, so a
// higher raw anomaly never produces a lower probability.
func (c *Calibrator) Calibrate(raw domain.RawScore) (domain.CalibratedScore, error) {
	p, ok := c.params[raw.Scorer]
	if !ok {
		return domain.CalibratedScore{}, fmt.Errorf("no calibration for scorer %s", raw.Scorer)
	}

	prob := sigmoid(p.Steepness, p.Center, raw.Value)

	// Gamma sharpening is applied after the sigmoid: values above the
	// center are pushed toward 1 and values below toward 0 as gamma
	// grows past 1. Sharpening the raw value instead would break the
	// (0,1) bound.
	if p.Gamma != 1.0 {
		prob = math.Pow(prob, p.Gamma)
	}

	// The sigmoid never reaches exact 0 or 1, but float underflow at
	// extreme raw values can. Keep the exclusive bound.
	prob = math.Max(math.SmallestNonzeroFloat64, math.Min(prob, 1-1e-12))

	return domain.CalibratedScore{Scorer: raw.Scorer, Probability: prob}, nil
}

func sigmoid(k, loc, x float64) float64 {
	return 1 / (1 + math.Exp(-k*(x-loc)))
}
