package scorer

import (
	"context"
	"log/slog"
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
)

// mseCap bounds the reconstruction error before normalization so a
// single wild input cannot saturate float math.
const mseCap = 10.0

// Reconstruction flags inputs with high reconstruction error from a
// linear compressive model: the standardized vector is projected onto
// the component basis and back, and the mean squared residual is
// normalized into [0,1) via 1-exp(-mse).
type Reconstruction struct {
	artifact *ReconstructionArtifact
}

// NewReconstruction loads the reconstruction artifact from the model
// directory. On failure the scorer is returned unavailable.
func NewReconstruction(modelDir string) *Reconstruction {
	var a ReconstructionArtifact
	if err := loadArtifact(modelDir, reconstructionFile, &a); err != nil {
		slog.Warn("reconstruction artifact load failed", "error", err)
		return &Reconstruction{}
	}
	slog.Info("reconstruction artifact loaded",
		"version", a.Version,
		"components", len(a.Components),
	)
	return &Reconstruction{artifact: &a}
}

func (r *Reconstruction) ID() domain.ScorerID {
	return domain.ScorerReconstruction
}

func (r *Reconstruction) Available() bool {
	return r.artifact != nil
}

// Score computes the normalized reconstruction error. Output lies in
// [0,1) with higher values meaning more anomalous.
func (r *Reconstruction) Score(ctx context.Context, input *Input) (domain.RawScore, error) {
	if r.artifact == nil {
		return domain.RawScore{}, domain.ErrModelUnavailable
	}
	if err := ctx.Err(); err != nil {
		return domain.RawScore{}, err
	}

	a := r.artifact

	// Standardize
	var x [domain.FeatureDim]float64
	for i := 0; i < domain.FeatureDim; i++ {
		scale := a.Scale[i]
		if scale == 0 {
			scale = 1
		}
		x[i] = (input.Vector[i] - a.Mean[i]) / scale
	}

	// Encode: z = C * x
	z := make([]float64, len(a.Components))
	for k, comp := range a.Components {
		var dot float64
		for i := 0; i < domain.FeatureDim; i++ {
			dot += comp[i] * x[i]
		}
		z[k] = dot
	}

	// Decode: x_hat = C^T * z, residual accumulated in place
	var mse float64
	for i := 0; i < domain.FeatureDim; i++ {
		var rec float64
		for k, comp := range a.Components {
			rec += comp[i] * z[k]
		}
		d := x[i] - rec
		mse += d * d
	}
	mse /= domain.FeatureDim

	raw := 1 - math.Exp(-math.Min(mse, mseCap))

	return domain.RawScore{Scorer: r.ID(), Value: raw}, nil
}
