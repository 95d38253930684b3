package scorer

import (
	"context"
	"log/slog"
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Density flags inputs that isolate quickly in an ensemble of
// isolation trees: the shorter the average path to a leaf, the easier
// the point separates from the bulk of training data.
type Density struct {
	artifact *DensityArtifact

	// avgPath is c(sampleSize), the expected path length of an
	// unsuccessful BST search, precomputed at load time.
	avgPath float64
}

// NewDensity loads the density artifact from the model directory.
// On failure the scorer is returned unavailable.
func NewDensity(modelDir string) *Density {
	var a DensityArtifact
	if err := loadArtifact(modelDir, densityFile, &a); err != nil {
		slog.Warn("density artifact load failed", "error", err)
		return &Density{}
	}
	slog.Info("density artifact loaded",
		"version", a.Version,
		"trees", len(a.Trees),
		"sample_size", a.SampleSize,
	)
	return &Density{
		artifact: &a,
		avgPath:  expectedPathLength(a.SampleSize),
	}
}

func (d *Density) ID() domain.ScorerID {
	return domain.ScorerDensity
}

func (d *Density) Available() bool {
	return d.artifact != nil
}

// Score computes the centered isolation score. The classic isolation
// score s = 2^(-E[h]/c(n)) lies in (0,1] with ~0.5 for ordinary
// points; centering at zero puts normal inputs near 0 and anomalies
// toward +0.5, matching the calibration center of 0.
func (d *Density) Score(ctx context.Context, input *Input) (domain.RawScore, error) {
	if d.artifact == nil {
		return domain.RawScore{}, domain.ErrModelUnavailable
	}
	if err := ctx.Err(); err != nil {
		return domain.RawScore{}, err
	}

	var total float64
	for _, tree := range d.artifact.Trees {
		total += pathLength(&tree, input.Vector)
	}
	mean := total / float64(len(d.artifact.Trees))

	s := math.Pow(2, -mean/d.avgPath)
	raw := s - 0.5

	return domain.RawScore{Scorer: d.ID(), Value: raw}, nil
}

// pathLength walks one tree and returns the path depth, extended by
// the expected depth of the leaf's residual sample.
func pathLength(tree *DensityTree, v domain.FeatureVector) float64 {
	depth := 0.0
	idx := 0
	for {
		node := tree.Nodes[idx]
		if node.SplitFeature < 0 {
			return depth + expectedPathLength(node.Size)
		}
		depth++
		if v[node.SplitFeature] < node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
	}
}

// expectedPathLength is c(n): the average path length of an
// unsuccessful search in a BST of n nodes.
func expectedPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	fn := float64(n)
	// 2*H(n-1) - 2*(n-1)/n, with H approximated by ln + Euler-Mascheroni
	return 2*(math.Log(fn-1)+0.5772156649) - 2*(fn-1)/fn
}
