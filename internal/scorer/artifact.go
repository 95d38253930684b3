package scorer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Artifact file names under the model directory.
const (
	reconstructionFile = "reconstruction.json"
	densityFile        = "density.json"
	relationalFile     = "relational.json"
)

// ArtifactInfo is the common header of every model artifact.
type ArtifactInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	TrainedAt string `json:"trainedAt,omitempty"`
	Dim       int    `json:"dim"`
}

// ReconstructionArtifact holds a linear compressive model: input
// standardization plus an orthonormal component basis. Reconstruction
// projects the standardized vector onto the basis and back.
type ReconstructionArtifact struct {
	ArtifactInfo

	// Mean and Scale standardize the input vector per feature.
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`

	// Components is the k x dim encoding basis.
	Components [][]float64 `json:"components"`
}

func (a *ReconstructionArtifact) validate() error {
	if a.Dim != domain.FeatureDim {
		return fmt.Errorf("reconstruction artifact dim %d, want %d", a.Dim, domain.FeatureDim)
	}
	if len(a.Mean) != a.Dim || len(a.Scale) != a.Dim {
		return fmt.Errorf("reconstruction artifact standardization shape mismatch")
	}
	if len(a.Components) == 0 {
		return fmt.Errorf("reconstruction artifact has no components")
	}
	for i, c := range a.Components {
		if len(c) != a.Dim {
			return fmt.Errorf("reconstruction component %d has length %d, want %d", i, len(c), a.Dim)
		}
	}
	return nil
}

// DensityTreeNode is one node of an isolation tree, addressed by
// index. A node with SplitFeature < 0 is a leaf holding the size of
// the training sample that reached it.
type DensityTreeNode struct {
	SplitFeature int     `json:"splitFeature"`
	Threshold    float64 `json:"threshold"`
	Left         int     `json:"left"`
	Right        int     `json:"right"`
	Size         int     `json:"size"`
}

// DensityTree is one isolation tree as a node arena rooted at index 0.
type DensityTree struct {
	Nodes []DensityTreeNode `json:"nodes"`
}

// DensityArtifact holds an isolation ensemble.
type DensityArtifact struct {
	ArtifactInfo

	SampleSize int           `json:"sampleSize"`
	Trees      []DensityTree `json:"trees"`
}

func (a *DensityArtifact) validate() error {
	if a.Dim != domain.FeatureDim {
		return fmt.Errorf("density artifact dim %d, want %d", a.Dim, domain.FeatureDim)
	}
	if a.SampleSize < 2 {
		return fmt.Errorf("density artifact sample size %d too small", a.SampleSize)
	}
	if len(a.Trees) == 0 {
		return fmt.Errorf("density artifact has no trees")
	}
	for ti, tree := range a.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("density tree %d is empty", ti)
		}
		for ni, n := range tree.Nodes {
			if n.SplitFeature >= domain.FeatureDim {
				return fmt.Errorf("density tree %d node %d splits on feature %d", ti, ni, n.SplitFeature)
			}
			if n.SplitFeature >= 0 {
				if n.Left < 0 || n.Left >= len(tree.Nodes) || n.Right < 0 || n.Right >= len(tree.Nodes) {
					return fmt.Errorf("density tree %d node %d has out-of-range children", ti, ni)
				}
			}
		}
	}
	return nil
}

// RelationalArtifact holds entity embeddings derived from the
// transaction graph.
type RelationalArtifact struct {
	ArtifactInfo

	EmbeddingDim int                  `json:"embeddingDim"`
	Embeddings   map[string][]float64 `json:"embeddings"`
}

func (a *RelationalArtifact) validate() error {
	if a.EmbeddingDim <= 0 {
		return fmt.Errorf("relational artifact embedding dim %d", a.EmbeddingDim)
	}
	for id, emb := range a.Embeddings {
		if len(emb) != a.EmbeddingDim {
			return fmt.Errorf("relational embedding %q has length %d, want %d", id, len(emb), a.EmbeddingDim)
		}
	}
	return nil
}

// loadArtifact reads and decodes one artifact file. A missing file is
// reported distinctly from a corrupt one, but both leave the scorer
// unavailable.
func loadArtifact(dir, file string, out interface{ validate() error }) error {
	path := filepath.Join(dir, file)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read artifact %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse artifact %s: %w", path, err)
	}
	if err := out.validate(); err != nil {
		return fmt.Errorf("invalid artifact %s: %w", path, err)
	}
	return nil
}
