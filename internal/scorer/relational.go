package scorer

import (
	"context"
	"log/slog"
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Relational scores a transaction by how poorly its entities fit
// together: entities that rarely share transaction context have
// dissimilar embeddings, and entity combinations unseen by the graph
// carry extra novelty weight.
type Relational struct {
	artifact *RelationalArtifact
}

// Blend weights between embedding dissimilarity and graph novelty.
const (
	dissimilarityWeight = 0.7
	noveltyWeight       = 0.3
)

// NewRelational loads the relational artifact from the model
// directory. On failure the scorer is returned unavailable.
func NewRelational(modelDir string) *Relational {
	var a RelationalArtifact
	if err := loadArtifact(modelDir, relationalFile, &a); err != nil {
		slog.Warn("relational artifact load failed", "error", err)
		return &Relational{}
	}
	slog.Info("relational artifact loaded",
		"version", a.Version,
		"entities", len(a.Embeddings),
	)
	return &Relational{artifact: &a}
}

func (r *Relational) ID() domain.ScorerID {
	return domain.ScorerRelational
}

func (r *Relational) Available() bool {
	return r.artifact != nil
}

// Score computes the relational raw score in [0,1], centered near 0.5
// for unremarkable entity combinations. A pair with no embedding
// contributes the neutral midpoint rather than failing.
func (r *Relational) Score(ctx context.Context, input *Input) (domain.RawScore, error) {
	if r.artifact == nil {
		return domain.RawScore{}, domain.ErrModelUnavailable
	}
	if err := ctx.Err(); err != nil {
		return domain.RawScore{}, err
	}

	entities := txEntities(input.Tx)

	dissim := r.meanDissimilarity(entities)
	nov := graphNovelty(input, entities)

	raw := dissimilarityWeight*dissim + noveltyWeight*nov

	return domain.RawScore{Scorer: r.ID(), Value: raw}, nil
}

// meanDissimilarity averages pairwise embedding dissimilarity across
// the transaction's entities. Dissimilarity is (1-cos)/2 in [0,1].
func (r *Relational) meanDissimilarity(entities []string) float64 {
	if len(entities) < 2 {
		return 0.5
	}

	var sum float64
	var pairs int
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			a, okA := r.artifact.Embeddings[entities[i]]
			b, okB := r.artifact.Embeddings[entities[j]]
			if !okA || !okB {
				sum += 0.5
			} else {
				sum += (1 - cosine(a, b)) / 2
			}
			pairs++
		}
	}
	return sum / float64(pairs)
}

// graphNovelty is the fraction of the transaction's entities the
// entity graph has never connected to anything. Without graph context
// the term is neutral.
func graphNovelty(input *Input, entities []string) float64 {
	if input.Graph == nil || input.Tx == nil || len(entities) == 0 {
		return 0.5
	}
	var unseen int
	for _, e := range entities {
		if input.Graph.Degree(input.Tx.TenantID, e) == 0 {
			unseen++
		}
	}
	return float64(unseen) / float64(len(entities))
}

// txEntities lists the transaction's non-empty entity ids, prefixed
// by type to match the graph and embedding key space.
func txEntities(tx *domain.Transaction) []string {
	if tx == nil {
		return nil
	}
	var out []string
	if tx.UserID != "" {
		out = append(out, string(domain.EntityUser)+":"+tx.UserID)
	}
	if tx.DeviceID != "" {
		out = append(out, string(domain.EntityDevice)+":"+tx.DeviceID)
	}
	if tx.MerchantID != "" {
		out = append(out, string(domain.EntityMerchant)+":"+tx.MerchantID)
	}
	if tx.IPAddress != "" {
		out = append(out, string(domain.EntityIP)+":"+tx.IPAddress)
	}
	return out
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
