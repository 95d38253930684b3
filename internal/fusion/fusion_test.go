package fusion

import (
	"errors"
	"math"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestFuseEqualWeights(t *testing.T) {
	f := New(0.3, 0.7)

	result, err := f.Fuse([]domain.CalibratedScore{
		{Scorer: domain.ScorerReconstruction, Probability: 0.2},
		{Scorer: domain.ScorerDensity, Probability: 0.4},
		{Scorer: domain.ScorerRelational, Probability: 0.6},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(result.FraudScore-0.4) > 1e-9 {
		t.Errorf("fraud score = %v, want 0.4", result.FraudScore)
	}
	if len(result.ModelScores) != 3 {
		t.Errorf("model scores len = %d, want 3", len(result.ModelScores))
	}
}

func TestFuseRenormalization(t *testing.T) {
	f := New(0.3, 0.7)

	// One scorer missing: the average runs over the present two.
	result, err := f.Fuse([]domain.CalibratedScore{
		{Scorer: domain.ScorerReconstruction, Probability: 0.8},
		{Scorer: domain.ScorerDensity, Probability: 0.6},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(result.FraudScore-0.7) > 1e-9 {
		t.Errorf("fraud score = %v, want 0.7", result.FraudScore)
	}
	if _, ok := result.ModelScores[domain.ScorerRelational]; ok {
		t.Error("absent scorer must not appear in model scores")
	}
}

func TestFuseSingleScorer(t *testing.T) {
	f := New(0.3, 0.7)

	result, err := f.Fuse([]domain.CalibratedScore{
		{Scorer: domain.ScorerDensity, Probability: 0.55},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FraudScore != 0.55 {
		t.Errorf("fraud score = %v, want 0.55", result.FraudScore)
	}
	if result.RiskLabel != domain.RiskMedium {
		t.Errorf("risk label = %v, want MEDIUM", result.RiskLabel)
	}
}

func TestFuseOrderIndependent(t *testing.T) {
	f := New(0.3, 0.7)

	scores := []domain.CalibratedScore{
		{Scorer: domain.ScorerReconstruction, Probability: 0.1},
		{Scorer: domain.ScorerDensity, Probability: 0.9},
		{Scorer: domain.ScorerRelational, Probability: 0.3},
	}
	reversed := []domain.CalibratedScore{scores[2], scores[1], scores[0]}

	a, err := f.Fuse(scores)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := f.Fuse(reversed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.FraudScore != b.FraudScore {
		t.Errorf("fusion depends on input order: %v vs %v", a.FraudScore, b.FraudScore)
	}
}

func TestFuseEmpty(t *testing.T) {
	f := New(0.3, 0.7)

	_, err := f.Fuse(nil)
	if !errors.Is(err, domain.ErrAllScorersUnavailable) {
		t.Errorf("expected ErrAllScorersUnavailable, got %v", err)
	}
}

func TestLabelBands(t *testing.T) {
	f := New(0.3, 0.7)

	cases := []struct {
		score float64
		want  domain.RiskLabel
	}{
		{0.0, domain.RiskLow},
		{0.29, domain.RiskLow},
		{0.30, domain.RiskMedium},
		{0.5, domain.RiskMedium},
		{0.69, domain.RiskMedium},
		{0.70, domain.RiskHigh},
		{1.0, domain.RiskHigh},
	}
	for _, tc := range cases {
		if got := f.Label(tc.score); got != tc.want {
			t.Errorf("Label(%v) = %v, want %v", tc.score, got, tc.want)
		}
	}
}
