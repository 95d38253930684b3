package domain

import (
	"time"
)

// ScorerID identifies one member of the scoring ensemble.
type ScorerID string

const (
	ScorerReconstruction ScorerID = "reconstruction"
	ScorerDensity        ScorerID = "density"
	ScorerRelational     ScorerID = "relational"
)

// RawScore is the unbounded output of a single scorer.
// Higher values always mean more anomalous.
type RawScore struct {
	Scorer ScorerID `json:"scorer"`
	Value  float64  `json:"value"`
}

// CalibratedScore is a raw score mapped to a probability in (0,1).
type CalibratedScore struct {
	Scorer      ScorerID `json:"scorer"`
	Probability float64  `json:"probability"`
}

// RiskLabel is the discrete risk band derived from the fused score.
type RiskLabel string

const (
	RiskLow    RiskLabel = "LOW"
	RiskMedium RiskLabel = "MEDIUM"
	RiskHigh   RiskLabel = "HIGH"
)

// FusionResult combines the calibrated ensemble scores into a single
// fraud score and label. ModelScores retains the per-scorer
// probabilities for transparency; a scorer that was unavailable for
// the call is simply absent from the map.
type FusionResult struct {
	FraudScore  float64              `json:"fraudScore"`
	RiskLabel   RiskLabel            `json:"riskLabel"`
	ModelScores map[ScorerID]float64 `json:"modelScores"`
}

// Prediction is the complete scoring result for one transaction.
type Prediction struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	TxID      string    `json:"txId"`
	Timestamp time.Time `json:"timestamp"`

	FraudScore  float64              `json:"fraudScore"`
	RiskLabel   RiskLabel            `json:"riskLabel"`
	ModelScores map[ScorerID]float64 `json:"modelScores"`

	// Processing metadata
	Metadata PredictionMetadata `json:"metadata"`
}

// PredictionMetadata contains processing information.
type PredictionMetadata struct {
	TraceID        string     `json:"traceId"`
	FeatureMs      int64      `json:"featureMs"`
	ScoreMs        int64      `json:"scoreMs"`
	TotalMs        int64      `json:"totalMs"`
	ScorersUsed    []ScorerID `json:"scorersUsed"`
	ScorersSkipped []ScorerID `json:"scorersSkipped,omitempty"`
	EngineVersion  string     `json:"engineVersion"`
}

// PredictResponse is the API response for POST /predict.
type PredictResponse struct {
	PredictionID string               `json:"predictionId"`
	TxID         string               `json:"txId"`
	TenantID     string               `json:"tenantId"`
	FraudScore   float64              `json:"fraudScore"`
	RiskLabel    RiskLabel            `json:"riskLabel"`
	ModelScores  map[ScorerID]float64 `json:"modelScores"`
	Metadata     PredictionMetadata   `json:"metadata"`
}

// ToResponse converts a Prediction to an API response.
func (p *Prediction) ToResponse() *PredictResponse {
	return &PredictResponse{
		PredictionID: p.ID,
		TxID:         p.TxID,
		TenantID:     p.TenantID,
		FraudScore:   p.FraudScore,
		RiskLabel:    p.RiskLabel,
		ModelScores:  p.ModelScores,
		Metadata:     p.Metadata,
	}
}
