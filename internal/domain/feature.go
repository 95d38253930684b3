package domain

// FeatureDim is the fixed dimensionality of every feature vector.
// Scorer artifacts are trained against this exact layout.
const FeatureDim = 14

// FeatureNames lists the vector layout in order. The index of a name
// is the index of its value in a FeatureVector.
var FeatureNames = [FeatureDim]string{
	"amount",
	"amount_log",
	"amount_zscore",
	"velocity_count",
	"velocity_ratio",
	"merchant_rarity",
	"merchant_share",
	"device_novelty",
	"ip_novelty",
	"hour_sin",
	"hour_cos",
	"day_of_week",
	"is_weekend",
	"currency_code",
}

// FeatureVector is a fixed-length ordered sequence of numeric features
// derived from one transaction plus the user's recent history. Built
// fresh per scoring call and never persisted.
type FeatureVector [FeatureDim]float64
