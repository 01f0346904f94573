package domain

// FeatureVector is the numeric model input. Its length and order always
// match the feature list of the snapshot that produced it.
type FeatureVector []float64

// Decision is the action recommended for a transaction.
type Decision string

const (
	DecisionAllow  Decision = "ALLOW"
	DecisionReview Decision = "REVIEW"
	DecisionBlock  Decision = "BLOCK"
)

// Effect labels for attribution entries. Zero impact counts as reducing.
const (
	EffectIncrease = "increase fraud risk"
	EffectReduce   = "reduce fraud risk"
)

// AttributionEntry is one feature's signed contribution to the fraud log-odds.
type AttributionEntry struct {
	Feature string  `json:"feature"`
	Impact  float64 `json:"impact"`
	Effect  string  `json:"effect"`
}

// EffectOf labels a contribution by its sign.
func EffectOf(impact float64) string {
	if impact > 0 {
		return EffectIncrease
	}
	return EffectReduce
}

// ScoreResult is the engine output for a single transaction.
type ScoreResult struct {
	ID             string             `json:"id"`
	Probability    float64            `json:"fraud_probability"`
	Prediction     int                `json:"fraud_prediction"`
	Decision       Decision           `json:"decision"`
	TopRiskFactors []AttributionEntry `json:"top_risk_factors"`

	// Model provenance and raw log-odds, useful for audit.
	ModelVersion  string  `json:"model_version"`
	Margin        float64 `json:"margin"`
	ExpectedValue float64 `json:"expected_value"`
}
