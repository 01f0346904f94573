// Package policy maps a fraud probability to an action and a binary
// prediction.
package policy

import (
	"math"

	"github.com/Thisen-Ekanayake/Plutus/internal/domain"
)

// ReviewMultiplier scales the threshold down to the start of the REVIEW band.
const ReviewMultiplier = 0.7

// DefaultPredictionCutoff is the probability at which fraud_prediction is 1.
const DefaultPredictionCutoff = 0.5

// Decide returns BLOCK for p >= t, REVIEW for t*0.7 <= p < t and ALLOW
// below that. Lower bounds are inclusive. p must lie in [0,1] and t in
// (0,1); nothing is clamped.
func Decide(p, t float64) (domain.Decision, error) {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return "", &domain.InvariantViolationError{What: "probability outside [0,1]", Value: p}
	}
	if math.IsNaN(t) || t <= 0 || t >= 1 {
		return "", &domain.InvariantViolationError{What: "threshold outside (0,1)", Value: t}
	}

	switch {
	case p >= t:
		return domain.DecisionBlock, nil
	case p >= t*ReviewMultiplier:
		return domain.DecisionReview, nil
	default:
		return domain.DecisionAllow, nil
	}
}

// Predict returns 1 iff p >= cutoff. It is independent of the decision
// threshold, so prediction and decision may disagree.
func Predict(p, cutoff float64) int {
	if p >= cutoff {
		return 1
	}
	return 0
}

// ShouldAlert reports whether a decision needs human or downstream action.
func ShouldAlert(d domain.Decision) bool {
	return d == domain.DecisionReview || d == domain.DecisionBlock
}

// Policy binds a threshold and prediction cutoff.
type Policy struct {
	Threshold float64
	Cutoff    float64
}

// New returns a policy with the default prediction cutoff.
func New(threshold float64) *Policy {
	return &Policy{Threshold: threshold, Cutoff: DefaultPredictionCutoff}
}

// Apply returns the decision and prediction for p.
func (pol *Policy) Apply(p float64) (domain.Decision, int, error) {
	d, err := Decide(p, pol.Threshold)
	if err != nil {
		return "", 0, err
	}
	return d, Predict(p, pol.Cutoff), nil
}
