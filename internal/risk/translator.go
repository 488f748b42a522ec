// Package risk turns classifier output into the business-facing risk score
// and label, and packages the result for storage.
package risk

import (
	"math"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// Label cutoffs on the integer score. A score must exceed the cutoff.
const (
	HighCutoff   = 75
	MediumCutoff = 40
)

// Translate maps a fraud probability to a 0-100 score and a label.
// The score is floor(p*100) clamped to [0,100]; NaN scores 0.
func Translate(p float64) domain.RiskAssessment {
	score := 0
	if !math.IsNaN(p) {
		f := math.Floor(p * 100)
		switch {
		case f < 0:
			score = 0
		case f > 100:
			score = 100
		default:
			score = int(f)
		}
	}
	return domain.RiskAssessment{RiskScore: score, RiskLabel: Label(score)}
}

// Label returns the label for an integer score.
func Label(score int) string {
	switch {
	case score > HighCutoff:
		return domain.LabelHigh
	case score > MediumCutoff:
		return domain.LabelMedium
	default:
		return domain.LabelLow
	}
}

// FraudProbability extracts P(fraud) from a scoring result. Probabilities
// are authoritative; a result carrying only the predicted class does not
// have enough resolution for a 0-100 score and is rejected.
func FraudProbability(res domain.ScoringResult) (float64, error) {
	switch {
	case len(res.Probabilities) == 2:
		p := res.Probabilities[1]
		if math.IsNaN(p) || p < 0 || p > 1 {
			return 0, &domain.ScoringError{Reason: "fraud probability outside [0,1]"}
		}
		return p, nil
	case len(res.Probabilities) != 0:
		return 0, &domain.ScoringError{Reason: "expected two class probabilities"}
	case res.Prediction != nil:
		return 0, &domain.ScoringError{Reason: "scorer returned a class without probabilities"}
	default:
		return 0, &domain.ScoringError{Reason: "scorer returned neither class nor probabilities"}
	}
}

// ShouldAlert reports whether a label is the highest tier.
func ShouldAlert(a domain.RiskAssessment) bool {
	return a.RiskLabel == domain.LabelHigh
}
