package model

import (
	"math"

	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/features"
)

// Scorer produces a scoring result for a schema-ordered feature vector.
type Scorer interface {
	Score(vec features.Vector) (domain.ScoringResult, error)
}

// Score runs the ensemble and returns the predicted class together with
// [P(not fraud), P(fraud)].
func (b *Booster) Score(vec features.Vector) (domain.ScoringResult, error) {
	if len(vec) != b.numFeature {
		return domain.ScoringResult{}, &domain.SchemaViolationError{Expected: b.numFeature, Got: len(vec)}
	}
	for i, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.ScoringResult{}, &domain.ScoringError{
				Reason: "non-finite value for feature " + b.featureNames[i],
			}
		}
	}

	p := sigmoid(b.margin(vec))
	if math.IsNaN(p) {
		return domain.ScoringResult{}, &domain.ScoringError{Reason: "model produced NaN"}
	}

	class := 0
	if p > 0.5 {
		class = 1
	}
	return domain.ScoringResult{
		Prediction:    &class,
		Probabilities: []float64{1 - p, p},
	}, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// ScorerFunc adapts a plain function to Scorer.
type ScorerFunc func(vec features.Vector) (domain.ScoringResult, error)

// Score calls f.
func (f ScorerFunc) Score(vec features.Vector) (domain.ScoringResult, error) {
	return f(vec)
}
