package risk

import (
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// Package flattens a scoring result and its assessment into the columns
// stored with a claim. ModelOutput is the JSON form of the full result.
func Package(res domain.ScoringResult, a domain.RiskAssessment) (domain.PersistableResult, error) {
	out, err := json.Marshal(res)
	if err != nil {
		return domain.PersistableResult{}, fmt.Errorf("marshal model output: %w", err)
	}
	return domain.PersistableResult{
		RiskScore:   a.RiskScore,
		RiskLabel:   a.RiskLabel,
		ModelOutput: string(out),
	}, nil
}

// Unpackage restores the scoring result stored in ModelOutput.
func Unpackage(modelOutput string) (domain.ScoringResult, error) {
	var res domain.ScoringResult
	if err := json.Unmarshal([]byte(modelOutput), &res); err != nil {
		return domain.ScoringResult{}, fmt.Errorf("unmarshal model output: %w", err)
	}
	return res, nil
}
