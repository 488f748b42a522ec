package domain

import (
	"time"
)

// ClaimRecord is a raw claim as submitted: field name to value.
// Values may be numbers, strings, booleans or nil; keys may use any of the
// spellings the feature schema knows as aliases.
type ClaimRecord map[string]any

// Claim is a persisted claim with its latest risk result.
type Claim struct {
	ID        string      `json:"id"`
	ClaimRef  string      `json:"claimRef,omitempty"`
	BeneID    string      `json:"beneId,omitempty"`
	Provider  string      `json:"provider,omitempty"`
	Amount    float64     `json:"amount"`
	Record    ClaimRecord `json:"record"`
	Status    ClaimStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`

	// Risk columns. Nil until the claim has been scored.
	RiskScore   *int       `json:"riskScore,omitempty"`
	RiskLabel   string     `json:"riskLabel,omitempty"`
	ModelOutput string     `json:"modelOutput,omitempty"`
	ScoredAt    *time.Time `json:"scoredAt,omitempty"`
}

// ClaimStatus tracks where a claim is in its lifecycle.
type ClaimStatus string

const (
	ClaimCreated ClaimStatus = "created"
	ClaimScored  ClaimStatus = "scored"
)

// ApplyResult copies a persistable result onto the claim's risk columns.
func (c *Claim) ApplyResult(res PersistableResult, at time.Time) {
	score := res.RiskScore
	c.RiskScore = &score
	c.RiskLabel = res.RiskLabel
	c.ModelOutput = res.ModelOutput
	c.Status = ClaimScored
	c.UpdatedAt = at
	c.ScoredAt = &at
}

// ScoringResult is the raw classifier output.
// Probabilities, when present, holds [P(not fraud), P(fraud)].
type ScoringResult struct {
	Prediction    *int      `json:"prediction,omitempty"`
	Probabilities []float64 `json:"probabilities,omitempty"`
}

// RiskAssessment is the business-facing view of a fraud probability.
type RiskAssessment struct {
	RiskScore int    `json:"riskScore"`
	RiskLabel string `json:"riskLabel"`
}

// Risk labels, exactly as stored and displayed.
const (
	LabelHigh   = "High Risk"
	LabelMedium = "Medium Risk"
	LabelLow    = "Low Risk"
)

// RiskLabels lists every label from highest to lowest.
var RiskLabels = []string{LabelHigh, LabelMedium, LabelLow}

// PersistableResult is the set of columns written for a scored claim.
type PersistableResult struct {
	RiskScore   int    `json:"riskScore"`
	RiskLabel   string `json:"riskLabel"`
	ModelOutput string `json:"modelOutput"`
}

// Assessment is everything produced by one pass of the scoring pipeline.
type Assessment struct {
	Result           ScoringResult     `json:"result"`
	FraudProbability float64           `json:"fraudProbability"`
	Risk             RiskAssessment    `json:"risk"`
	Persistable      PersistableResult `json:"-"`
	ProcessMs        int64             `json:"processMs"`
}

// AssessmentResponse is the API response for a scored claim.
type AssessmentResponse struct {
	ClaimID          string    `json:"claimId,omitempty"`
	Status           string    `json:"status,omitempty"`
	RiskScore        int       `json:"riskScore"`
	RiskLabel        string    `json:"riskLabel"`
	FraudProbability float64   `json:"fraudProbability"`
	Prediction       *int      `json:"prediction,omitempty"`
	Probabilities    []float64 `json:"probabilities,omitempty"`
	ProcessMs        int64     `json:"processMs"`
}

// ToResponse converts an Assessment to an API response.
func (a *Assessment) ToResponse(claimID string) *AssessmentResponse {
	return &AssessmentResponse{
		ClaimID:          claimID,
		RiskScore:        a.Risk.RiskScore,
		RiskLabel:        a.Risk.RiskLabel,
		FraudProbability: a.FraudProbability,
		Prediction:       a.Result.Prediction,
		Probabilities:    a.Result.Probabilities,
		ProcessMs:        a.ProcessMs,
	}
}

// ClaimEvent is the payload published on the claim topics.
type ClaimEvent struct {
	ClaimID          string      `json:"claimId"`
	Record           ClaimRecord `json:"record,omitempty"`
	RiskScore        int         `json:"riskScore,omitempty"`
	RiskLabel        string      `json:"riskLabel,omitempty"`
	FraudProbability float64     `json:"fraudProbability,omitempty"`
	TraceID          string      `json:"traceId,omitempty"`
}
