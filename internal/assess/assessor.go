// Package assess runs claim records through the scoring pipeline and owns
// the claim lifecycle around it.
package assess

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/features"
	"github.com/opensource-finance/claimguard/internal/metrics"
	"github.com/opensource-finance/claimguard/internal/model"
	"github.com/opensource-finance/claimguard/internal/risk"
)

var tracer = otel.Tracer("claimguard-assess")

// Assessor is the pure scoring pipeline: encode, score, translate, package.
// It performs no I/O and is safe for concurrent use.
type Assessor struct {
	encoder *features.Encoder
	scorer  model.Scorer
	metrics *metrics.Metrics
}

// NewAssessor wires an encoder to a scorer. m may be nil.
func NewAssessor(encoder *features.Encoder, scorer model.Scorer, m *metrics.Metrics) *Assessor {
	return &Assessor{
		encoder: encoder,
		scorer:  scorer,
		metrics: m,
	}
}

// Assess scores one record. Errors are *domain.EncodingError,
// *domain.SchemaViolationError or *domain.ScoringError.
func (a *Assessor) Assess(ctx context.Context, record domain.ClaimRecord) (*domain.Assessment, error) {
	start := time.Now()
	_, span := tracer.Start(ctx, "assess")
	defer span.End()

	out, err := a.assess(record)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.metrics.ObserveError(err)
		return nil, err
	}

	out.ProcessMs = time.Since(start).Milliseconds()
	span.SetAttributes(
		attribute.Int("risk.score", out.Risk.RiskScore),
		attribute.String("risk.label", out.Risk.RiskLabel),
	)
	a.metrics.ObserveAssessment(out.Risk.RiskLabel, time.Since(start))
	return out, nil
}

func (a *Assessor) assess(record domain.ClaimRecord) (*domain.Assessment, error) {
	vec, err := a.encoder.Encode(record)
	if err != nil {
		return nil, err
	}

	result, err := a.scorer.Score(vec)
	if err != nil {
		return nil, err
	}

	p, err := risk.FraudProbability(result)
	if err != nil {
		return nil, err
	}

	assessment := risk.Translate(p)
	persistable, err := risk.Package(result, assessment)
	if err != nil {
		return nil, &domain.ScoringError{Reason: "package model output", Err: err}
	}

	return &domain.Assessment{
		Result:           result,
		FraudProbability: p,
		Risk:             assessment,
		Persistable:      persistable,
	}, nil
}

// Vector encodes a record without scoring it.
func (a *Assessor) Vector(record domain.ClaimRecord) (features.Vector, error) {
	return a.encoder.Encode(record)
}

// Schema returns the feature layout.
func (a *Assessor) Schema() features.Schema {
	return a.encoder.Schema()
}
