// Package alert provides the CEL-Go based policy that decides which scored
// claims raise an alert.
package alert

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// Policy is a compiled alert expression. It can be swapped at runtime.
type Policy struct {
	mu         sync.RWMutex
	env        *cel.Env
	expression string
	program    cel.Program
}

// Input holds the values visible to the expression.
type Input struct {
	Record           domain.ClaimRecord
	Amount           float64
	RiskScore        int
	RiskLabel        string
	FraudProbability float64
}

// NewPolicy compiles expression. An empty expression uses
// domain.DefaultAlertExpression.
func NewPolicy(expression string) (*Policy, error) {
	env, err := cel.NewEnv(
		cel.Variable("claim", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("risk_score", cel.IntType),
		cel.Variable("risk_label", cel.StringType),
		cel.Variable("fraud_probability", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	p := &Policy{env: env}
	if err := p.Reload(expression); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate compiles expression without installing it.
func (p *Policy) Validate(expression string) error {
	_, err := p.compile(expression)
	return err
}

// Reload compiles and installs a new expression.
func (p *Policy) Reload(expression string) error {
	if expression == "" {
		expression = domain.DefaultAlertExpression
	}
	program, err := p.compile(expression)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.expression = expression
	p.program = program
	return nil
}

// Expression returns the installed expression.
func (p *Policy) Expression() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.expression
}

// Evaluate reports whether the input should raise an alert.
func (p *Policy) Evaluate(in Input) (bool, error) {
	p.mu.RLock()
	program := p.program
	p.mu.RUnlock()

	record := map[string]any(in.Record)
	if record == nil {
		record = map[string]any{}
	}

	out, _, err := program.Eval(map[string]any{
		"claim":             record,
		"amount":            in.Amount,
		"risk_score":        int64(in.RiskScore),
		"risk_label":        in.RiskLabel,
		"fraud_probability": in.FraudProbability,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate alert policy: %w", err)
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("alert policy returned %s, want bool", out.Type())
	}
	return bool(b), nil
}

func (p *Policy) compile(expression string) (cel.Program, error) {
	if expression == "" {
		expression = domain.DefaultAlertExpression
	}
	ast, issues := p.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile alert policy: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("alert policy must return bool, got %s", ast.OutputType())
	}

	program, err := p.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for alert policy: %w", err)
	}
	return program, nil
}
