// Package policy implements the C4 blast-radius scoring and policy gate: a
// pure-function decision between ALLOW, REQUIRE_APPROVAL, and DENY,
// evaluated against an embedded Rego module.
package policy

import "github.com/aiopscore/remediator/internal/domain"

// Weights are the blast-radius score coefficients.
type Weights struct {
	ReplicaFraction      float64
	NamespaceCriticality float64
	Environment          float64
	ActionRisk           float64
}

// DefaultWeights are w = (40, 20, 20, 20).
func DefaultWeights() Weights {
	return Weights{ReplicaFraction: 40, NamespaceCriticality: 20, Environment: 20, ActionRisk: 20}
}

var environmentWeight = map[string]float64{
	"dev":     0.1,
	"staging": 0.5,
	"prod":    1.0,
}

var actionRiskWeight = map[domain.RiskLevel]float64{
	domain.RiskLow:    0.2,
	domain.RiskMedium: 0.5,
	domain.RiskHigh:   1.0,
}

// BlastRadiusInput is the evidence a score is computed from.
type BlastRadiusInput struct {
	ReplicaFractionAffected float64 // 0..1
	NamespaceCriticality    float64 // 0..1, caller-supplied weighting of the target namespace
	Environment             string
	ActionRisk              domain.RiskLevel
}

// Score computes the 0-100 blast-radius score.
func Score(in BlastRadiusInput, w Weights) float64 {
	envWeight := environmentWeight[in.Environment]
	riskWeight := actionRiskWeight[in.ActionRisk]

	score := w.ReplicaFraction*in.ReplicaFractionAffected +
		w.NamespaceCriticality*in.NamespaceCriticality +
		w.Environment*envWeight +
		w.ActionRisk*riskWeight

	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return score
}
