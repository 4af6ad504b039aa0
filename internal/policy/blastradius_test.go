package policy_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aiopscore/remediator/internal/domain"
	"github.com/aiopscore/remediator/internal/policy"
)

func TestScore(t *testing.T) {
	w := policy.DefaultWeights()

	testCases := []struct {
		name  string
		input policy.BlastRadiusInput
		want  float64
	}{
		{
			name: "single pod restart in dev is low risk",
			input: policy.BlastRadiusInput{
				ReplicaFractionAffected: 0.2,
				NamespaceCriticality:    0.1,
				Environment:             "dev",
				ActionRisk:              domain.RiskLow,
			},
			want: 40*0.2 + 20*0.1 + 20*0.1 + 20*0.2,
		},
		{
			name: "workload-wide update in prod is high risk",
			input: policy.BlastRadiusInput{
				ReplicaFractionAffected: 1.0,
				NamespaceCriticality:    1.0,
				Environment:             "prod",
				ActionRisk:              domain.RiskHigh,
			},
			want: 100,
		},
		{
			name: "unknown environment contributes no environment weight",
			input: policy.BlastRadiusInput{
				ReplicaFractionAffected: 0,
				NamespaceCriticality:    0,
				Environment:             "canary",
				ActionRisk:              domain.RiskLow,
			},
			want: 20 * 0.2,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.InDelta(t, tc.want, policy.Score(tc.input, w), 0.001)
		})
	}
}

func TestScoreClampedTo100(t *testing.T) {
	w := policy.Weights{ReplicaFraction: 100, NamespaceCriticality: 100, Environment: 100, ActionRisk: 100}
	got := policy.Score(policy.BlastRadiusInput{
		ReplicaFractionAffected: 1, NamespaceCriticality: 1, Environment: "prod", ActionRisk: domain.RiskHigh,
	}, w)
	require.Equal(t, 100.0, got)
}
