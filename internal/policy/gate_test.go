package policy_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/aiopscore/remediator/internal/policy"
)

func TestPolicyGate(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Policy Gate Suite")
}

var _ = Describe("Gate.Evaluate", func() {
	var (
		ctx  context.Context
		gate *policy.Gate
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		gate, err = policy.NewGate(ctx)
		Expect(err).ToNot(HaveOccurred())
	})

	It("denies a high-risk action outside dev", func() {
		eval, err := gate.Evaluate(ctx, policy.Input{
			Environment: "prod",
			ActionType:  "delete_namespace",
			Namespace:   "payments",
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(eval.Decision).To(Equal(policy.Deny))
		Expect(eval.Reason).To(Equal("high_risk_action"))
	})

	It("denies an action targeting a protected namespace outside dev", func() {
		eval, err := gate.Evaluate(ctx, policy.Input{
			Environment: "prod",
			ActionType:  "restart_pod",
			Namespace:   "kube-system",
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(eval.Decision).To(Equal(policy.Deny))
		Expect(eval.Reason).To(Equal("protected_namespace"))
	})

	It("denies when the blast radius exceeds the prod threshold", func() {
		eval, err := gate.Evaluate(ctx, policy.Input{
			Environment:      "prod",
			ActionType:       "restart_pod",
			Namespace:        "payments",
			BlastRadiusScore: 51,
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(eval.Decision).To(Equal(policy.Deny))
	})

	It("does not deny blast radius exactly at the prod threshold", func() {
		eval, err := gate.Evaluate(ctx, policy.Input{
			Environment:      "prod",
			ActionType:       "restart_pod",
			Namespace:        "payments",
			BlastRadiusScore: 50,
			CurrentHour:      14,
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(eval.Decision).To(Equal(policy.RequireApproval)) // prod always requires approval
	})

	It("requires approval for any prod action even when otherwise clean", func() {
		eval, err := gate.Evaluate(ctx, policy.Input{
			Environment: "prod",
			ActionType:  "restart_pod",
			Namespace:   "payments",
			CurrentHour: 14,
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(eval.Decision).To(Equal(policy.RequireApproval))
		Expect(eval.Reason).To(Equal("environment"))
	})

	It("requires approval inside the freeze window even in dev-adjacent staging", func() {
		eval, err := gate.Evaluate(ctx, policy.Input{
			Environment: "staging",
			ActionType:  "restart_pod",
			Namespace:   "payments",
			CurrentHour: 23,
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(eval.Decision).To(Equal(policy.RequireApproval))
	})

	It("allows a clean dev action", func() {
		eval, err := gate.Evaluate(ctx, policy.Input{
			Environment: "dev",
			ActionType:  "restart_pod",
			Namespace:   "payments",
			CurrentHour: 14,
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(eval.Decision).To(Equal(policy.Allow))
	})

	It("denies an action type absent from the environment allowlist", func() {
		eval, err := gate.Evaluate(ctx, policy.Input{
			Environment: "prod",
			ActionType:  "cordon_node",
			Namespace:   "payments",
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(eval.Decision).To(Equal(policy.Deny))
		Expect(eval.Reason).To(Equal("not_allowlisted"))
	})

	It("produces identical decisions across repeated invocations with identical input", func() {
		in := policy.Input{Environment: "staging", ActionType: "scale_replicas", Namespace: "payments", BlastRadiusScore: 40, AffectedReplicas: 2}
		first, err := gate.Evaluate(ctx, in)
		Expect(err).ToNot(HaveOccurred())
		second, err := gate.Evaluate(ctx, in)
		Expect(err).ToNot(HaveOccurred())
		Expect(first).To(Equal(second))
	})
})

var _ = Describe("Score", func() {
	It("weights environment and action risk per spec defaults", func() {
		score := policy.Score(policy.BlastRadiusInput{
			ReplicaFractionAffected: 0.5,
			NamespaceCriticality:    0.5,
			Environment:             "prod",
			ActionRisk:              "high",
		}, policy.DefaultWeights())
		Expect(score).To(BeNumerically("~", 40*0.5+20*0.5+20*1.0+20*1.0, 0.01))
	})

	It("clamps to 100", func() {
		score := policy.Score(policy.BlastRadiusInput{
			ReplicaFractionAffected: 1,
			NamespaceCriticality:    1,
			Environment:             "prod",
			ActionRisk:              "high",
		}, policy.DefaultWeights())
		Expect(score).To(Equal(100.0))
	})
})
