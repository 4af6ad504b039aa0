package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/aiopscore/remediator/internal/collectors"
	"github.com/aiopscore/remediator/internal/config"
	"github.com/aiopscore/remediator/internal/domain"
	"github.com/aiopscore/remediator/internal/executor"
	"github.com/aiopscore/remediator/internal/graph"
	"github.com/aiopscore/remediator/internal/policy"
	"github.com/aiopscore/remediator/internal/rules"
	"github.com/aiopscore/remediator/internal/verifier"
	"github.com/aiopscore/remediator/internal/workflow"
	"github.com/aiopscore/remediator/pkg/notify"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

// seedPod builds the target Pod the restart_pod operation deletes, so
// execution against the fake clientset succeeds.
func seedPod() *corev1.Pod {
	return &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "checkout", Namespace: "payments"}}
}

func TestWorkflow(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Workflow Engine Suite")
}

// stubCollector returns a fixed evidence slice for every incident.
type stubCollector struct {
	name     string
	evidence []domain.Evidence
}

func (c stubCollector) Name() string { return c.name }
func (c stubCollector) Collect(ctx context.Context, incident collectors.IncidentContext, window domain.TimeWindow) ([]domain.Evidence, error) {
	return c.evidence, nil
}

// instantClock skips the verification delay entirely.
type instantClock struct{}

func (instantClock) Sleep(ctx context.Context, d time.Duration) error { return nil }

// fixedBackend returns the same snapshot for both the baseline and the
// post-action check; tests vary it by setting snapshot directly.
type fixedBackend struct {
	mu       sync.Mutex
	snapshot verifier.MetricsSnapshot
}

func (b *fixedBackend) Snapshot(ctx context.Context, action domain.RemediationAction) (verifier.MetricsSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot, nil
}

func newEngine(approvals notify.ApprovalChannel, backend *fixedBackend, cfg config.Workflow) *workflow.Engine {
	graphStore := graph.NewMemoryStore()
	registry := collectors.NewRegistry()
	registry.Register(stubCollector{
		name: "k8s",
		evidence: []domain.Evidence{
			{
				ID:              "ev-1",
				EntityName:      "checkout",
				EntityNamespace: "payments",
				Data: domain.PodStatePayload{
					PodName:        "checkout-abc",
					WaitingReasons: []string{"CrashLoopBackOff"},
				},
			},
			{
				ID:              "ev-2",
				EntityName:      "checkout",
				EntityNamespace: "payments",
				Data: domain.LogsPatternPayload{
					MatchesPerMinute: map[string]float64{"error": 5.0},
				},
			},
		},
	})

	rulesEngine := rules.NewEngine(rules.DefaultThresholds())

	gateCtx := context.Background()
	gate, err := policy.NewGate(gateCtx)
	Expect(err).ToNot(HaveOccurred())

	exec := executor.New(fake.NewSimpleClientset(seedPod()), nil)

	v := verifier.New(backend, instantClock{}, time.Millisecond, 0.5, 0.01)

	return workflow.New(cfg, graphStore, registry, rulesEngine, nil, gate, exec, v, approvals, nil, workflow.NewInMemoryJournal(), nil, nil)
}

func baseConfig() config.Workflow {
	cfg := config.Default().Workflow
	cfg.Environment = config.EnvDev
	cfg.CollectionDeadlineTotal = 5 * time.Second
	cfg.CollectionDeadlinePerSource = 2 * time.Second
	cfg.ApprovalTimeout = 50 * time.Millisecond
	cfg.OverallWorkflowSoftDeadline = 10 * time.Second
	cfg.FreezeHoursStart, cfg.FreezeHoursEnd = 0, 0 // keep FreezeActive false; gate.rego's fixed 22:00-06:00 window still applies
	return cfg
}

var _ = Describe("Engine.Process", func() {
	alert := domain.AlertPayload{
		Title:     "checkout crash looping",
		Severity:  domain.SeverityCritical,
		Source:    "prometheus",
		Cluster:   "cluster-1",
		Namespace: "payments",
		Service:   "checkout",
		StartedAt: time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC),
	}

	It("resolves once a dev-environment action is auto-allowed, executed, and verified successfully", func() {
		backend := &fixedBackend{snapshot: verifier.MetricsSnapshot{ErrorRate: 0.001, RestartCountDelta: 0, PodsReadyRatio: 1.0}}
		engine := newEngine(notify.NewLogOnlyChannel(nil), backend, baseConfig())

		incident, err := engine.Process(context.Background(), alert)
		Expect(err).ToNot(HaveOccurred())
		Expect(incident.Status).To(Equal(domain.StatusResolved))
		Expect(incident.ResolvedAt).ToNot(BeNil())
	})

	It("fails with ApprovalTimeout when the approval channel times out", func() {
		cfg := baseConfig()
		cfg.Environment = config.EnvProd
		backend := &fixedBackend{snapshot: verifier.MetricsSnapshot{ErrorRate: 0.001, RestartCountDelta: 0, PodsReadyRatio: 1.0}}

		timeoutChannel := approvalFunc(func(ctx context.Context, summary string, deadline time.Time) (notify.Outcome, error) {
			return notify.TimedOut, nil
		})
		engine := newEngine(timeoutChannel, backend, cfg)

		incident, err := engine.Process(context.Background(), alert)
		Expect(err).ToNot(HaveOccurred())
		Expect(incident.Status).To(Equal(domain.StatusFailed))
		Expect(incident.FailureReason).To(Equal(domain.FailureApprovalTimeout))
	})

	It("fails with Unverified when post-action metrics do not improve", func() {
		backend := &fixedBackend{snapshot: verifier.MetricsSnapshot{ErrorRate: 10, RestartCountDelta: 1, PodsReadyRatio: 0.2}}
		engine := newEngine(notify.NewLogOnlyChannel(nil), backend, baseConfig())

		incident, err := engine.Process(context.Background(), alert)
		Expect(err).ToNot(HaveOccurred())
		Expect(incident.Status).To(Equal(domain.StatusFailed))
		Expect(incident.FailureReason).To(Equal(domain.FailureUnverified))
	})

	It("resolves directly without remediation when no evidence fires a rule", func() {
		cfg := baseConfig()
		graphStore := graph.NewMemoryStore()
		registry := collectors.NewRegistry()
		registry.Register(stubCollector{name: "k8s"}) // no evidence at all

		rulesEngine := rules.NewEngine(rules.DefaultThresholds())
		gate, err := policy.NewGate(context.Background())
		Expect(err).ToNot(HaveOccurred())
		exec := executor.New(fake.NewSimpleClientset(), nil)
		backend := &fixedBackend{snapshot: verifier.MetricsSnapshot{ErrorRate: 0.001, RestartCountDelta: 0, PodsReadyRatio: 1.0}}
		v := verifier.New(backend, instantClock{}, time.Millisecond, 0.5, 0.01)

		engine := workflow.New(cfg, graphStore, registry, rulesEngine, nil, gate, exec, v,
			notify.NewLogOnlyChannel(nil), nil, workflow.NewInMemoryJournal(), nil, nil)

		incident, err := engine.Process(context.Background(), alert)
		Expect(err).ToNot(HaveOccurred())
		// An unknown-category fallback hypothesis carries no recommended
		// actions, so the workflow resolves without ever remediating.
		Expect(incident.Status).To(Equal(domain.StatusResolved))
	})
})

// approvalFunc adapts a function literal to notify.ApprovalChannel.
type approvalFunc func(ctx context.Context, actionSummary string, deadline time.Time) (notify.Outcome, error)

func (f approvalFunc) Request(ctx context.Context, actionSummary string, deadline time.Time) (notify.Outcome, error) {
	return f(ctx, actionSummary, deadline)
}
