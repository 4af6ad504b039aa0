package collectors_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/aiopscore/remediator/internal/collectors"
	"github.com/aiopscore/remediator/internal/domain"
)

func TestClusterStateCollector(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ClusterStateCollector Suite")
}

var _ = Describe("ClusterStateCollector", func() {
	var (
		ctx        context.Context
		fakeClient *fake.Clientset
		incident   collectors.IncidentContext
	)

	BeforeEach(func() {
		ctx = context.Background()
		fakeClient = fake.NewSimpleClientset()
		incident = collectors.IncidentContext{
			IncidentID: "inc-1",
			Namespace:  "payments",
			Service:    "checkout",
		}
	})

	It("records a crash-looping pod's waiting reason in pod-state evidence", func() {
		pod := &corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{Name: "checkout-1", Namespace: "payments", Labels: map[string]string{"app": "checkout"}},
			Status: corev1.PodStatus{
				ContainerStatuses: []corev1.ContainerStatus{{
					RestartCount: 12,
					State: corev1.ContainerState{
						Waiting: &corev1.ContainerStateWaiting{Reason: "CrashLoopBackOff"},
					},
				}},
			},
		}
		_, err := fakeClient.CoreV1().Pods("payments").Create(ctx, pod, metav1.CreateOptions{})
		Expect(err).ToNot(HaveOccurred())

		c := collectors.NewClusterStateCollector(fakeClient)
		ev, err := c.Collect(ctx, incident, domain.TimeWindow{})
		Expect(err).ToNot(HaveOccurred())

		var found bool
		for _, e := range ev {
			if e.EvidenceType == domain.EvidencePodState {
				payload := e.Data.(domain.PodStatePayload)
				Expect(payload.WaitingReasons).To(ContainElement("CrashLoopBackOff"))
				found = true
			}
		}
		Expect(found).To(BeTrue())
	})

	It("reports a saturated HPA at high-restart-delta strength", func() {
		hpa := &autoscalingv2.HorizontalPodAutoscaler{
			ObjectMeta: metav1.ObjectMeta{Name: "checkout-hpa", Namespace: "payments"},
			Spec:       autoscalingv2.HorizontalPodAutoscalerSpec{MaxReplicas: 10},
			Status:     autoscalingv2.HorizontalPodAutoscalerStatus{CurrentReplicas: 10},
		}
		_, err := fakeClient.AutoscalingV2().HorizontalPodAutoscalers("payments").Create(ctx, hpa, metav1.CreateOptions{})
		Expect(err).ToNot(HaveOccurred())

		c := collectors.NewClusterStateCollector(fakeClient)
		ev, err := c.Collect(ctx, incident, domain.TimeWindow{})
		Expect(err).ToNot(HaveOccurred())

		var found bool
		for _, e := range ev {
			if e.EvidenceType == domain.EvidenceHPAState {
				Expect(e.SignalStrength).To(Equal(collectors.SignalHighRestartDelta))
				found = true
			}
		}
		Expect(found).To(BeTrue())
	})

	It("marks node-state evidence when a node reports disk pressure", func() {
		node := &corev1.Node{
			ObjectMeta: metav1.ObjectMeta{Name: "node-1"},
			Status: corev1.NodeStatus{
				Conditions: []corev1.NodeCondition{
					{Type: corev1.NodeReady, Status: corev1.ConditionTrue},
					{Type: corev1.NodeDiskPressure, Status: corev1.ConditionTrue},
				},
			},
		}
		_, err := fakeClient.CoreV1().Nodes().Create(ctx, node, metav1.CreateOptions{})
		Expect(err).ToNot(HaveOccurred())

		c := collectors.NewClusterStateCollector(fakeClient)
		ev, err := c.Collect(ctx, incident, domain.TimeWindow{})
		Expect(err).ToNot(HaveOccurred())

		var found bool
		for _, e := range ev {
			if e.EvidenceType == domain.EvidenceNodeState {
				payload := e.Data.(domain.NodeStatePayload)
				Expect(payload.DiskPressure).To(BeTrue())
				Expect(e.SignalStrength).To(Equal(collectors.SignalHighRestartDelta))
				found = true
			}
		}
		Expect(found).To(BeTrue())
	})
})
