package collectors_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/aiopscore/remediator/internal/collectors"
	"github.com/aiopscore/remediator/internal/domain"
)

var _ = Describe("DeployDiffCollector", func() {
	var (
		ctx        context.Context
		fakeClient *fake.Clientset
		incident   collectors.IncidentContext
	)

	BeforeEach(func() {
		ctx = context.Background()
		fakeClient = fake.NewSimpleClientset()
		incident = collectors.IncidentContext{Namespace: "payments", Service: "checkout"}
	})

	replicaSet := func(name, revision, image string, age time.Duration) *appsv1.ReplicaSet {
		return &appsv1.ReplicaSet{
			ObjectMeta: metav1.ObjectMeta{
				Name:              name,
				Namespace:         "payments",
				Labels:            map[string]string{"app": "checkout"},
				Annotations:       map[string]string{"deployment.kubernetes.io/revision": revision},
				CreationTimestamp: metav1.NewTime(time.Now().Add(-age)),
			},
			Spec: appsv1.ReplicaSetSpec{
				Template: corev1.PodTemplateSpec{
					Spec: corev1.PodSpec{
						Containers: []corev1.Container{{Name: "checkout", Image: image}},
					},
				},
			},
		}
	}

	It("flags an image change within the deploy lookback window", func() {
		_, err := fakeClient.AppsV1().ReplicaSets("payments").Create(ctx, replicaSet("checkout-v2", "2", "checkout:v2", 5*time.Minute), metav1.CreateOptions{})
		Expect(err).ToNot(HaveOccurred())
		_, err = fakeClient.AppsV1().ReplicaSets("payments").Create(ctx, replicaSet("checkout-v1", "1", "checkout:v1", 2*time.Hour), metav1.CreateOptions{})
		Expect(err).ToNot(HaveOccurred())

		c := collectors.NewDeployDiffCollector(fakeClient, 30*time.Minute)
		ev, err := c.Collect(ctx, incident, domain.TimeWindow{})
		Expect(err).ToNot(HaveOccurred())
		Expect(ev).To(HaveLen(1))

		payload := ev[0].Data.(domain.DeployHistoryPayload)
		Expect(payload.ImageChanged).To(BeTrue())
		Expect(payload.CurrentImage).To(Equal("checkout:v2"))
		Expect(payload.PriorImage).To(Equal("checkout:v1"))
		Expect(ev[0].SignalStrength).To(Equal(collectors.SignalRecentDeployCrash))
	})

	It("does not flag a deploy outside the lookback window", func() {
		_, err := fakeClient.AppsV1().ReplicaSets("payments").Create(ctx, replicaSet("checkout-v2", "2", "checkout:v2", 2*time.Hour), metav1.CreateOptions{})
		Expect(err).ToNot(HaveOccurred())
		_, err = fakeClient.AppsV1().ReplicaSets("payments").Create(ctx, replicaSet("checkout-v1", "1", "checkout:v1", 4*time.Hour), metav1.CreateOptions{})
		Expect(err).ToNot(HaveOccurred())

		c := collectors.NewDeployDiffCollector(fakeClient, 30*time.Minute)
		ev, err := c.Collect(ctx, incident, domain.TimeWindow{})
		Expect(err).ToNot(HaveOccurred())
		Expect(ev).To(HaveLen(1))
		Expect(ev[0].SignalStrength).To(Equal(collectors.SignalInformational))
	})

	It("returns nothing when no replicaset matches", func() {
		c := collectors.NewDeployDiffCollector(fakeClient, 30*time.Minute)
		ev, err := c.Collect(ctx, incident, domain.TimeWindow{})
		Expect(err).ToNot(HaveOccurred())
		Expect(ev).To(BeEmpty())
	})
})
