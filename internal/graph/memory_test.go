package graph

import (
	"context"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/aiopscore/remediator/internal/domain"
)

func TestGraph(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Graph Suite")
}

var _ = Describe("MemoryStore", func() {
	var (
		ctx   context.Context
		store *MemoryStore
		key   Key
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = NewMemoryStore()
		key = Key{Cluster: "prod-1", Namespace: "checkout", Kind: "Pod", Name: "api-7f"}
	})

	It("is idempotent on the same key", func() {
		id1, err := store.UpsertEntity(ctx, key, map[string]string{"a": "1"})
		Expect(err).NotTo(HaveOccurred())

		id2, err := store.UpsertEntity(ctx, key, map[string]string{"b": "2"})
		Expect(err).NotTo(HaveOccurred())

		Expect(id2).To(Equal(id1))
		Expect(store.nodes[id1].Attrs).To(Equal(map[string]string{"a": "1", "b": "2"}))
	})

	It("converges concurrent upserts to one node with merged attributes", func() {
		var wg sync.WaitGroup
		ids := make([]string, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id, _ := store.UpsertEntity(ctx, key, map[string]string{"writer": "x"}, "tag-a", "tag-b")
				ids[i] = id
			}(i)
		}
		wg.Wait()

		for _, id := range ids {
			Expect(id).To(Equal(ids[0]))
		}
		Expect(store.nodes[ids[0]].Tags).To(ConsistOf("tag-a", "tag-b"))
	})

	It("links are idempotent on (incident, entity, relation)", func() {
		entityID, _ := store.UpsertEntity(ctx, key, nil)
		Expect(store.LinkIncidentToEntity(ctx, "inc-1", entityID, RelAffects, map[string]string{"x": "1"})).To(Succeed())
		Expect(store.LinkIncidentToEntity(ctx, "inc-1", entityID, RelAffects, map[string]string{"x": "2"})).To(Succeed())

		Expect(store.edges["inc-1"]).To(HaveLen(1))
		Expect(store.edges["inc-1"][0].Props["x"]).To(Equal("2"))
	})

	It("round-trips attached evidence through Subgraph", func() {
		ev := domain.Evidence{
			ID:             "ev-1",
			EvidenceType:   domain.EvidencePodState,
			Source:         domain.SourceK8s,
			EntityName:     "api-7f",
			SignalStrength: 0.9,
			CollectedAt:    time.Now(),
			Data:           domain.PodStatePayload{PodName: "api-7f"},
		}
		Expect(store.AttachEvidence(ctx, "inc-1", ev)).To(Succeed())

		sub, err := store.Subgraph(ctx, "inc-1", 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(sub.Nodes).To(HaveLen(1))
		Expect(sub.Nodes[0].Evidence.SignalStrength).To(Equal(0.9))
		Expect(sub.Nodes[0].Evidence.Data).To(Equal(ev.Data))
	})

	It("bounds BFS depth at MaxDepth regardless of the requested depth", func() {
		a, _ := store.UpsertEntity(ctx, Key{Kind: "Pod", Name: "a"}, nil)
		b, _ := store.UpsertEntity(ctx, Key{Kind: "Deployment", Name: "b"}, nil)
		c, _ := store.UpsertEntity(ctx, Key{Kind: "Node", Name: "c"}, nil)
		d, _ := store.UpsertEntity(ctx, Key{Kind: "HPA", Name: "d"}, nil)

		Expect(store.LinkIncidentToEntity(ctx, "inc-1", a, RelAffects, nil)).To(Succeed())
		Expect(store.LinkIncidentToEntity(ctx, a, b, RelPartOf, nil)).To(Succeed())
		Expect(store.LinkIncidentToEntity(ctx, b, c, RelScheduledOn, nil)).To(Succeed())
		Expect(store.LinkIncidentToEntity(ctx, c, d, RelScaledBy, nil)).To(Succeed())

		sub, err := store.Subgraph(ctx, "inc-1", 100)
		Expect(err).NotTo(HaveOccurred())
		Expect(sub.Nodes).To(HaveLen(3)) // a, b, c reachable within MaxDepth=3; d is one hop too far
	})
})
