package collectors_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"k8s.io/client-go/kubernetes/fake"

	"github.com/aiopscore/remediator/internal/collectors"
	"github.com/aiopscore/remediator/internal/domain"
)

type fakeLogBackend struct {
	lines []collectors.LogLine
	err   error
}

func (f *fakeLogBackend) Range(ctx context.Context, namespace, service string, window domain.TimeWindow) ([]collectors.LogLine, error) {
	return f.lines, f.err
}

var _ = Describe("LogsCollector", func() {
	var (
		ctx      context.Context
		incident collectors.IncidentContext
		window   domain.TimeWindow
	)

	BeforeEach(func() {
		ctx = context.Background()
		incident = collectors.IncidentContext{Namespace: "payments", Service: "checkout"}
		now := time.Now()
		window = domain.TimeWindow{Start: now.Add(-1 * time.Minute), End: now}
	})

	It("counts error-class matches and samples them", func() {
		backend := &fakeLogBackend{lines: []collectors.LogLine{
			{Text: "panic: nil pointer dereference"},
			{Text: "level=error msg=\"connection refused\""},
			{Text: "ok, request served"},
		}}
		c := collectors.NewLogsCollector(backend, 0)
		ev, err := c.Collect(ctx, incident, window)
		Expect(err).ToNot(HaveOccurred())
		Expect(ev).To(HaveLen(1))

		payload := ev[0].Data.(domain.LogsPatternPayload)
		Expect(payload.MatchesPerMinute).To(HaveKey("panic"))
		Expect(payload.MatchesPerMinute).To(HaveKey("connection_refused"))
		Expect(payload.Samples).To(ContainElement(ContainSubstring("panic")))
	})

	It("marks evidence partial when the backend errors", func() {
		backend := &fakeLogBackend{err: errors.New("log store unavailable")}
		c := collectors.NewLogsCollector(backend, 5)
		ev, err := c.Collect(ctx, incident, window)
		Expect(err).ToNot(HaveOccurred())
		Expect(ev).To(HaveLen(1))
		Expect(ev[0].Partial).To(BeTrue())
	})

	It("assigns informational strength when no classes match", func() {
		backend := &fakeLogBackend{lines: []collectors.LogLine{{Text: "all quiet"}}}
		c := collectors.NewLogsCollector(backend, 5)
		ev, err := c.Collect(ctx, incident, window)
		Expect(err).ToNot(HaveOccurred())
		Expect(ev[0].SignalStrength).To(Equal(collectors.SignalInformational))
	})
})

var _ = Describe("PodLogsBackend", func() {
	It("returns no lines when no pod matches the service label", func() {
		backend := collectors.NewPodLogsBackend(fake.NewSimpleClientset())
		lines, err := backend.Range(context.Background(), "payments", "checkout", domain.TimeWindow{
			Start: time.Now().Add(-time.Minute), End: time.Now(),
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(lines).To(BeEmpty())
	})
})
