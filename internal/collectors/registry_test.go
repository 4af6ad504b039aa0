package collectors_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/aiopscore/remediator/internal/collectors"
	"github.com/aiopscore/remediator/internal/domain"
)

type stubCollector struct{ name string }

func (s stubCollector) Name() string { return s.name }
func (s stubCollector) Collect(ctx context.Context, incident collectors.IncidentContext, window domain.TimeWindow) ([]domain.Evidence, error) {
	return nil, nil
}

var _ = Describe("Registry", func() {
	It("registers and retrieves collectors by name", func() {
		r := collectors.NewRegistry()
		r.Register(stubCollector{name: "logs"})
		r.Register(stubCollector{name: "metrics"})

		c, ok := r.Get("logs")
		Expect(ok).To(BeTrue())
		Expect(c.Name()).To(Equal("logs"))

		_, ok = r.Get("missing")
		Expect(ok).To(BeFalse())

		Expect(r.All()).To(HaveLen(2))
	})

	It("overwrites a prior registration under the same name", func() {
		r := collectors.NewRegistry()
		r.Register(stubCollector{name: "logs"})
		r.Register(stubCollector{name: "logs"})
		Expect(r.All()).To(HaveLen(1))
	})
})
