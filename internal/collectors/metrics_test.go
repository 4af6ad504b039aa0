package collectors_test

import (
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/aiopscore/remediator/internal/collectors"
	"github.com/aiopscore/remediator/internal/domain"
)

type fakeMetricsBackend struct {
	values map[string]float64
	errs   map[string]error
}

func (f *fakeMetricsBackend) Instant(ctx context.Context, query string) (float64, error) {
	for q, v := range f.values {
		if contains(query, q) {
			if err, ok := f.errs[q]; ok {
				return 0, err
			}
			return v, nil
		}
	}
	return 0, fmt.Errorf("no fixture for query %q", query)
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (haystack[:len(needle)] == needle)
}

var _ = Describe("MetricsCollector", func() {
	var (
		ctx      context.Context
		incident collectors.IncidentContext
	)

	BeforeEach(func() {
		ctx = context.Background()
		incident = collectors.IncidentContext{Namespace: "payments", Service: "checkout"}
	})

	It("builds a metric sample per successful query with the right signal strength", func() {
		backend := &fakeMetricsBackend{values: map[string]float64{
			"restart_count_delta": 1,
			"memory_usage_ratio":  0.97,
			"cpu_throttle_rate":   0.1,
			"http_5xx_rate":       0.0,
			"p99_latency":         50,
			"hpa_utilization":     0.2,
		}}
		c := collectors.NewMetricsCollector(backend, nil)
		ev, err := c.Collect(ctx, incident, domain.TimeWindow{})
		Expect(err).ToNot(HaveOccurred())
		Expect(ev).To(HaveLen(6))

		for _, e := range ev {
			payload := e.Data.(domain.MetricSamplePayload)
			if payload.Query == "memory_usage_ratio" {
				Expect(e.SignalStrength).To(Equal(collectors.SignalTerminalState))
			}
		}
	})

	It("marks all evidence partial when any query fails", func() {
		backend := &fakeMetricsBackend{
			values: map[string]float64{
				"restart_count_delta": 1,
				"memory_usage_ratio":  0.1,
				"cpu_throttle_rate":   0.1,
				"http_5xx_rate":       0.0,
				"p99_latency":         50,
				"hpa_utilization":     0.2,
			},
			errs: map[string]error{"hpa_utilization": fmt.Errorf("query timed out")},
		}
		c := collectors.NewMetricsCollector(backend, nil)
		ev, err := c.Collect(ctx, incident, domain.TimeWindow{})
		Expect(err).ToNot(HaveOccurred())
		Expect(ev).To(HaveLen(5))
		for _, e := range ev {
			Expect(e.Partial).To(BeTrue())
		}
	})
})
