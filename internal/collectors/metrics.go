package collectors

import (
	"context"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	metricsclientset "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/aiopscore/remediator/internal/domain"
)

// MetricsBackend is the external PromQL-family metrics store.
// It evaluates one instant query and returns a scalar.
type MetricsBackend interface {
	Instant(ctx context.Context, query string) (float64, error)
}

// metricQueries is the fixed query set this collector always evaluates.
var metricQueries = []string{
	"restart_count_delta",
	"memory_usage_ratio",
	"cpu_throttle_rate",
	"http_5xx_rate",
	"p99_latency",
	"hpa_utilization",
}

// MetricsCollector evaluates the fixed PromQL-family query set and, when a
// metrics.k8s.io client is configured, adds a raw pod memory usage sample
// from the Kubernetes metrics API.
type MetricsCollector struct {
	backend       MetricsBackend
	metricsClient metricsclientset.Interface
}

// NewMetricsCollector constructs a MetricsCollector. metricsClient may be
// nil if the cluster has no metrics-server; the collector then relies
// solely on backend.
func NewMetricsCollector(backend MetricsBackend, metricsClient metricsclientset.Interface) *MetricsCollector {
	return &MetricsCollector{backend: backend, metricsClient: metricsClient}
}

func (c *MetricsCollector) Name() string { return "metrics" }

func (c *MetricsCollector) Collect(ctx context.Context, incident IncidentContext, window domain.TimeWindow) ([]domain.Evidence, error) {
	now := time.Now()
	var out []domain.Evidence
	partial := false

	for _, q := range metricQueries {
		query := fmt.Sprintf("%s{namespace=%q,service=%q}", q, incident.Namespace, incident.Service)
		value, err := c.backend.Instant(ctx, query)
		if err != nil {
			partial = true
			continue
		}

		out = append(out, domain.Evidence{
			EvidenceType:    domain.EvidenceMetricSample,
			Source:          domain.SourceMetrics,
			EntityName:      incident.Service,
			EntityNamespace: incident.Namespace,
			Data:            domain.MetricSamplePayload{Query: q, Value: value},
			SignalStrength:  signalForMetric(q, value),
			CollectedAt:     now,
			TimeWindow:      window,
		})
	}

	if c.metricsClient != nil {
		if ratio, err := c.podMemoryRatio(ctx, incident); err == nil {
			out = append(out, domain.Evidence{
				EvidenceType:    domain.EvidenceMetricSample,
				Source:          domain.SourceMetrics,
				EntityName:      incident.Service,
				EntityNamespace: incident.Namespace,
				Data:            domain.MetricSamplePayload{Query: "memory_usage_ratio_metrics_api", Value: ratio},
				SignalStrength:  SignalInformational,
				CollectedAt:     now,
			})
		}
	}

	if partial {
		for i := range out {
			out[i].Partial = true
		}
	}
	return out, nil
}

// podMemoryRatio sums the current memory usage, in bytes, of the service's
// pods from the metrics.k8s.io PodMetrics API. It does not divide by a
// container limit, so the value is not a ratio; it is an auxiliary sample,
// not a replacement for the configured MetricsBackend.
func (c *MetricsCollector) podMemoryRatio(ctx context.Context, incident IncidentContext) (float64, error) {
	list, err := c.metricsClient.MetricsV1beta1().PodMetricses(incident.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "app=" + incident.Service,
	})
	if err != nil {
		return 0, err
	}
	if len(list.Items) == 0 {
		return 0, fmt.Errorf("metrics: no pod metrics for %s/%s", incident.Namespace, incident.Service)
	}

	var totalMemBytes int64
	for _, pod := range list.Items {
		for _, c := range pod.Containers {
			if mem, ok := c.Usage["memory"]; ok {
				totalMemBytes += mem.Value()
			}
		}
	}
	// Without a configured limit reference this reports raw usage; the rules
	// engine does not read this sample.
	return float64(totalMemBytes), nil
}

func signalForMetric(query string, value float64) float64 {
	switch query {
	case "memory_usage_ratio":
		if value >= 0.95 {
			return SignalTerminalState
		}
		if value >= 0.8 {
			return SignalHighRestartDelta
		}
	case "restart_count_delta":
		if value >= 5 {
			return SignalHighRestartDelta
		}
	case "hpa_utilization":
		if value >= 0.95 {
			return SignalHighRestartDelta
		}
	}
	return SignalPresence
}
