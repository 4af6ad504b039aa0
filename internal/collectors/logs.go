package collectors

import (
	"bufio"
	"context"
	"regexp"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/aiopscore/remediator/internal/domain"
)

// LogLine is one line returned by a LogBackend range query.
type LogLine struct {
	Timestamp time.Time
	Text      string
}

// LogBackend is the external log store collaborator.
type LogBackend interface {
	Range(ctx context.Context, namespace, service string, window domain.TimeWindow) ([]LogLine, error)
}

// logClasses are the fixed regex classes the logs collector counts.
var logClasses = map[string]*regexp.Regexp{
	"error":              regexp.MustCompile(`(?i)\berror\b`),
	"panic":              regexp.MustCompile(`(?i)\bpanic\b`),
	"oom":                regexp.MustCompile(`(?i)out of memory|oom`),
	"connection_refused": regexp.MustCompile(`(?i)connection refused`),
	"timeout":            regexp.MustCompile(`(?i)\btimeout\b|deadline exceeded`),
	"5xx":                regexp.MustCompile(`\b5\d{2}\b`),
}

// LogsCollector counts log-class match rates and samples stack traces.
type LogsCollector struct {
	backend     LogBackend
	maxSamples  int
}

// NewLogsCollector constructs a LogsCollector; maxSamples <= 0 defaults to 5.
func NewLogsCollector(backend LogBackend, maxSamples int) *LogsCollector {
	if maxSamples <= 0 {
		maxSamples = 5
	}
	return &LogsCollector{backend: backend, maxSamples: maxSamples}
}

func (c *LogsCollector) Name() string { return "logs" }

func (c *LogsCollector) Collect(ctx context.Context, incident IncidentContext, window domain.TimeWindow) ([]domain.Evidence, error) {
	lines, err := c.backend.Range(ctx, incident.Namespace, incident.Service, window)
	partial := err != nil

	counts := map[string]int{}
	var samples []string
	for _, line := range lines {
		for class, re := range logClasses {
			if re.MatchString(line.Text) {
				counts[class]++
				if (class == "panic" || class == "error") && len(samples) < c.maxSamples {
					samples = append(samples, line.Text)
				}
			}
		}
	}

	minutes := window.End.Sub(window.Start).Minutes()
	if minutes <= 0 {
		minutes = 1
	}
	rates := make(map[string]float64, len(counts))
	maxRate := 0.0
	for class, n := range counts {
		rate := float64(n) / minutes
		rates[class] = rate
		if rate > maxRate {
			maxRate = rate
		}
	}

	strength := SignalInformational
	switch {
	case maxRate > 10:
		strength = SignalHighRestartDelta
	case maxRate > 0:
		strength = SignalPresence
	}

	return []domain.Evidence{{
		EvidenceType:    domain.EvidenceLogsPattern,
		Source:          domain.SourceLogs,
		EntityName:      incident.Service,
		EntityNamespace: incident.Namespace,
		Data:            domain.LogsPatternPayload{MatchesPerMinute: rates, Samples: samples},
		SignalStrength:  strength,
		CollectedAt:     time.Now(),
		TimeWindow:      window,
		Partial:         partial,
	}}, nil
}

// PodLogsBackend satisfies LogBackend by reading container logs directly
// through the Kubernetes API, for clusters with no external log aggregator
// configured. It reads every pod matching the app=service label and
// truncates each to the most recent 500 lines within window.
type PodLogsBackend struct {
	client kubernetes.Interface
}

// NewPodLogsBackend wraps client as a LogBackend.
func NewPodLogsBackend(client kubernetes.Interface) *PodLogsBackend {
	return &PodLogsBackend{client: client}
}

const podLogTailLines = 500

func (b *PodLogsBackend) Range(ctx context.Context, namespace, service string, window domain.TimeWindow) ([]LogLine, error) {
	pods, err := b.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: "app=" + service})
	if err != nil {
		return nil, err
	}

	var tail int64 = podLogTailLines
	since := window.Start
	var out []LogLine
	for _, pod := range pods.Items {
		stream, err := b.client.CoreV1().Pods(namespace).GetLogs(pod.Name, &corev1.PodLogOptions{
			TailLines: &tail,
			SinceTime: &metav1.Time{Time: since},
		}).Stream(ctx)
		if err != nil {
			continue
		}

		scanner := bufio.NewScanner(stream)
		for scanner.Scan() {
			out = append(out, LogLine{Timestamp: time.Now(), Text: scanner.Text()})
		}
		stream.Close()
	}
	return out, nil
}
