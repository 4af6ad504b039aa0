// Package rules implements the C3 rules engine: signal extraction from an
// evidence set, a declarative rule library evaluated with jq-style
// predicates, and confidence-ranked hypothesis production.
package rules

import (
	"github.com/aiopscore/remediator/internal/domain"
)

// Signals is the flat reduction of an incident's evidence set that rule
// predicates are evaluated against.
type Signals struct {
	WaitingReasons    map[string]bool
	TerminatedReasons map[string]bool
	RestartCount      int32
	HasRecentDeploy   bool
	MemoryUsageRatio  float64
	NodeUnhealthy     bool
	PodFailuresOnNode int
	HPAAtMax          bool
	ErrorLogRate      float64
	ImagePullFailed   bool
	LatencyP99        float64

	// evidenceBySignal tracks which evidence IDs contributed to each signal
	// key, so a fired rule can cite its supporting evidence.
	evidenceBySignal map[string][]string
}

func newSignals() *Signals {
	return &Signals{
		WaitingReasons:    map[string]bool{},
		TerminatedReasons: map[string]bool{},
		evidenceBySignal:  map[string][]string{},
	}
}

func (s *Signals) mark(key, evidenceID string) {
	s.evidenceBySignal[key] = append(s.evidenceBySignal[key], evidenceID)
}

// SupportingEvidence returns the evidence IDs that contributed to any of the
// given signal keys, deduplicated.
func (s *Signals) SupportingEvidence(keys ...string) []string {
	seen := map[string]bool{}
	var out []string
	for _, k := range keys {
		for _, id := range s.evidenceBySignal[k] {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// ToMap renders Signals into the generic map a gojq predicate is evaluated
// against.
func (s *Signals) ToMap() map[string]interface{} {
	waiting := make([]string, 0, len(s.WaitingReasons))
	for r := range s.WaitingReasons {
		waiting = append(waiting, r)
	}
	terminated := make([]string, 0, len(s.TerminatedReasons))
	for r := range s.TerminatedReasons {
		terminated = append(terminated, r)
	}
	return map[string]interface{}{
		"waiting_reasons":     waiting,
		"terminated_reasons":  terminated,
		"restart_count":       s.RestartCount,
		"has_recent_deploy":   s.HasRecentDeploy,
		"memory_usage_ratio":  s.MemoryUsageRatio,
		"node_unhealthy":      s.NodeUnhealthy,
		"pod_failures_on_node": s.PodFailuresOnNode,
		"hpa_at_max":          s.HPAAtMax,
		"error_log_rate":      s.ErrorLogRate,
		"image_pull_failed":   s.ImagePullFailed,
		"latency_p99":         s.LatencyP99,
	}
}

// Extract reduces an evidence set into Signals.
func Extract(evidence []domain.Evidence) *Signals {
	s := newSignals()
	unhealthyNodes := map[string]bool{}

	for _, ev := range evidence {
		switch payload := ev.Data.(type) {
		case domain.PodStatePayload:
			s.RestartCount += payload.RestartCount
			for _, r := range payload.WaitingReasons {
				s.WaitingReasons[r] = true
				s.mark("waiting_reasons", ev.ID)
				if r == "ImagePullBackOff" || r == "ErrImagePull" {
					s.ImagePullFailed = true
					s.mark("image_pull_failed", ev.ID)
				}
			}
			for _, r := range payload.TerminatedReasons {
				s.TerminatedReasons[r] = true
				s.mark("terminated_reasons", ev.ID)
			}
			if payload.RestartCount > 0 {
				s.mark("restart_count", ev.ID)
			}

		case domain.DeployHistoryPayload:
			if payload.ImageChanged || payload.ConfigHashChanged {
				s.HasRecentDeploy = true
				s.mark("has_recent_deploy", ev.ID)
			}

		case domain.LogsPatternPayload:
			for class, rate := range payload.MatchesPerMinute {
				if class == "error" && rate > s.ErrorLogRate {
					s.ErrorLogRate = rate
					s.mark("error_log_rate", ev.ID)
				}
			}

		case domain.MetricSamplePayload:
			switch payload.Query {
			case "memory_usage_ratio":
				if payload.Value > s.MemoryUsageRatio {
					s.MemoryUsageRatio = payload.Value
					s.mark("memory_usage_ratio", ev.ID)
				}
			case "p99_latency":
				if payload.Value > s.LatencyP99 {
					s.LatencyP99 = payload.Value
					s.mark("latency_p99", ev.ID)
				}
			}

		case domain.NodeStatePayload:
			if !payload.Ready || payload.DiskPressure || payload.MemoryPressure {
				s.NodeUnhealthy = true
				unhealthyNodes[payload.NodeName] = true
				s.mark("node_unhealthy", ev.ID)
			}

		case domain.HPAStatePayload:
			if payload.AtMax() {
				s.HPAAtMax = true
				s.mark("hpa_at_max", ev.ID)
			}
		}
	}

	if len(unhealthyNodes) > 0 {
		for _, ev := range evidence {
			if payload, ok := ev.Data.(domain.PodStatePayload); ok && len(payload.WaitingReasons) > 0 {
				s.PodFailuresOnNode++
				s.mark("pod_failures_on_node", ev.ID)
			}
		}
	}

	return s
}
