package collectors

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/aiopscore/remediator/internal/domain"
)

// interestingWaitingReasons and interestingEventReasons narrow cluster-state
// collection to the signals the rules engine consumes.
var interestingWaitingReasons = map[string]bool{
	"CrashLoopBackOff":            true,
	"ImagePullBackOff":            true,
	"ErrImagePull":                true,
	"CreateContainerConfigError":  true,
}

var interestingEventReasons = map[string]bool{
	"FailedScheduling": true,
	"BackOff":          true,
	"Unhealthy":        true,
	"FailedMount":      true,
}

// ClusterStateCollector gathers pod/deployment/node/HPA/event evidence from
// the Kubernetes API.
type ClusterStateCollector struct {
	client  kubernetes.Interface
	breaker *gobreaker.CircuitBreaker
}

// NewClusterStateCollector wraps client in a circuit breaker so a failing
// API server degrades collection instead of hanging the workflow.
func NewClusterStateCollector(client kubernetes.Interface) *ClusterStateCollector {
	return &ClusterStateCollector{
		client: client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "cluster-state",
			Timeout: 30 * time.Second,
		}),
	}
}

func (c *ClusterStateCollector) Name() string { return "cluster-state" }

func (c *ClusterStateCollector) Collect(ctx context.Context, incident IncidentContext, window domain.TimeWindow) ([]domain.Evidence, error) {
	var evidence []domain.Evidence
	partial := false

	if pods, err := c.listPods(ctx, incident); err == nil {
		evidence = append(evidence, pods...)
	} else {
		partial = true
	}
	if nodes, err := c.listNodes(ctx); err == nil {
		evidence = append(evidence, nodes...)
	} else {
		partial = true
	}
	if hpas, err := c.listHPAs(ctx, incident); err == nil {
		evidence = append(evidence, hpas...)
	} else {
		partial = true
	}
	if events, err := c.listEvents(ctx, incident); err == nil {
		evidence = append(evidence, events...)
	} else {
		partial = true
	}

	if partial {
		for i := range evidence {
			evidence[i].Partial = true
		}
	}
	return evidence, nil
}

func (c *ClusterStateCollector) listPods(ctx context.Context, incident IncidentContext) ([]domain.Evidence, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.client.CoreV1().Pods(incident.Namespace).List(ctx, metav1.ListOptions{
			LabelSelector: "app=" + incident.Service,
		})
	})
	if err != nil {
		return nil, err
	}
	list := result.(*corev1.PodList)

	now := time.Now()
	var out []domain.Evidence
	for _, pod := range list.Items {
		payload := domain.PodStatePayload{PodName: pod.Name}
		for _, cs := range pod.Status.ContainerStatuses {
			payload.RestartCount += cs.RestartCount
			if cs.State.Waiting != nil && interestingWaitingReasons[cs.State.Waiting.Reason] {
				payload.WaitingReasons = append(payload.WaitingReasons, cs.State.Waiting.Reason)
			}
			if cs.State.Terminated != nil && cs.State.Terminated.Reason == "OOMKilled" {
				payload.TerminatedReasons = append(payload.TerminatedReasons, "OOMKilled")
			}
			payload.Ready = payload.Ready || cs.Ready
		}

		strength := SignalPresence
		if len(payload.TerminatedReasons) > 0 || containsAny(payload.WaitingReasons, "ImagePullBackOff", "ErrImagePull") {
			strength = SignalTerminalState
		} else if payload.RestartCount > 5 {
			strength = SignalHighRestartDelta
		}

		out = append(out, domain.Evidence{
			EvidenceType:    domain.EvidencePodState,
			Source:          domain.SourceK8s,
			EntityName:      pod.Name,
			EntityNamespace: pod.Namespace,
			Data:            payload,
			SignalStrength:  strength,
			CollectedAt:     now,
		})
	}
	return out, nil
}

func (c *ClusterStateCollector) listNodes(ctx context.Context) ([]domain.Evidence, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	})
	if err != nil {
		return nil, err
	}
	list := result.(*corev1.NodeList)

	now := time.Now()
	var out []domain.Evidence
	for _, node := range list.Items {
		payload := domain.NodeStatePayload{NodeName: node.Name, Ready: true}
		for _, cond := range node.Status.Conditions {
			switch cond.Type {
			case corev1.NodeReady:
				payload.Ready = cond.Status == corev1.ConditionTrue
			case corev1.NodeDiskPressure:
				payload.DiskPressure = cond.Status == corev1.ConditionTrue
			case corev1.NodeMemoryPressure:
				payload.MemoryPressure = cond.Status == corev1.ConditionTrue
			case corev1.NodePIDPressure:
				payload.PIDPressure = cond.Status == corev1.ConditionTrue
			}
		}

		strength := SignalInformational
		if !payload.Ready || payload.DiskPressure || payload.MemoryPressure {
			strength = SignalHighRestartDelta
		}

		out = append(out, domain.Evidence{
			EvidenceType:   domain.EvidenceNodeState,
			Source:         domain.SourceK8s,
			EntityName:     node.Name,
			Data:           payload,
			SignalStrength: strength,
			CollectedAt:    now,
		})
	}
	return out, nil
}

func (c *ClusterStateCollector) listHPAs(ctx context.Context, incident IncidentContext) ([]domain.Evidence, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.client.AutoscalingV2().HorizontalPodAutoscalers(incident.Namespace).List(ctx, metav1.ListOptions{})
	})
	if err != nil {
		return nil, err
	}
	list := result.(*autoscalingv2.HorizontalPodAutoscalerList)

	now := time.Now()
	var out []domain.Evidence
	for _, hpa := range list.Items {
		payload := domain.HPAStatePayload{
			Name:            hpa.Name,
			CurrentReplicas: hpa.Status.CurrentReplicas,
			MaxReplicas:     hpa.Spec.MaxReplicas,
		}

		strength := SignalInformational
		if payload.AtMax() {
			strength = SignalHighRestartDelta
		}

		out = append(out, domain.Evidence{
			EvidenceType:    domain.EvidenceHPAState,
			Source:          domain.SourceK8s,
			EntityName:      hpa.Name,
			EntityNamespace: hpa.Namespace,
			Data:            payload,
			SignalStrength:  strength,
			CollectedAt:     now,
		})
	}
	return out, nil
}

func (c *ClusterStateCollector) listEvents(ctx context.Context, incident IncidentContext) ([]domain.Evidence, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.client.CoreV1().Events(incident.Namespace).List(ctx, metav1.ListOptions{})
	})
	if err != nil {
		return nil, err
	}
	list := result.(*corev1.EventList)

	reasons := map[string]int{}
	for _, ev := range list.Items {
		if interestingEventReasons[ev.Reason] {
			reasons[ev.Reason]++
		}
	}
	if len(reasons) == 0 {
		return nil, nil
	}

	payload := domain.EventsPayload{}
	for reason, count := range reasons {
		payload.Reasons = append(payload.Reasons, reason)
		payload.Count += count
	}

	return []domain.Evidence{{
		EvidenceType:   domain.EvidenceEvents,
		Source:         domain.SourceK8s,
		EntityNamespace: incident.Namespace,
		Data:           payload,
		SignalStrength: SignalPresence,
		CollectedAt:    time.Now(),
	}}, nil
}

func containsAny(haystack []string, needles ...string) bool {
	set := make(map[string]bool, len(needles))
	for _, n := range needles {
		set[n] = true
	}
	for _, h := range haystack {
		if set[h] {
			return true
		}
	}
	return false
}
