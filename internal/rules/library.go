package rules

import (
	"fmt"

	"github.com/itchyny/gojq"

	"github.com/aiopscore/remediator/internal/domain"
)

// Thresholds parameterizes the rule predicates that reference a cutoff
// instead of a fixed boolean.
type Thresholds struct {
	ErrorLogRate float64 // matches/minute above which an external-dependency rule fires
	LatencyP99   float64 // seconds above which the scale-limit rule fires
}

// DefaultThresholds are the cutoffs used when no override is configured.
func DefaultThresholds() Thresholds {
	return Thresholds{ErrorLogRate: 1.0, LatencyP99: 1.0}
}

// Rule is a declarative predicate over Signals plus the Hypothesis template
// it produces when the predicate matches.
type Rule struct {
	Key            string
	Category       domain.Category
	Title          string
	Description    string
	BaseConfidence float64
	Actions        []domain.ActionTemplate
	SignalKeys     []string // signal keys whose contributing evidence supports a match

	query *gojq.Code
}

// compile parses and compiles the rule's jq predicate, binding $tau and
// $taulat to the configured Thresholds.
func compile(expr string) *gojq.Code {
	q, err := gojq.Parse(expr)
	if err != nil {
		panic(fmt.Sprintf("rules: invalid predicate %q: %v", expr, err))
	}
	code, err := gojq.Compile(q, gojq.WithVariables([]string{"$tau", "$taulat"}))
	if err != nil {
		panic(fmt.Sprintf("rules: uncompilable predicate %q: %v", expr, err))
	}
	return code
}

// Matches evaluates the rule's predicate against signals under thresholds.
func (r *Rule) Matches(signals map[string]interface{}, t Thresholds) (bool, error) {
	iter := r.query.Run(signals, t.ErrorLogRate, t.LatencyP99)
	v, ok := iter.Next()
	if !ok {
		return false, nil
	}
	if err, ok := v.(error); ok {
		return false, fmt.Errorf("rules: predicate %q: %w", r.Key, err)
	}
	truthy, ok := v.(bool)
	return ok && truthy, nil
}

// Library is the built-in rule set.
func Library() []*Rule {
	rules := []*Rule{
		{
			Key:            "bad_deploy",
			Category:       domain.CategoryBadDeploy,
			Title:          "Recent deploy introduced a crash loop",
			Description:    "A ReplicaSet rollout within the deploy lookback window coincides with pods entering CrashLoopBackOff.",
			BaseConfidence: 0.90,
			SignalKeys:     []string{"waiting_reasons", "has_recent_deploy"},
			Actions: []domain.ActionTemplate{
				{ActionType: "rollback_deployment"},
			},
			query: compile(`(.waiting_reasons | index("CrashLoopBackOff")) != null and .has_recent_deploy == true`),
		},
		{
			Key:            "external_dependency",
			Category:       domain.CategoryExternalDependency,
			Title:          "Crash loop without a correlated deploy",
			Description:    "Pods are crash-looping with an elevated error rate but no recent rollout, suggesting a failing external dependency.",
			BaseConfidence: 0.75,
			SignalKeys:     []string{"waiting_reasons", "error_log_rate"},
			Actions: []domain.ActionTemplate{
				{ActionType: "restart_pod"},
			},
			query: compile(`(.waiting_reasons | index("CrashLoopBackOff")) != null and .has_recent_deploy == false and .error_log_rate > $tau`),
		},
		{
			Key:            "memory_exhaustion",
			Category:       domain.CategoryMemoryExhaustion,
			Title:          "Workload is being OOM-killed",
			Description:    "Containers are terminating with OOMKilled or memory usage is saturated relative to their limit.",
			BaseConfidence: 0.95,
			SignalKeys:     []string{"terminated_reasons", "memory_usage_ratio"},
			Actions: []domain.ActionTemplate{
				{ActionType: "restart_pod"},
				{ActionType: "update_resource_limits"},
			},
			query: compile(`(.terminated_reasons | index("OOMKilled")) != null or .memory_usage_ratio >= 0.95`),
		},
		{
			Key:            "image_issue",
			Category:       domain.CategoryImageIssue,
			Title:          "Image cannot be pulled",
			Description:    "Pods are stuck unable to pull their configured image.",
			BaseConfidence: 0.95,
			SignalKeys:     []string{"waiting_reasons", "image_pull_failed"},
			Actions: []domain.ActionTemplate{
				{ActionType: "rollback_deployment"},
			},
			query: compile(`((.waiting_reasons | index("ImagePullBackOff")) != null) or ((.waiting_reasons | index("ErrImagePull")) != null)`),
		},
		{
			Key:            "scaling_limit",
			Category:       domain.CategoryScalingLimit,
			Title:          "Autoscaler is saturated",
			Description:    "The HPA is at its maximum replica count while p99 latency remains elevated.",
			BaseConfidence: 0.80,
			SignalKeys:     []string{"hpa_at_max", "latency_p99"},
			Actions: []domain.ActionTemplate{
				{ActionType: "scale_replicas"},
			},
			query: compile(`.hpa_at_max == true and .latency_p99 > $taulat`),
		},
		{
			Key:            "infrastructure",
			Category:       domain.CategoryInfrastructure,
			Title:          "Node-level failure affecting multiple pods",
			Description:    "An unhealthy node is correlated with failures across more than one pod scheduled on it.",
			BaseConfidence: 0.85,
			SignalKeys:     []string{"node_unhealthy", "pod_failures_on_node"},
			Actions: []domain.ActionTemplate{
				{ActionType: "cordon_node"},
				{ActionType: "drain_node"},
			},
			query: compile(`.node_unhealthy == true and .pod_failures_on_node > 1`),
		},
	}
	return rules
}
