package policy

import (
	"context"
	_ "embed"
	"sort"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/aiopscore/remediator/internal/apperrors"
)

//go:embed gate.rego
var gateModule string

// Decision is the gate's output.
type Decision string

const (
	Allow           Decision = "ALLOW"
	RequireApproval Decision = "REQUIRE_APPROVAL"
	Deny            Decision = "DENY"
)

// DefaultAllowlists are the per-environment action allowlists. The policy
// gate is the sole authority that applies them; no other layer should
// re-check membership.
func DefaultAllowlists() map[string][]string {
	return map[string][]string{
		"dev":     {"restart_pod", "delete_pod", "restart_deployment", "rollback_deployment", "scale_replicas", "cordon_node"},
		"staging": {"restart_pod", "delete_pod", "restart_deployment", "scale_replicas", "rollback_deployment"},
		"prod":    {"restart_pod", "delete_pod", "restart_deployment", "scale_replicas"},
	}
}

// Input is the gate's pure-function input.
type Input struct {
	Environment      string
	ActionType       string
	Namespace        string
	BlastRadiusScore float64
	AffectedReplicas int
	CurrentHour      int
	IsWeekend        bool
	FreezeActive     bool
	Allowlist        []string
}

// Evaluation is the persisted audit record of one gate invocation.
type Evaluation struct {
	Input       Input
	Decision    Decision
	Reason      string
	MatchedKeys []string
}

// Gate evaluates RemediationActions against the embedded Rego policy. It
// holds no mutable state after construction and is safe for concurrent use.
type Gate struct {
	query rego.PreparedEvalQuery
}

// NewGate compiles the embedded policy module once.
func NewGate(ctx context.Context) (*Gate, error) {
	r := rego.New(
		rego.Query("data.remediator.policy"),
		rego.Module("gate.rego", gateModule),
	)
	pq, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "compile policy module")
	}
	return &Gate{query: pq}, nil
}

// Evaluate is deterministic and side-effect free: identical Input always
// produces an identical Evaluation.
func (g *Gate) Evaluate(ctx context.Context, in Input) (Evaluation, error) {
	if in.Allowlist == nil {
		in.Allowlist = DefaultAllowlists()[in.Environment]
	}
	in.Allowlist = append([]string(nil), in.Allowlist...)
	sort.Strings(in.Allowlist)

	results, err := g.query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"environment":       in.Environment,
		"action_type":       in.ActionType,
		"namespace":         in.Namespace,
		"blast_radius_score": in.BlastRadiusScore,
		"affected_replicas": in.AffectedReplicas,
		"current_hour":      in.CurrentHour,
		"is_weekend":        in.IsWeekend,
		"freeze_active":     in.FreezeActive,
		"allowlist":         in.Allowlist,
	}))
	if err != nil {
		return Evaluation{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "evaluate policy")
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Evaluation{}, apperrors.New(apperrors.ErrorTypeInternal, "policy module produced no result")
	}

	out, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Evaluation{}, apperrors.New(apperrors.ErrorTypeInternal, "policy module returned an unexpected shape")
	}

	eval := Evaluation{
		Input:    in,
		Decision: Decision(stringField(out, "decision")),
		Reason:   stringField(out, "reason"),
	}
	if raw, ok := out["matched"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				eval.MatchedKeys = append(eval.MatchedKeys, s)
			}
		}
		sort.Strings(eval.MatchedKeys)
	}
	return eval, nil
}

func stringField(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
