package domain

import "time"

// ActionType enumerates the remediation operations C5 can perform.
type ActionType string

const (
	ActionRestartPod          ActionType = "restart_pod"
	ActionDeletePod           ActionType = "delete_pod"
	ActionRestartDeployment   ActionType = "restart_deployment"
	ActionRollbackDeployment  ActionType = "rollback_deployment"
	ActionScaleReplicas       ActionType = "scale_replicas"
	ActionCordonNode          ActionType = "cordon_node"
	ActionDrainNode           ActionType = "drain_node"
	ActionDeletePVC           ActionType = "delete_pvc"
	ActionUpdateResourceLimits ActionType = "update_resource_limits"
	ActionDeleteNamespace     ActionType = "delete_namespace"
	ActionUpdateConfigMap     ActionType = "update_configmap"
	ActionUncordonNode        ActionType = "uncordon_node"
)

// RiskLevel feeds the blast-radius score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ActionStatus is the lifecycle of one RemediationAction.
type ActionStatus string

const (
	ActionProposed        ActionStatus = "proposed"
	ActionPolicyDenied     ActionStatus = "policy_denied"
	ActionAwaitingApproval ActionStatus = "awaiting_approval"
	ActionApproved         ActionStatus = "approved"
	ActionExecuting        ActionStatus = "executing"
	ActionSucceeded        ActionStatus = "succeeded"
	ActionFailed           ActionStatus = "failed"
	ActionVerified         ActionStatus = "verified"
	ActionUnverified       ActionStatus = "unverified"
)

// IsTerminal reports whether an ActionStatus ends the action's lifecycle.
func (s ActionStatus) IsTerminal() bool {
	switch s {
	case ActionPolicyDenied, ActionSucceeded, ActionFailed, ActionVerified, ActionUnverified:
		return true
	default:
		return false
	}
}

// ScaleReplicasParams is the typed parameter payload for ActionScaleReplicas.
type ScaleReplicasParams struct {
	Replicas int32
}

// RemediationAction is a single proposed/executed remediation. Replaying an
// action with an existing IdempotencyKey must return the prior record
// without re-executing.
type RemediationAction struct {
	ID                string
	IncidentID        string
	HypothesisID      string
	IdempotencyKey    string
	ActionType        ActionType
	TargetResource    string
	TargetNamespace   string
	Parameters        map[string]string
	RiskLevel         RiskLevel
	BlastRadiusScore  float64
	Status            ActionStatus
	RequiresApproval  bool
	ApprovedBy        string
	ApprovedAt        *time.Time
	ExecutedAt        *time.Time
	CompletedAt       *time.Time
	ExecutionResult   string
}

// VerificationResult is tied to one RemediationAction.
type VerificationResult struct {
	ActionID           string
	Success            bool
	MetricsImproved    bool
	ErrorRateBefore    float64
	ErrorRateAfter     float64
	LatencyBefore      time.Duration
	LatencyAfter       time.Duration
	RestartDeltaAfter  int
	PodsReadyRatio     float64
	VerificationDetails string
}
