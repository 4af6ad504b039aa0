// Package domain holds the core entities of the incident-to-remediation
// pipeline: Incident, Evidence, Hypothesis, RemediationAction and
// VerificationResult, plus the typed-variant payloads attached to them.
package domain

import "time"

// Severity is the incident severity reported by the upstream monitor.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityPage     Severity = "page"
)

// Status is the incident lifecycle state driven by the C7 workflow.
type Status string

const (
	StatusOpen             Status = "open"
	StatusInvestigating    Status = "investigating"
	StatusRemediating      Status = "remediating"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusVerifying        Status = "verifying"
	StatusResolved         Status = "resolved"
	StatusFailed           Status = "failed"
)

// FailureReason further qualifies a StatusFailed incident.
type FailureReason string

const (
	FailureNone            FailureReason = ""
	FailurePolicyDenied    FailureReason = "PolicyDenied"
	FailureApprovalTimeout FailureReason = "ApprovalTimeout"
	FailureExecutionFailed FailureReason = "ExecutionFailed"
	FailureCancelled       FailureReason = "Cancelled"
	FailureUnverified      FailureReason = "Unverified"
)

// Incident is the deduplicated, persistent representation of one ongoing
// issue. Fingerprint is globally unique; Status transitions follow the C7
// state machine; ResolvedAt, once set, is never before StartedAt.
type Incident struct {
	ID             string
	Fingerprint    string
	Title          string
	Severity       Severity
	Status         Status
	FailureReason  FailureReason
	Source         string
	Cluster        string
	Namespace      string
	Service        string
	Labels         map[string]string
	Annotations    map[string]string
	StartedAt      time.Time
	AcknowledgedAt *time.Time
	ResolvedAt     *time.Time
}

// AlertPayload is the normalized inbound alert shape. The webhook ingestion
// surface that produces it runs upstream of this process; this struct is
// the contract the workflow accepts.
type AlertPayload struct {
	Fingerprint string            `validate:"omitempty"`
	Title       string            `validate:"required"`
	Severity    Severity          `validate:"required,oneof=info warning critical page"`
	Source      string            `validate:"required"`
	Cluster     string            `validate:"required"`
	Namespace   string            `validate:"required"`
	Service     string            `validate:"omitempty"`
	Labels      map[string]string `validate:"omitempty"`
	Annotations map[string]string `validate:"omitempty"`
	StartedAt   time.Time         `validate:"required"`
}

// validTransitions encodes the incident lifecycle's state machine.
var validTransitions = map[Status][]Status{
	StatusOpen:             {StatusInvestigating, StatusResolved, StatusFailed},
	StatusInvestigating:    {StatusRemediating, StatusResolved, StatusFailed},
	StatusRemediating:      {StatusAwaitingApproval, StatusVerifying, StatusResolved, StatusFailed},
	StatusAwaitingApproval: {StatusRemediating, StatusResolved, StatusFailed},
	StatusVerifying:        {StatusResolved, StatusFailed, StatusRemediating},
	StatusFailed:           {StatusRemediating, StatusResolved},
	StatusResolved:         {},
}

// CanTransition reports whether moving from `from` to `to` is legal.
// "resolved" is always reachable on an external acknowledgement, regardless
// of the current state.
func CanTransition(from, to Status) bool {
	if to == StatusResolved {
		return from != StatusResolved
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether status ends the workflow.
func IsTerminal(s Status) bool {
	return s == StatusResolved || s == StatusFailed
}
