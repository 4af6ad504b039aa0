package workflow

import (
	"context"
	"sync"
	"time"
)

// EventType names one durable step of the C7 state machine.
type EventType string

const (
	EventIncidentOpened     EventType = "incident_opened"
	EventStatusChanged      EventType = "status_changed"
	EventEvidenceCollected  EventType = "evidence_collected"
	EventHypothesesRanked   EventType = "hypotheses_ranked"
	EventActionProposed     EventType = "action_proposed"
	EventPolicyEvaluated    EventType = "policy_evaluated"
	EventApprovalRequested  EventType = "approval_requested"
	EventApprovalResolved   EventType = "approval_resolved"
	EventActionExecuted     EventType = "action_executed"
	EventVerificationResult EventType = "verification_result"
	EventWorkflowFinished   EventType = "workflow_finished"
)

// Event is one journaled step. Data carries a small set of string fields
// rather than an arbitrary payload, keeping replay cheap and the journal
// schema stable across versions.
type Event struct {
	IncidentID string
	Type       EventType
	Data       map[string]string
	OccurredAt time.Time
}

// Journal records an incident's workflow steps in order, and Replay returns
// them. Engine appends an event as each step completes; it does not read
// the journal back, so a restart does not resume an in-flight incident.
type Journal interface {
	Append(ctx context.Context, ev Event) error
	Replay(ctx context.Context, incidentID string) ([]Event, error)
}

// InMemoryJournal is a Journal for tests and single-process deployments
// where no durable journal store is configured.
type InMemoryJournal struct {
	mu     sync.Mutex
	events map[string][]Event
}

// NewInMemoryJournal builds an empty InMemoryJournal.
func NewInMemoryJournal() *InMemoryJournal {
	return &InMemoryJournal{events: make(map[string][]Event)}
}

func (j *InMemoryJournal) Append(ctx context.Context, ev Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events[ev.IncidentID] = append(j.events[ev.IncidentID], ev)
	return nil
}

func (j *InMemoryJournal) Replay(ctx context.Context, incidentID string) ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Event, len(j.events[incidentID]))
	copy(out, j.events[incidentID])
	return out, nil
}

// LastEventType returns the type of the most recent journaled event for
// incidentID, or "" if none exists.
func LastEventType(events []Event) EventType {
	if len(events) == 0 {
		return ""
	}
	return events[len(events)-1].Type
}
