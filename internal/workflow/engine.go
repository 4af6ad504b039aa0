// Package workflow implements C7: the durable state machine that composes
// the evidence graph (C1), collectors (C2), rules engine (C3), blast-radius
// policy gate (C4), executor (C5), and verifier (C6) into one incident
// lifecycle.
package workflow

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aiopscore/remediator/internal/apperrors"
	"github.com/aiopscore/remediator/internal/collectors"
	"github.com/aiopscore/remediator/internal/config"
	"github.com/aiopscore/remediator/internal/domain"
	"github.com/aiopscore/remediator/internal/executor"
	"github.com/aiopscore/remediator/internal/graph"
	"github.com/aiopscore/remediator/internal/llm"
	"github.com/aiopscore/remediator/internal/policy"
	"github.com/aiopscore/remediator/internal/rules"
	"github.com/aiopscore/remediator/internal/verifier"
	"github.com/aiopscore/remediator/pkg/audit"
	"github.com/aiopscore/remediator/pkg/notify"
)

// activityRetryAttempts and activityRetryDelays implement up to three
// retries after the first attempt, with 1s/4s/16s-plus-jitter backoff,
// applied to collectors, graph upserts, and
// verification calls. The policy gate is pure and is never retried.
const activityRetryAttempts = 3

var activityRetryDelays = []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}

// Engine runs one incident's lifecycle end to end. It holds no per-incident
// mutable state. It appends each step to the journal but never calls
// Replay, so an incident in flight when the process stops is not resumed.
type Engine struct {
	cfg        config.Workflow
	graphStore graph.Store
	collectors *collectors.Registry
	rules      *rules.Engine
	enricher   llm.Enricher
	gate       *policy.Gate
	exec       *executor.Executor
	verify     *verifier.Verifier
	approvals  notify.ApprovalChannel
	auditStore audit.Store
	journal    Journal
	dedup      *redis.Client
	logger     *zap.Logger
}

// New builds an Engine. enricher, approvals, auditStore, and dedup may be
// nil: enrichment is optional, a nil approvals channel
// falls back to auto-approval via notify.LogOnlyChannel, a nil auditStore
// skips persistence, and a nil dedup client disables fingerprint dedup
// (single-process/test mode).
func New(
	cfg config.Workflow,
	graphStore graph.Store,
	registry *collectors.Registry,
	rulesEngine *rules.Engine,
	enricher llm.Enricher,
	gate *policy.Gate,
	exec *executor.Executor,
	verify *verifier.Verifier,
	approvals notify.ApprovalChannel,
	auditStore audit.Store,
	journal Journal,
	dedup *redis.Client,
	logger *zap.Logger,
) *Engine {
	if approvals == nil {
		approvals = notify.NewLogOnlyChannel(logger)
	}
	if journal == nil {
		journal = NewInMemoryJournal()
	}
	return &Engine{
		cfg:        cfg,
		graphStore: graphStore,
		collectors: registry,
		rules:      rulesEngine,
		enricher:   enricher,
		gate:       gate,
		exec:       exec,
		verify:     verify,
		approvals:  approvals,
		auditStore: auditStore,
		journal:    journal,
		dedup:      dedup,
		logger:     logger,
	}
}

// dedupTTL bounds how long a fingerprint maps to an in-flight incident;
// chosen to span the overall soft deadline so a retried alert for the same
// problem always finds the existing incident.
const dedupTTL = 8 * time.Hour

// Process runs alert through the full C7 state machine and returns the
// incident's terminal state. It is safe to call concurrently for distinct
// fingerprints; calls sharing a fingerprint while one is in flight return
// the existing incident without starting a second workflow.
func (e *Engine) Process(ctx context.Context, alert domain.AlertPayload) (domain.Incident, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.OverallWorkflowSoftDeadline)
	defer cancel()

	incident, isNew, err := e.openOrDedupe(ctx, alert)
	if err != nil {
		return incident, err
	}
	if !isNew {
		return incident, nil
	}

	incident = e.transition(ctx, incident, domain.StatusInvestigating, domain.FailureNone)

	evidence, err := e.collectEvidence(ctx, incident)
	if err != nil {
		return e.fail(ctx, incident, domain.FailureExecutionFailed, fmt.Sprintf("evidence collection: %v", err)), nil
	}

	hypotheses, err := e.rules.Evaluate(incident.ID, evidence)
	if err != nil {
		return e.fail(ctx, incident, domain.FailureExecutionFailed, fmt.Sprintf("rule evaluation: %v", err)), nil
	}
	hypotheses = llm.Enrich(ctx, e.logger, e.enricher, incident, hypotheses)
	e.appendJournal(ctx, incident.ID, EventHypothesesRanked, map[string]string{"count": fmt.Sprint(len(hypotheses))})

	top := topHypothesis(hypotheses)
	if top == nil || len(top.RecommendedActions) == 0 {
		return e.resolve(ctx, incident), nil
	}

	return e.remediate(ctx, incident, *top)
}

// openOrDedupe creates a new Incident, or returns the existing one if
// alert's fingerprint already maps to an in-flight workflow.
func (e *Engine) openOrDedupe(ctx context.Context, alert domain.AlertPayload) (domain.Incident, bool, error) {
	fingerprint := alert.Fingerprint
	if fingerprint == "" {
		fingerprint = fmt.Sprintf("%s/%s/%s/%s", alert.Cluster, alert.Namespace, alert.Service, alert.Title)
	}

	incidentID := uuid.NewString()
	if e.dedup != nil {
		ok, err := e.dedup.SetNX(ctx, dedupKey(fingerprint), incidentID, dedupTTL).Result()
		if err != nil {
			return domain.Incident{}, false, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "fingerprint dedup")
		}
		if !ok {
			existing, getErr := e.dedup.Get(ctx, dedupKey(fingerprint)).Result()
			if getErr == nil {
				return domain.Incident{ID: existing, Fingerprint: fingerprint}, false, nil
			}
		}
	}

	incident := domain.Incident{
		ID:          incidentID,
		Fingerprint: fingerprint,
		Title:       alert.Title,
		Severity:    alert.Severity,
		Status:      domain.StatusOpen,
		Source:      alert.Source,
		Cluster:     alert.Cluster,
		Namespace:   alert.Namespace,
		Service:     alert.Service,
		Labels:      alert.Labels,
		Annotations: alert.Annotations,
		StartedAt:   alert.StartedAt,
	}
	e.appendJournal(ctx, incident.ID, EventIncidentOpened, map[string]string{"fingerprint": fingerprint})
	return incident, true, nil
}

func dedupKey(fingerprint string) string {
	return "workflow:dedup:" + fingerprint
}

// collectEvidence runs every registered collector concurrently, bounded by
// the total collection deadline, and upserts each result into the graph.
func (e *Engine) collectEvidence(ctx context.Context, incident domain.Incident) ([]domain.Evidence, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CollectionDeadlineTotal)
	defer cancel()

	window := domain.TimeWindow{Start: time.Now().Add(-e.cfg.DeployLookback), End: time.Now()}
	incCtx := collectors.IncidentContext{
		IncidentID: incident.ID,
		Cluster:    incident.Cluster,
		Namespace:  incident.Namespace,
		Service:    incident.Service,
	}

	all := e.collectors.All()
	group, groupCtx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	var evidence []domain.Evidence
	for _, c := range all {
		c := c
		group.Go(func() error {
			perSourceCtx, perCancel := context.WithTimeout(groupCtx, e.cfg.CollectionDeadlinePerSource)
			defer perCancel()

			ev, err := runActivity(perSourceCtx, fmt.Sprintf("collect:%s", c.Name()), func(ctx context.Context) ([]domain.Evidence, error) {
				return c.Collect(ctx, incCtx, window)
			}, e.logger)
			if err != nil {
				if e.logger != nil {
					e.logger.Warn("collector failed, continuing without it", zap.String("incident_id", incident.ID), zap.Error(err))
				}
				return nil // a failed collector never aborts the join; it just contributes nothing
			}

			mu.Lock()
			evidence = append(evidence, ev...)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return evidence, err
	}

	for _, ev := range evidence {
		entityID, err := runActivity(ctx, "graph:upsert_entity", func(ctx context.Context) (string, error) {
			return e.graphStore.UpsertEntity(ctx, graph.Key{
				Cluster: incident.Cluster, Namespace: ev.EntityNamespace, Kind: "entity", Name: ev.EntityName,
			}, nil)
		}, e.logger)
		if err != nil {
			continue
		}
		_ = e.graphStore.LinkIncidentToEntity(ctx, incident.ID, entityID, graph.RelAffects, nil)
		_ = e.graphStore.AttachEvidence(ctx, incident.ID, ev)
	}
	e.appendJournal(ctx, incident.ID, EventEvidenceCollected, map[string]string{"count": fmt.Sprint(len(evidence))})

	return evidence, nil
}

func topHypothesis(hs []domain.Hypothesis) *domain.Hypothesis {
	for i := range hs {
		if hs[i].Rank == 1 {
			return &hs[i]
		}
	}
	return nil
}

// remediate proposes, gates, optionally awaits approval for, executes, and
// verifies the top hypothesis's first recommended action.
func (e *Engine) remediate(ctx context.Context, incident domain.Incident, top domain.Hypothesis) (domain.Incident, error) {
	incident = e.transition(ctx, incident, domain.StatusRemediating, domain.FailureNone)

	template := top.RecommendedActions[0]
	action := domain.RemediationAction{
		ID:              uuid.NewString(),
		IncidentID:      incident.ID,
		HypothesisID:    top.ID,
		ActionType:      domain.ActionType(template.ActionType),
		TargetResource:  incident.Service,
		TargetNamespace: incident.Namespace,
		Parameters:      template.Parameters,
		Status:          domain.ActionProposed,
	}
	action.IdempotencyKey = executor.IdempotencyKey(incident.ID, action.ActionType, action.TargetResource, action.Parameters)
	action.RiskLevel = riskLevel(action.ActionType, e.cfg.HighRiskActions)
	action.BlastRadiusScore = policy.Score(policy.BlastRadiusInput{
		ReplicaFractionAffected: replicaFraction(action.ActionType),
		NamespaceCriticality:    namespaceCriticality(incident.Namespace, e.cfg.ProtectedNamespaces),
		Environment:             string(e.cfg.Environment),
		ActionRisk:              action.RiskLevel,
	}, policy.DefaultWeights())
	e.appendJournal(ctx, incident.ID, EventActionProposed, map[string]string{"action_id": action.ID, "action_type": string(action.ActionType)})

	hour := time.Now().Hour()
	eval, err := e.gate.Evaluate(ctx, policy.Input{
		Environment:      string(e.cfg.Environment),
		ActionType:       string(action.ActionType),
		Namespace:        incident.Namespace,
		BlastRadiusScore: action.BlastRadiusScore,
		AffectedReplicas: 1,
		CurrentHour:      hour,
		IsWeekend:        time.Now().Weekday() == time.Saturday || time.Now().Weekday() == time.Sunday,
		FreezeActive:     inFreezeWindow(hour, e.cfg.FreezeHoursStart, e.cfg.FreezeHoursEnd),
	})
	if err != nil {
		return e.fail(ctx, incident, domain.FailureExecutionFailed, fmt.Sprintf("policy evaluation: %v", err)), nil
	}
	e.appendJournal(ctx, incident.ID, EventPolicyEvaluated, map[string]string{"decision": string(eval.Decision), "reason": eval.Reason})
	if e.auditStore != nil {
		_ = e.auditStore.RecordPolicyEvaluation(ctx, incident.ID, action.ID, eval)
	}

	switch eval.Decision {
	case policy.Deny:
		action.Status = domain.ActionPolicyDenied
		return e.fail(ctx, incident, domain.FailurePolicyDenied, eval.Reason), nil
	case policy.RequireApproval:
		incident = e.transition(ctx, incident, domain.StatusAwaitingApproval, domain.FailureNone)
		action.Status = domain.ActionAwaitingApproval
		outcome, err := e.awaitApproval(ctx, incident, action)
		if err != nil {
			return e.fail(ctx, incident, domain.FailureExecutionFailed, fmt.Sprintf("approval channel: %v", err)), nil
		}
		switch outcome {
		case notify.TimedOut:
			return e.fail(ctx, incident, domain.FailureApprovalTimeout, "approval window elapsed"), nil
		case notify.Denied:
			return e.fail(ctx, incident, domain.FailureCancelled, "reviewer denied the action"), nil
		}
		now := time.Now()
		action.ApprovedAt = &now
		action.Status = domain.ActionApproved
		incident = e.transition(ctx, incident, domain.StatusRemediating, domain.FailureNone)
	case policy.Allow:
		action.Status = domain.ActionApproved
	}

	return e.executeAndVerify(ctx, incident, action)
}

func (e *Engine) awaitApproval(ctx context.Context, incident domain.Incident, action domain.RemediationAction) (notify.Outcome, error) {
	deadline := time.Now().Add(e.cfg.ApprovalTimeout)
	summary := fmt.Sprintf("%s on %s/%s (blast radius %.0f) for incident %q",
		action.ActionType, incident.Namespace, action.TargetResource, action.BlastRadiusScore, incident.Title)
	e.appendJournal(ctx, incident.ID, EventApprovalRequested, map[string]string{"action_id": action.ID, "deadline": deadline.Format(time.RFC3339)})

	outcome, err := e.approvals.Request(ctx, summary, deadline)
	if err != nil {
		return "", err
	}
	e.appendJournal(ctx, incident.ID, EventApprovalResolved, map[string]string{"action_id": action.ID, "outcome": string(outcome)})
	return outcome, nil
}

// executeAndVerify runs the action, waits the verification delay, and
// re-checks metrics. A failed verification fails the incident with
// FailureUnverified at once; Workflow.RetryBudget is not read, so the
// remediate-execute-verify cycle is never re-entered.
func (e *Engine) executeAndVerify(ctx context.Context, incident domain.Incident, action domain.RemediationAction) (domain.Incident, error) {
	var errorRateBefore float64
	var latencyBefore time.Duration
	if baseline, err := e.verify.Baseline(ctx, action); err == nil {
		errorRateBefore, latencyBefore = baseline.ErrorRate, baseline.Latency
	}

	action.Status = domain.ActionExecuting
	executed, err := e.exec.Execute(ctx, action)
	e.appendJournal(ctx, incident.ID, EventActionExecuted, map[string]string{"action_id": action.ID, "status": string(executed.Status)})
	if err != nil {
		return e.fail(ctx, incident, domain.FailureExecutionFailed, executed.ExecutionResult), nil
	}

	incident = e.transition(ctx, incident, domain.StatusVerifying, domain.FailureNone)
	result, err := runActivity(ctx, "verify", func(ctx context.Context) (domain.VerificationResult, error) {
		return e.verify.Verify(ctx, executed, errorRateBefore, latencyBefore)
	}, e.logger)
	e.appendJournal(ctx, incident.ID, EventVerificationResult, map[string]string{"action_id": action.ID, "success": fmt.Sprint(result.Success)})
	if err != nil {
		return e.fail(ctx, incident, domain.FailureUnverified, err.Error()), nil
	}
	if !result.Success {
		return e.fail(ctx, incident, domain.FailureUnverified, result.VerificationDetails), nil
	}

	return e.resolve(ctx, incident), nil
}

func (e *Engine) transition(ctx context.Context, incident domain.Incident, to domain.Status, reason domain.FailureReason) domain.Incident {
	if !domain.CanTransition(incident.Status, to) {
		if e.logger != nil {
			e.logger.Warn("illegal status transition requested, forcing it through", zap.String("incident_id", incident.ID),
				zap.String("from", string(incident.Status)), zap.String("to", string(to)))
		}
	}
	from := incident.Status
	incident.Status = to
	incident.FailureReason = reason
	e.appendJournal(ctx, incident.ID, EventStatusChanged, map[string]string{"from": string(from), "to": string(to)})
	if e.auditStore != nil {
		_ = e.auditStore.RecordStateTransition(ctx, incident.ID, string(from), string(to), reason)
	}
	return incident
}

func (e *Engine) resolve(ctx context.Context, incident domain.Incident) domain.Incident {
	incident = e.transition(ctx, incident, domain.StatusResolved, domain.FailureNone)
	now := time.Now()
	incident.ResolvedAt = &now
	e.appendJournal(ctx, incident.ID, EventWorkflowFinished, map[string]string{"status": string(incident.Status)})
	return incident
}

func (e *Engine) fail(ctx context.Context, incident domain.Incident, reason domain.FailureReason, details string) domain.Incident {
	incident = e.transition(ctx, incident, domain.StatusFailed, reason)
	e.appendJournal(ctx, incident.ID, EventWorkflowFinished, map[string]string{"status": string(incident.Status), "reason": string(reason), "details": details})
	return incident
}

func (e *Engine) appendJournal(ctx context.Context, incidentID string, eventType EventType, data map[string]string) {
	_ = e.journal.Append(ctx, Event{IncidentID: incidentID, Type: eventType, Data: data, OccurredAt: time.Now()})
}

func riskLevel(actionType domain.ActionType, highRisk []string) domain.RiskLevel {
	for _, hr := range highRisk {
		if string(actionType) == hr {
			return domain.RiskHigh
		}
	}
	switch actionType {
	case domain.ActionRestartPod, domain.ActionDeletePod:
		return domain.RiskLow
	default:
		return domain.RiskMedium
	}
}

// replicaFraction estimates the share of a workload's replicas an action
// touches, absent a live replica count from the cluster: single-pod
// operations affect one of an assumed-typical fleet, workload-wide
// operations affect all of it.
func replicaFraction(actionType domain.ActionType) float64 {
	switch actionType {
	case domain.ActionRestartPod, domain.ActionDeletePod:
		return 0.2
	default:
		return 1.0
	}
}

func namespaceCriticality(namespace string, protected []string) float64 {
	for _, p := range protected {
		if namespace == p {
			return 1.0
		}
	}
	return 0.3
}

func inFreezeWindow(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// runActivity retries fn up to activityRetryAttempts additional times with
// fixed backoff plus jitter, for the non-pure activities the workflow calls
// (collectors, graph upserts, verification). The policy gate is excluded by
// convention: it is never passed through runActivity.
func runActivity[T any](ctx context.Context, name string, fn func(context.Context) (T, error), logger *zap.Logger) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= activityRetryAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == activityRetryAttempts {
			break
		}
		delay := activityRetryDelays[attempt] + time.Duration(rand.Intn(250))*time.Millisecond
		if logger != nil {
			logger.Warn("activity failed, retrying", zap.String("activity", name), zap.Int("attempt", attempt+1), zap.Error(err))
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	return zero, apperrors.Wrapf(lastErr, apperrors.ErrorTypeInternal, "activity %q exhausted retries", name)
}
