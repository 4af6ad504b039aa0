// Package executor implements the C5 remediation executor: idempotent,
// retried operations against the cluster, keyed so replaying an action
// never re-executes it.
package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/kubernetes"

	"github.com/aiopscore/remediator/internal/apperrors"
	"github.com/aiopscore/remediator/internal/domain"
)

// retryDelays is the fixed exponential backoff applied between attempts.
var retryDelays = []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}

const perAttemptTimeout = 60 * time.Second

// idempotencyTTL bounds how long a cached execution result is honored
// before a replay would re-execute; chosen generously above the overall
// workflow soft deadline so a crash-restart within one incident's lifetime
// always finds its prior result.
const idempotencyTTL = 24 * time.Hour

// Operation performs one action_type's cluster mutation. Implementations
// must be safe to invoke more than once for the same target (the Executor
// itself is what provides the idempotency guarantee, but an Operation
// should still express the mutation as an upsert/patch rather than a
// blind create where the underlying API allows it).
type Operation func(ctx context.Context, client kubernetes.Interface, action domain.RemediationAction) (string, error)

// Executor dispatches RemediationActions to per-action-type Operations,
// deduplicating via a Redis-cached idempotency key and guarding the
// cluster call with a circuit breaker.
type Executor struct {
	client     kubernetes.Interface
	redis      *redis.Client
	breaker    *gobreaker.CircuitBreaker
	operations map[domain.ActionType]Operation
}

// New constructs an Executor with the built-in operation set.
func New(client kubernetes.Interface, rdb *redis.Client) *Executor {
	e := &Executor{
		client: client,
		redis:  rdb,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "executor",
			Timeout: 30 * time.Second,
		}),
		operations: map[domain.ActionType]Operation{},
	}
	for actionType, op := range builtinOperations() {
		e.operations[actionType] = op
	}
	return e
}

// Register overrides or adds an Operation for actionType.
func (e *Executor) Register(actionType domain.ActionType, op Operation) {
	e.operations[actionType] = op
}

// IdempotencyKey derives a stable key from
// (incident_id, action_type, target, parameters_hash).
func IdempotencyKey(incidentID string, actionType domain.ActionType, target string, parameters map[string]string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s", incidentID, actionType, target, parametersHash(parameters))
	return hex.EncodeToString(h.Sum(nil))
}

func parametersHash(parameters map[string]string) string {
	keys := make([]string, 0, len(parameters))
	for k := range parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s;", k, parameters[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

type cachedResult struct {
	Result string `json:"result"`
	Status string `json:"status"`
}

// Execute runs action's operation, or returns the cached result if an
// identical (incident_id, action_type, target, parameters_hash) already ran:
// re-issuing an action with an existing idempotency key returns the cached
// record without re-executing.
func (e *Executor) Execute(ctx context.Context, action domain.RemediationAction) (domain.RemediationAction, error) {
	op, ok := e.operations[action.ActionType]
	if !ok {
		action.Status = domain.ActionFailed
		action.ExecutionResult = fmt.Sprintf("no operation registered for action_type %q", action.ActionType)
		return action, apperrors.New(apperrors.ErrorTypeValidation, action.ExecutionResult)
	}

	key := "executor:idem:" + action.IdempotencyKey
	if e.redis != nil {
		if raw, err := e.redis.Get(ctx, key).Result(); err == nil {
			var cached cachedResult
			if jsonErr := json.Unmarshal([]byte(raw), &cached); jsonErr == nil {
				action.Status = domain.ActionStatus(cached.Status)
				action.ExecutionResult = cached.Result
				return action, nil
			}
		}
	}

	action.Status = domain.ActionExecuting
	result, err := e.runWithRetry(ctx, op, action)

	switch {
	case err == nil:
		action.Status = domain.ActionSucceeded
		action.ExecutionResult = result
	case errors.Is(err, errForbidden):
		action.Status = domain.ActionFailed
		action.ExecutionResult = "forbidden: " + err.Error()
	case errors.Is(err, errNotFound):
		action.Status = domain.ActionFailed
		action.ExecutionResult = "not_found: " + err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		action.Status = domain.ActionFailed
		action.ExecutionResult = "timeout: " + err.Error()
	default:
		action.Status = domain.ActionFailed
		action.ExecutionResult = err.Error()
	}

	if e.redis != nil {
		if payload, marshalErr := json.Marshal(cachedResult{Result: action.ExecutionResult, Status: string(action.Status)}); marshalErr == nil {
			e.redis.Set(ctx, key, payload, idempotencyTTL)
		}
	}

	return action, err
}

var (
	errNotFound  = errors.New("executor: target not found")
	errForbidden = errors.New("executor: forbidden")
)

// runWithRetry retries transient failures up to len(retryDelays) additional
// attempts with the fixed backoff; NotFound and Forbidden are never
// retried.
func (e *Executor) runWithRetry(ctx context.Context, op Operation, action domain.RemediationAction) (string, error) {
	overallCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		attemptCtx, attemptCancel := context.WithTimeout(overallCtx, perAttemptTimeout)
		result, err := e.breaker.Execute(func() (interface{}, error) {
			return op(attemptCtx, e.client, action)
		})
		attemptCancel()

		if err == nil {
			return result.(string), nil
		}
		lastErr = classify(err)

		if errors.Is(lastErr, errNotFound) || errors.Is(lastErr, errForbidden) {
			return "", lastErr
		}
		if attempt == len(retryDelays) {
			break
		}
		select {
		case <-time.After(retryDelays[attempt]):
		case <-overallCtx.Done():
			return "", overallCtx.Err()
		}
	}
	return "", lastErr
}

func classify(err error) error {
	if k8serrors.IsNotFound(err) {
		return fmt.Errorf("%w: %v", errNotFound, err)
	}
	if k8serrors.IsForbidden(err) || k8serrors.IsUnauthorized(err) {
		return fmt.Errorf("%w: %v", errForbidden, err)
	}
	return err
}
