// Package audit persists the durable, queryable trail of policy
// evaluations and incident state transitions: every evaluation record is
// persisted for audit.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/aiopscore/remediator/internal/apperrors"
	"github.com/aiopscore/remediator/internal/domain"
	"github.com/aiopscore/remediator/internal/policy"
)

// PolicyEvaluationRecord is one persisted Gate.Evaluate call.
type PolicyEvaluationRecord struct {
	ID         string
	IncidentID string
	ActionID   string
	Decision   policy.Decision
	Reason     string
	MatchedKeys []string
	Input       policy.Input
	EvaluatedAt time.Time
}

// StateTransitionRecord is one persisted Incident or RemediationAction
// status change.
type StateTransitionRecord struct {
	ID           string
	IncidentID   string
	FromStatus   string
	ToStatus     string
	FailureReason domain.FailureReason
	OccurredAt   time.Time
}

// Store is the audit trail contract.
type Store interface {
	RecordPolicyEvaluation(ctx context.Context, incidentID, actionID string, eval policy.Evaluation) error
	RecordStateTransition(ctx context.Context, incidentID, from, to string, reason domain.FailureReason) error
	PolicyEvaluations(ctx context.Context, incidentID string) ([]PolicyEvaluationRecord, error)
	StateTransitions(ctx context.Context, incidentID string) ([]StateTransitionRecord, error)
}

// PostgresStore persists the audit trail to Postgres. Both tables are
// append-only: audit records are never updated or deleted in place.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   *sqlx.DB
}

// NewPostgresStore builds a PostgresStore. It assumes the
// policy_evaluations and state_transitions tables already exist; schema
// migration is an external collaborator, consistent with internal/graph's
// PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, db *sqlx.DB) *PostgresStore {
	return &PostgresStore{pool: pool, db: db}
}

const insertPolicyEvaluationSQL = `
INSERT INTO policy_evaluations (id, incident_id, action_id, decision, reason, matched_keys, input, evaluated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())`

func (s *PostgresStore) RecordPolicyEvaluation(ctx context.Context, incidentID, actionID string, eval policy.Evaluation) error {
	matchedKeys, err := json.Marshal(eval.MatchedKeys)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal matched policy keys")
	}
	input, err := json.Marshal(eval.Input)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal policy input")
	}

	_, err = s.pool.Exec(ctx, insertPolicyEvaluationSQL,
		uuid.NewString(), incidentID, actionID, string(eval.Decision), eval.Reason, matchedKeys, input)
	if err != nil {
		return apperrors.NewDatabaseError("record policy evaluation", err)
	}
	return nil
}

const insertStateTransitionSQL = `
INSERT INTO state_transitions (id, incident_id, from_status, to_status, failure_reason, occurred_at)
VALUES ($1, $2, $3, $4, $5, now())`

func (s *PostgresStore) RecordStateTransition(ctx context.Context, incidentID, from, to string, reason domain.FailureReason) error {
	_, err := s.pool.Exec(ctx, insertStateTransitionSQL, uuid.NewString(), incidentID, from, to, string(reason))
	if err != nil {
		return apperrors.NewDatabaseError("record state transition", err)
	}
	return nil
}

type policyEvaluationRow struct {
	ID          string    `db:"id"`
	IncidentID  string    `db:"incident_id"`
	ActionID    string    `db:"action_id"`
	Decision    string    `db:"decision"`
	Reason      string    `db:"reason"`
	MatchedKeys []byte    `db:"matched_keys"`
	Input       []byte    `db:"input"`
	EvaluatedAt time.Time `db:"evaluated_at"`
}

func (s *PostgresStore) PolicyEvaluations(ctx context.Context, incidentID string) ([]PolicyEvaluationRecord, error) {
	var rows []policyEvaluationRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, incident_id, action_id, decision, reason, matched_keys, input, evaluated_at
		 FROM policy_evaluations WHERE incident_id = $1 ORDER BY evaluated_at ASC`, incidentID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list policy evaluations", err)
	}

	out := make([]PolicyEvaluationRecord, 0, len(rows))
	for _, r := range rows {
		record := PolicyEvaluationRecord{
			ID:          r.ID,
			IncidentID:  r.IncidentID,
			ActionID:    r.ActionID,
			Decision:    policy.Decision(r.Decision),
			Reason:      r.Reason,
			EvaluatedAt: r.EvaluatedAt,
		}
		_ = json.Unmarshal(r.MatchedKeys, &record.MatchedKeys)
		_ = json.Unmarshal(r.Input, &record.Input)
		out = append(out, record)
	}
	return out, nil
}

type stateTransitionRow struct {
	ID            string    `db:"id"`
	IncidentID    string    `db:"incident_id"`
	FromStatus    string    `db:"from_status"`
	ToStatus      string    `db:"to_status"`
	FailureReason string    `db:"failure_reason"`
	OccurredAt    time.Time `db:"occurred_at"`
}

func (s *PostgresStore) StateTransitions(ctx context.Context, incidentID string) ([]StateTransitionRecord, error) {
	var rows []stateTransitionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, incident_id, from_status, to_status, failure_reason, occurred_at
		 FROM state_transitions WHERE incident_id = $1 ORDER BY occurred_at ASC`, incidentID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list state transitions", err)
	}

	out := make([]StateTransitionRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, StateTransitionRecord{
			ID:            r.ID,
			IncidentID:    r.IncidentID,
			FromStatus:    r.FromStatus,
			ToStatus:      r.ToStatus,
			FailureReason: domain.FailureReason(r.FailureReason),
			OccurredAt:    r.OccurredAt,
		})
	}
	return out, nil
}
