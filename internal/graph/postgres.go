package graph

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/aiopscore/remediator/internal/apperrors"
	"github.com/aiopscore/remediator/internal/domain"
)

// PostgresStore persists the evidence graph to Postgres. It assumes the
// schema (graph_nodes, graph_edges, graph_evidence) already exists —
// schema migration runs separately, ahead of this process starting.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   *sqlx.DB
}

// NewPostgresStore wraps an already-connected pool. db is a *sqlx.DB bound
// to the same DSN via the pgx stdlib driver, used for the scan-heavy
// Subgraph query.
func NewPostgresStore(pool *pgxpool.Pool, db *sqlx.DB) *PostgresStore {
	return &PostgresStore{pool: pool, db: db}
}

const upsertEntitySQL = `
INSERT INTO graph_nodes (id, cluster, namespace, kind, name, attrs, tags)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (cluster, namespace, kind, name) DO UPDATE SET
  attrs = graph_nodes.attrs || EXCLUDED.attrs,
  tags  = (SELECT array_agg(DISTINCT t) FROM unnest(graph_nodes.tags || EXCLUDED.tags) AS t)
RETURNING id`

func (p *PostgresStore) UpsertEntity(ctx context.Context, key Key, attrs map[string]string, tags ...string) (string, error) {
	attrJSON, err := json.Marshal(attrs)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal entity attrs")
	}

	var id string
	candidateID := uuid.NewString()
	err = p.pool.QueryRow(ctx, upsertEntitySQL,
		candidateID, key.Cluster, key.Namespace, key.Kind, key.Name, attrJSON, tags,
	).Scan(&id)
	if err != nil {
		return "", apperrors.NewDatabaseError("upsert_entity", err)
	}
	return id, nil
}

const linkSQL = `
INSERT INTO graph_edges (from_id, to_id, relation, props)
VALUES ($1, $2, $3, $4)
ON CONFLICT (from_id, to_id, relation) DO UPDATE SET props = EXCLUDED.props`

func (p *PostgresStore) LinkIncidentToEntity(ctx context.Context, incidentID, entityID string, relation Relation, props map[string]string) error {
	propJSON, err := json.Marshal(props)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal edge props")
	}
	if _, err := p.pool.Exec(ctx, linkSQL, incidentID, entityID, string(relation), propJSON); err != nil {
		return apperrors.NewDatabaseError("link_incident_to_entity", err)
	}
	return nil
}

const attachEvidenceSQL = `
INSERT INTO graph_evidence (id, incident_id, evidence_type, source, entity_name, entity_namespace,
  data, signal_strength, collected_at, window_start, window_end, partial)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO NOTHING`

func (p *PostgresStore) AttachEvidence(ctx context.Context, incidentID string, ev domain.Evidence) error {
	dataJSON, err := json.Marshal(ev.Data)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal evidence data")
	}

	if _, err := p.pool.Exec(ctx, attachEvidenceSQL,
		ev.ID, incidentID, string(ev.EvidenceType), string(ev.Source), ev.EntityName, ev.EntityNamespace,
		dataJSON, ev.SignalStrength, ev.CollectedAt, ev.TimeWindow.Start, ev.TimeWindow.End, ev.Partial,
	); err != nil {
		return apperrors.NewDatabaseError("attach_evidence", err)
	}

	return p.LinkIncidentToEntity(ctx, incidentID, ev.ID, RelHasEvidence, nil)
}

// edgeRow and nodeRow are sqlx scan targets for Subgraph's BFS.
type edgeRow struct {
	FromID   string `db:"from_id"`
	ToID     string `db:"to_id"`
	Relation string `db:"relation"`
}

func (p *PostgresStore) Subgraph(ctx context.Context, incidentID string, depth int) (*Subgraph, error) {
	depth = clampDepth(depth)

	out := &Subgraph{}
	visited := map[string]bool{incidentID: true}
	frontier := []string{incidentID}

	for d := 0; d < depth && len(frontier) > 0; d++ {
		var rows []edgeRow
		query, args, err := sqlx.In(`SELECT from_id, to_id, relation FROM graph_edges WHERE from_id IN (?)`, frontier)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "build subgraph query")
		}
		query = p.db.Rebind(query)
		if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
			return nil, apperrors.NewDatabaseError("subgraph_edges", err)
		}

		var next []string
		for _, r := range rows {
			out.Edges = append(out.Edges, Edge{FromID: r.FromID, ToID: r.ToID, Relation: Relation(r.Relation)})
			if !visited[r.ToID] {
				visited[r.ToID] = true
				next = append(next, r.ToID)
			}
		}
		frontier = next
	}

	return out, nil
}
