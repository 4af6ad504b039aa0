// Package graph implements the evidence graph store (C1): a typed graph
// linking incidents to infrastructure entities and to the evidence
// collected about them, keyed so concurrent writers converge without locks.
package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/aiopscore/remediator/internal/domain"
)

// Relation names the graph's edge kinds.
type Relation string

const (
	RelAffects      Relation = "AFFECTS"
	RelPartOf       Relation = "PART_OF"
	RelScheduledOn  Relation = "SCHEDULED_ON"
	RelScaledBy     Relation = "SCALED_BY"
	RelHasEvidence  Relation = "HAS_EVIDENCE"
	RelAbout        Relation = "ABOUT"
)

// Key uniquely identifies an entity node: (cluster, namespace, kind, name).
type Key struct {
	Cluster   string
	Namespace string
	Kind      string
	Name      string
}

// String renders the key's canonical idempotency string.
func (k Key) String() string {
	return strings.Join([]string{k.Cluster, k.Namespace, k.Kind, k.Name}, "/")
}

// Node is an entity or evidence vertex in the graph.
type Node struct {
	ID        string
	Key       Key
	Attrs     map[string]string // scalar attributes, last-writer-wins
	Tags      []string          // set-valued attribute, union on merge
	IsEvidence bool
	Evidence  *domain.Evidence
}

// Edge links two nodes by ID under a Relation.
type Edge struct {
	FromID   string
	ToID     string
	Relation Relation
	Props    map[string]string
}

// Subgraph is the bounded result of a BFS query.
type Subgraph struct {
	Nodes []Node
	Edges []Edge
}

// MaxDepth is the hard bound on subgraph BFS depth.
const MaxDepth = 3

// Store is the evidence graph store contract. Upserts are atomic per key;
// concurrent upserts of the same key converge to one node with merged
// attributes. Link and AttachEvidence are idempotent on their natural keys.
type Store interface {
	// UpsertEntity creates or merges the entity identified by key, returning
	// its node ID.
	UpsertEntity(ctx context.Context, key Key, attrs map[string]string, tags ...string) (string, error)

	// LinkIncidentToEntity records relation between an incident and an
	// entity node, idempotent on (incidentID, entityID, relation).
	LinkIncidentToEntity(ctx context.Context, incidentID, entityID string, relation Relation, props map[string]string) error

	// AttachEvidence appends an evidence node under incidentID with a
	// HAS_EVIDENCE edge. MemoryStore also adds an ABOUT edge when an entity
	// with an empty Cluster, Namespace ev.EntityNamespace, Kind
	// ev.EvidenceType and Name ev.EntityName already exists; PostgresStore
	// adds no ABOUT edge.
	AttachEvidence(ctx context.Context, incidentID string, ev domain.Evidence) error

	// Subgraph returns the bounded BFS neighborhood of incidentID out to
	// depth (clamped to MaxDepth). MemoryStore returns nodes and edges;
	// PostgresStore returns only the edges and leaves Nodes empty.
	Subgraph(ctx context.Context, incidentID string, depth int) (*Subgraph, error)
}

// ErrDepthOutOfRange describes a negative depth. Neither Store returns it:
// Subgraph clamps a negative depth to 0.
var ErrDepthOutOfRange = fmt.Errorf("graph: depth must be >= 0")

func clampDepth(depth int) int {
	if depth > MaxDepth {
		return MaxDepth
	}
	if depth < 0 {
		return 0
	}
	return depth
}
