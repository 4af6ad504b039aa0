package graph

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/aiopscore/remediator/internal/domain"
)

// MemoryStore is an in-process Store, used for unit tests and for the
// single-node development deployment. All mutation is guarded by one mutex;
// the key-based idempotency rule makes that lock uncontended in practice
// since writers converge to the same node rather than racing on creation.
type MemoryStore struct {
	mu    sync.Mutex
	byKey map[string]string // Key.String() -> node ID
	nodes map[string]*Node
	edges map[string][]Edge // incidentID or any node ID -> outgoing edges
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey: make(map[string]string),
		nodes: make(map[string]*Node),
		edges: make(map[string][]Edge),
	}
}

func (s *MemoryStore) UpsertEntity(_ context.Context, key Key, attrs map[string]string, tags ...string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[key.String()]; ok {
		node := s.nodes[id]
		mergeAttrs(node, attrs, tags)
		return id, nil
	}

	id := uuid.NewString()
	node := &Node{ID: id, Key: key, Attrs: map[string]string{}}
	mergeAttrs(node, attrs, tags)
	s.nodes[id] = node
	s.byKey[key.String()] = id
	return id, nil
}

// mergeAttrs applies last-writer-wins on scalars and set-union on tags, so
// repeated upserts of the same entity commute.
func mergeAttrs(node *Node, attrs map[string]string, tags []string) {
	for k, v := range attrs {
		node.Attrs[k] = v
	}
	seen := make(map[string]bool, len(node.Tags))
	for _, t := range node.Tags {
		seen[t] = true
	}
	for _, t := range tags {
		if !seen[t] {
			node.Tags = append(node.Tags, t)
			seen[t] = true
		}
	}
	sort.Strings(node.Tags)
}

func (s *MemoryStore) LinkIncidentToEntity(_ context.Context, incidentID, entityID string, relation Relation, props map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.edges[incidentID] {
		if e.ToID == entityID && e.Relation == relation {
			s.edges[incidentID][i].Props = props
			return nil
		}
	}
	s.edges[incidentID] = append(s.edges[incidentID], Edge{
		FromID: incidentID, ToID: entityID, Relation: relation, Props: props,
	})
	return nil
}

func (s *MemoryStore) AttachEvidence(_ context.Context, incidentID string, ev domain.Evidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node := &Node{
		ID:         ev.ID,
		Key:        Key{Kind: "Evidence", Name: ev.ID},
		Attrs:      map[string]string{},
		IsEvidence: true,
		Evidence:   &ev,
	}
	s.nodes[ev.ID] = node
	s.edges[incidentID] = append(s.edges[incidentID], Edge{
		FromID: incidentID, ToID: ev.ID, Relation: RelHasEvidence,
	})

	if subjectID, ok := s.byKey[(Key{Cluster: "", Namespace: ev.EntityNamespace, Kind: string(ev.EvidenceType), Name: ev.EntityName}).String()]; ok {
		s.edges[ev.ID] = append(s.edges[ev.ID], Edge{FromID: ev.ID, ToID: subjectID, Relation: RelAbout})
	}
	return nil
}

func (s *MemoryStore) Subgraph(_ context.Context, incidentID string, depth int) (*Subgraph, error) {
	depth = clampDepth(depth)

	s.mu.Lock()
	defer s.mu.Unlock()

	out := &Subgraph{}
	visited := map[string]bool{incidentID: true}
	frontier := []string{incidentID}

	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			for _, e := range s.edges[id] {
				out.Edges = append(out.Edges, e)
				if !visited[e.ToID] {
					visited[e.ToID] = true
					next = append(next, e.ToID)
				}
			}
		}
		frontier = next
	}

	for id := range visited {
		if id == incidentID {
			continue
		}
		if node, ok := s.nodes[id]; ok {
			out.Nodes = append(out.Nodes, *node)
		}
	}
	return out, nil
}
