// Package collectors implements the evidence collectors: a capability set
// {collect} with a registry keyed by source name, so new sources can be
// added without changing the rules engine or the workflow.
package collectors

import (
	"context"
	"time"

	"github.com/aiopscore/remediator/internal/domain"
)

// IncidentContext is the read-only slice of Incident a collector needs.
type IncidentContext struct {
	IncidentID string
	Cluster    string
	Namespace  string
	Service    string
}

// Collector is the capability every evidence source implements.
type Collector interface {
	// Name identifies the collector for the registry and for logging.
	Name() string

	// Collect gathers Evidence for incident over window. It must never
	// return a hard error for a degraded upstream: on partial failure it
	// returns whatever it has with Evidence.Partial=true and an unchanged
	// signal strength.
	Collect(ctx context.Context, incident IncidentContext, window domain.TimeWindow) ([]domain.Evidence, error)
}

// Registry is a name-keyed set of collectors, run independently by the
// workflow's parallel-collection join.
type Registry struct {
	collectors map[string]Collector
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{collectors: make(map[string]Collector)}
}

// Register adds c under its own Name(), overwriting any prior registration.
func (r *Registry) Register(c Collector) {
	r.collectors[c.Name()] = c
}

// All returns every registered collector, in no particular order.
func (r *Registry) All() []Collector {
	out := make([]Collector, 0, len(r.collectors))
	for _, c := range r.collectors {
		out = append(out, c)
	}
	return out
}

// Get looks up a collector by name.
func (r *Registry) Get(name string) (Collector, bool) {
	c, ok := r.collectors[name]
	return c, ok
}

// Signal strength constants shared by every collector's uniform rubric.
const (
	SignalTerminalState    = 1.0
	SignalRecentDeployCrash = 0.9
	SignalHighRestartDelta  = 0.7
	SignalPresence          = 0.5
	SignalInformational     = 0.2
)

// deadlineContext applies a collector's own per-source deadline.
func deadlineContext(ctx context.Context, perSource time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, perSource)
}
