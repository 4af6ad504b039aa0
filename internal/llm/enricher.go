// Package llm implements optional hypothesis enrichment behind a
// pure-function boundary: an Enricher takes a Hypothesis and returns one
// with only Title/Description rewritten, never Rank, Confidence, Category,
// evidence lists, or RecommendedActions.
package llm

import (
	"context"

	"go.uber.org/zap"

	"github.com/aiopscore/remediator/internal/domain"
)

// Enricher rewrites a Hypothesis's narrative fields. Implementations must
// not mutate Rank, Confidence, Category, SupportingEvidenceIDs,
// ContradictingEvidenceIDs, or RecommendedActions.
type Enricher interface {
	Enrich(ctx context.Context, incident domain.Incident, hypothesis domain.Hypothesis) (domain.Hypothesis, error)
}

// Enrich applies enricher to every hypothesis in hs, degrading to the
// unmodified rules-only hypothesis on any per-item failure so an LLM outage
// never blocks ranking.
func Enrich(ctx context.Context, logger *zap.Logger, enricher Enricher, incident domain.Incident, hs []domain.Hypothesis) []domain.Hypothesis {
	if enricher == nil {
		return hs
	}
	out := make([]domain.Hypothesis, len(hs))
	for i, h := range hs {
		enriched, err := enricher.Enrich(ctx, incident, h)
		if err != nil {
			if logger != nil {
				logger.Warn("llm enrichment failed, degrading to rules-only hypothesis",
					zap.String("incident_id", incident.ID), zap.String("hypothesis_id", h.ID), zap.Error(err))
			}
			out[i] = h
			continue
		}
		out[i] = guard(h, enriched)
	}
	return out
}

// guard enforces the immutability contract regardless of what enriched
// returned: only Title, Description, and GeneratedBy may differ from
// original.
func guard(original, enriched domain.Hypothesis) domain.Hypothesis {
	result := original
	result.Title = enriched.Title
	result.Description = enriched.Description
	result.GeneratedBy = domain.GeneratedByRulesLLM
	return result
}
