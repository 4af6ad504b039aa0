package rules

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/aiopscore/remediator/internal/domain"
)

// Engine evaluates the built-in rule library against an evidence set and
// produces ranked, confidence-scored hypotheses.
type Engine struct {
	rules      []*Rule
	thresholds Thresholds
}

// NewEngine builds an Engine over the built-in rule library.
func NewEngine(thresholds Thresholds) *Engine {
	return &Engine{rules: Library(), thresholds: thresholds}
}

// Evaluate extracts signals from evidence and returns densely ranked
// hypotheses for incidentID. At least one hypothesis is always returned:
// if no rule fires, a single category=unknown hypothesis with confidence
// 0.2 is emitted.
func (e *Engine) Evaluate(incidentID string, evidence []domain.Evidence) ([]domain.Hypothesis, error) {
	signals := Extract(evidence)
	signalMap := signals.ToMap()

	var candidates []domain.Hypothesis
	for _, rule := range e.rules {
		matched, err := rule.Matches(signalMap, e.thresholds)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}

		supporting := signals.SupportingEvidence(rule.SignalKeys...)
		confidence := confidenceFor(rule.BaseConfidence, len(supporting), 0)

		candidates = append(candidates, domain.Hypothesis{
			ID:                    uuid.NewString(),
			IncidentID:            incidentID,
			Category:              rule.Category,
			Title:                 rule.Title,
			Description:           rule.Description,
			Confidence:            confidence,
			SupportingEvidenceIDs: supporting,
			RecommendedActions:    rule.Actions,
			GeneratedBy:           domain.GeneratedByRules,
		})
	}

	if len(candidates) == 0 {
		candidates = []domain.Hypothesis{{
			ID:          uuid.NewString(),
			IncidentID:  incidentID,
			Category:    domain.CategoryUnknown,
			Title:       "Root cause not yet determined",
			Description: "No rule in the built-in library matched the collected evidence.",
			Confidence:  0.2,
			GeneratedBy: domain.GeneratedByRules,
		}}
	}

	rank(candidates)
	return candidates, nil
}

// confidenceFor applies the ranking formula:
//
//	confidence = base × category_weight × evidence_support_factor - 0.1·|contradicting|
//
// category_weight defaults to 1.0: the built-in library's base confidences
// already encode per-rule weighting, so no distinct per-category multiplier
// is applied on top.
func confidenceFor(base float64, supportingCount, contradictingCount int) float64 {
	const categoryWeight = 1.0
	factor := clip(0.5+0.1*float64(supportingCount), 0, 1.2)
	confidence := base*categoryWeight*factor - 0.1*float64(contradictingCount)
	return clip(confidence, 0, 1)
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// rank assigns dense, unique ranks by descending confidence, breaking ties
// by category priority.
func rank(hs []domain.Hypothesis) {
	sort.SliceStable(hs, func(i, j int) bool {
		if hs[i].Confidence != hs[j].Confidence {
			return hs[i].Confidence > hs[j].Confidence
		}
		return domain.PriorityIndex(hs[i].Category) < domain.PriorityIndex(hs[j].Category)
	})
	for i := range hs {
		hs[i].Rank = i + 1
	}
}
