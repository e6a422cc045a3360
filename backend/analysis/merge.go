package analysis

import "github.com/AnTengye/contractplaybook/backend/model"

// QuickReferenceLimit caps every quick-reference list
const QuickReferenceLimit = 10

// Merge combines per-chunk records, in chunk order, into one analysis.
// It does not modify its inputs.
func Merge(parts []*model.Analysis) *model.Analysis {
	merged := &model.Analysis{
		Clauses:     []model.Clause{},
		Definitions: []model.Definition{},
	}

	var defs []model.Definition
	for _, part := range parts {
		if part == nil {
			continue
		}
		merged.Clauses = append(merged.Clauses, part.Clauses...)
		defs = append(defs, part.Definitions...)
		if merged.AgreementSummary == nil && part.AgreementSummary != nil {
			summary := *part.AgreementSummary
			merged.AgreementSummary = &summary
		}
	}
	merged.Definitions = DedupeDefinitions(defs)

	if merged.AgreementSummary == nil {
		merged.AgreementSummary = SynthesizeSummary(merged.Clauses)
	}
	merged.QuickReference = BuildQuickReference(merged.Clauses)
	return merged
}

// DedupeDefinitions keeps the first definition of every normalised term.
// Definitions without a term are dropped.
func DedupeDefinitions(defs []model.Definition) []model.Definition {
	out := make([]model.Definition, 0, len(defs))
	seen := make(map[string]struct{}, len(defs))
	for i := range defs {
		key := defs[i].NormalizedTerm()
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, defs[i])
	}
	return out
}

// SynthesizeSummary is used when no chunk produced a summary
func SynthesizeSummary(clauses []model.Clause) *model.AgreementSummary {
	red := 0
	for i := range clauses {
		if clauses[i].RiskLevel == model.RiskRed {
			red++
		}
	}
	return &model.AgreementSummary{
		OverallRiskLevel:    model.OverallMedium,
		CriticalIssuesCount: model.Count(red),
	}
}

// BuildQuickReference derives the at-a-glance lists from clauses in
// document order. Clauses rated Unclassified count as standard terms here
// but keep their rating everywhere else.
func BuildQuickReference(clauses []model.Clause) *model.QuickReference {
	q := &model.QuickReference{
		DealBreakers:            model.TextList{},
		HighPriorityItems:       model.TextList{},
		StandardAcceptableTerms: model.TextList{},
		CommonNegotiationPoints: model.TextList{},
	}

	for i := range clauses {
		c := &clauses[i]
		label := c.Label()
		if label == "" {
			continue
		}
		switch c.RiskLevel {
		case model.RiskRed:
			q.DealBreakers = appendCapped(q.DealBreakers, label)
		case model.RiskYellow:
			q.HighPriorityItems = appendCapped(q.HighPriorityItems, label)
		default:
			q.StandardAcceptableTerms = appendCapped(q.StandardAcceptableTerms, label)
		}
		if len(c.FallbackPositions) > 0 {
			q.CommonNegotiationPoints = appendCapped(q.CommonNegotiationPoints, label)
		}
	}
	return q
}

func appendCapped(list model.TextList, item string) model.TextList {
	if len(list) >= QuickReferenceLimit {
		return list
	}
	return append(list, item)
}
