package analysis

import (
	"fmt"
	"testing"

	"github.com/AnTengye/contractplaybook/backend/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clause(title string, risk model.RiskLevel) model.Clause {
	return model.Clause{ClauseTitle: model.Text(title), RiskLevel: risk}
}

func titles(clauses []model.Clause) []string {
	out := make([]string, len(clauses))
	for i := range clauses {
		out[i] = clauses[i].Label()
	}
	return out
}

func TestMerge_PreservesClauseOrder(t *testing.T) {
	parts := []*model.Analysis{
		{Clauses: []model.Clause{clause("a", model.RiskGreen), clause("b", model.RiskGreen)}},
		{Clauses: []model.Clause{clause("c", model.RiskGreen)}},
		{Clauses: []model.Clause{clause("d", model.RiskGreen), clause("e", model.RiskGreen)}},
	}

	merged := Merge(parts)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, titles(merged.Clauses))
}

func TestMerge_DedupesDefinitions(t *testing.T) {
	parts := []*model.Analysis{
		{Definitions: []model.Definition{{Term: "Indemnify", Definition: "first"}}},
		{Definitions: []model.Definition{{Term: "indemnify", Definition: "second"}, {Term: "Term", Definition: "duration"}}},
	}

	merged := Merge(parts)
	require.Len(t, merged.Definitions, 2)
	assert.Equal(t, model.Text("first"), merged.Definitions[0].Definition)
	assert.Equal(t, model.Text("Term"), merged.Definitions[1].Term)
}

func TestMerge_SummaryFromFirstChunkThatHasOne(t *testing.T) {
	parts := []*model.Analysis{
		{Clauses: []model.Clause{clause("a", model.RiskRed)}},
		{AgreementSummary: &model.AgreementSummary{Title: "Second"}},
		{AgreementSummary: &model.AgreementSummary{Title: "Third"}},
	}

	merged := Merge(parts)
	assert.Equal(t, model.Text("Second"), merged.AgreementSummary.Title)

	merged.AgreementSummary.Title = "changed"
	assert.Equal(t, model.Text("Second"), parts[1].AgreementSummary.Title, "inputs must not be modified")
}

func TestMerge_SynthesizesSummary(t *testing.T) {
	parts := []*model.Analysis{
		{Clauses: []model.Clause{clause("a", model.RiskRed), clause("b", model.RiskYellow)}},
		{Clauses: []model.Clause{clause("c", model.RiskRed)}},
	}

	merged := Merge(parts)
	require.NotNil(t, merged.AgreementSummary)
	assert.Equal(t, model.OverallMedium, merged.AgreementSummary.OverallRiskLevel)
	assert.Equal(t, model.Count(2), merged.AgreementSummary.CriticalIssuesCount)
}

func TestMerge_RecomputesQuickReference(t *testing.T) {
	withFallback := clause("Liability", model.RiskRed)
	withFallback.FallbackPositions = []model.FallbackPosition{{Description: "cap at 1x"}}

	parts := []*model.Analysis{
		{
			Clauses:        []model.Clause{withFallback, clause("Payment", model.RiskYellow)},
			QuickReference: &model.QuickReference{DealBreakers: model.TextList{"stale"}},
		},
		{Clauses: []model.Clause{clause("Indemnity", model.RiskRed), clause("Notices", model.RiskGreen)}},
	}

	q := Merge(parts).QuickReference
	assert.Equal(t, model.TextList{"Liability", "Indemnity"}, q.DealBreakers)
	assert.Equal(t, model.TextList{"Payment"}, q.HighPriorityItems)
	assert.Equal(t, model.TextList{"Notices"}, q.StandardAcceptableTerms)
	assert.Equal(t, model.TextList{"Liability"}, q.CommonNegotiationPoints)
}

func TestBuildQuickReference_CapsAndFallsBackToSection(t *testing.T) {
	var clauses []model.Clause
	for i := 0; i < 15; i++ {
		clauses = append(clauses, clause(fmt.Sprintf("red-%d", i), model.RiskRed))
	}
	clauses = append(clauses,
		model.Clause{SectionReference: "7.2", RiskLevel: model.RiskUnclassified},
		model.Clause{RiskLevel: model.RiskYellow},
	)

	q := BuildQuickReference(clauses)
	require.Len(t, q.DealBreakers, QuickReferenceLimit)
	assert.Equal(t, "red-0", q.DealBreakers[0])
	assert.Equal(t, "red-9", q.DealBreakers[9])
	assert.Equal(t, model.TextList{"7.2"}, q.StandardAcceptableTerms)
	assert.Empty(t, q.HighPriorityItems)
}

func TestMerge_Empty(t *testing.T) {
	merged := Merge(nil)
	assert.NotNil(t, merged.Clauses)
	assert.NotNil(t, merged.Definitions)
	assert.Equal(t, model.Count(0), merged.AgreementSummary.CriticalIssuesCount)
	assert.NotNil(t, merged.QuickReference)
}
