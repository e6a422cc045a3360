package model

import (
	"encoding/json"
	"strings"
)

// RiskLevel is the traffic-light rating of a clause
type RiskLevel string

// RiskLevel constants. RiskUnclassified marks a missing or unrecognised
// rating; it is never treated as Green.
const (
	RiskRed          RiskLevel = "Red"
	RiskYellow       RiskLevel = "Yellow"
	RiskGreen        RiskLevel = "Green"
	RiskUnclassified RiskLevel = "Unclassified"
)

// ParseRiskLevel matches red/yellow/green case-insensitively
func ParseRiskLevel(s string) RiskLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "red":
		return RiskRed
	case "yellow":
		return RiskYellow
	case "green":
		return RiskGreen
	}
	return RiskUnclassified
}

// UnmarshalJSON normalises the rating to its canonical casing
func (r *RiskLevel) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*r = ParseRiskLevel(flatten(v, " "))
	return nil
}

// OverallRisk is the agreement-wide rating
type OverallRisk string

// OverallRisk constants
const (
	OverallHigh         OverallRisk = "High"
	OverallMedium       OverallRisk = "Medium"
	OverallLow          OverallRisk = "Low"
	OverallUnclassified OverallRisk = "Unclassified"
)

// ParseOverallRisk matches high/medium/low case-insensitively
func ParseOverallRisk(s string) OverallRisk {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return OverallHigh
	case "medium":
		return OverallMedium
	case "low":
		return OverallLow
	}
	return OverallUnclassified
}

// UnmarshalJSON normalises the rating to its canonical casing
func (r *OverallRisk) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*r = ParseOverallRisk(flatten(v, " "))
	return nil
}

// AgreementSummary is the overview block of a playbook
type AgreementSummary struct {
	Title               Text        `json:"title"`
	AgreementType       Text        `json:"agreement_type"`
	Parties             Text        `json:"parties"`
	Purpose             Text        `json:"purpose"`
	KeyDates            Text        `json:"key_dates"`
	GoverningLaw        Text        `json:"governing_law"`
	OverallRiskLevel    OverallRisk `json:"overall_risk_level"`
	CriticalIssuesCount Count       `json:"critical_issues_count"`
	ExecutiveSummary    Text        `json:"executive_summary"`
	// TruncationNote is set when the document exceeded the size ceiling
	// and its tail was not analysed
	TruncationNote      Text        `json:"truncation_note,omitempty"`
}

// Perspective captures one side's view of a clause
type Perspective struct {
	Concerns   TextList `json:"concerns"`
	Objectives TextList `json:"objectives"`
}

// Position is the preferred outcome for a clause
type Position struct {
	Description    Text `json:"description"`
	SampleLanguage Text `json:"sample_language"`
}

// UnmarshalJSON accepts either an object or a bare description
func (p *Position) UnmarshalJSON(b []byte) error {
	type plain Position
	if s, ok := bareText(b); ok {
		*p = Position{Description: s}
		return nil
	}
	return json.Unmarshal(b, (*plain)(p))
}

// FallbackPosition is an acceptable compromise
type FallbackPosition struct {
	Description    Text `json:"description"`
	SampleLanguage Text `json:"sample_language"`
	Conditions     Text `json:"conditions"`
}

// UnmarshalJSON accepts either an object or a bare description
func (p *FallbackPosition) UnmarshalJSON(b []byte) error {
	type plain FallbackPosition
	if s, ok := bareText(b); ok {
		*p = FallbackPosition{Description: s}
		return nil
	}
	return json.Unmarshal(b, (*plain)(p))
}

// AvoidPosition is a term that must not be accepted
type AvoidPosition struct {
	Description Text `json:"description"`
	Reason      Text `json:"reason"`
}

// UnmarshalJSON accepts either an object or a bare description
func (p *AvoidPosition) UnmarshalJSON(b []byte) error {
	type plain AvoidPosition
	if s, ok := bareText(b); ok {
		*p = AvoidPosition{Description: s}
		return nil
	}
	return json.Unmarshal(b, (*plain)(p))
}

// Clause is one analysed section or issue of the agreement
type Clause struct {
	SectionReference    Text               `json:"section_reference"`
	Subpart             Text               `json:"subpart,omitempty"`
	ClauseTitle         Text               `json:"clause_title"`
	OriginalLanguage    Text               `json:"original_language"`
	IssueDescription    Text               `json:"issue_description"`
	BusinessContext     Text               `json:"business_context"`
	CustomerPerspective Perspective        `json:"customer_perspective"`
	ProviderPerspective Perspective        `json:"provider_perspective"`
	PreferredPosition   Position           `json:"preferred_position"`
	FallbackPositions   []FallbackPosition `json:"fallback_positions"`
	PositionsToAvoid    []AvoidPosition    `json:"positions_to_avoid"`
	RiskLevel           RiskLevel          `json:"risk_level"`
	RiskExplanation     Text               `json:"risk_explanation"`
	ApprovalRequired    Text               `json:"approval_required"`
	NegotiationTips     TextList           `json:"negotiation_tips"`
}

// Label is the clause title, or its section reference when untitled
func (c *Clause) Label() string {
	if t := strings.TrimSpace(string(c.ClauseTitle)); t != "" {
		return t
	}
	return strings.TrimSpace(string(c.SectionReference))
}

// Definition is a defined term of the agreement
type Definition struct {
	Term       Text `json:"term"`
	Definition Text `json:"definition"`
	Importance Text `json:"importance"`
}

// NormalizedTerm is the key used to de-duplicate definitions
func (d *Definition) NormalizedTerm() string {
	return strings.ToLower(strings.Join(strings.Fields(string(d.Term)), " "))
}

// QuickReference is the at-a-glance view derived from the clauses
type QuickReference struct {
	DealBreakers            TextList `json:"deal_breakers"`
	HighPriorityItems       TextList `json:"high_priority_items"`
	StandardAcceptableTerms TextList `json:"standard_acceptable_terms"`
	CommonNegotiationPoints TextList `json:"common_negotiation_points"`
}

// Analysis is the structured result of analysing an agreement. Per-chunk
// records may leave AgreementSummary and QuickReference nil.
type Analysis struct {
	AgreementSummary *AgreementSummary `json:"agreement_summary,omitempty"`
	Clauses          []Clause          `json:"clauses"`
	Definitions      []Definition      `json:"definitions"`
	QuickReference   *QuickReference   `json:"quick_reference,omitempty"`
}

// CountRisk returns how many clauses carry the given rating
func (a *Analysis) CountRisk(level RiskLevel) int {
	n := 0
	for i := range a.Clauses {
		if a.Clauses[i].RiskLevel == level {
			n++
		}
	}
	return n
}
