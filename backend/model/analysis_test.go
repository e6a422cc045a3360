package model

import (
	"encoding/json"
	"testing"
)

func TestParseRiskLevel(t *testing.T) {
	tests := []struct {
		in   string
		want RiskLevel
	}{
		{"Red", RiskRed},
		{"red", RiskRed},
		{" YELLOW ", RiskYellow},
		{"gReEn", RiskGreen},
		{"High", RiskUnclassified},
		{"", RiskUnclassified},
		{"amber", RiskUnclassified},
	}

	for _, tt := range tests {
		if got := ParseRiskLevel(tt.in); got != tt.want {
			t.Errorf("ParseRiskLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseOverallRisk(t *testing.T) {
	if got := ParseOverallRisk("high"); got != OverallHigh {
		t.Errorf("Expected High, got %s", got)
	}
	if got := ParseOverallRisk("Severe"); got != OverallUnclassified {
		t.Errorf("Expected Unclassified, got %s", got)
	}
}

func TestClauseTolerantDecoding(t *testing.T) {
	raw := `{
		"section_reference": 7,
		"clause_title": "Limitation of Liability",
		"customer_perspective": {"concerns": "Cap is too low", "objectives": ["Raise cap", "", "Carve out data breach"]},
		"preferred_position": "Cap at 2x annual fees",
		"fallback_positions": ["Cap at 1.5x", {"description": "Cap at 1x", "conditions": "If SLA credits are uncapped"}],
		"positions_to_avoid": [{"description": "Cap at fees paid in the last month", "reason": "Illusory"}],
		"risk_level": "RED",
		"approval_required": true,
		"negotiation_tips": "Lead with the data breach carve-out"
	}`

	var c Clause
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("Failed to decode clause: %v", err)
	}

	if c.SectionReference != "7" {
		t.Errorf("Expected section reference 7, got %q", c.SectionReference)
	}
	if c.RiskLevel != RiskRed {
		t.Errorf("Expected Red, got %q", c.RiskLevel)
	}
	if len(c.CustomerPerspective.Concerns) != 1 || c.CustomerPerspective.Concerns[0] != "Cap is too low" {
		t.Errorf("Unexpected concerns: %v", c.CustomerPerspective.Concerns)
	}
	if len(c.CustomerPerspective.Objectives) != 2 {
		t.Errorf("Expected empty objectives to be dropped, got %v", c.CustomerPerspective.Objectives)
	}
	if c.PreferredPosition.Description != "Cap at 2x annual fees" {
		t.Errorf("Unexpected preferred position: %+v", c.PreferredPosition)
	}
	if len(c.FallbackPositions) != 2 || c.FallbackPositions[0].Description != "Cap at 1.5x" {
		t.Errorf("Unexpected fallbacks: %+v", c.FallbackPositions)
	}
	if c.FallbackPositions[1].Conditions != "If SLA credits are uncapped" {
		t.Errorf("Unexpected fallback conditions: %q", c.FallbackPositions[1].Conditions)
	}
	if c.ApprovalRequired != "true" {
		t.Errorf("Expected approval flattened to text, got %q", c.ApprovalRequired)
	}
	if len(c.NegotiationTips) != 1 {
		t.Errorf("Expected single tip, got %v", c.NegotiationTips)
	}
}

func TestClauseMissingRiskLevel(t *testing.T) {
	var c Clause
	if err := json.Unmarshal([]byte(`{"clause_title": "Notices", "risk_level": null}`), &c); err != nil {
		t.Fatalf("Failed to decode clause: %v", err)
	}
	if c.RiskLevel != RiskUnclassified {
		t.Errorf("Expected Unclassified for null risk, got %q", c.RiskLevel)
	}
}

func TestSummaryCountDecoding(t *testing.T) {
	tests := []struct {
		raw  string
		want Count
	}{
		{`{"critical_issues_count": 3}`, 3},
		{`{"critical_issues_count": "4"}`, 4},
		{`{"critical_issues_count": "several"}`, 0},
		{`{"critical_issues_count": null}`, 0},
	}

	for _, tt := range tests {
		var s AgreementSummary
		if err := json.Unmarshal([]byte(tt.raw), &s); err != nil {
			t.Fatalf("Failed to decode %s: %v", tt.raw, err)
		}
		if s.CriticalIssuesCount != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.raw, tt.want, s.CriticalIssuesCount)
		}
	}
}

func TestTextFlattensObjects(t *testing.T) {
	var s AgreementSummary
	raw := `{"parties": [{"name": "Acme", "role": "Provider"}, {"name": "Globex", "role": "Customer"}]}`
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	want := "name: Acme; role: Provider\nname: Globex; role: Customer"
	if string(s.Parties) != want {
		t.Errorf("Expected %q, got %q", want, s.Parties)
	}
}

func TestDefinitionNormalizedTerm(t *testing.T) {
	a := Definition{Term: "  Confidential   Information "}
	b := Definition{Term: "confidential information"}
	if a.NormalizedTerm() != b.NormalizedTerm() {
		t.Errorf("Expected %q and %q to normalise equally", a.NormalizedTerm(), b.NormalizedTerm())
	}
}

func TestClauseLabel(t *testing.T) {
	c := Clause{SectionReference: "12.3"}
	if c.Label() != "12.3" {
		t.Errorf("Expected section reference fallback, got %q", c.Label())
	}
	c.ClauseTitle = "Assignment"
	if c.Label() != "Assignment" {
		t.Errorf("Expected title, got %q", c.Label())
	}
}

func TestAnalysisCountRisk(t *testing.T) {
	a := Analysis{Clauses: []Clause{
		{RiskLevel: RiskRed}, {RiskLevel: RiskYellow}, {RiskLevel: RiskRed}, {RiskLevel: RiskUnclassified},
	}}
	if a.CountRisk(RiskRed) != 2 {
		t.Errorf("Expected 2 red clauses, got %d", a.CountRisk(RiskRed))
	}
	if a.CountRisk(RiskGreen) != 0 {
		t.Errorf("Expected 0 green clauses, got %d", a.CountRisk(RiskGreen))
	}
}
