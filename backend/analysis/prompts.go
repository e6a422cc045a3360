package analysis

import (
	"fmt"
	"strings"
)

// SystemPrompt frames every analysis call
const SystemPrompt = `You are an expert contract attorney who builds negotiation playbooks for in-house legal teams.

Your analysis must be thorough, practical and balanced. For every significant clause give the exact contract language, why the clause exists, what each side wants, a preferred position, ready-to-use fallback language and clear "do not accept" boundaries.

Respond with a single JSON object and nothing else.`

const schema = `{
  "agreement_summary": {
    "title": "", "agreement_type": "", "parties": "", "purpose": "", "key_dates": "",
    "governing_law": "", "overall_risk_level": "High|Medium|Low",
    "critical_issues_count": 0, "executive_summary": ""
  },
  "clauses": [
    {
      "section_reference": "e.g. 2.1", "subpart": "", "clause_title": "",
      "original_language": "exact quoted text", "issue_description": "", "business_context": "",
      "customer_perspective": {"concerns": [""], "objectives": [""]},
      "provider_perspective": {"concerns": [""], "objectives": [""]},
      "preferred_position": {"description": "", "sample_language": ""},
      "fallback_positions": [{"description": "", "sample_language": "", "conditions": ""}],
      "positions_to_avoid": [{"description": "", "reason": ""}],
      "risk_level": "Red|Yellow|Green", "risk_explanation": "",
      "approval_required": "", "negotiation_tips": [""]
    }
  ],
  "definitions": [{"term": "", "definition": "", "importance": ""}],
  "quick_reference": {
    "deal_breakers": [""], "high_priority_items": [""],
    "standard_acceptable_terms": [""], "common_negotiation_points": [""]
  }
}`

// UserPrompt builds the prompt for chunk index of total (zero-based)
func UserPrompt(req Request, index, total int, text string) string {
	var b strings.Builder

	if total > 1 {
		fmt.Fprintf(&b, "This is part %d of %d of a longer agreement. Analyse only the clauses and definitions that appear in this part.", index+1, total)
		if index > 0 {
			b.WriteString(" Omit agreement_summary and quick_reference unless this part contains the agreement's opening recitals.")
		}
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "CONTEXT:\n- Agreement Type: %s\n- Analyzing from: %s perspective\n- Risk Tolerance: %s\n\n",
		req.AgreementType, req.UserRole, req.RiskTolerance)
	fmt.Fprintf(&b, "CONTRACT TEXT:\n%s\n\n", text)
	b.WriteString("Return JSON with exactly this structure:\n")
	b.WriteString(schema)
	return b.String()
}
