package analysis

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/AnTengye/contractplaybook/backend/model"
)

var (
	errNoObject  = errors.New("no JSON object in response")
	errNoContent = errors.New("response contains no analysis data")
)

// ParseResponse decodes raw model output into an Analysis. It tries the
// whole text first, then the span from the first '{' to the last '}', then
// each top-level balanced {...} in order. An empty object found inside
// surrounding prose does not count as a result. Missing sections become
// empty lists; absent summary or quick reference stay nil.
func ParseResponse(raw string) (*model.Analysis, error) {
	trimmed := strings.TrimSpace(raw)

	a, err := decodeObject(trimmed)
	if err == nil {
		return normalize(a), nil
	}

	first := strings.IndexByte(trimmed, '{')
	last := strings.LastIndexByte(trimmed, '}')
	if first < 0 || last < first {
		return nil, newMalformed(raw, errNoObject)
	}

	// The greedy span holds every brace in the reply, so an empty
	// object there leaves nothing unparsed.
	span := trimmed[first : last+1]
	if span != trimmed {
		a, spanErr := decodeObject(span)
		if spanErr == nil {
			return normalize(a), nil
		}
		err = spanErr
	}

	sawEmpty := false
	for pos := first; pos >= 0 && pos < len(trimmed); {
		obj, end, ok := balancedObject(trimmed, pos)
		if !ok {
			break
		}
		if a, objErr := decodeObject(obj); objErr == nil {
			if !isEmpty(a) {
				return normalize(a), nil
			}
			sawEmpty = true
		}
		next := strings.IndexByte(trimmed[end:], '{')
		if next < 0 {
			break
		}
		pos = end + next
	}
	if sawEmpty {
		err = errNoContent
	}

	return nil, newMalformed(raw, err)
}

func decodeObject(s string) (*model.Analysis, error) {
	if !strings.HasPrefix(s, "{") {
		return nil, errNoObject
	}
	var a model.Analysis
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func isEmpty(a *model.Analysis) bool {
	return len(a.Clauses) == 0 && len(a.Definitions) == 0 &&
		a.AgreementSummary == nil && a.QuickReference == nil
}

// balancedObject returns the object opening at s[start] and the index just
// past it, skipping braces inside JSON strings
func balancedObject(s string, start int) (string, int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], i + 1, true
			}
		}
	}
	return "", 0, false
}

func normalize(a *model.Analysis) *model.Analysis {
	if a.Clauses == nil {
		a.Clauses = []model.Clause{}
	}
	if a.Definitions == nil {
		a.Definitions = []model.Definition{}
	}
	for i := range a.Clauses {
		c := &a.Clauses[i]
		if c.RiskLevel == "" {
			c.RiskLevel = model.RiskUnclassified
		}
		if c.FallbackPositions == nil {
			c.FallbackPositions = []model.FallbackPosition{}
		}
		if c.PositionsToAvoid == nil {
			c.PositionsToAvoid = []model.AvoidPosition{}
		}
	}
	if s := a.AgreementSummary; s != nil && s.OverallRiskLevel == "" {
		s.OverallRiskLevel = model.OverallUnclassified
	}
	if q := a.QuickReference; q != nil {
		q.DealBreakers = nonNil(q.DealBreakers)
		q.HighPriorityItems = nonNil(q.HighPriorityItems)
		q.StandardAcceptableTerms = nonNil(q.StandardAcceptableTerms)
		q.CommonNegotiationPoints = nonNil(q.CommonNegotiationPoints)
	}
	return a
}

func nonNil(s model.TextList) model.TextList {
	if s == nil {
		return model.TextList{}
	}
	return s
}
