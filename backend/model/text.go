package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Text is a string field that tolerates the shapes models actually emit:
// numbers, booleans, lists and objects are flattened to text.
type Text string

// UnmarshalJSON flattens any JSON value into a string
func (t *Text) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*t = Text(flatten(v, "\n"))
	return nil
}

// String implements fmt.Stringer
func (t Text) String() string {
	return string(t)
}

// TextList is a list field that also accepts a single string
type TextList []string

// UnmarshalJSON accepts a string, a list, or anything flattenable
func (l *TextList) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*l = nil
	case []any:
		out := make(TextList, 0, len(x))
		for _, item := range x {
			if s := flatten(item, "; "); s != "" {
				out = append(out, s)
			}
		}
		*l = out
	default:
		if s := flatten(x, "; "); s != "" {
			*l = TextList{s}
		} else {
			*l = nil
		}
	}
	return nil
}

// Count is an integer that also accepts numeric strings. Anything else
// decodes as zero.
type Count int

// UnmarshalJSON accepts 3, 3.0 or "3"
func (c *Count) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*c = Count(int(math.Round(x)))
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			*c = 0
			return nil
		}
		*c = Count(n)
	default:
		*c = 0
	}
	return nil
}

func flatten(v any, sep string) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			if s := flatten(item, "; "); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, sep)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if s := flatten(x[k], ", "); s != "" {
				parts = append(parts, k+": "+s)
			}
		}
		return strings.Join(parts, "; ")
	default:
		return fmt.Sprint(x)
	}
}

// bareText reports whether b is a JSON string and returns it
func bareText(b []byte) (Text, bool) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return "", false
	}
	return Text(strings.TrimSpace(s)), true
}
