package analysis

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedResponse matches any model output that could not be decoded
	ErrMalformedResponse = errors.New("malformed model response")
	// ErrEmptyDocument is returned when there is no text to analyse
	ErrEmptyDocument = errors.New("document has no text to analyse")
)

// excerptLimit bounds the raw text kept on a MalformedResponseError
const excerptLimit = 500

// MalformedResponseError carries a bounded excerpt of the raw model output
// so the failure can be diagnosed after the response itself is gone
type MalformedResponseError struct {
	Excerpt string
	Length  int
	Cause   error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: %v (%d chars, starts with %q)", ErrMalformedResponse, e.Cause, e.Length, e.Excerpt)
}

// Is makes errors.Is(err, ErrMalformedResponse) true
func (e *MalformedResponseError) Is(target error) bool {
	return target == ErrMalformedResponse
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Cause
}

func newMalformed(raw string, cause error) *MalformedResponseError {
	r := []rune(raw)
	excerpt := raw
	if len(r) > excerptLimit {
		excerpt = string(r[:excerptLimit])
	}
	return &MalformedResponseError{Excerpt: excerpt, Length: len(r), Cause: cause}
}
