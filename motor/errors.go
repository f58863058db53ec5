package motor

import (
	"errors"
	"fmt"
)

// ErrParse marks malformed or structurally inconsistent trace and network log input.
var ErrParse = errors.New("parse error")

// ParseError carries the input kind and position of a parse failure.
type ParseError struct {
	Input  string // "trace", "devtools log", "har"
	Offset int64
	Err    error
}

func (e *ParseError) Error() string {
	if e.Offset > 0 {
		return fmt.Sprintf("failed to parse %s at offset %d: %v", e.Input, e.Offset, e.Err)
	}
	return fmt.Sprintf("failed to parse %s: %v", e.Input, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

func parseError(input string, offset int64, err error) error {
	return &ParseError{Input: input, Offset: offset, Err: err}
}
