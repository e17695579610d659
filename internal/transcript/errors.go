package transcript

import (
	"errors"
	"fmt"
)

// ErrSourceNotFound is returned when the transcript source does not exist.
var ErrSourceNotFound = errors.New("transcript: source not found")

// ParseError reports a transcript source that yielded no usable utterance,
// or a structured source that could not be decoded.
type ParseError struct {
	Source string
	Line   int
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Line > 0 {
		return fmt.Sprintf("transcript: parse %s:%d: %s", e.Source, e.Line, msg)
	}
	return fmt.Sprintf("transcript: parse %s: %s", e.Source, msg)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err is (or wraps) a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
