package segment

import (
	"errors"
	"fmt"
)

// ErrMalformedLog is the sentinel wrapped by every MalformedLogError.
var ErrMalformedLog = errors.New("malformed process log")

// MalformedLogError reports a log that cannot be segmented: it is empty or
// its timestamps go backwards. Index is the offending sample, or -1 when the
// problem is not tied to a single sample.
type MalformedLogError struct {
	Index  int
	Reason string
}

func (e *MalformedLogError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%v: %s", ErrMalformedLog, e.Reason)
	}
	return fmt.Sprintf("%v: sample %d: %s", ErrMalformedLog, e.Index, e.Reason)
}

func (e *MalformedLogError) Unwrap() error { return ErrMalformedLog }
