package reconcile

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrUnauthenticated = errors.New("sign in to save records")
	ErrCancelled       = errors.New("save cancelled")
	ErrInvalidStatus   = errors.New("status not allowed for this record book")
	ErrNoDate          = errors.New("no date selected")
)

// LoadError is a failed fetch of a date's records. The map is left empty.
type LoadError struct {
	Date string
	Err  error
}

func (e *LoadError) Error() string {
	return "load records for " + e.Date + ": " + e.Err.Error()
}

func (e *LoadError) Unwrap() error { return e.Err }

// WriteError is a failed upsert. Op is "toggle" or "save".
type WriteError struct {
	Op        string
	MemberIDs []string
	Err       error
}

func (e *WriteError) Error() string {
	return e.Op + " " + strings.Join(e.MemberIDs, ",") + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error { return e.Err }
