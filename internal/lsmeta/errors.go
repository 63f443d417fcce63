package lsmeta

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Match them with errors.Is.
var (
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrNotInitialized     = errors.New("not initialized")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidState       = errors.New("invalid state")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrNotBackupable      = errors.New("not backupable")
	ErrNotFound           = errors.New("not found")
	ErrLogPersistFailed   = errors.New("log persist failed")
)

var kinds = []error{
	ErrAlreadyInitialized,
	ErrNotInitialized,
	ErrInvalidArgument,
	ErrInvalidState,
	ErrInvalidTransition,
	ErrNotBackupable,
	ErrNotFound,
	ErrLogPersistFailed,
}

// MetaError describes a failed record operation.
//
// Kind is one of the Err* sentinels. Err, when set, is the underlying cause
// (for example a *hastatus.TransitionError or a writer failure).
type MetaError struct {
	Kind    error
	Op      string
	Message string
	Err     error
}

func (e *MetaError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *MetaError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// detail is the error text without the op and kind prefix.
func (e *MetaError) detail() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	}
	return e.Message
}

func newError(kind error, op, format string, args ...any) *MetaError {
	return &MetaError{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind error, op string, err error) *MetaError {
	return &MetaError{Kind: kind, Op: op, Err: err}
}

// KindName returns a snake_case name for the kind of err, such as
// "invalid_state", or "unknown" if err carries no kind.
func KindName(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return strings.ReplaceAll(k.Error(), " ", "_")
		}
	}
	return "unknown"
}
