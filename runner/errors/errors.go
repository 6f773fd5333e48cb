// Package errors defines the error kinds the runner distinguishes between,
// per the error handling design: programming errors are never retried,
// operational errors are retried a bounded number of times when reading an
// upstream's notifications, uniqueness conflicts
// are treated as "already processed", and causal-dependency errors trigger a
// host reset.
package errors

import "fmt"

// ProgrammingError signals a graph or call-sequence misconfiguration, e.g.
// calling Call before Init, or a process class without a concrete
// infrastructure binding. It is raised to the caller and never retried.
type ProgrammingError struct {
	Msg string
}

func (e *ProgrammingError) Error() string { return "programming error: " + e.Msg }

// NewProgrammingError builds a ProgrammingError with a formatted message.
func NewProgrammingError(format string, args ...interface{}) error {
	return &ProgrammingError{Msg: fmt.Sprintf(format, args...)}
}

// OperationalError wraps a transient failure from the database or the
// transport layer (a remote host call). A downstream's reads of an upstream's
// notifications (host.RemoteNotificationLog) retry it a bounded number of
// times with a fixed wait; the Call path does not retry it.
type OperationalError struct {
	Msg string
	Err error
}

func (e *OperationalError) Error() string {
	if e.Err != nil {
		return "operational error: " + e.Msg + ": " + e.Err.Error()
	}
	return "operational error: " + e.Msg
}

func (e *OperationalError) Unwrap() error { return e.Err }

// NewOperationalError wraps err as an OperationalError with context.
func NewOperationalError(msg string, err error) error {
	return &OperationalError{Msg: msg, Err: err}
}

// UniquenessConflictError is returned when a tracking insert collides with
// an existing (downstream, upstream, pipeline, notification) row. It means
// the notification was already processed; the event is a no-op.
type UniquenessConflictError struct {
	Downstream, Upstream string
	Pipeline             int
	NotificationID       int64
}

func (e *UniquenessConflictError) Error() string {
	return fmt.Sprintf(
		"uniqueness conflict: %s already tracked notification %d from %s on pipeline %d",
		e.Downstream, e.NotificationID, e.Upstream, e.Pipeline,
	)
}

// CausalDependencyError is raised by CheckCausalDependencies when a
// notification's causal dependencies are not yet satisfied. The Puller,
// which runs that check, catches it, triggers a reset, and waits for the
// dependency to catch up and re-prompt.
type CausalDependencyError struct {
	Upstream       string
	Pipeline       int
	NotificationID int64
}

func (e *CausalDependencyError) Error() string {
	return fmt.Sprintf(
		"unsatisfied causal dependency on pipeline %d notification %d (required by event from %s)",
		e.Pipeline, e.NotificationID, e.Upstream,
	)
}

// IsUniquenessConflict reports whether err is (or wraps) a UniquenessConflictError.
func IsUniquenessConflict(err error) bool {
	_, ok := asUniquenessConflict(err)
	return ok
}

func asUniquenessConflict(err error) (*UniquenessConflictError, bool) {
	for err != nil {
		if u, ok := err.(*UniquenessConflictError); ok {
			return u, true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = unwrapper.Unwrap()
	}
	return nil, false
}

// IsCausalDependencyError reports whether err is (or wraps) a CausalDependencyError.
func IsCausalDependencyError(err error) bool {
	for err != nil {
		if _, ok := err.(*CausalDependencyError); ok {
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
