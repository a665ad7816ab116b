// Package pipelineerr implements the error taxonomy from spec.md §7 as
// tagged Go error types, so callers branch on Kind rather than matching
// error strings.
package pipelineerr

import "fmt"

type Kind string

const (
	KindMalformedKey      Kind = "MalformedKey"
	KindSourceMissing     Kind = "SourceMissing"
	KindFrameworkMissing  Kind = "FrameworkMissing"
	KindDuplicateJob      Kind = "DuplicateJob"
	KindScienceTransient  Kind = "ScienceTransient"
	KindScienceUnavailable Kind = "ScienceUnavailable"
	KindAgentTransient    Kind = "AgentTransient"
	KindAgentUnavailable  Kind = "AgentUnavailable"
	KindWorkflowTimeout   Kind = "WorkflowTimeout"
	KindConflict          Kind = "Conflict"
	KindQueueUnavailable  Kind = "QueueUnavailable"
	KindInternal          Kind = "InternalError"
)

// Error carries a taxonomy Kind alongside the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var tagged *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			tagged = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return tagged != nil && tagged.Kind == kind
}

// Message returns the fixed, client-visible string set from spec.md §7 for
// a FAILED job's result.errorMessage, never exposing internal detail.
func Message(kind Kind) string {
	switch kind {
	case KindSourceMissing, KindFrameworkMissing:
		return "SourceMissing"
	case KindScienceUnavailable:
		return "ScienceUnavailable"
	case KindWorkflowTimeout:
		return "WorkflowTimeout"
	default:
		return "InternalError"
	}
}
