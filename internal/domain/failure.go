package domain

import (
	"errors"
	"fmt"
)

// FailureKind classifies pipeline failures for reporting and audit payloads.
type FailureKind string

const (
	FailureMissingInput   FailureKind = "missing_input"
	FailureSchemaMismatch FailureKind = "schema_mismatch"
	FailureComputation    FailureKind = "computation"
	FailureWrite          FailureKind = "write"
	FailureAuditWrite     FailureKind = "audit_write"
)

// Failure is a classified pipeline error. Steps and writers return it so the
// orchestrator can record kind and message without inspecting stack traces.
type Failure struct {
	Kind    FailureKind
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func NewFailure(kind FailureKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// FailureFrom classifies an arbitrary error. Errors that do not carry a
// Failure are treated as computation failures.
func FailureFrom(err error) *Failure {
	if err == nil {
		return nil
	}
	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}
	return &Failure{Kind: FailureComputation, Message: err.Error()}
}
