package domain

import "strings"

// VersionStatus is the lifecycle state of one feature version within a run.
type VersionStatus string

const (
	VersionPending   VersionStatus = "PENDING"
	VersionRunning   VersionStatus = "RUNNING"
	VersionCommitted VersionStatus = "COMMITTED"
	VersionFailed    VersionStatus = "FAILED"
	VersionSkipped   VersionStatus = "SKIPPED"
)

// NormalizeVersionStatus maps free-form status values to canonical states.
func NormalizeVersionStatus(value string) VersionStatus {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(VersionPending):
		return VersionPending
	case string(VersionRunning):
		return VersionRunning
	case string(VersionCommitted):
		return VersionCommitted
	case string(VersionFailed):
		return VersionFailed
	case string(VersionSkipped):
		return VersionSkipped
	default:
		return ""
	}
}

// CanTransitionVersion enforces forward-only progression. COMMITTED, FAILED
// and SKIPPED are terminal.
func CanTransitionVersion(current, next VersionStatus) bool {
	switch current {
	case VersionPending:
		return next == VersionRunning || next == VersionFailed || next == VersionSkipped || next == VersionCommitted
	case VersionRunning:
		return next == VersionCommitted || next == VersionFailed || next == VersionSkipped
	default:
		return false
	}
}
