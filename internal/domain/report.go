package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// VersionReport summarizes one feature version's outcome within a run.
type VersionReport struct {
	Version        string        `json:"version"`
	Status         VersionStatus `json:"status"`
	Reused         bool          `json:"reused,omitempty"`
	Features       []string      `json:"features,omitempty"`
	FailureKind    FailureKind   `json:"failure_kind,omitempty"`
	FailureMessage string        `json:"failure_message,omitempty"`
	ArtifactPath   string        `json:"artifact_path,omitempty"`
	Fingerprint    string        `json:"fingerprint,omitempty"`
	AuditFirstSeq  int64         `json:"audit_first_seq"`
	AuditLastSeq   int64         `json:"audit_last_seq"`
	Duration       time.Duration `json:"duration_ns"`
}

// RunReport summarizes one pipeline execution.
type RunReport struct {
	RunID         string          `json:"run_id"`
	StartedAt     time.Time       `json:"started_at"`
	Duration      time.Duration   `json:"duration_ns"`
	Versions      []VersionReport `json:"versions"`
	AuditDegraded bool            `json:"audit_degraded,omitempty"`
	AuditErrors   []string        `json:"audit_errors,omitempty"`
}

// ExitCode derives the process exit code: 0 when every declared version
// committed, 2 when none did, 1 for partial success.
func (r RunReport) ExitCode() int {
	committed := 0
	for _, v := range r.Versions {
		if v.Status == VersionCommitted {
			committed++
		}
	}
	switch {
	case committed == len(r.Versions) && len(r.Versions) > 0:
		return 0
	case committed == 0:
		return 2
	default:
		return 1
	}
}

// Summary renders the report in plain terms: which versions succeeded, which
// failed and why, and which features are available downstream.
func (r RunReport) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %d version(s) in %s\n", r.RunID, len(r.Versions), r.Duration.Round(time.Millisecond))
	for _, v := range r.Versions {
		switch v.Status {
		case VersionCommitted:
			suffix := ""
			if v.Reused {
				suffix = " (reused prior artifact)"
			}
			features := append([]string(nil), v.Features...)
			sort.Strings(features)
			fmt.Fprintf(&b, "  %s: COMMITTED%s, %d feature(s) available: %s\n",
				v.Version, suffix, len(features), strings.Join(features, ", "))
		case VersionFailed:
			fmt.Fprintf(&b, "  %s: FAILED (%s: %s)\n", v.Version, v.FailureKind, v.FailureMessage)
		case VersionSkipped:
			fmt.Fprintf(&b, "  %s: SKIPPED (%s)\n", v.Version, v.FailureMessage)
		default:
			fmt.Fprintf(&b, "  %s: %s\n", v.Version, v.Status)
		}
	}
	if r.AuditDegraded {
		fmt.Fprintf(&b, "  audit durability degraded: %s\n", strings.Join(r.AuditErrors, "; "))
	}
	return b.String()
}

// FindVersion returns the report for a version label, if present.
func (r RunReport) FindVersion(label string) (VersionReport, bool) {
	for _, v := range r.Versions {
		if v.Version == label {
			return v, true
		}
	}
	return VersionReport{}, false
}
