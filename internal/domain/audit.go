package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventKind identifies one audit event type.
type EventKind string

const (
	EventRunStart        EventKind = "run_start"
	EventStepStart       EventKind = "step_start"
	EventStepSuccess     EventKind = "step_success"
	EventStepFailure     EventKind = "step_failure"
	EventVersionComplete EventKind = "version_complete"
	EventRunReused       EventKind = "run_reused"
	EventRunComplete     EventKind = "run_complete"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventRunStart, EventStepStart, EventStepSuccess, EventStepFailure,
		EventVersionComplete, EventRunReused, EventRunComplete:
		return true
	default:
		return false
	}
}

// AuditEvent is an immutable, append-only audit record. Seq is assigned by the
// audit log at write time and is strictly increasing within a process.
type AuditEvent struct {
	Seq             int64     `json:"seq"`
	Kind            EventKind `json:"kind"`
	Version         string    `json:"version,omitempty"`
	Step            string    `json:"step,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
	Payload         Metadata  `json:"payload"`
	IntegritySHA256 string    `json:"integrity_sha256"`
}

func (e AuditEvent) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown audit event kind %q", e.Kind)
	}
	if e.OccurredAt.IsZero() {
		return errors.New("occurred_at is required")
	}
	switch e.Kind {
	case EventStepStart, EventStepSuccess, EventStepFailure:
		if strings.TrimSpace(e.Version) == "" || strings.TrimSpace(e.Step) == "" {
			return fmt.Errorf("%s requires version and step", e.Kind)
		}
	case EventVersionComplete, EventRunReused:
		if strings.TrimSpace(e.Version) == "" {
			return fmt.Errorf("%s requires version", e.Kind)
		}
	}
	return nil
}

// ComputeEventIntegrity hashes the event content excluding the sequence
// number and timestamp, so fingerprint-identical reruns produce identical
// integrity values.
func ComputeEventIntegrity(e AuditEvent) (string, error) {
	payload := e.Payload
	if payload == nil {
		payload = Metadata{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	type integrityInput struct {
		Kind    EventKind       `json:"kind"`
		Version string          `json:"version,omitempty"`
		Step    string          `json:"step,omitempty"`
		Payload json.RawMessage `json:"payload"`
	}
	blob, err := json.Marshal(integrityInput{
		Kind:    e.Kind,
		Version: strings.TrimSpace(e.Version),
		Step:    strings.TrimSpace(e.Step),
		Payload: payloadJSON,
	})
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}
