package audit

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/terrafield-labs/featureline/internal/domain"
)

type failingSink struct{ calls int }

func (s *failingSink) Write(domain.AuditEvent) error {
	s.calls++
	return errors.New("disk gone")
}

func testClock() func() time.Time {
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		at = at.Add(time.Second)
		return at
	}
}

func TestAppendAssignsStrictlyIncreasingSeq(t *testing.T) {
	log := NewLog(testClock())
	for i := 0; i < 5; i++ {
		log.Append(domain.EventStepStart, "v1", "calendar", nil)
	}
	events := log.Events()
	if len(events) != 5 {
		t.Fatalf("len(events)=%d, want 5", len(events))
	}
	for i, e := range events {
		if e.Seq != int64(i+1) {
			t.Fatalf("events[%d].Seq=%d, want %d", i, e.Seq, i+1)
		}
		if e.IntegritySHA256 == "" {
			t.Fatalf("events[%d] missing integrity hash", i)
		}
	}
	if log.LastSeq() != 5 {
		t.Fatalf("LastSeq()=%d, want 5", log.LastSeq())
	}
}

func TestTailReturnsEventsAfterSeq(t *testing.T) {
	log := NewLog(testClock())
	for i := 0; i < 4; i++ {
		log.Append(domain.EventStepStart, "v1", "calendar", nil)
	}
	tail := log.Tail(2)
	if len(tail) != 2 || tail[0].Seq != 3 {
		t.Fatalf("Tail(2)=%v", tail)
	}
}

func TestSinkFailureDegradesWithoutBlocking(t *testing.T) {
	sink := &failingSink{}
	log := NewLog(testClock(), sink)

	event := log.Append(domain.EventRunStart, "", "", domain.Metadata{"run_id": "r1"})
	if event.Seq != 1 {
		t.Fatalf("append blocked by sink failure")
	}
	degraded, errs := log.Degraded()
	if !degraded {
		t.Fatalf("sink failure did not degrade the log")
	}
	if len(errs) != 1 || !strings.Contains(errs[0], "disk gone") {
		t.Fatalf("degraded errors=%v", errs)
	}
	// The in-memory stream still has the event.
	if len(log.Events()) != 1 {
		t.Fatalf("event lost on sink failure")
	}
}

func TestNDJSONSinkRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	log := NewLog(testClock(), NewNDJSONSink(&buf))
	log.Append(domain.EventRunStart, "", "", domain.Metadata{"run_id": "r1"})
	log.Append(domain.EventStepSuccess, "v1", "calendar", domain.Metadata{"columns": []string{"month"}})

	decoded, err := ReadNDJSON(&buf)
	if err != nil {
		t.Fatalf("ReadNDJSON() err=%v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("len(decoded)=%d, want 2", len(decoded))
	}
	if decoded[1].Kind != domain.EventStepSuccess || decoded[1].Version != "v1" {
		t.Fatalf("decoded[1]=%+v", decoded[1])
	}
	if decoded[1].IntegritySHA256 != log.Events()[1].IntegritySHA256 {
		t.Fatalf("integrity hash changed across encode/decode")
	}
}

func TestReplayReconstructsRun(t *testing.T) {
	log := NewLog(testClock())
	log.Append(domain.EventRunStart, "", "", domain.Metadata{"run_id": "r1"})
	log.Append(domain.EventStepStart, "v1", "calendar", nil)
	log.Append(domain.EventStepSuccess, "v1", "calendar", domain.Metadata{"columns": []string{"month", "season"}})
	log.Append(domain.EventVersionComplete, "v1", "", domain.Metadata{"status": "COMMITTED", "artifact": "out/features_v1.csv", "fingerprint": "fp-v1"})
	log.Append(domain.EventStepStart, "v2", "field_activity", nil)
	log.Append(domain.EventStepFailure, "v2", "field_activity", domain.Metadata{"failure_kind": "missing_input", "failure_message": `dataset "activity" not found`})
	log.Append(domain.EventVersionComplete, "v2", "", domain.Metadata{"status": "FAILED", "failure_kind": "missing_input"})
	log.Append(domain.EventRunComplete, "", "", domain.Metadata{"exit_code": 1, "audit_degraded": false})

	report := Replay(log.Events())
	if report.RunID != "r1" {
		t.Fatalf("RunID=%q", report.RunID)
	}
	if report.ExitCode() != 1 {
		t.Fatalf("ExitCode()=%d, want 1", report.ExitCode())
	}

	v1, ok := report.FindVersion("v1")
	if !ok || v1.Status != domain.VersionCommitted {
		t.Fatalf("v1=%+v", v1)
	}
	if len(v1.Features) != 2 || v1.ArtifactPath != "out/features_v1.csv" {
		t.Fatalf("v1 features=%v artifact=%q", v1.Features, v1.ArtifactPath)
	}
	if v1.AuditFirstSeq != 2 || v1.AuditLastSeq != 4 {
		t.Fatalf("v1 seq range=[%d,%d], want [2,4]", v1.AuditFirstSeq, v1.AuditLastSeq)
	}

	v2, ok := report.FindVersion("v2")
	if !ok || v2.Status != domain.VersionFailed {
		t.Fatalf("v2=%+v", v2)
	}
	if v2.FailureKind != domain.FailureMissingInput {
		t.Fatalf("v2 failure kind=%s", v2.FailureKind)
	}
}

func TestReplayAfterNDJSONRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	log := NewLog(testClock(), NewNDJSONSink(&buf))
	log.Append(domain.EventRunStart, "", "", domain.Metadata{"run_id": "r1"})
	log.Append(domain.EventRunReused, "v1", "", domain.Metadata{"features": []string{"month"}, "artifact": "out/features_v1.csv", "fingerprint": "fp"})
	log.Append(domain.EventRunComplete, "", "", domain.Metadata{"exit_code": 0})

	decoded, err := ReadNDJSON(&buf)
	if err != nil {
		t.Fatalf("ReadNDJSON() err=%v", err)
	}
	report := Replay(decoded)
	v1, ok := report.FindVersion("v1")
	if !ok || !v1.Reused || v1.Status != domain.VersionCommitted {
		t.Fatalf("replay of persisted stream lost reuse state: %+v", v1)
	}
	if len(v1.Features) != 1 || v1.Features[0] != "month" {
		t.Fatalf("features=%v", v1.Features)
	}
}
