package lineage

import (
	"testing"
	"time"

	"github.com/terrafield-labs/featureline/internal/domain"
)

func fixedClock() func() time.Time {
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		at = at.Add(time.Second)
		return at
	}
}

func recordChain(t *testing.T, tracker *Tracker) (domain.LineageNode, domain.LineageNode) {
	t.Helper()
	source, err := tracker.RecordSource(SourceRecord{Artifact: "weather", Fingerprint: "fp-weather", RowCount: 100})
	if err != nil {
		t.Fatalf("RecordSource() err=%v", err)
	}
	step, err := tracker.RecordStep(StepRecord{
		Version:     "v1",
		Step:        "calendar",
		Inputs:      []string{source.ID},
		Columns:     []string{"month", "season"},
		Fingerprint: "fp-v1-calendar",
		RowCount:    100,
	})
	if err != nil {
		t.Fatalf("RecordStep() err=%v", err)
	}
	return source, step
}

func TestRecordStepIdempotent(t *testing.T) {
	tracker := NewTracker(fixedClock())
	_, first := recordChain(t, tracker)

	again, err := tracker.RecordStep(StepRecord{
		Version:     "v1",
		Step:        "calendar",
		Inputs:      first.Inputs,
		Columns:     []string{"month", "season"},
		Fingerprint: "fp-v1-calendar",
		RowCount:    100,
	})
	if err != nil {
		t.Fatalf("re-record err=%v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("re-record changed node id")
	}
	if len(tracker.Nodes()) != 2 {
		t.Fatalf("re-record appended a duplicate, %d nodes", len(tracker.Nodes()))
	}
}

func TestRecordStepRejectsContentChangeUnderSameIdentity(t *testing.T) {
	tracker := NewTracker(fixedClock())
	_, first := recordChain(t, tracker)

	_, err := tracker.RecordStep(StepRecord{
		Version:     "v1",
		Step:        "calendar",
		Inputs:      first.Inputs,
		Columns:     []string{"month", "season"},
		Fingerprint: "fp-v1-calendar",
		RowCount:    50,
	})
	if err == nil {
		t.Fatalf("content change under unchanged identity accepted")
	}
}

func TestRecordStepRejectsUnknownInput(t *testing.T) {
	tracker := NewTracker(fixedClock())
	_, err := tracker.RecordStep(StepRecord{
		Version:     "v1",
		Step:        "calendar",
		Inputs:      []string{"not-recorded"},
		Columns:     []string{"month"},
		Fingerprint: "fp",
		RowCount:    1,
	})
	if err == nil {
		t.Fatalf("unknown input accepted")
	}
}

func TestQueryReturnsRootToLeafChain(t *testing.T) {
	tracker := NewTracker(fixedClock())
	source, step := recordChain(t, tracker)
	next, err := tracker.RecordStep(StepRecord{
		Version:     "v1",
		Step:        "trailing",
		Inputs:      []string{step.ID},
		Columns:     []string{"rainfall_7d_avg"},
		Fingerprint: "fp-v1-trailing",
		RowCount:    100,
	})
	if err != nil {
		t.Fatalf("RecordStep() err=%v", err)
	}

	chain, err := tracker.Query("rainfall_7d_avg")
	if err != nil {
		t.Fatalf("Query() err=%v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("chain length=%d, want 3", len(chain))
	}
	if chain[0].ID != source.ID || chain[2].ID != next.ID {
		t.Fatalf("chain not root-to-leaf: %v", []string{chain[0].ID, chain[1].ID, chain[2].ID})
	}

	if _, err := tracker.Query("no_such_feature"); err == nil {
		t.Fatalf("unknown feature accepted")
	}
}

func TestRestoreRebuildsDAG(t *testing.T) {
	tracker := NewTracker(fixedClock())
	recordChain(t, tracker)
	persisted := tracker.Nodes()

	restored := NewTracker(fixedClock())
	if err := restored.Restore(persisted); err != nil {
		t.Fatalf("Restore() err=%v", err)
	}
	chain, err := restored.Query("month")
	if err != nil {
		t.Fatalf("Query() after restore err=%v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("restored chain length=%d, want 2", len(chain))
	}
}
