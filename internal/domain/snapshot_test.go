package domain

import (
	"testing"
	"time"
)

func testSchema() Schema {
	return Schema{
		{Name: "stationid", Type: ColumnString},
		{Name: "rainfall", Type: ColumnFloat},
	}
}

func testColumns() map[string][]any {
	return map[string][]any{
		"stationid": {"s1", "s2", "s3"},
		"rainfall":  {1.5, nil, 3.0},
	}
}

func TestNewSnapshotFingerprintDeterministic(t *testing.T) {
	a, err := NewSnapshot("weather", testSchema(), testColumns())
	if err != nil {
		t.Fatalf("NewSnapshot() err=%v", err)
	}
	b, err := NewSnapshot("weather", testSchema(), testColumns())
	if err != nil {
		t.Fatalf("NewSnapshot() err=%v", err)
	}
	if a.Fingerprint() == "" {
		t.Fatalf("empty fingerprint")
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("identical content produced different fingerprints: %s vs %s", a.Fingerprint(), b.Fingerprint())
	}
}

func TestNewSnapshotFingerprintSensitivity(t *testing.T) {
	base, err := NewSnapshot("weather", testSchema(), testColumns())
	if err != nil {
		t.Fatalf("NewSnapshot() err=%v", err)
	}

	changed := testColumns()
	changed["rainfall"] = []any{1.5, nil, 3.1}
	other, err := NewSnapshot("weather", testSchema(), changed)
	if err != nil {
		t.Fatalf("NewSnapshot() err=%v", err)
	}
	if base.Fingerprint() == other.Fingerprint() {
		t.Fatalf("single cell change kept fingerprint %s", base.Fingerprint())
	}
}

func TestNewSnapshotNormalizesValues(t *testing.T) {
	schema := Schema{
		{Name: "count", Type: ColumnInteger},
		{Name: "observed", Type: ColumnTimestamp},
	}
	loc := time.FixedZone("plus2", 2*3600)
	snap, err := NewSnapshot("activity", schema, map[string][]any{
		"count":    {int(4), int32(5), int64(6)},
		"observed": {time.Date(2024, 3, 1, 10, 0, 0, 0, loc), nil, nil},
	})
	if err != nil {
		t.Fatalf("NewSnapshot() err=%v", err)
	}

	counts, _ := snap.Column("count")
	for i, v := range counts {
		if _, ok := v.(int64); !ok {
			t.Fatalf("row %d: integer not normalized to int64: %T", i, v)
		}
	}
	observed, _ := snap.Column("observed")
	ts := observed[0].(time.Time)
	if ts.Location() != time.UTC {
		t.Fatalf("timestamp not normalized to UTC: %v", ts.Location())
	}
}

func TestNewSnapshotRejectsRaggedColumns(t *testing.T) {
	cols := testColumns()
	cols["rainfall"] = []any{1.5}
	if _, err := NewSnapshot("weather", testSchema(), cols); err == nil {
		t.Fatalf("expected ragged column error")
	}
}

func TestNewSnapshotRejectsTypeMismatch(t *testing.T) {
	cols := testColumns()
	cols["rainfall"] = []any{"wet", nil, 3.0}
	_, err := NewSnapshot("weather", testSchema(), cols)
	if err == nil {
		t.Fatalf("expected type mismatch error")
	}
	failure := FailureFrom(err)
	if failure.Kind != FailureSchemaMismatch {
		t.Fatalf("kind=%s, want %s", failure.Kind, FailureSchemaMismatch)
	}
}

func TestWithColumnsDerivesWithoutMutating(t *testing.T) {
	base, err := NewSnapshot("weather", testSchema(), testColumns())
	if err != nil {
		t.Fatalf("NewSnapshot() err=%v", err)
	}
	before := base.Fingerprint()

	derived, err := base.WithColumns(Column{
		Spec:   ColumnSpec{Name: "region", Type: ColumnCategory},
		Values: []any{"north", "north", "south"},
	})
	if err != nil {
		t.Fatalf("WithColumns() err=%v", err)
	}

	if base.Fingerprint() != before {
		t.Fatalf("base snapshot changed under derivation")
	}
	if _, ok := base.Column("region"); ok {
		t.Fatalf("base snapshot gained the derived column")
	}
	if _, ok := derived.Column("region"); !ok {
		t.Fatalf("derived snapshot missing new column")
	}
	if derived.Fingerprint() == before {
		t.Fatalf("derived snapshot kept base fingerprint")
	}
}

func TestWithColumnsRejectsCollision(t *testing.T) {
	base, err := NewSnapshot("weather", testSchema(), testColumns())
	if err != nil {
		t.Fatalf("NewSnapshot() err=%v", err)
	}
	_, err = base.WithColumns(Column{
		Spec:   ColumnSpec{Name: "rainfall", Type: ColumnFloat},
		Values: []any{1.0, 2.0, 3.0},
	})
	if err == nil {
		t.Fatalf("expected collision error")
	}
	if FailureFrom(err).Kind != FailureSchemaMismatch {
		t.Fatalf("kind=%s, want schema_mismatch", FailureFrom(err).Kind)
	}
}

func TestNullCounts(t *testing.T) {
	snap, err := NewSnapshot("weather", testSchema(), testColumns())
	if err != nil {
		t.Fatalf("NewSnapshot() err=%v", err)
	}
	counts := snap.NullCounts()
	if counts["stationid"] != 0 || counts["rainfall"] != 1 {
		t.Fatalf("NullCounts()=%v", counts)
	}
}
