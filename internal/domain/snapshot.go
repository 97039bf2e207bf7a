package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"strings"
	"time"
)

// Snapshot is an immutable in-memory tabular value with a content fingerprint.
// Transformations never mutate a snapshot in place; WithColumns returns a new
// snapshot derived from it.
type Snapshot struct {
	name        string
	schema      Schema
	columns     map[string][]any
	rows        int
	fingerprint string
}

// NewSnapshot validates schema and values and seals them behind an immutable
// snapshot. Column values are checked against their declared semantic type;
// a nil value marks an absent cell and is legal for every type.
func NewSnapshot(name string, schema Schema, columns map[string][]any) (*Snapshot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("snapshot name is required")
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	rows := -1
	sealed := make(map[string][]any, len(schema))
	for _, col := range schema {
		values, ok := columns[col.Name]
		if !ok {
			return nil, NewFailure(FailureSchemaMismatch, "snapshot %q declares column %q but no values were supplied", name, col.Name)
		}
		if rows == -1 {
			rows = len(values)
		} else if len(values) != rows {
			return nil, NewFailure(FailureSchemaMismatch, "snapshot %q column %q has %d values, want %d", name, col.Name, len(values), rows)
		}
		normalized := make([]any, len(values))
		for i, v := range values {
			nv, err := normalizeValue(col.Type, v)
			if err != nil {
				return nil, NewFailure(FailureSchemaMismatch, "snapshot %q column %q row %d: %v", name, col.Name, i, err)
			}
			normalized[i] = nv
		}
		sealed[col.Name] = normalized
	}
	if rows == -1 {
		rows = 0
	}

	snap := &Snapshot{
		name:    name,
		schema:  schema.Clone(),
		columns: sealed,
		rows:    rows,
	}
	snap.fingerprint = snap.computeFingerprint()
	return snap, nil
}

func (s *Snapshot) Name() string        { return s.name }
func (s *Snapshot) Schema() Schema      { return s.schema.Clone() }
func (s *Snapshot) RowCount() int       { return s.rows }
func (s *Snapshot) Fingerprint() string { return s.fingerprint }

// Column returns the values for a named column. The returned slice is shared
// with the snapshot and must not be mutated.
func (s *Snapshot) Column(name string) ([]any, bool) {
	values, ok := s.columns[name]
	return values, ok
}

// NullCounts reports the number of absent cells per column.
func (s *Snapshot) NullCounts() map[string]int {
	out := make(map[string]int, len(s.schema))
	for _, col := range s.schema {
		count := 0
		for _, v := range s.columns[col.Name] {
			if v == nil {
				count++
			}
		}
		out[col.Name] = count
	}
	return out
}

// WithColumns derives a new snapshot by appending columns. Existing column
// slices are shared between the snapshots; immutability makes that safe.
// A name collision with an existing column is a schema mismatch.
func (s *Snapshot) WithColumns(add ...Column) (*Snapshot, error) {
	schema := s.schema.Clone()
	columns := make(map[string][]any, len(s.columns)+len(add))
	for name, values := range s.columns {
		columns[name] = values
	}
	for _, col := range add {
		if schema.Has(col.Spec.Name) {
			return nil, NewFailure(FailureSchemaMismatch, "column %q already exists in snapshot %q", col.Spec.Name, s.name)
		}
		if !col.Spec.Type.Valid() {
			return nil, NewFailure(FailureSchemaMismatch, "column %q has unknown type %q", col.Spec.Name, col.Spec.Type)
		}
		if len(col.Values) != s.rows {
			return nil, NewFailure(FailureSchemaMismatch, "column %q has %d values, snapshot %q has %d rows", col.Spec.Name, len(col.Values), s.name, s.rows)
		}
		normalized := make([]any, len(col.Values))
		for i, v := range col.Values {
			nv, err := normalizeValue(col.Spec.Type, v)
			if err != nil {
				return nil, NewFailure(FailureSchemaMismatch, "column %q row %d: %v", col.Spec.Name, i, err)
			}
			normalized[i] = nv
		}
		schema = append(schema, col.Spec)
		columns[col.Spec.Name] = normalized
	}

	derived := &Snapshot{
		name:    s.name,
		schema:  schema,
		columns: columns,
		rows:    s.rows,
	}
	derived.fingerprint = derived.computeFingerprint()
	return derived, nil
}

func (s *Snapshot) computeFingerprint() string {
	h := sha256.New()
	for _, col := range s.schema {
		fmt.Fprintf(h, "%s|%s\n", col.Name, col.Type)
	}
	for _, col := range s.schema {
		for _, v := range s.columns[col.Name] {
			writeCanonicalValue(h, v)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeCanonicalValue emits a deterministic, length-prefixed encoding so that
// byte-identical content always yields byte-identical fingerprints.
func writeCanonicalValue(h hash.Hash, v any) {
	var repr string
	switch tv := v.(type) {
	case nil:
		fmt.Fprint(h, "_;")
		return
	case int64:
		repr = strconv.FormatInt(tv, 10)
	case float64:
		repr = strconv.FormatFloat(tv, 'g', -1, 64)
	case string:
		repr = tv
	case time.Time:
		repr = tv.UTC().Format(time.RFC3339Nano)
	default:
		repr = fmt.Sprintf("%v", tv)
	}
	fmt.Fprintf(h, "%d:%s;", len(repr), repr)
}

func normalizeValue(t ColumnType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case ColumnInteger:
		switch tv := v.(type) {
		case int:
			return int64(tv), nil
		case int32:
			return int64(tv), nil
		case int64:
			return tv, nil
		}
	case ColumnFloat:
		switch tv := v.(type) {
		case float64:
			return tv, nil
		case float32:
			return float64(tv), nil
		case int:
			return float64(tv), nil
		case int64:
			return float64(tv), nil
		}
	case ColumnString, ColumnCategory:
		if tv, ok := v.(string); ok {
			return tv, nil
		}
	case ColumnTimestamp:
		if tv, ok := v.(time.Time); ok {
			return tv.UTC(), nil
		}
	}
	return nil, fmt.Errorf("value %T is not assignable to %s", v, t)
}
