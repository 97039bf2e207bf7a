package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Metadata is an unstructured metadata container for domain entities.
type Metadata map[string]any

func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	copy := make(Metadata, len(m))
	for k, v := range m {
		copy[k] = v
	}
	return copy
}

// ColumnType is the semantic type of a snapshot column.
type ColumnType string

const (
	ColumnInteger   ColumnType = "integer"
	ColumnFloat     ColumnType = "float"
	ColumnString    ColumnType = "string"
	ColumnCategory  ColumnType = "category"
	ColumnTimestamp ColumnType = "timestamp"
)

func (t ColumnType) Valid() bool {
	switch t {
	case ColumnInteger, ColumnFloat, ColumnString, ColumnCategory, ColumnTimestamp:
		return true
	default:
		return false
	}
}

// ColumnSpec declares one column of a snapshot schema.
type ColumnSpec struct {
	Name string     `json:"name" yaml:"name"`
	Type ColumnType `json:"type" yaml:"type"`
}

// Schema is the ordered column declaration shared by every record of a snapshot.
type Schema []ColumnSpec

func (s Schema) Validate() error {
	if len(s) == 0 {
		return errors.New("schema requires at least one column")
	}
	seen := make(map[string]struct{}, len(s))
	for i, col := range s {
		name := strings.TrimSpace(col.Name)
		if name == "" {
			return fmt.Errorf("schema column[%d] name is required", i)
		}
		if !col.Type.Valid() {
			return fmt.Errorf("schema column %q has unknown type %q", name, col.Type)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate schema column %q", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func (s Schema) Has(name string) bool {
	for _, col := range s {
		if col.Name == name {
			return true
		}
	}
	return false
}

func (s Schema) TypeOf(name string) (ColumnType, bool) {
	for _, col := range s {
		if col.Name == name {
			return col.Type, true
		}
	}
	return "", false
}

func (s Schema) Clone() Schema {
	out := make(Schema, len(s))
	copy(out, s)
	return out
}

func (s Schema) Names() []string {
	out := make([]string, 0, len(s))
	for _, col := range s {
		out = append(out, col.Name)
	}
	return out
}

// Column is a named, typed sequence of values. A nil value marks an absent cell.
type Column struct {
	Spec   ColumnSpec
	Values []any
}
