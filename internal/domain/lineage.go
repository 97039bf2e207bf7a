package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// LineageNodeKind distinguishes externally supplied artifacts from nodes
// produced by a transformation step.
type LineageNodeKind string

const (
	LineageSource LineageNodeKind = "source"
	LineageStep   LineageNodeKind = "step"
)

// LineageNode is one append-only provenance record. Source nodes are DAG
// roots for externally supplied artifacts; step nodes link produced columns
// to the step and inputs that made them. Once written a node is never edited
// or deleted; corrections are new nodes.
type LineageNode struct {
	ID              string          `json:"id"`
	Kind            LineageNodeKind `json:"kind"`
	Artifact        string          `json:"artifact"`
	Version         string          `json:"version,omitempty"`
	Step            string          `json:"step,omitempty"`
	Inputs          []string        `json:"inputs,omitempty"`
	Columns         []string        `json:"columns,omitempty"`
	RowCount        int             `json:"row_count"`
	NullCounts      map[string]int  `json:"null_counts,omitempty"`
	Fingerprint     string          `json:"fingerprint"`
	OccurredAt      time.Time       `json:"occurred_at"`
	IntegritySHA256 string          `json:"integrity_sha256"`
}

func (n LineageNode) Validate() error {
	if n.Kind != LineageSource && n.Kind != LineageStep {
		return fmt.Errorf("unknown lineage node kind %q", n.Kind)
	}
	if strings.TrimSpace(n.Artifact) == "" {
		return errors.New("artifact is required")
	}
	if n.Kind == LineageStep {
		if strings.TrimSpace(n.Version) == "" {
			return errors.New("version is required for step nodes")
		}
		if strings.TrimSpace(n.Step) == "" {
			return errors.New("step is required for step nodes")
		}
		if len(n.Inputs) == 0 {
			return errors.New("step nodes require at least one input")
		}
	}
	if n.OccurredAt.IsZero() {
		return errors.New("occurred_at is required")
	}
	return nil
}

// LineageNodeID derives the deterministic node identity from content.
// Recording the same step outcome twice under an unchanged fingerprint yields
// the same id, which is what makes re-recording idempotent.
func LineageNodeID(n LineageNode) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s\n", n.Kind, n.Artifact, n.Version, n.Step, n.Fingerprint)
	for _, in := range n.Inputs {
		fmt.Fprintf(h, "in:%s\n", in)
	}
	for _, col := range n.Columns {
		fmt.Fprintf(h, "col:%s\n", col)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeNodeIntegrity hashes node content excluding the record timestamp so
// rerun lineage content is byte-identical under unchanged fingerprints.
func ComputeNodeIntegrity(n LineageNode) (string, error) {
	shadow := n
	shadow.OccurredAt = time.Time{}
	shadow.IntegritySHA256 = ""
	blob, err := json.Marshal(shadow)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

// EnsureLineageNodeImmutable rejects any content change to an already
// recorded node. The record timestamp is the only field allowed to differ.
func EnsureLineageNodeImmutable(before, after LineageNode) error {
	if before.ID == "" || after.ID == "" {
		return errors.New("lineage node ids are required")
	}
	if before.ID != after.ID {
		return fmt.Errorf("lineage node id changed from %q to %q", before.ID, after.ID)
	}
	if before.Kind != after.Kind {
		return errors.New("kind is immutable")
	}
	if before.Artifact != after.Artifact {
		return errors.New("artifact is immutable")
	}
	if before.Version != after.Version {
		return errors.New("version is immutable")
	}
	if before.Step != after.Step {
		return errors.New("step is immutable")
	}
	if !reflect.DeepEqual(before.Inputs, after.Inputs) {
		return errors.New("inputs are immutable")
	}
	if !reflect.DeepEqual(before.Columns, after.Columns) {
		return errors.New("columns are immutable")
	}
	if before.RowCount != after.RowCount {
		return errors.New("row count is immutable")
	}
	if !reflect.DeepEqual(before.NullCounts, after.NullCounts) {
		return errors.New("null counts are immutable")
	}
	if before.Fingerprint != after.Fingerprint {
		return errors.New("fingerprint is immutable")
	}
	return nil
}
