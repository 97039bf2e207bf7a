// Package lineage maintains the append-only provenance DAG linking every
// produced artifact and feature column to the steps and inputs that made it.
package lineage

import (
	"fmt"
	"sync"
	"time"

	"github.com/terrafield-labs/featureline/internal/domain"
)

// SourceRecord describes an externally supplied artifact, a DAG root.
type SourceRecord struct {
	Artifact    string
	Fingerprint string
	RowCount    int
	NullCounts  map[string]int
}

// StepRecord describes one step outcome to be appended to the DAG.
type StepRecord struct {
	Version     string
	Step        string
	Inputs      []string // upstream node ids
	Columns     []string // feature columns this step produced
	Fingerprint string   // content fingerprint of the resulting snapshot
	RowCount    int
	NullCounts  map[string]int
}

// Tracker is safe for concurrent append under a serialize-on-write mutex.
// Nodes are never edited or deleted once recorded.
type Tracker struct {
	mu       sync.Mutex
	now      func() time.Time
	nodes    []domain.LineageNode
	byID     map[string]int
	byColumn map[string]string
}

func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		now:      now,
		byID:     make(map[string]int),
		byColumn: make(map[string]string),
	}
}

// RecordSource appends a root node for an external input artifact.
// Re-recording the same artifact under an unchanged fingerprint is a no-op.
func (t *Tracker) RecordSource(rec SourceRecord) (domain.LineageNode, error) {
	node := domain.LineageNode{
		Kind:        domain.LineageSource,
		Artifact:    rec.Artifact,
		Fingerprint: rec.Fingerprint,
		RowCount:    rec.RowCount,
		NullCounts:  rec.NullCounts,
		OccurredAt:  t.now().UTC(),
	}
	return t.append(node)
}

// RecordStep appends a node for a step outcome. Node ids are deterministic,
// so recording the same outcome twice under an unchanged fingerprint does
// not create a duplicate; a content change under the same identity is
// rejected.
func (t *Tracker) RecordStep(rec StepRecord) (domain.LineageNode, error) {
	if len(rec.Inputs) == 0 {
		return domain.LineageNode{}, fmt.Errorf("step %s/%s has no input artifacts", rec.Version, rec.Step)
	}
	node := domain.LineageNode{
		Kind:        domain.LineageStep,
		Artifact:    rec.Version,
		Version:     rec.Version,
		Step:        rec.Step,
		Inputs:      append([]string(nil), rec.Inputs...),
		Columns:     append([]string(nil), rec.Columns...),
		Fingerprint: rec.Fingerprint,
		RowCount:    rec.RowCount,
		NullCounts:  rec.NullCounts,
		OccurredAt:  t.now().UTC(),
	}
	return t.append(node)
}

func (t *Tracker) append(node domain.LineageNode) (domain.LineageNode, error) {
	node.ID = domain.LineageNodeID(node)
	integrity, err := domain.ComputeNodeIntegrity(node)
	if err != nil {
		return domain.LineageNode{}, err
	}
	node.IntegritySHA256 = integrity
	if err := node.Validate(); err != nil {
		return domain.LineageNode{}, fmt.Errorf("invalid lineage node: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if at, exists := t.byID[node.ID]; exists {
		existing := t.nodes[at]
		if err := domain.EnsureLineageNodeImmutable(existing, node); err != nil {
			return domain.LineageNode{}, err
		}
		return existing, nil
	}

	for _, in := range node.Inputs {
		if _, known := t.byID[in]; !known {
			return domain.LineageNode{}, fmt.Errorf("step %s/%s references unknown input %q", node.Version, node.Step, in)
		}
	}

	t.byID[node.ID] = len(t.nodes)
	t.nodes = append(t.nodes, node)
	for _, column := range node.Columns {
		if _, taken := t.byColumn[column]; !taken {
			t.byColumn[column] = node.ID
		}
	}
	return node, nil
}

// Restore replays persisted nodes into an empty tracker. Nodes are stored in
// append order, so every input precedes the node that consumes it.
func (t *Tracker) Restore(nodes []domain.LineageNode) error {
	for _, node := range nodes {
		if _, err := t.append(node); err != nil {
			return fmt.Errorf("restore lineage: %w", err)
		}
	}
	return nil
}

// Query returns the provenance chain for a feature, ordered from root input
// artifacts to the producing leaf. Inputs are recorded before the nodes that
// consume them, so the walk always terminates.
func (t *Tracker) Query(feature string) ([]domain.LineageNode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	leafID, ok := t.byColumn[feature]
	if !ok {
		return nil, fmt.Errorf("no lineage recorded for feature %q", feature)
	}

	visited := make(map[string]struct{})
	var chain []domain.LineageNode
	var walk func(id string)
	walk = func(id string) {
		if _, seen := visited[id]; seen {
			return
		}
		visited[id] = struct{}{}
		node := t.nodes[t.byID[id]]
		for _, in := range node.Inputs {
			walk(in)
		}
		chain = append(chain, node)
	}
	walk(leafID)
	return chain, nil
}

// Nodes returns a copy of every recorded node in append order.
func (t *Tracker) Nodes() []domain.LineageNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.LineageNode, len(t.nodes))
	copy(out, t.nodes)
	return out
}

// Node looks up a recorded node by id.
func (t *Tracker) Node(id string) (domain.LineageNode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.byID[id]
	if !ok {
		return domain.LineageNode{}, false
	}
	return t.nodes[at], true
}
