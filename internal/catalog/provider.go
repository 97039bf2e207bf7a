// Package catalog is the snapshot provider boundary. Raw ingestion and
// validation happen upstream; the pipeline only ever reads named snapshots
// from a Provider and never mutates what it gets back.
package catalog

import (
	"context"

	"github.com/terrafield-labs/featureline/internal/domain"
)

// Provider resolves logical dataset names to immutable snapshots.
type Provider interface {
	Load(ctx context.Context, name string) (*domain.Snapshot, error)
}

// MemoryProvider serves pre-built snapshots, used in tests and for wiring
// version outputs back in as downstream inputs.
type MemoryProvider struct {
	snapshots map[string]*domain.Snapshot
}

func NewMemoryProvider(snapshots ...*domain.Snapshot) *MemoryProvider {
	p := &MemoryProvider{snapshots: make(map[string]*domain.Snapshot, len(snapshots))}
	for _, snap := range snapshots {
		p.snapshots[snap.Name()] = snap
	}
	return p
}

func (p *MemoryProvider) Add(snap *domain.Snapshot) {
	p.snapshots[snap.Name()] = snap
}

func (p *MemoryProvider) Load(ctx context.Context, name string) (*domain.Snapshot, error) {
	snap, ok := p.snapshots[name]
	if !ok {
		return nil, domain.NewFailure(domain.FailureMissingInput, "dataset %q not found", name)
	}
	return snap, nil
}
