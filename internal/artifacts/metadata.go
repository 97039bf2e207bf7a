package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/terrafield-labs/featureline/internal/domain"
)

// MetadataFile is the structured metadata document committed next to the
// artifacts after every run.
const MetadataFile = "feature_metadata.json"

// VersionMetadata is the per-version record a later run consults to decide
// whether recomputation can be skipped.
type VersionMetadata struct {
	Version     string               `json:"version"`
	Status      domain.VersionStatus `json:"status"`
	Fingerprint string               `json:"fingerprint,omitempty"`
	Artifact    *Committed           `json:"artifact,omitempty"`
	Features    []string             `json:"features,omitempty"`
}

// Metadata is the full governance document: per-version status, the audit
// event sequence, and the lineage DAG serialized as nodes.
type Metadata struct {
	RunID       string               `json:"run_id"`
	GeneratedAt time.Time            `json:"generated_at"`
	Versions    []VersionMetadata    `json:"versions"`
	Audit       []domain.AuditEvent  `json:"audit"`
	Lineage     []domain.LineageNode `json:"lineage"`
}

// WriteMetadata commits the document with the same temp-then-rename
// discipline as tabular artifacts.
func WriteMetadata(root string, doc Metadata) error {
	blob, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	temp := filepath.Join(root, fmt.Sprintf(".tmp-metadata-%s.json", uuid.NewString()))
	if err := os.WriteFile(temp, append(blob, '\n'), 0o644); err != nil {
		return domain.NewFailure(domain.FailureWrite, "materialize metadata: %v", err)
	}
	if err := os.Rename(temp, filepath.Join(root, MetadataFile)); err != nil {
		_ = os.Remove(temp)
		return domain.NewFailure(domain.FailureWrite, "commit metadata: %v", err)
	}
	return nil
}

// ReadMetadata loads the prior run's document. A missing document is not an
// error; it simply means there is nothing to reuse.
func ReadMetadata(root string) (Metadata, bool, error) {
	blob, err := os.ReadFile(filepath.Join(root, MetadataFile))
	if errors.Is(err, os.ErrNotExist) {
		return Metadata{}, false, nil
	}
	if err != nil {
		return Metadata{}, false, fmt.Errorf("read metadata: %w", err)
	}
	var doc Metadata
	if err := json.Unmarshal(blob, &doc); err != nil {
		return Metadata{}, false, fmt.Errorf("decode metadata: %w", err)
	}
	return doc, true, nil
}

// FindVersion returns the recorded metadata for a version label.
func (m Metadata) FindVersion(label string) (VersionMetadata, bool) {
	for _, v := range m.Versions {
		if v.Version == label {
			return v, true
		}
	}
	return VersionMetadata{}, false
}
