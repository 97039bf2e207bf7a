// Package artifacts commits version outputs so external observers never see
// a partially written file: materialize under a temporary identity,
// validate, fsync, then a single rename into the final identity.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/terrafield-labs/featureline/internal/domain"
)

// Format selects the tabular artifact encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case FormatCSV, "":
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported artifact format %q", value)
	}
}

// Committed describes a durably visible artifact.
type Committed struct {
	Path      string `json:"path"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
}

// Writer commits one artifact per feature version under the output root.
type Writer struct {
	root   string
	format Format
}

func NewWriter(root string, format Format) (*Writer, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("output root is required")
	}
	if format == "" {
		format = FormatCSV
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create output root: %w", err)
	}
	return &Writer{root: root, format: format}, nil
}

// Root returns the output root the writer commits under.
func (w *Writer) Root() string {
	return w.root
}

// ArtifactPath returns the final identity an artifact for a version label
// commits under.
func (w *Writer) ArtifactPath(version string) string {
	return filepath.Join(w.root, fmt.Sprintf("features_%s.%s", version, w.format))
}

// Commit materializes the snapshot under a temporary identity, validates it,
// and makes it visible under its final identity via a single rename. On any
// failure after materialization begins, the temporary file is discarded and
// a previously committed artifact stays the only visible one.
func (w *Writer) Commit(ctx context.Context, version string, snap *domain.Snapshot, required []string) (Committed, error) {
	if err := validateArtifact(snap, required); err != nil {
		return Committed{}, err
	}

	final := w.ArtifactPath(version)
	temp := filepath.Join(w.root, fmt.Sprintf(".tmp-%s-%s.%s", version, uuid.NewString(), w.format))

	file, err := os.OpenFile(temp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return Committed{}, domain.NewFailure(domain.FailureWrite, "materialize %s: %v", version, err)
	}

	discard := func(reason error) (Committed, error) {
		_ = file.Close()
		_ = os.Remove(temp)
		return Committed{}, reason
	}

	sha, size, err := encodeSnapshot(file, w.format, snap)
	if err != nil {
		return discard(domain.NewFailure(domain.FailureWrite, "encode %s: %v", version, err))
	}
	if err := file.Sync(); err != nil {
		return discard(domain.NewFailure(domain.FailureWrite, "sync %s: %v", version, err))
	}
	if err := file.Close(); err != nil {
		return discard(domain.NewFailure(domain.FailureWrite, "close %s: %v", version, err))
	}
	if err := os.Rename(temp, final); err != nil {
		_ = os.Remove(temp)
		return Committed{}, domain.NewFailure(domain.FailureWrite, "commit %s: %v", version, err)
	}
	return Committed{Path: final, SHA256: sha, SizeBytes: size}, nil
}

// Read decodes a previously committed artifact back into a snapshot, so a
// reused version can feed its dependents without recomputation.
func (w *Writer) Read(version string) (*domain.Snapshot, error) {
	path := w.ArtifactPath(version)
	return decodeArtifact(version, path, w.format)
}

// FileSHA256 hashes a committed artifact's bytes. The encoding is
// deterministic, so the hash is a stable identity across runs.
func FileSHA256(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hash artifact: %w", err)
	}
	defer func() { _ = file.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("hash artifact: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// validateArtifact runs the pre-commit checks: non-empty, every required
// column present, and no column consisting entirely of absent values.
func validateArtifact(snap *domain.Snapshot, required []string) error {
	if snap == nil || snap.RowCount() == 0 {
		return domain.NewFailure(domain.FailureWrite, "artifact has no rows")
	}
	schema := snap.Schema()
	for _, column := range required {
		if !schema.Has(column) {
			return domain.NewFailure(domain.FailureWrite, "artifact is missing required column %q", column)
		}
	}
	for name, nulls := range snap.NullCounts() {
		if nulls == snap.RowCount() {
			return domain.NewFailure(domain.FailureWrite, "artifact column %q is entirely absent", name)
		}
	}
	return nil
}
