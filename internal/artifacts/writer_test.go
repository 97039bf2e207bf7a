package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/terrafield-labs/featureline/internal/domain"
)

func testSnapshot(t *testing.T, rainfall []any) *domain.Snapshot {
	t.Helper()
	rows := len(rainfall)
	stations := make([]any, rows)
	dates := make([]any, rows)
	for i := range stations {
		stations[i] = "s1"
		dates[i] = time.Date(2024, 3, i+1, 0, 0, 0, 0, time.UTC)
	}
	snap, err := domain.NewSnapshot("v1", domain.Schema{
		{Name: "stationid", Type: domain.ColumnString},
		{Name: "observationdate", Type: domain.ColumnTimestamp},
		{Name: "rainfall", Type: domain.ColumnFloat},
	}, map[string][]any{
		"stationid":       stations,
		"observationdate": dates,
		"rainfall":        rainfall,
	})
	if err != nil {
		t.Fatalf("NewSnapshot() err=%v", err)
	}
	return snap
}

func listDir(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir() err=%v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestCommitAndReadCSVRoundTrip(t *testing.T) {
	writer, err := NewWriter(t.TempDir(), FormatCSV)
	if err != nil {
		t.Fatalf("NewWriter() err=%v", err)
	}
	snap := testSnapshot(t, []any{1.5, nil, 3.0})

	committed, err := writer.Commit(context.Background(), "v1", snap, []string{"rainfall"})
	if err != nil {
		t.Fatalf("Commit() err=%v", err)
	}
	if committed.SHA256 == "" || committed.SizeBytes == 0 {
		t.Fatalf("committed=%+v", committed)
	}
	if committed.Path != writer.ArtifactPath("v1") {
		t.Fatalf("path=%q, want %q", committed.Path, writer.ArtifactPath("v1"))
	}

	back, err := writer.Read("v1")
	if err != nil {
		t.Fatalf("Read() err=%v", err)
	}
	if back.RowCount() != 3 {
		t.Fatalf("RowCount()=%d, want 3", back.RowCount())
	}
	rain, _ := back.Column("rainfall")
	if rain[0] != 1.5 || rain[1] != nil || rain[2] != 3.0 {
		t.Fatalf("rainfall=%v", rain)
	}
}

func TestCommitXLSXRoundTrip(t *testing.T) {
	writer, err := NewWriter(t.TempDir(), FormatXLSX)
	if err != nil {
		t.Fatalf("NewWriter() err=%v", err)
	}
	snap := testSnapshot(t, []any{1.5, 2.5})

	if _, err := writer.Commit(context.Background(), "v1", snap, nil); err != nil {
		t.Fatalf("Commit() err=%v", err)
	}
	back, err := writer.Read("v1")
	if err != nil {
		t.Fatalf("Read() err=%v", err)
	}
	if back.RowCount() != 2 {
		t.Fatalf("RowCount()=%d, want 2", back.RowCount())
	}
}

func TestCommitLeavesNoTempOnValidationFailure(t *testing.T) {
	root := t.TempDir()
	writer, err := NewWriter(root, FormatCSV)
	if err != nil {
		t.Fatalf("NewWriter() err=%v", err)
	}

	// Entirely absent column fails validation before materialization.
	_, err = writer.Commit(context.Background(), "v1", testSnapshot(t, []any{nil, nil}), nil)
	if err == nil {
		t.Fatalf("expected validation failure")
	}
	if domain.FailureFrom(err).Kind != domain.FailureWrite {
		t.Fatalf("kind=%s, want write", domain.FailureFrom(err).Kind)
	}
	if names := listDir(t, root); len(names) != 0 {
		t.Fatalf("output root not empty after failed commit: %v", names)
	}
}

func TestCommitRejectsMissingRequiredColumn(t *testing.T) {
	writer, err := NewWriter(t.TempDir(), FormatCSV)
	if err != nil {
		t.Fatalf("NewWriter() err=%v", err)
	}
	_, err = writer.Commit(context.Background(), "v1", testSnapshot(t, []any{1.0}), []string{"season"})
	if err == nil || !strings.Contains(err.Error(), "season") {
		t.Fatalf("Commit() err=%v, want missing column error", err)
	}
}

func TestFailedCommitKeepsPriorArtifact(t *testing.T) {
	root := t.TempDir()
	writer, err := NewWriter(root, FormatCSV)
	if err != nil {
		t.Fatalf("NewWriter() err=%v", err)
	}

	first, err := writer.Commit(context.Background(), "v1", testSnapshot(t, []any{1.0, 2.0}), nil)
	if err != nil {
		t.Fatalf("Commit() err=%v", err)
	}
	before, err := os.ReadFile(first.Path)
	if err != nil {
		t.Fatalf("ReadFile() err=%v", err)
	}

	if _, err := writer.Commit(context.Background(), "v1", testSnapshot(t, []any{nil, nil}), nil); err == nil {
		t.Fatalf("expected failure")
	}

	after, err := os.ReadFile(first.Path)
	if err != nil {
		t.Fatalf("prior artifact gone after failed commit: %v", err)
	}
	if string(before) != string(after) {
		t.Fatalf("prior artifact changed by failed commit")
	}
}

func TestStrayTempFileIsInvisibleToReaders(t *testing.T) {
	// A crash between materialization and rename leaves a .tmp file; it
	// must never be readable under the artifact's final identity.
	root := t.TempDir()
	writer, err := NewWriter(root, FormatCSV)
	if err != nil {
		t.Fatalf("NewWriter() err=%v", err)
	}
	stray := filepath.Join(root, ".tmp-v1-deadbeef.csv")
	if err := os.WriteFile(stray, []byte("partial"), 0o644); err != nil {
		t.Fatalf("WriteFile() err=%v", err)
	}

	if _, err := writer.Read("v1"); err == nil {
		t.Fatalf("stray temp file visible as committed artifact")
	}

	// The next commit succeeds alongside the stray temp.
	if _, err := writer.Commit(context.Background(), "v1", testSnapshot(t, []any{1.0}), nil); err != nil {
		t.Fatalf("Commit() err=%v", err)
	}
	if _, err := writer.Read("v1"); err != nil {
		t.Fatalf("Read() err=%v", err)
	}
}

func TestWriteAndReadMetadata(t *testing.T) {
	root := t.TempDir()

	if _, ok, err := ReadMetadata(root); err != nil || ok {
		t.Fatalf("ReadMetadata on empty root: ok=%v err=%v", ok, err)
	}

	doc := Metadata{
		RunID:       "r1",
		GeneratedAt: time.Now().UTC(),
		Versions: []VersionMetadata{
			{Version: "v1", Status: domain.VersionCommitted, Fingerprint: "fp-v1", Features: []string{"month"}},
			{Version: "v2", Status: domain.VersionFailed},
		},
	}
	if err := WriteMetadata(root, doc); err != nil {
		t.Fatalf("WriteMetadata() err=%v", err)
	}

	back, ok, err := ReadMetadata(root)
	if err != nil || !ok {
		t.Fatalf("ReadMetadata(): ok=%v err=%v", ok, err)
	}
	if back.RunID != "r1" || len(back.Versions) != 2 {
		t.Fatalf("back=%+v", back)
	}
	v1, ok := back.FindVersion("v1")
	if !ok || v1.Fingerprint != "fp-v1" {
		t.Fatalf("v1=%+v", v1)
	}
	if _, ok := back.FindVersion("v9"); ok {
		t.Fatalf("unknown version found")
	}
}
