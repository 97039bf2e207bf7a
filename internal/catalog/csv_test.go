package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/terrafield-labs/featureline/internal/domain"
)

const weatherCSV = `stationid,observationdate,rainfall,temperature
s1,2024-03-01,2.5,15
s1,2024-03-02,,17
s2,2024-03-01,10,21
`

func TestReadCSVInfersColumnTypes(t *testing.T) {
	snap, err := ReadCSV("weather", strings.NewReader(weatherCSV))
	if err != nil {
		t.Fatalf("ReadCSV() err=%v", err)
	}
	if snap.RowCount() != 3 {
		t.Fatalf("RowCount()=%d, want 3", snap.RowCount())
	}

	schema := snap.Schema()
	expect := map[string]domain.ColumnType{
		"stationid":       domain.ColumnString,
		"observationdate": domain.ColumnTimestamp,
		"rainfall":        domain.ColumnFloat,
		"temperature":     domain.ColumnInteger,
	}
	for name, want := range expect {
		got, ok := schema.TypeOf(name)
		if !ok || got != want {
			t.Fatalf("column %q type=%s, want %s", name, got, want)
		}
	}

	dates, _ := snap.Column("observationdate")
	if ts := dates[0].(time.Time); ts.Day() != 1 || ts.Month() != time.March {
		t.Fatalf("observationdate[0]=%v", ts)
	}
	rain, _ := snap.Column("rainfall")
	if rain[1] != nil {
		t.Fatalf("empty cell not absent: %v", rain[1])
	}
}

func TestReadCSVEmptyDocument(t *testing.T) {
	if _, err := ReadCSV("weather", strings.NewReader("")); err == nil {
		t.Fatalf("empty document accepted")
	}
}

func TestDirProviderMissingDataset(t *testing.T) {
	provider := NewDirProvider(t.TempDir())
	_, err := provider.Load(context.Background(), "activity")
	if err == nil {
		t.Fatalf("missing dataset accepted")
	}
	failure := domain.FailureFrom(err)
	if failure.Kind != domain.FailureMissingInput {
		t.Fatalf("kind=%s, want missing_input", failure.Kind)
	}
	if !strings.Contains(failure.Message, "activity") {
		t.Fatalf("message does not name the dataset: %s", failure.Message)
	}
}

func TestDirProviderLoadsDataset(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "weather.csv"), []byte(weatherCSV), 0o644); err != nil {
		t.Fatalf("WriteFile() err=%v", err)
	}
	snap, err := NewDirProvider(root).Load(context.Background(), "weather")
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if snap.Name() != "weather" || snap.RowCount() != 3 {
		t.Fatalf("snapshot=%s rows=%d", snap.Name(), snap.RowCount())
	}
}

func TestMemoryProvider(t *testing.T) {
	snap, err := ReadCSV("weather", strings.NewReader(weatherCSV))
	if err != nil {
		t.Fatalf("ReadCSV() err=%v", err)
	}
	provider := NewMemoryProvider(snap)
	if _, err := provider.Load(context.Background(), "weather"); err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if _, err := provider.Load(context.Background(), "stations"); err == nil {
		t.Fatalf("unknown dataset accepted")
	}
}
