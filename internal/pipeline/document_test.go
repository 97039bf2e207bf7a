package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const pipelineYAML = `versions:
  - label: v1
    base: weather
    depends_on: [weather, stations]
    steps:
      - name: station_attributes
        uses: station_join
        params:
          lookup: stations
          left_key: stationid
          right_key: stationcode
          take: [region]
      - name: calendar
        uses: temporal
        params:
          date_column: observationdate
  - label: v2
    base: v1
    depends_on: [v1]
    steps:
      - name: rainfall_lags
        uses: lag
        params:
          group_column: region
          value_column: rainfall
          lags: [1, 3]
`

func TestLoadDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(pipelineYAML), 0o644); err != nil {
		t.Fatalf("WriteFile() err=%v", err)
	}

	versions, err := LoadDocument(path)
	if err != nil {
		t.Fatalf("LoadDocument() err=%v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("len(versions)=%d, want 2", len(versions))
	}
	v1 := versions[0]
	if v1.Label != "v1" || v1.Base != "weather" || len(v1.Steps) != 2 {
		t.Fatalf("v1=%+v", v1)
	}
	if v1.Steps[0].Uses != "station_join" {
		t.Fatalf("step uses=%q", v1.Steps[0].Uses)
	}
	v2 := versions[1]
	if len(v2.Steps) != 1 || v2.Steps[0].Outputs[0] != "rainfall_lag_1d" {
		t.Fatalf("v2 outputs=%v", v2.Steps[0].Outputs)
	}
}

func TestLoadDocumentRejectsUnknownBuiltin(t *testing.T) {
	doc := strings.Replace(pipelineYAML, "uses: temporal", "uses: mystery", 1)
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile() err=%v", err)
	}
	if _, err := LoadDocument(path); err == nil || !strings.Contains(err.Error(), "unknown builtin") {
		t.Fatalf("err=%v", err)
	}
}

func TestResolveRejectsEmptyDocument(t *testing.T) {
	if _, err := (Document{}).Resolve(); err == nil {
		t.Fatalf("empty document accepted")
	}
}
