package pipeline

import (
	"strings"
	"testing"

	"github.com/terrafield-labs/featureline/internal/steps"
)

func minimalVersion(label, base string, deps ...string) VersionSpec {
	return VersionSpec{
		Label:     label,
		Base:      base,
		DependsOn: append([]string{base}, deps...),
		Steps: []steps.Step{
			steps.NewTemporal("calendar", "observationdate"),
		},
	}
}

func TestValidateVersionsAcceptsDefaults(t *testing.T) {
	if err := ValidateVersions(DefaultVersions()); err != nil {
		t.Fatalf("ValidateVersions(defaults) err=%v", err)
	}
}

func TestValidateVersionsRejectsDuplicateLabels(t *testing.T) {
	err := ValidateVersions([]VersionSpec{
		minimalVersion("v1", "weather"),
		minimalVersion("v1", "weather"),
	})
	if err == nil || !strings.Contains(err.Error(), "duplicate version label") {
		t.Fatalf("err=%v", err)
	}
}

func TestValidateVersionsRejectsBaseOutsideDependsOn(t *testing.T) {
	spec := minimalVersion("v1", "weather")
	spec.DependsOn = []string{"stations"}
	err := ValidateVersions([]VersionSpec{spec})
	if err == nil || !strings.Contains(err.Error(), "must be listed in depends_on") {
		t.Fatalf("err=%v", err)
	}
}

func TestValidateVersionsRejectsSelfDependency(t *testing.T) {
	spec := minimalVersion("v1", "weather", "v1")
	err := ValidateVersions([]VersionSpec{spec})
	if err == nil || !strings.Contains(err.Error(), "depends on itself") {
		t.Fatalf("err=%v", err)
	}
}

func TestValidateVersionsRejectsForwardDependency(t *testing.T) {
	// v1 depending on v2 is the seed of a cycle; declaration order is the
	// topological order, so forward references are rejected outright.
	err := ValidateVersions([]VersionSpec{
		minimalVersion("v1", "weather", "v2"),
		minimalVersion("v2", "v1"),
	})
	if err == nil || !strings.Contains(err.Error(), "not declared strictly earlier") {
		t.Fatalf("err=%v", err)
	}
}

func TestValidateVersionsRejectsColumnCollisionAcrossSteps(t *testing.T) {
	spec := VersionSpec{
		Label:     "v1",
		Base:      "weather",
		DependsOn: []string{"weather"},
		Steps: []steps.Step{
			steps.NewTemporal("calendar", "observationdate"),
			steps.NewTemporal("calendar_again", "observationdate"),
		},
	}
	err := ValidateVersions([]VersionSpec{spec})
	if err == nil || !strings.Contains(err.Error(), "declared by both") {
		t.Fatalf("err=%v", err)
	}
}

func TestVersionFingerprintTracksInputsAndDefinitions(t *testing.T) {
	spec := minimalVersion("v1", "weather")
	inputs := map[string]string{"weather": "fp-a"}

	base := VersionFingerprint(spec, inputs)
	if base != VersionFingerprint(spec, map[string]string{"weather": "fp-a"}) {
		t.Fatalf("identical spec and inputs produced different fingerprints")
	}
	if base == VersionFingerprint(spec, map[string]string{"weather": "fp-b"}) {
		t.Fatalf("input fingerprint change did not change version fingerprint")
	}

	changed := spec
	changed.Steps = []steps.Step{steps.NewTemporal("calendar", "activitydate")}
	if base == VersionFingerprint(changed, inputs) {
		t.Fatalf("step definition change did not change version fingerprint")
	}
}
