package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/terrafield-labs/featureline/internal/steps"
)

// Document is the on-disk declaration of a pipeline. Versions run in
// declaration order and may only depend on versions declared before them.
type Document struct {
	Versions []VersionDocument `yaml:"versions"`
}

// VersionDocument declares one feature version in a pipeline file.
type VersionDocument struct {
	Label     string         `yaml:"label"`
	Base      string         `yaml:"base"`
	DependsOn []string       `yaml:"depends_on"`
	Steps     []StepDocument `yaml:"steps"`
}

// StepDocument references a builtin step by its uses identifier.
type StepDocument struct {
	Name   string         `yaml:"name"`
	Uses   string         `yaml:"uses"`
	Params map[string]any `yaml:"params"`
}

// LoadDocument parses a pipeline file and resolves every declared step to a
// builtin, then validates the resulting version set.
func LoadDocument(path string) ([]VersionSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline document: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse pipeline document: %w", err)
	}
	return doc.Resolve()
}

// Resolve turns the declaration into executable version specs.
func (d Document) Resolve() ([]VersionSpec, error) {
	if len(d.Versions) == 0 {
		return nil, fmt.Errorf("pipeline document declares no versions")
	}
	specs := make([]VersionSpec, 0, len(d.Versions))
	for _, v := range d.Versions {
		spec := VersionSpec{
			Label:     v.Label,
			Base:      v.Base,
			DependsOn: v.DependsOn,
		}
		for _, s := range v.Steps {
			step, err := steps.Build(s.Uses, s.Name, steps.Params(s.Params))
			if err != nil {
				return nil, fmt.Errorf("version %q: %w", v.Label, err)
			}
			spec.Steps = append(spec.Steps, step)
		}
		specs = append(specs, spec)
	}
	if err := ValidateVersions(specs); err != nil {
		return nil, err
	}
	return specs, nil
}
