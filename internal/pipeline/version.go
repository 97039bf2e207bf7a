// Package pipeline sequences feature versions, isolates per-version failure
// and decides overall run status.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/terrafield-labs/featureline/internal/steps"
)

// VersionSpec declares one independently committable feature version: an
// ordered list of steps plus the upstream artifacts it depends on. Base
// names the artifact the version's working snapshot starts from and must
// appear in DependsOn. Version dependencies may only reference versions
// declared strictly earlier.
type VersionSpec struct {
	Label     string
	Base      string
	DependsOn []string
	Steps     []steps.Step
}

func (v VersionSpec) dependsOn(artifact string) bool {
	for _, dep := range v.DependsOn {
		if dep == artifact {
			return true
		}
	}
	return false
}

// DeclaredOutputs lists every column the version's steps may add, in step
// order.
func (v VersionSpec) DeclaredOutputs() []string {
	var out []string
	for _, step := range v.Steps {
		out = append(out, step.Outputs...)
	}
	return out
}

// ValidationError aggregates declaration issues.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "pipeline validation failed"
	}
	return "pipeline validation failed: " + strings.Join(e.Issues, "; ")
}

func (e *ValidationError) Add(issue string) {
	if strings.TrimSpace(issue) == "" {
		return
	}
	e.Issues = append(e.Issues, issue)
}

func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}

// ValidateVersions performs strict validation of a version declaration set.
// A version whose declared dependency already (transitively) depends on it
// is rejected here, which is what keeps the lineage DAG acyclic by
// construction.
func ValidateVersions(versions []VersionSpec) error {
	issues := &ValidationError{}
	if len(versions) == 0 {
		issues.Add("at least one version is required")
		return issues.OrNil()
	}

	declared := make(map[string]int, len(versions))
	for i, version := range versions {
		label := strings.TrimSpace(version.Label)
		if label == "" {
			issues.Add(fmt.Sprintf("version[%d] label is required", i))
			continue
		}
		if _, dup := declared[label]; dup {
			issues.Add(fmt.Sprintf("duplicate version label %q", label))
			continue
		}
		declared[label] = i

		if strings.TrimSpace(version.Base) == "" {
			issues.Add(fmt.Sprintf("version[%s] base artifact is required", label))
		} else if !version.dependsOn(version.Base) {
			issues.Add(fmt.Sprintf("version[%s] base %q must be listed in depends_on", label, version.Base))
		}
		if len(version.Steps) == 0 {
			issues.Add(fmt.Sprintf("version[%s] declares no steps", label))
		}

		stepNames := make(map[string]struct{}, len(version.Steps))
		outputs := make(map[string]string)
		for _, step := range version.Steps {
			if err := step.Validate(); err != nil {
				issues.Add(fmt.Sprintf("version[%s]: %v", label, err))
				continue
			}
			if _, dup := stepNames[step.Name]; dup {
				issues.Add(fmt.Sprintf("version[%s] duplicate step name %q", label, step.Name))
			}
			stepNames[step.Name] = struct{}{}
			for _, column := range step.Outputs {
				if prior, taken := outputs[column]; taken {
					issues.Add(fmt.Sprintf("version[%s] column %q declared by both %q and %q", label, column, prior, step.Name))
				}
				outputs[column] = step.Name
			}
		}

		for _, dep := range version.DependsOn {
			if dep == label {
				issues.Add(fmt.Sprintf("version[%s] depends on itself", label))
			}
		}
		// Version dependencies must point strictly backwards in declaration
		// order; a forward reference is how a cycle would have to start.
		for _, later := range versions[i+1:] {
			if version.dependsOn(later.Label) {
				issues.Add(fmt.Sprintf("version[%s] depends on %q which is not declared strictly earlier", label, later.Label))
			}
		}
	}

	return issues.OrNil()
}
