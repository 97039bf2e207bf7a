package steps

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/terrafield-labs/featureline/internal/domain"
)

// BaseInput is the reserved input name resolved to the version's working
// snapshot, the frame a version threads through its steps in order.
const BaseInput = "base"

// Params carries a step's configuration. Values must be plain scalars or
// string slices so definitions fingerprint deterministically.
type Params map[string]any

func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (p Params) Ints(key string) []int {
	switch v := p[key].(type) {
	case []int:
		return v
	case []any:
		out := make([]int, 0, len(v))
		for _, item := range v {
			switch n := item.(type) {
			case int:
				out = append(out, n)
			case int64:
				out = append(out, int(n))
			case float64:
				out = append(out, int(n))
			}
		}
		return out
	}
	return nil
}

// Output is the successful result of one step application.
type Output struct {
	Columns []domain.Column
	Stats   domain.Metadata
}

// ApplyFunc is the pure computation of a step. It reads the supplied
// snapshots and parameters and yields new columns plus summary statistics,
// or an error classified via domain.Failure. It must not write files or logs
// and must not read the wall clock; any time dependence comes in as a param.
type ApplyFunc func(ctx context.Context, inputs map[string]*domain.Snapshot, params Params) (Output, error)

// Step is a named, pure transformation belonging to a feature version.
// Identity is (version label, step name). Inputs lists required snapshot
// names; Outputs lists every column the step may add.
type Step struct {
	Name    string
	Uses    string
	Inputs  []string
	Outputs []string
	Params  Params
	Apply   ApplyFunc
}

func (s Step) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("step name is required")
	}
	if len(s.Inputs) == 0 {
		return fmt.Errorf("step %q declares no inputs", s.Name)
	}
	if len(s.Outputs) == 0 {
		return fmt.Errorf("step %q declares no output columns", s.Name)
	}
	if s.Apply == nil {
		return fmt.Errorf("step %q has no apply function", s.Name)
	}
	return nil
}

// DefinitionFingerprint hashes the step declaration, parameters included.
// The apply function itself is identified by the Uses name, so changing a
// builtin's identifier changes the fingerprint.
func (s Step) DefinitionFingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "step|%s|%s\n", s.Name, s.Uses)
	for _, in := range s.Inputs {
		fmt.Fprintf(h, "in:%s\n", in)
	}
	for _, out := range s.Outputs {
		fmt.Fprintf(h, "out:%s\n", out)
	}
	keys := make([]string, 0, len(s.Params))
	for k := range s.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "param:%s=%v\n", k, s.Params[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RequireInputs fails fast with a missing_input failure before any
// computation when a declared snapshot is absent.
func RequireInputs(step Step, inputs map[string]*domain.Snapshot) error {
	for _, name := range step.Inputs {
		snap, ok := inputs[name]
		if !ok || snap == nil {
			return domain.NewFailure(domain.FailureMissingInput, "step %q requires input %q", step.Name, name)
		}
	}
	return nil
}

func requireColumn(snap *domain.Snapshot, column string) ([]any, error) {
	values, ok := snap.Column(column)
	if !ok {
		return nil, domain.NewFailure(domain.FailureMissingInput, "snapshot %q has no column %q", snap.Name(), column)
	}
	return values, nil
}

func asFloat(v any) (float64, bool) {
	switch tv := v.(type) {
	case float64:
		return tv, true
	case int64:
		return float64(tv), true
	}
	return 0, false
}

// groupKey canonicalizes a grouping value. Absent values group together.
func groupKey(v any) string {
	if v == nil {
		return "\x00absent"
	}
	return fmt.Sprintf("%v", v)
}
