package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// VersionFingerprint hashes a version's step definitions together with the
// content fingerprints of its input artifacts. Unchanged inputs and
// unchanged definitions yield an unchanged fingerprint, which is what lets
// a rerun skip recomputation safely; filesystem timestamps play no part.
func VersionFingerprint(spec VersionSpec, inputs map[string]string) string {
	h := sha256.New()
	fmt.Fprintf(h, "version|%s|base:%s\n", spec.Label, spec.Base)
	for _, dep := range spec.DependsOn {
		fmt.Fprintf(h, "dep:%s=%s\n", dep, inputs[dep])
	}
	for _, step := range spec.Steps {
		fmt.Fprintf(h, "step:%s\n", step.DefinitionFingerprint())
	}
	return hex.EncodeToString(h.Sum(nil))
}
