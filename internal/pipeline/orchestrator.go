package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/terrafield-labs/featureline/internal/artifacts"
	"github.com/terrafield-labs/featureline/internal/audit"
	"github.com/terrafield-labs/featureline/internal/catalog"
	"github.com/terrafield-labs/featureline/internal/domain"
	"github.com/terrafield-labs/featureline/internal/lineage"
	"github.com/terrafield-labs/featureline/internal/steps"
)

// Options controls one run.
type Options struct {
	// Force recomputes every version, ignoring fingerprint matches.
	Force bool
	// Only restricts execution to a single version label.
	Only string
	// Workers bounds parallel execution of independent versions. Zero or
	// one means sequential.
	Workers int
	// StepTimeout, when positive, fails a step that runs longer, treated
	// identically to a computation failure.
	StepTimeout time.Duration
}

// Orchestrator runs declared feature versions in dependency order, isolates
// per-version failure, and aggregates outcomes into a run report. The audit
// log and lineage tracker are the only shared mutable state and both are
// append-only behind their own locks.
type Orchestrator struct {
	logger   *slog.Logger
	provider catalog.Provider
	writer   *artifacts.Writer
	auditLog *audit.Log
	tracker  *lineage.Tracker
	versions []VersionSpec
	now      func() time.Time

	mu          sync.Mutex
	snapshots   map[string]*domain.Snapshot
	leafNodes   map[string]string
	statuses    map[string]domain.VersionStatus
	committed   map[string]artifacts.Committed
	artifactSHA map[string]string
}

func New(logger *slog.Logger, provider catalog.Provider, writer *artifacts.Writer, auditLog *audit.Log, tracker *lineage.Tracker, versions []VersionSpec, now func() time.Time) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	if err := ValidateVersions(versions); err != nil {
		return nil, err
	}
	return &Orchestrator{
		logger:      logger,
		provider:    provider,
		writer:      writer,
		auditLog:    auditLog,
		tracker:     tracker,
		versions:    versions,
		now:         now,
		snapshots:   make(map[string]*domain.Snapshot),
		leafNodes:   make(map[string]string),
		statuses:    make(map[string]domain.VersionStatus),
		committed:   make(map[string]artifacts.Committed),
		artifactSHA: make(map[string]string),
	}, nil
}

// Run executes the selected versions and always returns a report; the error
// return covers only conditions that prevent a run from starting at all.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (domain.RunReport, error) {
	selected := o.versions
	if opts.Only != "" {
		var match *VersionSpec
		for i := range o.versions {
			if o.versions[i].Label == opts.Only {
				match = &o.versions[i]
				break
			}
		}
		if match == nil {
			return domain.RunReport{}, fmt.Errorf("unknown version %q", opts.Only)
		}
		selected = []VersionSpec{*match}
	}

	runID := uuid.NewString()
	started := o.now().UTC()

	prior, hasPrior, err := artifacts.ReadMetadata(o.writer.Root())
	if err != nil {
		o.logger.Warn("prior metadata unreadable, recomputing everything", "error", err)
		prior, hasPrior = artifacts.Metadata{}, false
	}

	labels := make([]string, 0, len(selected))
	for _, spec := range selected {
		labels = append(labels, spec.Label)
	}
	o.auditLog.Append(domain.EventRunStart, "", "", domain.Metadata{"run_id": runID, "versions": labels})
	o.logger.Info("run started", "run_id", runID, "versions", labels)

	reports := make(map[string]*domain.VersionReport, len(selected))
	var reportsMu sync.Mutex

	for _, wave := range partitionWaves(selected) {
		group := &errgroup.Group{}
		workers := opts.Workers
		if workers < 1 {
			workers = 1
		}
		group.SetLimit(workers)
		for _, spec := range wave {
			spec := spec
			group.Go(func() error {
				report := o.runVersion(ctx, opts, prior, hasPrior, spec)
				reportsMu.Lock()
				reports[spec.Label] = &report
				reportsMu.Unlock()
				return nil
			})
		}
		_ = group.Wait()
	}

	report := domain.RunReport{
		RunID:     runID,
		StartedAt: started,
	}
	for _, spec := range selected {
		report.Versions = append(report.Versions, *reports[spec.Label])
	}

	degraded, degradedErrs := o.auditLog.Degraded()
	o.auditLog.Append(domain.EventRunComplete, "", "", domain.Metadata{
		"exit_code":      report.ExitCode(),
		"audit_degraded": degraded,
	})
	report.Duration = o.now().UTC().Sub(started)
	degraded, degradedErrs = o.auditLog.Degraded()
	report.AuditDegraded = degraded
	report.AuditErrors = degradedErrs

	if err := o.writeMetadata(runID, prior, report); err != nil {
		o.logger.Error("metadata document not committed", "error", err)
		report.AuditDegraded = true
		report.AuditErrors = append(report.AuditErrors, err.Error())
	}

	o.logger.Info("run complete", "run_id", runID, "exit_code", report.ExitCode())
	return report, nil
}

// partitionWaves groups versions into dependency levels; versions within a
// wave have no dependency relationship and may run in parallel.
func partitionWaves(selected []VersionSpec) [][]VersionSpec {
	level := make(map[string]int, len(selected))
	var waves [][]VersionSpec
	for _, spec := range selected {
		depth := 0
		for _, dep := range spec.DependsOn {
			if at, isVersion := level[dep]; isVersion && at+1 > depth {
				depth = at + 1
			}
		}
		level[spec.Label] = depth
		for len(waves) <= depth {
			waves = append(waves, nil)
		}
		waves[depth] = append(waves[depth], spec)
	}
	return waves
}

func (o *Orchestrator) runVersion(ctx context.Context, opts Options, prior artifacts.Metadata, hasPrior bool, spec VersionSpec) domain.VersionReport {
	report := domain.VersionReport{Version: spec.Label, Status: domain.VersionPending}
	vstart := o.now()
	defer func() { report.Duration = o.now().Sub(vstart) }()

	emit := func(kind domain.EventKind, step string, payload domain.Metadata) {
		event := o.auditLog.Append(kind, spec.Label, step, payload)
		if report.AuditFirstSeq == 0 {
			report.AuditFirstSeq = event.Seq
		}
		report.AuditLastSeq = event.Seq
	}
	skip := func(reason string) domain.VersionReport {
		report.Status = domain.VersionSkipped
		report.FailureMessage = reason
		emit(domain.EventVersionComplete, "", domain.Metadata{"status": string(domain.VersionSkipped), "reason": reason})
		o.setStatus(spec.Label, domain.VersionSkipped)
		return report
	}
	fail := func(failure *domain.Failure) domain.VersionReport {
		report.Status = domain.VersionFailed
		report.FailureKind = failure.Kind
		report.FailureMessage = failure.Message
		emit(domain.EventVersionComplete, "", domain.Metadata{
			"status":          string(domain.VersionFailed),
			"failure_kind":    string(failure.Kind),
			"failure_message": failure.Message,
		})
		o.setStatus(spec.Label, domain.VersionFailed)
		o.logger.Error("version failed", "version", spec.Label, "kind", failure.Kind, "error", failure.Message)
		return report
	}

	if ctx.Err() != nil {
		return skip("run cancelled")
	}

	// Upstream versions must have committed; a failed dependency is
	// reported, never silently treated as empty success.
	for _, dep := range spec.DependsOn {
		if status, known := o.status(dep); known && status != domain.VersionCommitted {
			if status == domain.VersionSkipped {
				return skip(fmt.Sprintf("upstream version %q was skipped", dep))
			}
			return fail(domain.NewFailure(domain.FailureMissingInput, "upstream version %q did not commit", dep))
		}
	}

	resolved := make(map[string]*domain.Snapshot, len(spec.DependsOn))
	nodeIDs := make(map[string]string, len(spec.DependsOn))
	fingerprints := make(map[string]string, len(spec.DependsOn))
	for _, dep := range spec.DependsOn {
		snap, nodeID, err := o.resolveArtifact(ctx, dep)
		if err != nil {
			return fail(domain.FailureFrom(err))
		}
		resolved[dep] = snap
		nodeIDs[dep] = nodeID
		// A version dependency is identified by its committed artifact
		// bytes, which are stable across runs; an external dataset by its
		// snapshot content fingerprint.
		if sha := o.committedSHA(dep); sha != "" {
			fingerprints[dep] = sha
		} else {
			fingerprints[dep] = snap.Fingerprint()
		}
	}

	fingerprint := VersionFingerprint(spec, fingerprints)
	report.Fingerprint = fingerprint

	if !opts.Force && hasPrior {
		if done := o.tryReuse(prior, spec, fingerprint, &report, emit); done {
			return report
		}
	}

	report.Status = domain.VersionRunning
	working := resolved[spec.Base]
	currentNode := nodeIDs[spec.Base]
	var features []string

	for _, step := range spec.Steps {
		if ctx.Err() != nil {
			return skip("run cancelled")
		}

		inputs := map[string]*domain.Snapshot{steps.BaseInput: working}
		lineageInputs := []string{currentNode}
		for _, name := range step.Inputs {
			if name == steps.BaseInput {
				continue
			}
			if snap, ok := resolved[name]; ok {
				inputs[name] = snap
				lineageInputs = append(lineageInputs, nodeIDs[name])
			}
		}

		emit(domain.EventStepStart, step.Name, domain.Metadata{"inputs": step.Inputs})

		stepFail := func(failure *domain.Failure) domain.VersionReport {
			emit(domain.EventStepFailure, step.Name, domain.Metadata{
				"failure_kind":    string(failure.Kind),
				"failure_message": failure.Message,
			})
			return fail(failure)
		}

		if err := steps.RequireInputs(step, inputs); err != nil {
			return stepFail(domain.FailureFrom(err))
		}
		out, err := o.applyStep(ctx, opts.StepTimeout, step, inputs)
		if err != nil {
			return stepFail(domain.FailureFrom(err))
		}

		produced := make([]string, 0, len(out.Columns))
		for _, column := range out.Columns {
			if !declaredOutput(step, column.Spec.Name) {
				return stepFail(domain.NewFailure(domain.FailureSchemaMismatch,
					"step %q produced undeclared column %q", step.Name, column.Spec.Name))
			}
			produced = append(produced, column.Spec.Name)
		}

		next, err := working.WithColumns(out.Columns...)
		if err != nil {
			return stepFail(domain.FailureFrom(err))
		}

		node, err := o.tracker.RecordStep(lineage.StepRecord{
			Version:     spec.Label,
			Step:        step.Name,
			Inputs:      lineageInputs,
			Columns:     produced,
			Fingerprint: next.Fingerprint(),
			RowCount:    next.RowCount(),
			NullCounts:  next.NullCounts(),
		})
		if err != nil {
			return stepFail(domain.NewFailure(domain.FailureComputation, "record lineage: %v", err))
		}

		working = next
		currentNode = node.ID
		features = append(features, produced...)
		emit(domain.EventStepSuccess, step.Name, domain.Metadata{"columns": produced, "stats": out.Stats})
	}

	committed, err := o.writer.Commit(ctx, spec.Label, working, spec.DeclaredOutputs())
	if err != nil {
		return fail(domain.FailureFrom(err))
	}

	report.Status = domain.VersionCommitted
	report.Features = features
	report.ArtifactPath = committed.Path
	emit(domain.EventVersionComplete, "", domain.Metadata{
		"status":      string(domain.VersionCommitted),
		"artifact":    committed.Path,
		"fingerprint": fingerprint,
		"features":    features,
	})
	o.register(spec.Label, working, currentNode, committed)
	o.logger.Info("version committed", "version", spec.Label, "features", len(features), "artifact", committed.Path)
	return report
}

// tryReuse short-circuits a version whose fingerprint matches a previously
// committed run: the existing artifact and lineage are reused and a
// distinct run_reused event is emitted instead of version_complete.
func (o *Orchestrator) tryReuse(prior artifacts.Metadata, spec VersionSpec, fingerprint string, report *domain.VersionReport, emit func(domain.EventKind, string, domain.Metadata)) bool {
	previous, ok := prior.FindVersion(spec.Label)
	if !ok || previous.Status != domain.VersionCommitted || previous.Fingerprint != fingerprint {
		return false
	}
	snap, err := o.writer.Read(spec.Label)
	if err != nil {
		o.logger.Warn("prior artifact unreadable, recomputing", "version", spec.Label, "error", err)
		return false
	}

	leaf := o.replayLineage(prior, spec.Label)
	if leaf == "" {
		// Prior lineage is unavailable; the reused artifact still needs a
		// node so downstream versions can reference it.
		node, err := o.tracker.RecordSource(lineage.SourceRecord{
			Artifact:    spec.Label,
			Fingerprint: snap.Fingerprint(),
			RowCount:    snap.RowCount(),
			NullCounts:  snap.NullCounts(),
		})
		if err != nil {
			o.logger.Warn("prior lineage unavailable, recomputing", "version", spec.Label, "error", err)
			return false
		}
		leaf = node.ID
	}
	committed := artifacts.Committed{Path: o.writer.ArtifactPath(spec.Label)}
	if previous.Artifact != nil {
		committed = *previous.Artifact
	}

	report.Status = domain.VersionCommitted
	report.Reused = true
	report.Features = previous.Features
	report.ArtifactPath = committed.Path
	emit(domain.EventRunReused, "", domain.Metadata{
		"artifact":    committed.Path,
		"fingerprint": fingerprint,
		"features":    previous.Features,
	})
	o.register(spec.Label, snap, leaf, committed)
	o.logger.Info("version reused", "version", spec.Label, "fingerprint", fingerprint)
	return true
}

// replayLineage re-records a reused version's provenance chain from the
// prior metadata document. Node ids are deterministic, so nodes shared
// with this run deduplicate instead of duplicating.
func (o *Orchestrator) replayLineage(prior artifacts.Metadata, label string) string {
	byID := make(map[string]domain.LineageNode, len(prior.Lineage))
	for _, node := range prior.Lineage {
		byID[node.ID] = node
	}

	var replay func(id string) bool
	replayed := make(map[string]struct{})
	replay = func(id string) bool {
		if _, done := replayed[id]; done {
			return true
		}
		node, ok := byID[id]
		if !ok {
			_, ok := o.tracker.Node(id)
			return ok
		}
		for _, in := range node.Inputs {
			if !replay(in) {
				return false
			}
		}
		var err error
		if node.Kind == domain.LineageSource {
			_, err = o.tracker.RecordSource(lineage.SourceRecord{
				Artifact:    node.Artifact,
				Fingerprint: node.Fingerprint,
				RowCount:    node.RowCount,
				NullCounts:  node.NullCounts,
			})
		} else {
			_, err = o.tracker.RecordStep(lineage.StepRecord{
				Version:     node.Version,
				Step:        node.Step,
				Inputs:      node.Inputs,
				Columns:     node.Columns,
				Fingerprint: node.Fingerprint,
				RowCount:    node.RowCount,
				NullCounts:  node.NullCounts,
			})
		}
		if err != nil {
			o.logger.Warn("lineage replay incomplete", "version", label, "error", err)
			return false
		}
		replayed[id] = struct{}{}
		return true
	}

	leaf := ""
	for _, node := range prior.Lineage {
		if node.Version != label {
			continue
		}
		if replay(node.ID) {
			leaf = node.ID
		}
	}
	return leaf
}

// applyStep runs the pure step function, bounding it by the configured
// timeout. Run cancellation does not preempt an in-flight step; it is
// honored at the next step boundary.
func (o *Orchestrator) applyStep(ctx context.Context, timeout time.Duration, step steps.Step, inputs map[string]*domain.Snapshot) (steps.Output, error) {
	type result struct {
		out steps.Output
		err error
	}
	if timeout <= 0 {
		return step.Apply(ctx, inputs, step.Params)
	}

	done := make(chan result, 1)
	go func() {
		out, err := step.Apply(ctx, inputs, step.Params)
		done <- result{out: out, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.out, r.err
	case <-timer.C:
		return steps.Output{}, domain.NewFailure(domain.FailureComputation, "step %q timed out after %s", step.Name, timeout)
	}
}

// resolveArtifact loads a dependency: a snapshot committed earlier in this
// run, a prior run's committed version artifact, or an external dataset.
func (o *Orchestrator) resolveArtifact(ctx context.Context, label string) (*domain.Snapshot, string, error) {
	o.mu.Lock()
	if snap, ok := o.snapshots[label]; ok {
		nodeID := o.leafNodes[label]
		o.mu.Unlock()
		return snap, nodeID, nil
	}
	o.mu.Unlock()

	if o.isVersionLabel(label) {
		snap, err := o.writer.Read(label)
		if err != nil {
			return nil, "", err
		}
		sha, err := artifacts.FileSHA256(o.writer.ArtifactPath(label))
		if err != nil {
			return nil, "", err
		}
		node, err := o.tracker.RecordSource(lineage.SourceRecord{
			Artifact:    label,
			Fingerprint: snap.Fingerprint(),
			RowCount:    snap.RowCount(),
			NullCounts:  snap.NullCounts(),
		})
		if err != nil {
			return nil, "", err
		}
		o.remember(label, snap, node.ID)
		o.mu.Lock()
		o.artifactSHA[label] = sha
		o.mu.Unlock()
		return snap, node.ID, nil
	}

	snap, err := o.provider.Load(ctx, label)
	if err != nil {
		return nil, "", err
	}
	node, err := o.tracker.RecordSource(lineage.SourceRecord{
		Artifact:    label,
		Fingerprint: snap.Fingerprint(),
		RowCount:    snap.RowCount(),
		NullCounts:  snap.NullCounts(),
	})
	if err != nil {
		return nil, "", err
	}
	o.remember(label, snap, node.ID)
	return snap, node.ID, nil
}

func (o *Orchestrator) isVersionLabel(label string) bool {
	for _, spec := range o.versions {
		if spec.Label == label {
			return true
		}
	}
	return false
}

func (o *Orchestrator) remember(label string, snap *domain.Snapshot, nodeID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.snapshots[label] = snap
	o.leafNodes[label] = nodeID
}

func (o *Orchestrator) register(label string, snap *domain.Snapshot, nodeID string, committed artifacts.Committed) {
	if committed.SHA256 == "" {
		if sha, err := artifacts.FileSHA256(o.writer.ArtifactPath(label)); err == nil {
			committed.SHA256 = sha
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.snapshots[label] = snap
	o.leafNodes[label] = nodeID
	o.transitionLocked(label, domain.VersionCommitted)
	o.committed[label] = committed
	o.artifactSHA[label] = committed.SHA256
}

func (o *Orchestrator) committedSHA(label string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.artifactSHA[label]
}

func (o *Orchestrator) setStatus(label string, status domain.VersionStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitionLocked(label, status)
}

// transitionLocked moves a version through its forward-only state machine.
// Terminal states never change; an attempt to leave one is a bug and is
// dropped with a log entry rather than corrupting the recorded outcome.
func (o *Orchestrator) transitionLocked(label string, next domain.VersionStatus) {
	current, ok := o.statuses[label]
	if !ok {
		current = domain.VersionPending
	}
	if !domain.CanTransitionVersion(current, next) {
		o.logger.Error("version transition rejected", "version", label, "from", current, "to", next)
		return
	}
	o.statuses[label] = next
}

func (o *Orchestrator) status(label string) (domain.VersionStatus, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	status, ok := o.statuses[label]
	return status, ok
}

func (o *Orchestrator) writeMetadata(runID string, prior artifacts.Metadata, report domain.RunReport) error {
	doc := artifacts.Metadata{
		RunID:       runID,
		GeneratedAt: o.now().UTC(),
		Audit:       o.auditLog.Events(),
		Lineage:     o.tracker.Nodes(),
	}

	executed := make(map[string]struct{}, len(report.Versions))
	for _, v := range report.Versions {
		executed[v.Version] = struct{}{}
	}
	// Versions outside this run's selection keep their prior record.
	for _, v := range prior.Versions {
		if _, ran := executed[v.Version]; !ran {
			doc.Versions = append(doc.Versions, v)
		}
	}
	for _, v := range report.Versions {
		meta := artifacts.VersionMetadata{
			Version:     v.Version,
			Status:      v.Status,
			Fingerprint: v.Fingerprint,
			Features:    v.Features,
		}
		o.mu.Lock()
		if committed, ok := o.committed[v.Version]; ok {
			meta.Artifact = &committed
		}
		o.mu.Unlock()
		doc.Versions = append(doc.Versions, meta)
	}
	return artifacts.WriteMetadata(o.writer.Root(), doc)
}

func declaredOutput(step steps.Step, column string) bool {
	for _, out := range step.Outputs {
		if out == column {
			return true
		}
	}
	return false
}
