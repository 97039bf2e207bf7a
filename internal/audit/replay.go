package audit

import (
	"github.com/terrafield-labs/featureline/internal/domain"
)

// Replay reconstructs a RunReport from scratch out of an ordered event
// stream. Only the audit log is consulted; artifacts are not touched.
func Replay(events []domain.AuditEvent) domain.RunReport {
	report := domain.RunReport{}
	order := make([]string, 0, 4)
	versions := make(map[string]*domain.VersionReport)

	ensure := func(label string) *domain.VersionReport {
		if v, ok := versions[label]; ok {
			return v
		}
		v := &domain.VersionReport{Version: label, Status: domain.VersionPending}
		versions[label] = v
		order = append(order, label)
		return v
	}

	for _, event := range events {
		switch event.Kind {
		case domain.EventRunStart:
			if id, ok := event.Payload["run_id"].(string); ok {
				report.RunID = id
			}
			report.StartedAt = event.OccurredAt

		case domain.EventStepStart:
			v := ensure(event.Version)
			v.Status = domain.VersionRunning
			if v.AuditFirstSeq == 0 {
				v.AuditFirstSeq = event.Seq
			}
			v.AuditLastSeq = event.Seq

		case domain.EventStepSuccess:
			v := ensure(event.Version)
			v.AuditLastSeq = event.Seq
			v.Features = append(v.Features, payloadStrings(event.Payload, "columns")...)

		case domain.EventStepFailure:
			v := ensure(event.Version)
			v.Status = domain.VersionFailed
			v.AuditLastSeq = event.Seq
			if kind, ok := event.Payload["failure_kind"].(string); ok {
				v.FailureKind = domain.FailureKind(kind)
			}
			if msg, ok := event.Payload["failure_message"].(string); ok {
				v.FailureMessage = msg
			}

		case domain.EventVersionComplete:
			v := ensure(event.Version)
			if v.AuditFirstSeq == 0 {
				v.AuditFirstSeq = event.Seq
			}
			v.AuditLastSeq = event.Seq
			if status, ok := event.Payload["status"].(string); ok {
				v.Status = domain.NormalizeVersionStatus(status)
			}
			if path, ok := event.Payload["artifact"].(string); ok {
				v.ArtifactPath = path
			}
			if fp, ok := event.Payload["fingerprint"].(string); ok {
				v.Fingerprint = fp
			}

		case domain.EventRunReused:
			v := ensure(event.Version)
			if v.AuditFirstSeq == 0 {
				v.AuditFirstSeq = event.Seq
			}
			v.AuditLastSeq = event.Seq
			v.Status = domain.VersionCommitted
			v.Reused = true
			v.Features = payloadStrings(event.Payload, "features")
			if path, ok := event.Payload["artifact"].(string); ok {
				v.ArtifactPath = path
			}
			if fp, ok := event.Payload["fingerprint"].(string); ok {
				v.Fingerprint = fp
			}

		case domain.EventRunComplete:
			if !report.StartedAt.IsZero() {
				report.Duration = event.OccurredAt.Sub(report.StartedAt)
			}
			if degraded, ok := event.Payload["audit_degraded"].(bool); ok {
				report.AuditDegraded = degraded
			}
		}
	}

	for _, label := range order {
		report.Versions = append(report.Versions, *versions[label])
	}
	if report.StartedAt.IsZero() && len(events) > 0 {
		report.StartedAt = events[0].OccurredAt.UTC()
	}
	return report
}

func payloadStrings(payload domain.Metadata, key string) []string {
	switch v := payload[key].(type) {
	case []string:
		return append([]string(nil), v...)
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
