package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/terrafield-labs/featureline/internal/domain"
)

const mirrorWriteTimeout = 750 * time.Millisecond

// PostgresMirror duplicates every audit event into an audit_events table.
// It is an optional durability sink; insert failures surface as degraded
// audit mode through the Log, never as run failures.
type PostgresMirror struct {
	db *sql.DB
}

func OpenPostgresMirror(ctx context.Context, dsn string) (*PostgresMirror, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("audit mirror dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit mirror: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping audit mirror: %w", err)
	}
	return &PostgresMirror{db: db}, nil
}

func (m *PostgresMirror) Write(event domain.AuditEvent) error {
	payload := event.Payload
	if payload == nil {
		payload = domain.Metadata{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var version sql.NullString
	if strings.TrimSpace(event.Version) != "" {
		version = sql.NullString{String: event.Version, Valid: true}
	}
	var step sql.NullString
	if strings.TrimSpace(event.Step) != "" {
		step = sql.NullString{String: event.Step, Valid: true}
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
	defer cancel()
	_, err = m.db.ExecContext(
		ctx,
		`INSERT INTO audit_events (
			seq,
			kind,
			version,
			step,
			occurred_at,
			payload,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (seq, occurred_at) DO NOTHING`,
		event.Seq,
		string(event.Kind),
		version,
		step,
		event.OccurredAt.UTC(),
		payloadJSON,
		event.IntegritySHA256,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (m *PostgresMirror) Close() error {
	return m.db.Close()
}
