// Package audit provides the append-only, time-ordered event stream for
// pipeline runs. Sequence numbers are assigned at write time and are
// strictly increasing within a process.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/terrafield-labs/featureline/internal/domain"
)

// Sink receives every appended event. Sink failures degrade audit
// durability but never block in-memory computation.
type Sink interface {
	Write(event domain.AuditEvent) error
}

// Log is the in-memory append-only audit log. Appends are serialized under
// a mutex, which is the only coordination shared state needs here.
type Log struct {
	mu       sync.Mutex
	now      func() time.Time
	seq      int64
	events   []domain.AuditEvent
	sinks    []Sink
	degraded bool
	sinkErrs []string
}

func NewLog(now func() time.Time, sinks ...Sink) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{now: now, sinks: sinks}
}

// Append records an event, assigns its sequence number and forwards it to
// every sink. A sink failure flips the log into degraded mode and is
// surfaced via Degraded, not returned: loss of audit durability is a
// degraded-mode condition, not a fatal one.
func (l *Log) Append(kind domain.EventKind, version, step string, payload domain.Metadata) domain.AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	event := domain.AuditEvent{
		Seq:        l.seq,
		Kind:       kind,
		Version:    version,
		Step:       step,
		OccurredAt: l.now().UTC(),
		Payload:    payload.Clone(),
	}
	integrity, err := domain.ComputeEventIntegrity(event)
	if err != nil {
		l.markDegraded(fmt.Errorf("event integrity: %w", err))
	} else {
		event.IntegritySHA256 = integrity
	}
	if err := event.Validate(); err != nil {
		l.markDegraded(fmt.Errorf("invalid audit event: %w", err))
	}

	l.events = append(l.events, event)
	for _, sink := range l.sinks {
		if err := sink.Write(event); err != nil {
			l.markDegraded(domain.NewFailure(domain.FailureAuditWrite, "audit sink: %v", err))
		}
	}
	return event
}

func (l *Log) markDegraded(err error) {
	l.degraded = true
	l.sinkErrs = append(l.sinkErrs, err.Error())
}

// Degraded reports whether any sink write failed, and the collected errors.
func (l *Log) Degraded() (bool, []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.degraded, append([]string(nil), l.sinkErrs...)
}

// Events returns a copy of the full event stream in sequence order.
func (l *Log) Events() []domain.AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.AuditEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Tail returns events with a sequence number strictly greater than since.
func (l *Log) Tail(since int64) []domain.AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.AuditEvent
	for _, e := range l.events {
		if e.Seq > since {
			out = append(out, e)
		}
	}
	return out
}

// LastSeq returns the most recently assigned sequence number.
func (l *Log) LastSeq() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// NDJSONSink writes audit events as newline-delimited JSON.
type NDJSONSink struct {
	enc *json.Encoder
}

func NewNDJSONSink(w io.Writer) *NDJSONSink {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	return &NDJSONSink{enc: enc}
}

func (s *NDJSONSink) Write(event domain.AuditEvent) error {
	return s.enc.Encode(event)
}

// FileSink appends NDJSON events to a file, creating it when absent.
type FileSink struct {
	file *os.File
	sink *NDJSONSink
}

func OpenFileSink(path string) (*FileSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log file: %w", err)
	}
	return &FileSink{file: file, sink: NewNDJSONSink(file)}, nil
}

func (s *FileSink) Write(event domain.AuditEvent) error {
	return s.sink.Write(event)
}

func (s *FileSink) Close() error {
	return s.file.Close()
}

// ReadNDJSON decodes an NDJSON event stream, for full replay.
func ReadNDJSON(r io.Reader) ([]domain.AuditEvent, error) {
	dec := json.NewDecoder(r)
	var out []domain.AuditEvent
	for {
		var event domain.AuditEvent
		if err := dec.Decode(&event); err == io.EOF {
			return out, nil
		} else if err != nil {
			return nil, fmt.Errorf("decode audit event: %w", err)
		}
		out = append(out, event)
	}
}
