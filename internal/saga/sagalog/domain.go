// Package sagalog defines the audit trail of saga transitions.
//
// Every status change of a saga is appended as one SagaLog row. The trail is
// not read back by the orchestrator (its working state is in memory); it lets
// an operator answer "what happened to order X" long after the in-memory record
// was evicted, and jump from a row to the distributed trace via trace_id.
package sagalog

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("sagalog: saga not found")

// Status mirrors the orchestrator's saga status at the time of the entry.
type Status string

// SagaLog is a single row in the saga_logs table.
type SagaLog struct {
	SagaID  string
	OrderID string

	Status Status

	// Step names the transition that produced this row, e.g. "inventory_reserved"
	// or "compensation".
	Step string

	// Payload is the JSON-serialised start command. Only written on the first row.
	Payload string

	// ErrorMessages is a JSON array of failure details, "[]" when empty.
	ErrorMessages string

	// TraceID and SpanID identify the OTel span active when the row was written.
	TraceID string
	SpanID  string

	UpdatedAt time.Time
}

// Repository persists saga log entries. Save appends; it never upserts.
type Repository interface {
	Save(ctx context.Context, entry *SagaLog) error
}

// Reader is implemented by repositories that can answer status queries.
type Reader interface {
	GetLatest(ctx context.Context, sagaID string) (*SagaLog, error)
	History(ctx context.Context, sagaID string) ([]SagaLog, error)
}
