// Package event defines the shared value types passed between connectors,
// batchers and destinations: ChangeEvent, and the spec documents
// (ConnectorSpec, DestinationSpec, FlowSpec) that describe a pipeline.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Operation identifies the kind of row mutation a ChangeEvent describes.
type Operation string

const (
	OpInsert   Operation = "insert"
	OpUpdate   Operation = "update"
	OpDelete   Operation = "delete"
	OpSnapshot Operation = "snapshot"
)

// ChangeEvent is the unit of work flowing from a connector to a destination.
// Events are immutable once emitted by a connector; two events are
// considered equal for deduplication purposes iff their ID matches.
type ChangeEvent struct {
	ID        uuid.UUID         `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
	Table     string            `json:"table"`
	Operation Operation         `json:"operation"`
	Data      map[string]any    `json:"data"`
	Metadata  map[string]string `json:"metadata"`
}

// NewChangeEvent stamps a fresh ID and timestamp onto an event produced by a
// connector. Connectors should use this rather than constructing a
// ChangeEvent literal so that ID/Timestamp are always populated.
func NewChangeEvent(source, table string, op Operation, data map[string]any, metadata map[string]string) ChangeEvent {
	return ChangeEvent{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		Table:     table,
		Operation: op,
		Data:      data,
		Metadata:  metadata,
	}
}
