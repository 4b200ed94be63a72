// Package destination defines the Destination capability interface (spec
// §4.1) realized by concrete sink-specific variants (postgres,
// elasticsearch), generalizing the teacher's output writer model
// (lib/output/writer.go, internal/impl/sql/input_sql_select.go).
package destination

import (
	"context"

	"github.com/warpstreamlabs/cdcengine/internal/event"
)

// ConflictPolicy selects how a keyed-row destination resolves a write that
// conflicts with an existing row (spec §4.3).
type ConflictPolicy string

const (
	// PolicyUpsert inserts; on conflict, replaces the changed columns.
	PolicyUpsert ConflictPolicy = "upsert"
	// PolicyReplace performs a plain insert; conflict is a retryable error.
	PolicyReplace ConflictPolicy = "replace"
	// PolicyIgnore inserts; on conflict, drops the row.
	PolicyIgnore ConflictPolicy = "ignore"
)

// RecordOutcome is the per-record result of a WriteBatch call.
type RecordOutcome struct {
	EventID string
	Err     error
}

// WriteReport is the result of a single WriteBatch call. A destination may
// report per-record outcomes (partial batch failure) or signal a
// whole-batch failure via the returned error instead.
type WriteReport struct {
	Outcomes []RecordOutcome
}

// Succeeded returns the subset of event IDs that succeeded.
func (r WriteReport) Succeeded() []string {
	var ok []string
	for _, o := range r.Outcomes {
		if o.Err == nil {
			ok = append(ok, o.EventID)
		}
	}
	return ok
}

// AllOK reports whether every outcome in the report succeeded.
func (r WriteReport) AllOK() bool {
	for _, o := range r.Outcomes {
		if o.Err != nil {
			return false
		}
	}
	return true
}

// Destination is the capability-typed handle a destination factory
// produces. No overlapping WriteBatch calls are made concurrently against
// a single Destination instance; the Fan-out Writer serializes writes per
// destination while parallelizing across destinations.
type Destination interface {
	// Open acquires any pool/handle; may block until healthy (capped at a
	// 30s timeout enforced by the caller via ctx).
	Open(ctx context.Context) error

	// WriteBatch applies events in order. Implementations should preserve
	// source order for the records they succeed on.
	WriteBatch(ctx context.Context, events []event.ChangeEvent) (WriteReport, error)

	// Close is idempotent flush and release.
	Close(ctx context.Context) error

	// Test performs a non-destructive connectivity probe.
	Test(ctx context.Context) error

	// Kind returns the stable registry key this instance was created under.
	Kind() string
}
