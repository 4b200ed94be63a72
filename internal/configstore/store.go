// Package configstore is the Config Store Adapter (spec §4.2): a uniform
// interface over file-backed or relational backends for connector,
// destination and flow specs, with optimistic concurrency via updated_at
// tokens and server-assigned write timestamps.
package configstore

import (
	"context"
	"time"

	"github.com/warpstreamlabs/cdcengine/internal/event"
)

// Store is implemented by both the file-backed and relational adapters.
// expectedUpdatedAt is the zero time for a create (the spec absent any
// prior record); Put fails with errs.CodeConflict if the current
// updated_at does not match.
type Store interface {
	ListConnectors(ctx context.Context) ([]event.ConnectorSpec, error)
	GetConnector(ctx context.Context, name string) (event.ConnectorSpec, error)
	PutConnector(ctx context.Context, spec event.ConnectorSpec, expectedUpdatedAt time.Time) (event.ConnectorSpec, error)
	DeleteConnector(ctx context.Context, name string) error

	ListDestinations(ctx context.Context) ([]event.DestinationSpec, error)
	GetDestination(ctx context.Context, name string) (event.DestinationSpec, error)
	PutDestination(ctx context.Context, spec event.DestinationSpec, expectedUpdatedAt time.Time) (event.DestinationSpec, error)
	DeleteDestination(ctx context.Context, name string) error

	ListFlows(ctx context.Context) ([]event.FlowSpec, error)
	GetFlow(ctx context.Context, name string) (event.FlowSpec, error)
	PutFlow(ctx context.Context, spec event.FlowSpec, expectedUpdatedAt time.Time) (event.FlowSpec, error)
	DeleteFlow(ctx context.Context, name string) error
}
