// Package connector defines the Connector capability interface (spec §4.1)
// realized by concrete broker-specific variants (nats, kafka), generalizing
// the teacher's input capability model (public/x/service/input.go,
// internal/impl/nats/input_jetstream.go).
package connector

import (
	"context"

	"github.com/warpstreamlabs/cdcengine/internal/event"
)

// Stream is a lazy, finite-or-infinite event stream produced by a started
// Connector. It is a cooperative producer: Next blocks until an event is
// available, the stream ends, or ctx is cancelled. A Stream is restartable
// only by re-creating (and re-starting) its owning Connector.
type Stream interface {
	// Next returns the next event, or an error once the stream is
	// exhausted (finite sources), or blocks indefinitely
	// for infinite sources until ctx is cancelled.
	Next(ctx context.Context) (event.ChangeEvent, error)
}

// Acker is an optional capability a Connector may additionally implement
// for at-least-once sources that require explicit acknowledgement after a
// successful downstream write. Per spec §9, ack fires per-event on success
// only, never on give-up.
type Acker interface {
	Ack(ctx context.Context, eventID string) error
}

// Connector is the capability-typed handle a connector factory produces.
type Connector interface {
	// Start begins consumption and returns a Stream. Start is called at
	// most once per Connector instance.
	Start(ctx context.Context) (Stream, error)

	// Stop is idempotent; it completes in-flight fetch/ack and releases
	// resources. Safe to call even if Start was never called.
	Stop(ctx context.Context) error

	// Test performs a non-destructive connectivity probe, failing with a
	// errs.Connect-tagged error otherwise. Bounded by a 10s timeout
	// (enforced by the caller via ctx).
	Test(ctx context.Context) error

	// Kind returns the stable registry key this instance was created under.
	Kind() string
}
