// Package orchestrator implements the Flow Orchestrator (spec §4.4): the
// process-wide table of flow supervisors and the serialized lifecycle
// operations (create/start/stop/pause/resume/restart/delete/list/get) that
// drive it. Generalizes the teacher's stream manager pattern
// (internal/bundle/environment.go's single global plus internal/old/manager
// style start/stop bookkeeping) to a named table of independently
// supervised flows, each resolved against the Plugin Registry and backed by
// the Config Store Adapter.
package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warpstreamlabs/cdcengine/internal/configstore"
	"github.com/warpstreamlabs/cdcengine/internal/connector"
	"github.com/warpstreamlabs/cdcengine/internal/destination"
	"github.com/warpstreamlabs/cdcengine/internal/errs"
	"github.com/warpstreamlabs/cdcengine/internal/event"
	"github.com/warpstreamlabs/cdcengine/internal/flow"
	"github.com/warpstreamlabs/cdcengine/internal/registry"
)

// DefaultDeleteDrainTimeout bounds how long Delete waits for a running
// flow's Stop to complete before giving up on a graceful drain (spec §4.4).
const DefaultDeleteDrainTimeout = 10 * time.Second

// entry is the orchestrator's bookkeeping for one named flow: its
// supervisor plus a private mutex serializing lifecycle calls against it,
// per spec §4.4 ("operations against a single flow are serialized"). A
// burst of concurrent calls against the same flow queues up behind this
// mutex rather than being rejected; spec §8 requires that N concurrent
// `start` calls against the same flow all succeed, not that only the first
// few do.
type entry struct {
	mu  sync.Mutex
	sup *flow.Supervisor
}

func newEntry(sup *flow.Supervisor) *entry {
	return &entry{sup: sup}
}

// Orchestrator owns the live flow table and resolves flow/connector/
// destination specs against the registry and config store to build and
// rebuild supervisors.
type Orchestrator struct {
	reg   *registry.Registry
	store configstore.Store
	log   zerolog.Logger

	tableMu sync.RWMutex
	table   map[string]*entry

	onFailure func(flow.FailureRecord)
}

// New constructs an Orchestrator bound to reg and store. onFailure, if
// non-nil, is invoked whenever any flow's fan-out writer exhausts retries
// against a destination; it is wired into every supervisor this
// Orchestrator creates.
func New(reg *registry.Registry, store configstore.Store, log zerolog.Logger, onFailure func(flow.FailureRecord)) *Orchestrator {
	return &Orchestrator{
		reg:       reg,
		store:     store,
		log:       log,
		table:     make(map[string]*entry),
		onFailure: onFailure,
	}
}

// Bootstrap loads every persisted flow spec from the config store, builds
// an Inactive supervisor for each, and starts those with AutoStart set.
// Intended to run once at process startup. A flow whose connector or
// destinations no longer resolve against the registry is logged and
// skipped (it is not added to the flow table) rather than aborting the
// whole bootstrap.
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	specs, err := o.store.ListFlows(ctx)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		e, buildErr := o.buildEntry(ctx, spec)
		if buildErr != nil {
			o.log.Error().Err(buildErr).Str("flow", spec.Name).Msg("failed to resolve flow at bootstrap")
			continue
		}
		o.tableMu.Lock()
		o.table[spec.Name] = e
		o.tableMu.Unlock()
		if spec.AutoStart {
			e.mu.Lock()
			if startErr := e.sup.Start(ctx); startErr != nil {
				o.log.Error().Err(startErr).Str("flow", spec.Name).Msg("auto_start failed")
			}
			e.mu.Unlock()
		}
	}
	return nil
}

// resolve builds a live Connector and ordered Destinations for a flow spec
// by looking up its referenced connector/destination specs in the config
// store and their kinds in the registry. Returns errs.NotFound if any
// referenced spec or kind is missing.
func (o *Orchestrator) resolve(ctx context.Context, spec event.FlowSpec) (connector.Connector, []destination.Destination, error) {
	connSpec, err := o.store.GetConnector(ctx, spec.ConnectorName)
	if err != nil {
		return nil, nil, err
	}
	connFactory, err := o.reg.Connector(connSpec.Kind)
	if err != nil {
		return nil, nil, err
	}
	conn, err := connFactory.Create(connSpec.Config, o.log.With().Str("connector", connSpec.Name).Logger())
	if err != nil {
		return nil, nil, errs.Wrap(errs.CodeState, err, "failed to create connector %q", connSpec.Name)
	}

	dests := make([]destination.Destination, 0, len(spec.DestinationNames))
	for _, name := range spec.DestinationNames {
		destSpec, err := o.store.GetDestination(ctx, name)
		if err != nil {
			return nil, nil, err
		}
		destFactory, err := o.reg.Destination(destSpec.Kind)
		if err != nil {
			return nil, nil, err
		}
		d, err := destFactory.Create(destSpec.Config, o.log.With().Str("destination", destSpec.Name).Logger())
		if err != nil {
			return nil, nil, errs.Wrap(errs.CodeState, err, "failed to create destination %q", destSpec.Name)
		}
		dests = append(dests, d)
	}
	return conn, dests, nil
}

func (o *Orchestrator) buildEntry(ctx context.Context, spec event.FlowSpec) (*entry, error) {
	conn, dests, err := o.resolve(ctx, spec)
	if err != nil {
		return nil, err
	}
	sup := flow.New(spec.Name, spec, conn, spec.DestinationNames, dests, o.log.With().Str("flow", spec.Name).Logger(), o.onFailure)
	return newEntry(sup), nil
}

func (o *Orchestrator) get(name string) (*entry, bool) {
	o.tableMu.RLock()
	defer o.tableMu.RUnlock()
	e, ok := o.table[name]
	return e, ok
}

// Create persists a new flow spec and adds it to the table as Inactive,
// starting it immediately if AutoStart is set. Fails with errs.CodeConflict
// if a flow with the same name already exists.
func (o *Orchestrator) Create(ctx context.Context, spec event.FlowSpec) (event.FlowStatus, error) {
	spec.Normalize()
	if err := spec.Validate(); err != nil {
		return event.FlowStatus{}, err
	}
	if _, ok := o.get(spec.Name); ok {
		return event.FlowStatus{}, errs.Conflict("flow %q already exists", spec.Name)
	}

	saved, err := o.store.PutFlow(ctx, spec, time.Time{})
	if err != nil {
		return event.FlowStatus{}, err
	}

	e, err := o.buildEntry(ctx, saved)
	if err != nil {
		return event.FlowStatus{}, err
	}

	o.tableMu.Lock()
	if _, exists := o.table[saved.Name]; exists {
		o.tableMu.Unlock()
		return event.FlowStatus{}, errs.Conflict("flow %q already exists", saved.Name)
	}
	o.table[saved.Name] = e
	o.tableMu.Unlock()

	if saved.AutoStart {
		e.mu.Lock()
		startErr := e.sup.Start(ctx)
		e.mu.Unlock()
		if startErr != nil {
			return e.sup.Status(), startErr
		}
	}
	return e.sup.Status(), nil
}

// Start transitions a flow to Running with the connector and destinations
// its in-table supervisor was built with; nothing is re-resolved from the
// registry or config store (idempotent: already-Running is a no-op per
// spec §8).
func (o *Orchestrator) Start(ctx context.Context, name string) (event.FlowStatus, error) {
	e, ok := o.get(name)
	if !ok {
		return event.FlowStatus{}, errs.NotFound("flow %q not found", name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.sup.Start(ctx); err != nil {
		return e.sup.Status(), err
	}
	return e.sup.Status(), nil
}

// Stop transitions a flow to Inactive, draining its in-flight batches
// (idempotent on an already-Inactive flow per spec §8).
func (o *Orchestrator) Stop(ctx context.Context, name string) (event.FlowStatus, error) {
	e, ok := o.get(name)
	if !ok {
		return event.FlowStatus{}, errs.NotFound("flow %q not found", name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.sup.Stop(ctx); err != nil {
		return e.sup.Status(), err
	}
	return e.sup.Status(), nil
}

// Pause holds a Running flow's source task without tearing down its pipeline.
func (o *Orchestrator) Pause(ctx context.Context, name string) (event.FlowStatus, error) {
	e, ok := o.get(name)
	if !ok {
		return event.FlowStatus{}, errs.NotFound("flow %q not found", name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.sup.Pause(ctx); err != nil {
		return e.sup.Status(), err
	}
	return e.sup.Status(), nil
}

// Resume unblocks a Paused flow's source task.
func (o *Orchestrator) Resume(ctx context.Context, name string) (event.FlowStatus, error) {
	e, ok := o.get(name)
	if !ok {
		return event.FlowStatus{}, errs.NotFound("flow %q not found", name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.sup.Resume(ctx); err != nil {
		return e.sup.Status(), err
	}
	return e.sup.Status(), nil
}

// Restart stops the flow, re-resolves its spec and connector/destination
// instances from scratch, and starts a fresh supervisor in its place —
// clearing metrics, per spec §4.4 ("restart discards accumulated metrics;
// it is not merely stop-then-start of the same supervisor instance").
func (o *Orchestrator) Restart(ctx context.Context, name string) (event.FlowStatus, error) {
	e, ok := o.get(name)
	if !ok {
		return event.FlowStatus{}, errs.NotFound("flow %q not found", name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.sup.Stop(ctx); err != nil {
		return e.sup.Status(), err
	}

	spec, err := o.store.GetFlow(ctx, name)
	if err != nil {
		return event.FlowStatus{}, err
	}
	spec.Normalize()

	conn, dests, err := o.resolve(ctx, spec)
	if err != nil {
		return event.FlowStatus{}, err
	}
	fresh := flow.New(spec.Name, spec, conn, spec.DestinationNames, dests, o.log.With().Str("flow", spec.Name).Logger(), o.onFailure)
	e.sup = fresh

	if err := e.sup.Start(ctx); err != nil {
		return e.sup.Status(), err
	}
	return e.sup.Status(), nil
}

// Delete stops a running flow (bounded by DefaultDeleteDrainTimeout),
// removes its persisted spec, and drops it from the table.
func (o *Orchestrator) Delete(ctx context.Context, name string) error {
	e, ok := o.get(name)
	if !ok {
		return errs.NotFound("flow %q not found", name)
	}

	stopCtx, cancel := context.WithTimeout(ctx, DefaultDeleteDrainTimeout)
	defer cancel()

	e.mu.Lock()
	_ = e.sup.Stop(stopCtx)
	e.mu.Unlock()

	if err := o.store.DeleteFlow(ctx, name); err != nil {
		return err
	}

	o.tableMu.Lock()
	delete(o.table, name)
	o.tableMu.Unlock()
	return nil
}

// Get returns a single flow's lifecycle status.
func (o *Orchestrator) Get(name string) (event.FlowStatus, error) {
	e, ok := o.get(name)
	if !ok {
		return event.FlowStatus{}, errs.NotFound("flow %q not found", name)
	}
	return e.sup.Status(), nil
}

// Metrics returns a single flow's counters.
func (o *Orchestrator) Metrics(name string) (event.FlowMetrics, error) {
	e, ok := o.get(name)
	if !ok {
		return event.FlowMetrics{}, errs.NotFound("flow %q not found", name)
	}
	return e.sup.Metrics(), nil
}

// List returns the lifecycle status of every flow in the table, ordered by
// name.
func (o *Orchestrator) List() []event.FlowStatus {
	o.tableMu.RLock()
	names := make([]string, 0, len(o.table))
	entries := make(map[string]*entry, len(o.table))
	for n, e := range o.table {
		names = append(names, n)
		entries[n] = e
	}
	o.tableMu.RUnlock()

	sort.Strings(names)
	out := make([]event.FlowStatus, 0, len(names))
	for _, n := range names {
		out = append(out, entries[n].sup.Status())
	}
	return out
}
