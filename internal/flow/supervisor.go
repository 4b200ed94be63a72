// Package flow implements the Flow Supervisor (spec §4.3, §4.5): the unit
// of concurrency that drives one flow's Source Task -> Batcher -> Fan-out
// Writer pipeline and owns its lifecycle state machine. Generalizes the
// teacher's output reconnect loop (lib/output/writer.go) and
// pipeline-wrapping idiom (internal/old/output/wrap_with_pipeline.go) into
// a multi-destination, batched, retrying pipeline.
package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warpstreamlabs/cdcengine/internal/connector"
	"github.com/warpstreamlabs/cdcengine/internal/destination"
	"github.com/warpstreamlabs/cdcengine/internal/errs"
	"github.com/warpstreamlabs/cdcengine/internal/event"
)

// DefaultMaxDrainTimeout bounds how long Stop waits for in-flight batches
// to finish before abandoning them (spec §4.5, §5).
const DefaultMaxDrainTimeout = 5 * time.Second

// OpenTimeout bounds connector/destination Open/Start during a Start call
// (spec §5).
const OpenTimeout = 30 * time.Second

// Supervisor owns one flow's connector instance, batcher state, and
// destination instances, and exposes the lifecycle operations of spec §4.5.
// All exported methods are safe to call concurrently; they serialize
// internally on mu, though the Orchestrator additionally serializes
// per-flow operations with its own mutex (spec §4.4, §5).
type Supervisor struct {
	flowName  string
	spec      event.FlowSpec
	conn      connector.Connector
	dests     []namedDestination
	log       zerolog.Logger
	onFailure func(FailureRecord)

	mu         sync.Mutex
	state      event.FlowState
	failReason string
	metrics    *metrics

	// run-loop handles, valid only while state is Starting/Running/Paused/Stopping
	cancel   context.CancelFunc
	doneCh   chan struct{}
	pauseGate *gate
}

// New constructs an Inactive supervisor for a fully-resolved flow (a
// connector instance and ordered, named destination instances already
// created via the registry).
func New(flowName string, spec event.FlowSpec, conn connector.Connector, destNames []string, dests []destination.Destination, log zerolog.Logger, onFailure func(FailureRecord)) *Supervisor {
	named := make([]namedDestination, len(dests))
	for i := range dests {
		named[i] = namedDestination{name: destNames[i], dest: dests[i]}
	}
	return &Supervisor{
		flowName:  flowName,
		spec:      spec,
		conn:      conn,
		dests:     named,
		log:       log,
		onFailure: onFailure,
		state:     event.StateInactive,
		metrics:   newMetrics(flowName, destNames),
	}
}

// Status returns the current lifecycle state snapshot.
func (s *Supervisor) Status() event.FlowStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return event.FlowStatus{FlowName: s.flowName, State: s.state, Reason: s.failReason}
}

// Metrics returns a snapshot of the supervisor's counters.
func (s *Supervisor) Metrics() event.FlowMetrics {
	return s.metrics.snapshot(s.flowName)
}

// Start moves Inactive/Failed -> Starting -> Running (or Failed on open
// error). Calling Start on an already-Running flow is a no-op returning
// success (spec §8 idempotence).
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case event.StateRunning:
		s.mu.Unlock()
		return nil
	case event.StateInactive, event.StateFailed:
	default:
		st := s.state
		s.mu.Unlock()
		return errs.State("cannot start flow %q from state %s", s.flowName, st)
	}
	s.state = event.StateStarting
	s.failReason = ""
	s.mu.Unlock()

	openCtx, cancelOpen := context.WithTimeout(ctx, OpenTimeout)
	defer cancelOpen()

	stream, err := s.conn.Start(openCtx)
	if err != nil {
		s.fail(fmt.Sprintf("connector start failed: %v", err))
		return errs.Wrap(errs.CodeState, err, "flow %q failed to start connector", s.flowName)
	}
	opened := make([]namedDestination, 0, len(s.dests))
	for _, nd := range s.dests {
		if err := nd.dest.Open(openCtx); err != nil {
			for _, o := range opened {
				_ = o.dest.Close(ctx)
			}
			_ = s.conn.Stop(ctx)
			s.fail(fmt.Sprintf("destination %q open failed: %v", nd.name, err))
			return errs.Wrap(errs.CodeState, err, "flow %q failed to open destination %q", s.flowName, nd.name)
		}
		opened = append(opened, nd)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.state = event.StateRunning
	s.cancel = cancel
	s.doneCh = done
	s.pauseGate = newGate()
	s.metrics.markStarted()
	s.mu.Unlock()

	go s.run(runCtx, stream, done)
	return nil
}

func (s *Supervisor) fail(reason string) {
	s.mu.Lock()
	s.state = event.StateFailed
	s.failReason = reason
	s.mu.Unlock()
}

// run is the pipeline body: Source Task -> queue -> Batcher -> Fan-out
// Writer. It exits when ctx is cancelled (Stop) and all stages finish;
// Stop bounds its own wait for that with DefaultMaxDrainTimeout.
func (s *Supervisor) run(ctx context.Context, stream connector.Stream, done chan struct{}) {
	defer close(done)

	queueCap := 4 * s.spec.BatchSize
	if queueCap <= 0 {
		queueCap = 4
	}
	queue := make(chan event.ChangeEvent, queueCap)
	batches := make(chan []event.ChangeEvent)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.sourceTask(ctx, stream, queue)
	}()

	b := newBatcher(s.spec.BatchSize, s.spec.EffectiveMaxLinger())
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.run(queue, batches, ctx.Done())
	}()

	writer := &fanoutWriter{
		flowName:  s.flowName,
		dests:     s.dests,
		metrics:   s.metrics,
		log:       s.log,
		onFailure: s.onFailure,
		acker:     s.ackFunc(),
	}
	for batch := range batches {
		writer.writeBatch(ctx, batch)
	}
	wg.Wait()
}

func (s *Supervisor) ackFunc() func(ctx context.Context, eventID string) error {
	acker, ok := s.conn.(connector.Acker)
	if !ok {
		return nil
	}
	return acker.Ack
}

// sourceTask drains the connector stream into the bounded queue, honoring
// the pause gate (spec §4.5 pause: source task is held, buffered events
// continue to flush) and exiting on ctx cancellation.
func (s *Supervisor) sourceTask(ctx context.Context, stream connector.Stream, queue chan<- event.ChangeEvent) {
	defer close(queue)
	for {
		s.mu.Lock()
		gate := s.pauseGate
		s.mu.Unlock()
		if gate != nil {
			select {
			case <-gate.open():
			case <-ctx.Done():
				return
			}
		}

		ev, err := stream.Next(ctx)
		if err != nil {
			return
		}
		select {
		case queue <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// Pause holds the source task (stops pulling from the connector) while
// buffered events continue to flush; valid only from Running.
func (s *Supervisor) Pause(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == event.StatePaused {
		return nil
	}
	if s.state != event.StateRunning {
		return errs.State("cannot pause flow %q from state %s", s.flowName, s.state)
	}
	s.pauseGate.closeGate()
	s.state = event.StatePaused
	return nil
}

// Resume unblocks the source task; valid only from Paused.
func (s *Supervisor) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == event.StateRunning {
		return nil
	}
	if s.state != event.StatePaused {
		return errs.State("cannot resume flow %q from state %s", s.flowName, s.state)
	}
	s.pauseGate.openGate()
	s.state = event.StateRunning
	return nil
}

// Stop cancels the source task cooperatively, drains up to
// DefaultMaxDrainTimeout, then closes destinations and the connector.
// Repeated Stop on an Inactive flow is a no-op (spec §8 idempotence).
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == event.StateInactive {
		s.mu.Unlock()
		return nil
	}
	if s.state == event.StateStopping {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	done := s.doneCh
	s.state = event.StateStopping
	// Unblock a paused source task so it can observe cancellation promptly.
	if s.pauseGate != nil {
		s.pauseGate.openGate()
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	forced := false
	if done != nil {
		select {
		case <-done:
		case <-time.After(DefaultMaxDrainTimeout):
			forced = true
		}
	}

	for _, nd := range s.dests {
		_ = nd.dest.Close(ctx)
	}
	_ = s.conn.Stop(ctx)

	s.mu.Lock()
	s.state = event.StateInactive
	s.cancel = nil
	s.doneCh = nil
	s.pauseGate = nil
	s.mu.Unlock()

	if forced {
		s.log.Warn().Str("flow", s.flowName).Msg("forced stop: drain timeout elapsed, outstanding writes abandoned")
	}
	return nil
}
