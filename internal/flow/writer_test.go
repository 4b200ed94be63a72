package flow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpstreamlabs/cdcengine/internal/destination"
	"github.com/warpstreamlabs/cdcengine/internal/event"
	"github.com/warpstreamlabs/cdcengine/internal/logging"
)

// fastBackoff builds a near-instant retry schedule so retry-path tests
// don't wait out the real 100ms-30s production delays.
func fastBackoff() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Millisecond)
}

type fakeDestination struct {
	mu         sync.Mutex
	failTimes  int
	calls      int
	lastBatch  []event.ChangeEvent
	concurrent *int32 // shared counter to detect overlapping calls, if non-nil
}

func (d *fakeDestination) WriteBatch(ctx context.Context, events []event.ChangeEvent) (destination.WriteReport, error) {
	if d.concurrent != nil {
		n := atomic.AddInt32(d.concurrent, 1)
		defer atomic.AddInt32(d.concurrent, -1)
		if n > 1 {
			return destination.WriteReport{}, errors.New("overlapping WriteBatch calls")
		}
	}

	d.mu.Lock()
	d.calls++
	attempt := d.calls
	d.lastBatch = events
	d.mu.Unlock()

	if attempt <= d.failTimes {
		return destination.WriteReport{}, errors.New("transient failure")
	}
	outcomes := make([]destination.RecordOutcome, len(events))
	for i, ev := range events {
		outcomes[i] = destination.RecordOutcome{EventID: ev.ID.String()}
	}
	return destination.WriteReport{Outcomes: outcomes}, nil
}

func (d *fakeDestination) Open(context.Context) error  { return nil }
func (d *fakeDestination) Close(context.Context) error { return nil }
func (d *fakeDestination) Test(context.Context) error  { return nil }
func (d *fakeDestination) Kind() string                { return "fake" }

func TestWriteBatchSucceedsFirstTry(t *testing.T) {
	fd := &fakeDestination{}
	m := newMetrics("f1", []string{"dest-a"})
	w := &fanoutWriter{
		flowName: "f1",
		dests:    []namedDestination{{name: "dest-a", dest: fd}},
		metrics:  m,
		log:      logging.Noop(),
	}

	batch := []event.ChangeEvent{mkEvent(1), mkEvent(2)}
	w.writeBatch(context.Background(), batch)

	snap := m.snapshot("f1")
	require.Len(t, snap.Destinations, 1)
	assert.Equal(t, int64(2), snap.Destinations[0].WritesOK)
	assert.Equal(t, int64(0), snap.Destinations[0].WritesFailed)
	assert.Equal(t, int64(2), snap.RecordsProcessed)
}

func TestWriteBatchRetriesThenSucceeds(t *testing.T) {
	fd := &fakeDestination{failTimes: 2}
	m := newMetrics("f1", []string{"dest-a"})
	w := &fanoutWriter{
		flowName:   "f1",
		dests:      []namedDestination{{name: "dest-a", dest: fd}},
		metrics:    m,
		log:        logging.Noop(),
		newBackoff: fastBackoff,
	}

	w.writeBatch(context.Background(), []event.ChangeEvent{mkEvent(1)})

	snap := m.snapshot("f1")
	assert.Equal(t, int64(1), snap.Destinations[0].WritesOK)
	assert.GreaterOrEqual(t, fd.calls, 3)
}

func TestWriteBatchRecordsFailureAfterExhaustingRetries(t *testing.T) {
	fd := &fakeDestination{failTimes: 1000}
	m := newMetrics("f1", []string{"dest-a"})
	var failure FailureRecord
	var gotFailure bool
	w := &fanoutWriter{
		flowName:   "f1",
		dests:      []namedDestination{{name: "dest-a", dest: fd}},
		metrics:    m,
		log:        logging.Noop(),
		newBackoff: fastBackoff,
		onFailure: func(fr FailureRecord) {
			failure = fr
			gotFailure = true
		},
	}

	w.writeBatch(context.Background(), []event.ChangeEvent{mkEvent(1)})

	require.True(t, gotFailure)
	assert.Equal(t, "dest-a", failure.DestinationName)
	snap := m.snapshot("f1")
	assert.Equal(t, int64(1), snap.Destinations[0].WritesFailed)
	assert.Equal(t, int64(1), snap.Errors)
}

func TestWriteBatchFansOutConcurrentlyAcrossDestinations(t *testing.T) {
	fd1 := &fakeDestination{}
	fd2 := &fakeDestination{}
	m := newMetrics("f1", []string{"a", "b"})
	w := &fanoutWriter{
		flowName: "f1",
		dests: []namedDestination{
			{name: "a", dest: fd1},
			{name: "b", dest: fd2},
		},
		metrics: m,
		log:     logging.Noop(),
	}

	w.writeBatch(context.Background(), []event.ChangeEvent{mkEvent(1)})

	snap := m.snapshot("f1")
	assert.Equal(t, int64(1), snap.Destinations[0].WritesOK)
	assert.Equal(t, int64(1), snap.Destinations[1].WritesOK)
}

func TestWriteBatchDoesNotOverlapWithinSingleDestination(t *testing.T) {
	var concurrent int32
	fd := &fakeDestination{concurrent: &concurrent}
	m := newMetrics("f1", []string{"a"})
	w := &fanoutWriter{
		flowName: "f1",
		dests:    []namedDestination{{name: "a", dest: fd}},
		metrics:  m,
		log:      logging.Noop(),
	}

	w.writeBatch(context.Background(), []event.ChangeEvent{mkEvent(1)})
	snap := m.snapshot("f1")
	assert.Equal(t, int64(1), snap.Destinations[0].WritesOK)
}

func TestAckSucceededCallsAckerForSuccessfulIDsOnly(t *testing.T) {
	var acked []string
	w := &fanoutWriter{
		acker: func(ctx context.Context, id string) error {
			acked = append(acked, id)
			return nil
		},
	}
	report := destination.WriteReport{Outcomes: []destination.RecordOutcome{
		{EventID: "a"},
		{EventID: "b", Err: errors.New("boom")},
	}}
	w.ackSucceeded(context.Background(), report)
	assert.Equal(t, []string{"a"}, acked)
}
