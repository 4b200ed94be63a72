package flow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpstreamlabs/cdcengine/internal/connector"
	"github.com/warpstreamlabs/cdcengine/internal/destination"
	"github.com/warpstreamlabs/cdcengine/internal/errs"
	"github.com/warpstreamlabs/cdcengine/internal/event"
	"github.com/warpstreamlabs/cdcengine/internal/logging"
)

func destsOf(d destination.Destination) []destination.Destination {
	return []destination.Destination{d}
}

func durPtr(d time.Duration) *time.Duration { return &d }

// fakeStream emits events pushed onto a channel until it's closed, then
// blocks until ctx is cancelled (mirroring an infinite broker source).
type fakeStream struct {
	events chan event.ChangeEvent
}

func (s *fakeStream) Next(ctx context.Context) (event.ChangeEvent, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			<-ctx.Done()
			return event.ChangeEvent{}, ctx.Err()
		}
		return ev, nil
	case <-ctx.Done():
		return event.ChangeEvent{}, ctx.Err()
	}
}

type fakeConnector struct {
	mu       sync.Mutex
	started  bool
	stopped  bool
	stream   *fakeStream
	startErr error
}

func (c *fakeConnector) Start(ctx context.Context) (connector.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return nil, c.startErr
	}
	c.started = true
	c.stream = &fakeStream{events: make(chan event.ChangeEvent, 16)}
	return c.stream, nil
}

func (c *fakeConnector) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	return nil
}

func (c *fakeConnector) Test(ctx context.Context) error { return nil }
func (c *fakeConnector) Kind() string                   { return "fake" }

func (c *fakeConnector) push(ev event.ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		c.stream.events <- ev
	}
}

func TestSupervisorStartIsIdempotentWhenRunning(t *testing.T) {
	conn := &fakeConnector{}
	dest := &fakeDestination{}
	spec := event.FlowSpec{Name: "f1", BatchSize: 2, MaxLinger: durPtr(10 * time.Millisecond)}
	sup := New("f1", spec, conn, []string{"d1"}, destsOf(dest), logging.Noop(), nil)

	require.NoError(t, sup.Start(context.Background()))
	assert.Equal(t, event.StateRunning, sup.Status().State)

	require.NoError(t, sup.Start(context.Background()))
	assert.Equal(t, event.StateRunning, sup.Status().State)

	require.NoError(t, sup.Stop(context.Background()))
}

func TestSupervisorStopIsIdempotentWhenInactive(t *testing.T) {
	conn := &fakeConnector{}
	dest := &fakeDestination{}
	spec := event.FlowSpec{Name: "f1", BatchSize: 2}
	sup := New("f1", spec, conn, []string{"d1"}, destsOf(dest), logging.Noop(), nil)

	assert.Equal(t, event.StateInactive, sup.Status().State)
	require.NoError(t, sup.Stop(context.Background()))
	assert.Equal(t, event.StateInactive, sup.Status().State)
}

func TestSupervisorFailsToStartWhenConnectorErrors(t *testing.T) {
	conn := &fakeConnector{startErr: errs.Connect("dial refused")}
	dest := &fakeDestination{}
	spec := event.FlowSpec{Name: "f1", BatchSize: 2}
	sup := New("f1", spec, conn, []string{"d1"}, destsOf(dest), logging.Noop(), nil)

	err := sup.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, event.StateFailed, sup.Status().State)
}

func TestSupervisorPauseHoldsSourceTask(t *testing.T) {
	conn := &fakeConnector{}
	dest := &fakeDestination{}
	spec := event.FlowSpec{Name: "f1", BatchSize: 1, MaxLinger: durPtr(5 * time.Millisecond)}
	sup := New("f1", spec, conn, []string{"d1"}, destsOf(dest), logging.Noop(), nil)

	require.NoError(t, sup.Start(context.Background()))
	require.NoError(t, sup.Pause(context.Background()))
	assert.Equal(t, event.StatePaused, sup.Status().State)

	require.NoError(t, sup.Resume(context.Background()))
	assert.Equal(t, event.StateRunning, sup.Status().State)

	require.NoError(t, sup.Stop(context.Background()))
}

func TestSupervisorPauseFailsWhenNotRunning(t *testing.T) {
	conn := &fakeConnector{}
	dest := &fakeDestination{}
	spec := event.FlowSpec{Name: "f1", BatchSize: 1}
	sup := New("f1", spec, conn, []string{"d1"}, destsOf(dest), logging.Noop(), nil)

	err := sup.Pause(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.CodeState, errs.CodeOf(err))
}

func TestSupervisorProcessesEventsThroughToDestination(t *testing.T) {
	conn := &fakeConnector{}
	dest := &fakeDestination{}
	spec := event.FlowSpec{Name: "f1", BatchSize: 1, MaxLinger: durPtr(5 * time.Millisecond)}
	sup := New("f1", spec, conn, []string{"d1"}, destsOf(dest), logging.Noop(), nil)

	require.NoError(t, sup.Start(context.Background()))
	conn.push(mkEvent(1))

	require.Eventually(t, func() bool {
		return sup.Metrics().RecordsProcessed >= 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, sup.Stop(context.Background()))
	assert.True(t, conn.stopped)
}
