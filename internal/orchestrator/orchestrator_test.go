package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpstreamlabs/cdcengine/internal/configstore"
	"github.com/warpstreamlabs/cdcengine/internal/connector"
	"github.com/warpstreamlabs/cdcengine/internal/destination"
	"github.com/warpstreamlabs/cdcengine/internal/errs"
	"github.com/warpstreamlabs/cdcengine/internal/event"
	"github.com/warpstreamlabs/cdcengine/internal/logging"
	"github.com/warpstreamlabs/cdcengine/internal/registry"
)

type stubStream struct{ events chan event.ChangeEvent }

func (s *stubStream) Next(ctx context.Context) (event.ChangeEvent, error) {
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

type stubConnector struct{}

func (stubConnector) Start(ctx context.Context) (connector.Stream, error) {
	return &stubStream{events: make(chan event.ChangeEvent, 4)}, nil
}
func (stubConnector) Stop(ctx context.Context) error { return nil }
func (stubConnector) Test(ctx context.Context) error { return nil }
func (stubConnector) Kind() string                   { return "stub" }

type stubConnectorFactory struct{}

func (stubConnectorFactory) Kind() string                  { return "stub" }
func (stubConnectorFactory) Validate(event.RawConfig) error { return nil }
func (stubConnectorFactory) Create(event.RawConfig, zerolog.Logger) (connector.Connector, error) {
	return stubConnector{}, nil
}

type stubDestination struct{}

func (stubDestination) Open(context.Context) error  { return nil }
func (stubDestination) Close(context.Context) error { return nil }
func (stubDestination) Test(context.Context) error  { return nil }
func (stubDestination) Kind() string                { return "stub" }
func (stubDestination) WriteBatch(ctx context.Context, events []event.ChangeEvent) (destination.WriteReport, error) {
	outcomes := make([]destination.RecordOutcome, len(events))
	for i, ev := range events {
		outcomes[i] = destination.RecordOutcome{EventID: ev.ID.String()}
	}
	return destination.WriteReport{Outcomes: outcomes}, nil
}

type stubDestinationFactory struct{}

func (stubDestinationFactory) Kind() string                  { return "stub" }
func (stubDestinationFactory) Validate(event.RawConfig) error { return nil }
func (stubDestinationFactory) Create(event.RawConfig, zerolog.Logger) (destination.Destination, error) {
	return stubDestination{}, nil
}

func newTestRig(t *testing.T) (*Orchestrator, configstore.Store) {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.RegisterConnector(stubConnectorFactory{}))
	require.NoError(t, reg.RegisterDestination(stubDestinationFactory{}))

	store, err := configstore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.PutConnector(context.Background(), event.ConnectorSpec{Name: "c1", Kind: "stub"}, time.Time{})
	require.NoError(t, err)
	_, err = store.PutDestination(context.Background(), event.DestinationSpec{Name: "d1", Kind: "stub"}, time.Time{})
	require.NoError(t, err)

	orch := New(reg, store, logging.Noop(), nil)
	return orch, store
}

func TestCreateStartsAutoStartFlow(t *testing.T) {
	orch, _ := newTestRig(t)

	status, err := orch.Create(context.Background(), event.FlowSpec{
		Name: "f1", ConnectorName: "c1", DestinationNames: []string{"d1"}, AutoStart: true,
	})
	require.NoError(t, err)
	assert.Equal(t, event.StateRunning, status.State)

	_, err = orch.Stop(context.Background(), "f1")
	require.NoError(t, err)
}

func TestCreateWithoutAutoStartStaysInactive(t *testing.T) {
	orch, _ := newTestRig(t)

	status, err := orch.Create(context.Background(), event.FlowSpec{
		Name: "f1", ConnectorName: "c1", DestinationNames: []string{"d1"},
	})
	require.NoError(t, err)
	assert.Equal(t, event.StateInactive, status.State)
}

func TestCreateDuplicateNameConflicts(t *testing.T) {
	orch, _ := newTestRig(t)
	spec := event.FlowSpec{Name: "f1", ConnectorName: "c1", DestinationNames: []string{"d1"}}

	_, err := orch.Create(context.Background(), spec)
	require.NoError(t, err)

	_, err = orch.Create(context.Background(), spec)
	require.Error(t, err)
	assert.Equal(t, errs.CodeConflict, errs.CodeOf(err))
}

func TestStartStopLifecycle(t *testing.T) {
	orch, _ := newTestRig(t)
	_, err := orch.Create(context.Background(), event.FlowSpec{
		Name: "f1", ConnectorName: "c1", DestinationNames: []string{"d1"},
	})
	require.NoError(t, err)

	status, err := orch.Start(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, event.StateRunning, status.State)

	status, err = orch.Stop(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, event.StateInactive, status.State)
}

func TestPauseAndResumeFlow(t *testing.T) {
	orch, _ := newTestRig(t)
	_, err := orch.Create(context.Background(), event.FlowSpec{
		Name: "f1", ConnectorName: "c1", DestinationNames: []string{"d1"}, AutoStart: true,
	})
	require.NoError(t, err)

	status, err := orch.Pause(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, event.StatePaused, status.State)

	status, err = orch.Resume(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, event.StateRunning, status.State)

	_, err = orch.Stop(context.Background(), "f1")
	require.NoError(t, err)
}

func TestRestartClearsMetrics(t *testing.T) {
	orch, _ := newTestRig(t)
	_, err := orch.Create(context.Background(), event.FlowSpec{
		Name: "f1", ConnectorName: "c1", DestinationNames: []string{"d1"}, AutoStart: true,
	})
	require.NoError(t, err)

	m, err := orch.Metrics("f1")
	require.NoError(t, err)
	assert.False(t, m.StartedAt.IsZero())

	status, err := orch.Restart(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, event.StateRunning, status.State)

	m2, err := orch.Metrics("f1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), m2.MessagesReceived)

	_, err = orch.Stop(context.Background(), "f1")
	require.NoError(t, err)
}

func TestDeleteRemovesFlowFromTableAndStore(t *testing.T) {
	orch, store := newTestRig(t)
	_, err := orch.Create(context.Background(), event.FlowSpec{
		Name: "f1", ConnectorName: "c1", DestinationNames: []string{"d1"},
	})
	require.NoError(t, err)

	require.NoError(t, orch.Delete(context.Background(), "f1"))

	_, err = orch.Get("f1")
	require.Error(t, err)
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))

	_, err = store.GetFlow(context.Background(), "f1")
	require.Error(t, err)
}

func TestDeleteConnectorBlockedByReferencingFlow(t *testing.T) {
	orch, store := newTestRig(t)
	_, err := orch.Create(context.Background(), event.FlowSpec{
		Name: "f1", ConnectorName: "c1", DestinationNames: []string{"d1"},
	})
	require.NoError(t, err)

	err = store.DeleteConnector(context.Background(), "c1")
	require.Error(t, err)
	assert.Equal(t, errs.CodeReferenced, errs.CodeOf(err))
}

func TestOperationsOnUnknownFlowAreNotFound(t *testing.T) {
	orch, _ := newTestRig(t)
	_, err := orch.Start(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))
}

func TestBootstrapStartsAutoStartFlows(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.RegisterConnector(stubConnectorFactory{}))
	require.NoError(t, reg.RegisterDestination(stubDestinationFactory{}))

	store, err := configstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.PutConnector(context.Background(), event.ConnectorSpec{Name: "c1", Kind: "stub"}, time.Time{})
	require.NoError(t, err)
	_, err = store.PutDestination(context.Background(), event.DestinationSpec{Name: "d1", Kind: "stub"}, time.Time{})
	require.NoError(t, err)
	_, err = store.PutFlow(context.Background(), event.FlowSpec{
		Name: "f1", ConnectorName: "c1", DestinationNames: []string{"d1"}, AutoStart: true,
	}, time.Time{})
	require.NoError(t, err)

	orch := New(reg, store, logging.Noop(), nil)
	require.NoError(t, orch.Bootstrap(context.Background()))

	status, err := orch.Get("f1")
	require.NoError(t, err)
	assert.Equal(t, event.StateRunning, status.State)

	_, err = orch.Stop(context.Background(), "f1")
	require.NoError(t, err)
}
