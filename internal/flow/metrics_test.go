package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsSnapshotAggregatesPerDestinationCounters(t *testing.T) {
	m := newMetrics("f1", []string{"a", "b"})
	m.addMessagesReceived(10)
	m.addRecordsProcessed(8)
	m.addErrors(1)
	m.addWritesOK("a", 5)
	m.addWritesFailed("b", 2)
	m.markStarted()

	snap := m.snapshot("f1")
	assert.Equal(t, "f1", snap.FlowName)
	assert.Equal(t, int64(10), snap.MessagesReceived)
	assert.Equal(t, int64(8), snap.RecordsProcessed)
	assert.Equal(t, int64(1), snap.Errors)
	assert.False(t, snap.StartedAt.IsZero())

	byName := map[string]int64{}
	for _, d := range snap.Destinations {
		byName[d.Name] = d.WritesOK - d.WritesFailed
	}
	assert.Equal(t, int64(5), byName["a"])
	assert.Equal(t, int64(-2), byName["b"])
}

func TestMetricsIgnoresUnknownDestination(t *testing.T) {
	m := newMetrics("f1", []string{"a"})
	m.addWritesOK("nonexistent", 100)

	snap := m.snapshot("f1")
	require := assert.New(t)
	require.Len(snap.Destinations, 1)
	require.Equal(int64(0), snap.Destinations[0].WritesOK)
}
