package event

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowSpecNormalizeFillsDefaults(t *testing.T) {
	f := FlowSpec{Name: "orders", ConnectorName: "pg", DestinationNames: []string{"warehouse"}}
	f.Normalize()
	assert.Equal(t, DefaultBatchSize, f.BatchSize)
	require.NotNil(t, f.MaxLinger)
	assert.Equal(t, DefaultMaxLinger, *f.MaxLinger)
	assert.Equal(t, DefaultMaxLinger, f.EffectiveMaxLinger())
}

func TestFlowSpecNormalizeLeavesExplicitValues(t *testing.T) {
	explicit := 2 * time.Second
	f := FlowSpec{BatchSize: 50, MaxLinger: &explicit}
	f.Normalize()
	assert.Equal(t, 50, f.BatchSize)
	require.NotNil(t, f.MaxLinger)
	assert.Equal(t, 2*time.Second, *f.MaxLinger)
}

// TestFlowSpecNormalizeLeavesExplicitZeroMaxLinger covers the documented
// max_linger: 0 case (batch-size-only flushing): Normalize must not coerce
// an explicitly-set zero into DefaultMaxLinger, since nil (unset) and a
// pointer to zero (disabled) are distinct states.
func TestFlowSpecNormalizeLeavesExplicitZeroMaxLinger(t *testing.T) {
	var explicitZero time.Duration
	f := FlowSpec{Name: "orders", ConnectorName: "pg", DestinationNames: []string{"warehouse"}, MaxLinger: &explicitZero}
	f.Normalize()
	require.NotNil(t, f.MaxLinger)
	assert.Equal(t, time.Duration(0), *f.MaxLinger)
	assert.Equal(t, time.Duration(0), f.EffectiveMaxLinger())
}

func TestFlowSpecValidateRequiresFields(t *testing.T) {
	cases := []struct {
		name string
		spec FlowSpec
	}{
		{"empty name", FlowSpec{ConnectorName: "pg", DestinationNames: []string{"a"}}},
		{"empty connector", FlowSpec{Name: "orders", DestinationNames: []string{"a"}}},
		{"no destinations", FlowSpec{Name: "orders", ConnectorName: "pg"}},
		{"empty destination name", FlowSpec{Name: "orders", ConnectorName: "pg", DestinationNames: []string{""}}},
		{"duplicate destinations", FlowSpec{Name: "orders", ConnectorName: "pg", DestinationNames: []string{"a", "a"}}},
		{"negative batch size", FlowSpec{Name: "orders", ConnectorName: "pg", DestinationNames: []string{"a"}, BatchSize: -1}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Error(t, c.spec.Validate())
		})
	}
}

func TestFlowSpecValidateAcceptsWellFormedSpec(t *testing.T) {
	f := FlowSpec{Name: "orders", ConnectorName: "pg", DestinationNames: []string{"warehouse", "search"}}
	assert.NoError(t, f.Validate())
}

func TestNewChangeEventStampsIDAndTimestamp(t *testing.T) {
	ev := NewChangeEvent("pg", "orders", OpInsert, map[string]any{"id": 1}, nil)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", ev.ID.String())
	assert.WithinDuration(t, time.Now().UTC(), ev.Timestamp, time.Second)
	assert.Equal(t, OpInsert, ev.Operation)
}

func TestNewChangeEventPreservesDataAndMetadataRegardlessOfStamping(t *testing.T) {
	a := NewChangeEvent("pg", "orders", OpUpdate, map[string]any{"id": 1, "status": "shipped"}, map[string]string{"txn": "abc"})
	b := NewChangeEvent("pg", "orders", OpUpdate, map[string]any{"id": 1, "status": "shipped"}, map[string]string{"txn": "abc"})

	diff := cmp.Diff(a, b, cmpopts.IgnoreFields(ChangeEvent{}, "ID", "Timestamp"))
	assert.Empty(t, diff, "events should be equal aside from their stamped ID/Timestamp")
}
