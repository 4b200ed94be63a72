package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpstreamlabs/cdcengine/internal/event"
)

func mkEvent(i int) event.ChangeEvent {
	return event.NewChangeEvent("pg", "orders", event.OpInsert, map[string]any{"n": i}, nil)
}

func TestBatcherFlushesOnCount(t *testing.T) {
	b := newBatcher(3, 0)
	in := make(chan event.ChangeEvent)
	out := make(chan []event.ChangeEvent, 4)
	done := make(chan struct{})
	go b.run(in, out, done)

	for i := 0; i < 7; i++ {
		in <- mkEvent(i)
	}
	close(in)

	var batches [][]event.ChangeEvent
	for batch := range out {
		batches = append(batches, batch)
	}
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 3)
	assert.Len(t, batches[1], 3)
	assert.Len(t, batches[2], 1) // partial remainder flushed on close
}

func TestBatcherFlushesOnLinger(t *testing.T) {
	b := newBatcher(100, 20*time.Millisecond)
	in := make(chan event.ChangeEvent)
	out := make(chan []event.ChangeEvent, 1)
	done := make(chan struct{})
	go b.run(in, out, done)

	in <- mkEvent(1)

	select {
	case batch := <-out:
		assert.Len(t, batch, 1)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for linger flush")
	}
	close(in)
}

func TestBatcherFlushesOnDone(t *testing.T) {
	b := newBatcher(100, 0)
	in := make(chan event.ChangeEvent)
	out := make(chan []event.ChangeEvent, 1)
	done := make(chan struct{})
	go b.run(in, out, done)

	in <- mkEvent(1)
	close(done)

	select {
	case batch := <-out:
		assert.Len(t, batch, 1)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for done flush")
	}
}

func TestBatcherPreservesOrder(t *testing.T) {
	b := newBatcher(5, 0)
	in := make(chan event.ChangeEvent)
	out := make(chan []event.ChangeEvent, 1)
	done := make(chan struct{})
	go b.run(in, out, done)

	for i := 0; i < 5; i++ {
		in <- mkEvent(i)
	}
	batch := <-out
	for i, ev := range batch {
		assert.Equal(t, i, ev.Data["n"])
	}
	close(in)
}
