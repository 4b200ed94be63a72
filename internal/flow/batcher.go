package flow

import (
	"time"

	"github.com/warpstreamlabs/cdcengine/internal/event"
)

// batcher groups events read from the bounded queue into batches, emitting
// one when either the buffer reaches batchSize or maxLinger elapses since
// the first event in the current buffer, whichever occurs first (spec
// §4.3). A maxLinger of zero disables time-based flushing; the batcher then
// waits only on count. Batches preserve source order.
type batcher struct {
	batchSize int
	maxLinger time.Duration
}

func newBatcher(batchSize int, maxLinger time.Duration) *batcher {
	return &batcher{batchSize: batchSize, maxLinger: maxLinger}
}

// run reads from in until it is closed or ctx is cancelled, sending
// completed batches to out. It drains and emits any partial buffer when in
// closes, so no buffered event is lost on a clean stop.
func (b *batcher) run(in <-chan event.ChangeEvent, out chan<- []event.ChangeEvent, done <-chan struct{}) {
	defer close(out)

	buf := make([]event.ChangeEvent, 0, b.batchSize)
	var lingerC <-chan time.Time
	var lingerTimer *time.Timer

	flush := func() {
		if len(buf) == 0 {
			return
		}
		batch := buf
		buf = make([]event.ChangeEvent, 0, b.batchSize)
		if lingerTimer != nil {
			lingerTimer.Stop()
			lingerTimer = nil
			lingerC = nil
		}
		out <- batch
	}

	for {
		select {
		case ev, ok := <-in:
			if !ok {
				flush()
				return
			}
			buf = append(buf, ev)
			if len(buf) == 1 && b.maxLinger > 0 {
				lingerTimer = time.NewTimer(b.maxLinger)
				lingerC = lingerTimer.C
			}
			if len(buf) >= b.batchSize {
				flush()
			}
		case <-lingerC:
			flush()
		case <-done:
			flush()
			return
		}
	}
}
