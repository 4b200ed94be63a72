package flow

import "sync"

// gate is a reusable open/closed barrier used to hold the source task
// during pause without tearing down its goroutine. A gate starts open.
type gate struct {
	mu sync.Mutex
	ch chan struct{}
}

func newGate() *gate {
	g := &gate{ch: make(chan struct{})}
	close(g.ch)
	return g
}

// open returns a channel that is closed (readable) while the gate is open,
// and blocks while the gate is closed.
func (g *gate) open() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch
}

// closeGate makes the gate block subsequent open() waiters until openGate
// is called.
func (g *gate) closeGate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		g.ch = make(chan struct{})
	default:
	}
}

// openGate releases any waiters blocked on open().
func (g *gate) openGate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
	default:
		close(g.ch)
	}
}
