package runner

import (
	"context"
	"sync"
)

// gate is the cooperative pause flag. It is never preemptive: tasks poll it
// at their per-stage checkpoints and the dispatcher polls it before handing
// out new work. Open is represented by a closed channel so waiters don't
// spin.
type gate struct {
	mu sync.Mutex
	ch chan struct{}
}

func newGate() *gate {
	g := &gate{ch: make(chan struct{})}
	close(g.ch)
	return g
}

func (g *gate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		g.ch = make(chan struct{})
	default:
		// already paused
	}
}

func (g *gate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		// already open
	default:
		close(g.ch)
	}
}

// wait blocks while paused. released unblocks waiters even when paused:
// after a stop, in-flight tasks must still run to their natural report.
func (g *gate) wait(ctx context.Context, released <-chan struct{}) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// taskGate adapts the run's gate to the state machine's checkpoint.
type taskGate struct {
	gate     *gate
	released <-chan struct{}
}

func (t taskGate) Wait(ctx context.Context) error {
	return t.gate.wait(ctx, t.released)
}
