package session

import (
	"sync"

	"github.com/entrhq/capture/pkg/types"
)

// maxPending bounds the backlog kept for a host that stopped reading. The
// oldest events are dropped first.
const maxPending = 4096

// Emitter delivers host events in emission order over a channel. Emit never
// blocks: events queue until the host reads them.
type Emitter struct {
	mu      sync.Mutex
	queue   []*types.SessionEvent
	closed  bool
	dropped int

	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	out     chan *types.SessionEvent
}

// NewEmitter starts an emitter whose channel has the given buffer.
func NewEmitter(buffer int) *Emitter {
	if buffer < 0 {
		buffer = 0
	}
	e := &Emitter{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		out:     make(chan *types.SessionEvent, buffer),
	}
	go e.pump()
	return e
}

// Events returns the host channel. It is closed by Close.
func (e *Emitter) Events() <-chan *types.SessionEvent {
	return e.out
}

// Emit queues ev. Events emitted after Close are dropped.
func (e *Emitter) Emit(ev *types.SessionEvent) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if len(e.queue) >= maxPending {
		e.queue = e.queue[1:]
		e.dropped++
	}
	e.queue = append(e.queue, ev)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Dropped returns how many events were discarded because the backlog was full.
func (e *Emitter) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close stops delivery and closes the host channel. Undelivered events are
// discarded.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.stopped
		return
	}
	e.closed = true
	e.queue = nil
	close(e.done)
	e.mu.Unlock()
	<-e.stopped
}

func (e *Emitter) pump() {
	defer close(e.stopped)
	defer close(e.out)

	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.mu.Unlock()
			select {
			case <-e.wake:
				continue
			case <-e.done:
				return
			}
		}
		ev := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		select {
		case e.out <- ev:
		case <-e.done:
			return
		}
	}
}
