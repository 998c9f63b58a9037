package engine

import (
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/entrhq/capture/pkg/logging"
)

type subscription struct {
	handler Handler
	active  atomic.Bool
}

// Dispatcher delivers an instance's events to its subscribers one at a time, in
// emission order, on a goroutine of its own. Driver callbacks only enqueue, so a
// slow subscriber never stalls the driver's event loop and a subscriber may call
// back into the instance without deadlocking.
type Dispatcher struct {
	mu     sync.Mutex
	subs   []*subscription
	queue  []Event
	closed bool

	wake chan struct{}
	done chan struct{}
	log  *logging.Logger

	// OnPanic, when set, replaces logging of a recovered handler panic.
	OnPanic func(v any, stack []byte)
}

// NewDispatcher starts a dispatcher. Handler panics are logged to log, or to
// stderr when log is nil.
func NewDispatcher(log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.NewWriterLogger("dispatch", os.Stderr)
	}
	d := &Dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		log:  log,
	}
	go d.loop()
	return d
}

// Subscribe registers h and returns its removal function.
func (d *Dispatcher) Subscribe(h Handler) func() {
	sub := &subscription{handler: h}
	sub.active.Store(true)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		sub.active.Store(false)
		return func() {}
	}
	d.subs = append(d.subs, sub)
	d.mu.Unlock()

	return func() {
		if !sub.active.Swap(false) {
			return
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, s := range d.subs {
			if s == sub {
				d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
				break
			}
		}
	}
}

// Emit queues ev for delivery. Events emitted after Close are dropped.
func (d *Dispatcher) Emit(ev Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, ev)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of live subscriptions.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// Close drops pending events and every subscription. It does not wait for a
// handler that is already running. Safe to call multiple times.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for _, s := range d.subs {
		s.active.Store(false)
	}
	d.subs = nil
	d.queue = nil
	close(d.done)
}

func (d *Dispatcher) loop() {
	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		}

		for {
			d.mu.Lock()
			if d.closed || len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			ev := d.queue[0]
			d.queue = d.queue[1:]
			subs := make([]*subscription, len(d.subs))
			copy(subs, d.subs)
			d.mu.Unlock()

			for _, s := range subs {
				if s.active.Load() {
					d.call(s.handler, ev)
				}
			}
		}
	}
}

func (d *Dispatcher) call(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			if d.OnPanic != nil {
				d.OnPanic(r, stack)
				return
			}
			d.log.Errorf("handler panicked on %s: %v\n%s", ev.Kind, r, stack)
		}
	}()
	h(ev)
}
