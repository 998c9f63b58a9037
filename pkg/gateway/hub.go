package gateway

import (
	"encoding/json"
	"sync"

	"github.com/entrhq/capture/pkg/logging"
	"github.com/entrhq/capture/pkg/types"
)

const clientBuffer = 256

// frame is one outbound WebSocket message.
type frame struct {
	ID       json.RawMessage     `json:"id,omitempty"`
	Response *Response           `json:"response,omitempty"`
	Event    *types.SessionEvent `json:"event,omitempty"`
}

// client is one WebSocket connection's outbound queue.
type client struct {
	send chan frame

	// evicted is set before send is closed when the client fell behind.
	evicted bool
}

// hub fans host events out to every connected client.
type hub struct {
	log *logging.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	evicted int

	done chan struct{}
}

func newHub(log *logging.Logger) *hub {
	return &hub{
		log:     log,
		clients: make(map[*client]struct{}),
		done:    make(chan struct{}),
	}
}

// run forwards events until the channel closes, then disconnects everyone.
func (h *hub) run(events <-chan *types.SessionEvent) {
	defer close(h.done)
	for ev := range events {
		h.broadcast(frame{Event: ev})
	}
	h.shutdown()
}

func (h *hub) register() (*client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := &client{send: make(chan frame, clientBuffer)}
	h.clients[c] = struct{}{}
	return c, true
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// reply queues a response for one client. It reports false once the client
// is gone.
func (h *hub) reply(c *client, f frame) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	select {
	case c.send <- f:
		return true
	default:
		h.evict(c, "response")
		return false
	}
}

// broadcast queues f for every client. A client that cannot keep up is
// disconnected rather than sent a stream with gaps; it reconnects and reads
// "state" to resync.
func (h *hub) broadcast(f frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- f:
		default:
			h.evict(c, string(f.Event.Type)+" event")
		}
	}
}

// evict closes a client's queue. Callers hold h.mu.
func (h *hub) evict(c *client, what string) {
	delete(h.clients, c)
	c.evicted = true
	close(c.send)
	h.evicted++
	h.log.Warnf("client queue full at %s; disconnecting client", what)
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
