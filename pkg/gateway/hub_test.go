package gateway

import (
	"testing"

	"github.com/entrhq/capture/pkg/logging"
	"github.com/entrhq/capture/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_EvictsClientThatFallsBehind(t *testing.T) {
	h := newHub(logging.NewNopLogger())
	slow, ok := h.register()
	require.True(t, ok)
	fast, ok := h.register()
	require.True(t, ok)

	for i := 0; i <= clientBuffer; i++ {
		h.broadcast(frame{Event: types.NewLoadingEvent("s1", i%2 == 0)})
		<-fast.send
	}

	assert.Equal(t, 1, h.count())
	assert.Equal(t, 1, h.evicted)
	assert.True(t, slow.evicted)
	assert.False(t, fast.evicted)

	// Everything queued before the overflow is still delivered, then the
	// queue ends instead of skipping events.
	received := 0
	for range slow.send {
		received++
	}
	assert.Equal(t, clientBuffer, received)

	resp := OK(nil)
	assert.False(t, h.reply(slow, frame{Response: &resp}))
	assert.True(t, h.reply(fast, frame{Response: &resp}))

	// Unregistering an evicted client does not close its queue twice.
	h.unregister(slow)
	h.shutdown()
}

func TestHub_EvictsOnFullResponseQueue(t *testing.T) {
	h := newHub(logging.NewNopLogger())
	c, ok := h.register()
	require.True(t, ok)

	resp := OK("state")
	for i := 0; i < clientBuffer; i++ {
		require.True(t, h.reply(c, frame{Response: &resp}))
	}
	assert.False(t, h.reply(c, frame{Response: &resp}))
	assert.Zero(t, h.count())
	assert.True(t, c.evicted)
}
