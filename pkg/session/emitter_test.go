package session

import (
	"testing"

	"github.com/entrhq/capture/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestEmitter_PreservesOrder(t *testing.T) {
	e := NewEmitter(0)
	defer e.Close()

	for i := 0; i < 100; i++ {
		e.Emit(types.NewURLChangedEvent("s", string(rune('a'+i%26))))
	}
	for i := 0; i < 100; i++ {
		ev := <-e.Events()
		assert.Equal(t, string(rune('a'+i%26)), ev.URL)
	}
	assert.Zero(t, e.Dropped())
}

func TestEmitter_EmitNeverBlocks(t *testing.T) {
	e := NewEmitter(1)
	defer e.Close()

	// Nobody reads; Emit still returns.
	for i := 0; i < maxPending+10; i++ {
		e.Emit(types.NewLoadingEvent("s", true))
	}
	assert.Greater(t, e.Dropped(), 0)
}

func TestEmitter_CloseClosesChannel(t *testing.T) {
	e := NewEmitter(4)
	e.Emit(types.NewLoadingEvent("s", true))
	e.Close()
	e.Close()

	for range e.Events() {
	}
	e.Emit(types.NewLoadingEvent("s", false))
	_, ok := <-e.Events()
	assert.False(t, ok)
}
