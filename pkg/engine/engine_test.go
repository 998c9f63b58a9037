package engine

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/entrhq/capture/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestDispatcher_DeliversInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := NewDispatcher(logging.NewNopLogger())
	defer d.Close()

	var mu sync.Mutex
	var got []EventKind
	d.Subscribe(func(ev Event) {
		mu.Lock()
		got = append(got, ev.Kind)
		mu.Unlock()
	})

	kinds := []EventKind{EventNavigationStarted, EventNavigationCommitted, EventTitleUpdated, EventNavigationStopped}
	for _, k := range kinds {
		d.Emit(Event{Kind: k})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(kinds)
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, kinds, got)
}

func TestDispatcher_Unsubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := NewDispatcher(logging.NewNopLogger())
	defer d.Close()

	var mu sync.Mutex
	calls := 0
	unsubscribe := d.Subscribe(func(Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	assert.Equal(t, 1, d.Len())

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, d.Len())

	d.Emit(Event{Kind: EventCrashed})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, calls)
}

func TestDispatcher_CloseDropsEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := NewDispatcher(logging.NewNopLogger())
	fired := make(chan struct{}, 1)
	d.Subscribe(func(Event) { fired <- struct{}{} })

	d.Close()
	d.Close()
	d.Emit(Event{Kind: EventNavigationStarted})

	select {
	case <-fired:
		t.Fatal("handler invoked after Close")
	case <-time.After(20 * time.Millisecond):
	}

	// Subscribing to a closed dispatcher is a no-op.
	unsubscribe := d.Subscribe(func(Event) {})
	unsubscribe()
	assert.Equal(t, 0, d.Len())
}

func TestDispatcher_RecoversPanics(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := NewDispatcher(logging.NewNopLogger())
	defer d.Close()

	panicked := make(chan any, 1)
	d.OnPanic = func(v any, _ []byte) { panicked <- v }

	delivered := make(chan struct{}, 1)
	d.Subscribe(func(Event) { panic("boom") })
	d.Subscribe(func(Event) { delivered <- struct{}{} })

	d.Emit(Event{Kind: EventCrashed})

	select {
	case v := <-panicked:
		assert.Equal(t, "boom", v)
	case <-time.After(time.Second):
		t.Fatal("panic not reported")
	}
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("second handler not called after first panicked")
	}
}

// lines forwards each log write.
type lines chan string

func (l lines) Write(p []byte) (int, error) {
	l <- string(p)
	return len(p), nil
}

func TestDispatcher_LogsPanics(t *testing.T) {
	defer goleak.VerifyNone(t)

	out := make(lines, 4)
	d := NewDispatcher(logging.NewWriterLogger("dispatch", out))
	defer d.Close()

	d.Subscribe(func(Event) { panic("boom") })
	d.Emit(Event{Kind: EventNavigationStopped})

	select {
	case line := <-out:
		assert.Contains(t, line, "[dispatch] [ERROR] handler panicked on navigation_stopped: boom")
	case <-time.After(time.Second):
		t.Fatal("panic not logged")
	}
}

func TestIsErrorPage(t *testing.T) {
	assert.True(t, IsErrorPage(ErrorPageURL))
	assert.False(t, IsErrorPage("https://bad.test/"))
	assert.False(t, IsErrorPage(""))
}

func TestNetErrorCode(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"net::ERR_NAME_NOT_RESOLVED", -105},
		{"net::ERR_CONNECTION_REFUSED at https://bad.test", -102},
		{"net::ERR_CONNECTION_ABORTED", -103},
		{"net::ERR_CERT_AUTHORITY_INVALID", -202},
		{"something odd", -2},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, NetErrorCode(tt.text))
		})
	}
}

func TestIsAborted(t *testing.T) {
	assert.True(t, IsAborted("net::ERR_ABORTED"))
	assert.False(t, IsAborted("net::ERR_CONNECTION_ABORTED"))
	assert.False(t, IsAborted("net::ERR_NAME_NOT_RESOLVED"))
}

func TestSanitizeArgs(t *testing.T) {
	args := []string{
		"--disable-web-security",
		"lang=en-US",
		"",
		"--user-data-dir=/tmp/other",
		"--window-size=1280,720",
		"-No-Sandbox",
	}
	assert.Equal(t, []string{"--lang=en-US", "--window-size=1280,720"}, SanitizeArgs(args))
}

func TestPartitionDir(t *testing.T) {
	assert.Equal(t, "", PartitionDir("", "persist:capture"))
	assert.Equal(t, filepath.Join("/data", "partitions", "capture"), PartitionDir("/data", "persist:capture"))
	assert.Equal(t, filepath.Join("/data", "partitions", ".._etc_passwd"), PartitionDir("/data", "../etc/passwd"))
	assert.Equal(t, filepath.Join("/data", "partitions", "default"), PartitionDir("/data", ""))
}

func TestHistoryFromIndex(t *testing.T) {
	assert.Equal(t, History{}, HistoryFromIndex(0, 1))
	assert.Equal(t, History{CanGoBack: true}, HistoryFromIndex(1, 2))
	assert.Equal(t, History{CanGoBack: true, CanGoForward: true}, HistoryFromIndex(1, 3))
	assert.Equal(t, History{CanGoForward: true}, HistoryFromIndex(0, 2))
}
