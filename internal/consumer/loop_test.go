package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/clinicdesk/internal/platform/logger"
)

// startLoop runs l on its own goroutine and stops it when the test ends.
func startLoop(t *testing.T, l *Loop) {
	t.Helper()
	go func() { _ = l.Run(context.Background()) }()
	t.Cleanup(func() {
		l.Stop()
		select {
		case <-l.Done():
		case <-time.After(2 * time.Second):
			t.Error("consumer loop did not stop")
		}
	})
}

func TestLoopRunsInPostOrder(t *testing.T) {
	t.Parallel()
	log, _ := logger.NewTestLogger(t)
	l := New(log)
	startLoop(t, l)

	var got []int
	for i := range 100 {
		require.True(t, l.Post(func(context.Context) { got = append(got, i) }))
	}
	require.NoError(t, l.Flush(context.Background()))

	want := make([]int, 100)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, got)
}

func TestLoopRunsOnSingleGoroutine(t *testing.T) {
	t.Parallel()
	l := New(nil)
	startLoop(t, l)

	var (
		wg      sync.WaitGroup
		running int
		overlap bool
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				l.Post(func(context.Context) {
					running++
					if running > 1 {
						overlap = true
					}
					running--
				})
			}
		}()
	}
	wg.Wait()
	require.NoError(t, l.Flush(context.Background()))
	assert.False(t, overlap)
}

func TestLoopRecoversPanics(t *testing.T) {
	t.Parallel()
	log, buf := logger.NewTestLogger(t)
	l := New(log)
	startLoop(t, l)

	ran := false
	l.Post(func(context.Context) { panic("subscriber exploded") })
	l.Post(func(context.Context) { ran = true })
	require.NoError(t, l.Flush(context.Background()))

	assert.True(t, ran, "functions after a panic should still run")
	entries := buf.EntriesWithMessage("recovered panic in consumer loop")
	require.Len(t, entries, 1)
	assert.Equal(t, "subscriber exploded", entries[0]["panic"])
}

func TestLoopPostFromLoopDoesNotBlock(t *testing.T) {
	t.Parallel()
	l := New(nil)
	startLoop(t, l)

	done := make(chan struct{})
	l.Post(func(context.Context) {
		for range 1000 {
			l.Post(func(context.Context) {})
		}
		l.Post(func(context.Context) { close(done) })
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested posts did not complete")
	}
}

func TestLoopStopDrainsQueue(t *testing.T) {
	t.Parallel()
	l := New(nil)

	count := 0
	for range 5 {
		l.Post(func(context.Context) { count++ })
	}
	l.Stop()
	assert.False(t, l.Post(func(context.Context) { count++ }), "post after stop is rejected")

	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, 5, count)
	assert.ErrorIs(t, l.Flush(context.Background()), ErrStopped)
}

func TestLoopCancelledContext(t *testing.T) {
	t.Parallel()
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, l.Post(func(context.Context) {}))
}

func TestLoopRunTwice(t *testing.T) {
	t.Parallel()
	l := New(nil)
	startLoop(t, l)

	require.NoError(t, l.Flush(context.Background()))
	assert.ErrorIs(t, l.Run(context.Background()), ErrAlreadyRunning)
}

func TestLoopRejectsNil(t *testing.T) {
	t.Parallel()
	assert.False(t, New(nil).Post(nil))
}
