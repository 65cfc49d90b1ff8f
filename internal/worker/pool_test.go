package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsEveryTask(t *testing.T) {
	p := NewPool(4, 8)
	var (
		n  atomic.Int64
		wg sync.WaitGroup
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func() {
			defer wg.Done()
			n.Add(1)
		}))
	}
	wg.Wait()
	p.Stop()
	assert.EqualValues(t, 100, n.Load())
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p := NewPool(1, 1)
	p.Stop()
	p.Stop()
	assert.ErrorIs(t, p.Submit(context.Background(), func() {}), ErrStopped)
}

func TestPool_SubmitHonoursContext(t *testing.T) {
	p := NewPool(1, 1)
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() { close(started); <-release }))
	<-started
	require.NoError(t, p.Submit(context.Background(), func() {})) // fills the queue

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Submit(ctx, func() {}), context.DeadlineExceeded)

	close(release)
	p.Stop()
}
