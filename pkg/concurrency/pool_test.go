package concurrency

import (
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func TestPools_RunsAllActions(t *testing.T) {
	pools := NewPools(PoolOptions{MinWorkers: 2, Threshold: 50 * time.Millisecond, IdleTimeout: time.Second}, newTestLogger())
	defer pools.Close()

	var count atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, pools.Submit("host-a", func() {
			defer wg.Done()
			count.Add(1)
		}))
	}
	wg.Wait()

	assert.Equal(t, int32(20), count.Load())
}

func TestPools_PrestartsFloor(t *testing.T) {
	pools := NewPools(PoolOptions{}, newTestLogger())
	defer pools.Close()

	done := make(chan struct{})
	require.NoError(t, pools.Submit("host-a", func() { close(done) }))
	<-done

	stats := pools.Stats("host-a")
	assert.Equal(t, 4, stats.Workers)
	assert.Equal(t, PoolStats{}, pools.Stats("unknown"))
}

func TestPools_GrowsUnderBurstAndConvergesToFloor(t *testing.T) {
	opts := PoolOptions{MinWorkers: 2, Threshold: 10 * time.Millisecond, IdleTimeout: 30 * time.Millisecond}
	pools := NewPools(opts, newTestLogger())
	defer pools.Close()

	block := make(chan struct{})
	var started sync.WaitGroup
	for i := 0; i < 6; i++ {
		started.Add(1)
		require.NoError(t, pools.Submit("burst", func() {
			started.Done()
			<-block
		}))
	}
	started.Wait()

	assert.Equal(t, 6, pools.Stats("burst").Workers, "busy group should start extra workers")

	close(block)

	require.Eventually(t, func() bool {
		return pools.Stats("burst").Workers == opts.MinWorkers
	}, 2*time.Second, 10*time.Millisecond)

	// Stays at the floor
	time.Sleep(100 * time.Millisecond)
	stats := pools.Stats("burst")
	assert.Equal(t, opts.MinWorkers, stats.Workers)
	assert.Equal(t, opts.MinWorkers, stats.Idle)
}

func TestPools_GroupsAreIndependent(t *testing.T) {
	pools := NewPools(PoolOptions{MinWorkers: 1, Threshold: time.Second, IdleTimeout: time.Second}, newTestLogger())
	defer pools.Close()

	block := make(chan struct{})
	defer close(block)
	require.NoError(t, pools.Submit("slow", func() { <-block }))

	done := make(chan struct{})
	start := time.Now()
	require.NoError(t, pools.Submit("fast", func() { close(done) }))
	<-done

	assert.Less(t, time.Since(start), 500*time.Millisecond, "a busy group must not delay another group")
}

func TestPools_RecoversPanics(t *testing.T) {
	pools := NewPools(PoolOptions{MinWorkers: 1, Threshold: 20 * time.Millisecond, IdleTimeout: time.Second}, newTestLogger())
	defer pools.Close()

	require.NoError(t, pools.Submit("g", func() { panic("boom") }))

	done := make(chan struct{})
	require.NoError(t, pools.Submit("g", func() { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("action after panic never ran")
	}
}

func TestPools_SubmitAfterClose(t *testing.T) {
	pools := NewPools(PoolOptions{MinWorkers: 1}, newTestLogger())
	pools.Close()
	pools.Close()

	err := pools.Submit("g", func() {})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPools_NilAction(t *testing.T) {
	pools := NewPools(PoolOptions{MinWorkers: 1}, newTestLogger())
	defer pools.Close()

	assert.Error(t, pools.Submit("g", nil))
}
