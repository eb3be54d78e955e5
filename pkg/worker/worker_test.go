package worker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerManager_ProcessesJobs(t *testing.T) {
	w := NewWorkerManager(10, 3, nil)

	var (
		wg  sync.WaitGroup
		sum atomic.Int64
	)
	w.SetWorker(func(_ int, job interface{}) {
		sum.Add(int64(job.(int)))
		wg.Done()
	})

	done := make(chan error, 1)
	go func() { done <- w.Start() }()

	for i := 1; i <= 20; i++ {
		wg.Add(1)
		require.NoError(t, w.Enqueue(i))
	}
	wg.Wait()
	assert.Equal(t, int64(210), sum.Load())

	w.Exit()
	w.Exit()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("workers did not stop")
	}

	assert.ErrorIs(t, w.Enqueue(1), ErrStopped)
}

func TestWorkerManager_BoundsConcurrency(t *testing.T) {
	const size = 2
	w := NewWorkerManager(10, size, nil)

	var (
		running atomic.Int32
		peak    atomic.Int32
		wg      sync.WaitGroup
	)
	w.SetWorker(func(_ int, _ interface{}) {
		defer wg.Done()
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
	})
	go w.Start()
	defer w.Exit()

	for i := 0; i < 8; i++ {
		wg.Add(1)
		require.NoError(t, w.Enqueue(i))
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(size))
	assert.Equal(t, size, w.Size())
}
