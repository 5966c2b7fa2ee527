package scheduler

import (
	"sync/atomic"
	"testing"

	"github.com/shoenig/test/must"
)

func TestWorkerPool_RunExecutesEveryTask(t *testing.T) {
	wp := newWorkerPool(2, 0)
	defer wp.Close()

	var count int64
	for i := 0; i < 10; i++ {
		wp.Run(func() { atomic.AddInt64(&count, 1) })
	}

	must.Eq(t, int64(10), count)
}

func TestWorkerPool_RunBlocksUntilTaskCompletes(t *testing.T) {
	wp := newWorkerPool(1, 0)
	defer wp.Close()

	done := false
	wp.Run(func() { done = true })
	must.True(t, done)
}

func TestWorkerPool_RestartsWorkerAfterTaskLimit(t *testing.T) {
	// size=1, maxTasksPerWorker=1 forces a restart after every task; this
	// only verifies every submitted task still completes across restarts,
	// since goroutine identity itself isn't observable from the outside.
	wp := newWorkerPool(1, 1)
	defer wp.Close()

	var count int64
	for i := 0; i < 5; i++ {
		wp.Run(func() { atomic.AddInt64(&count, 1) })
	}

	must.Eq(t, int64(5), count)
}
