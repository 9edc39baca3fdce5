// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// WorkerPool Creation Tests
// =============================================================================

func TestWorkerPool_Create(t *testing.T) {
	pool := NewWorkerPool(4, nil)
	defer pool.Close()

	if pool.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", pool.Workers())
	}
	if !pool.IsRunning() {
		t.Error("IsRunning() = false after creation, want true")
	}
}

func TestWorkerPool_CreateDefaultWorkers(t *testing.T) {
	for _, n := range []int{0, -5} {
		pool := NewWorkerPool(n, nil)
		if got, want := pool.Workers(), runtime.GOMAXPROCS(0); got != want {
			t.Errorf("NewWorkerPool(%d).Workers() = %d, want %d", n, got, want)
		}
		pool.Close()
	}
}

// =============================================================================
// Submit Tests
// =============================================================================

func waitCount(t *testing.T, counter *atomic.Int64, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for counter.Load() < want {
		if time.Now().After(deadline) {
			t.Fatalf("counter = %d, want %d", counter.Load(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWorkerPool_Submit(t *testing.T) {
	pool := NewWorkerPool(4, nil)
	defer pool.Close()

	var counter atomic.Int64
	for range 100 {
		if !pool.Submit(func() { counter.Add(1) }) {
			t.Fatal("Submit() = false on running pool")
		}
	}
	waitCount(t, &counter, 100)
}

func TestWorkerPool_SubmitNil(t *testing.T) {
	pool := NewWorkerPool(2, nil)
	defer pool.Close()

	if pool.Submit(nil) {
		t.Error("Submit(nil) = true, want false")
	}
}

func TestWorkerPool_SubmitConcurrent(t *testing.T) {
	pool := NewWorkerPool(4, nil)
	defer pool.Close()

	var counter atomic.Int64
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				pool.Submit(func() { counter.Add(1) })
			}
		}()
	}
	wg.Wait()
	waitCount(t, &counter, 500)
}

func TestWorkerPool_SlowTaskDoesNotBlockOthers(t *testing.T) {
	pool := NewWorkerPool(2, nil)
	defer pool.Close()

	release := make(chan struct{})
	pool.Submit(func() { <-release })

	var counter atomic.Int64
	for range 20 {
		pool.Submit(func() { counter.Add(1) })
	}
	waitCount(t, &counter, 20)
	close(release)
}

// =============================================================================
// Panic and Close Tests
// =============================================================================

func TestWorkerPool_RecoversPanics(t *testing.T) {
	var mu sync.Mutex
	var recovered []any
	pool := NewWorkerPool(1, func(v any) {
		mu.Lock()
		recovered = append(recovered, v)
		mu.Unlock()
	})
	defer pool.Close()

	pool.Submit(func() { panic("boom") })

	var counter atomic.Int64
	pool.Submit(func() { counter.Add(1) })
	waitCount(t, &counter, 1)

	if pool.Panics() != 1 {
		t.Errorf("Panics() = %d, want 1", pool.Panics())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(recovered) != 1 {
		t.Errorf("recovered %d values, want 1", len(recovered))
	}
}

func TestWorkerPool_CloseRunsQueuedWork(t *testing.T) {
	pool := NewWorkerPool(2, nil)

	var counter atomic.Int64
	for range 16 {
		pool.Submit(func() {
			time.Sleep(time.Millisecond)
			counter.Add(1)
		})
	}
	pool.Close()

	if counter.Load() != 16 {
		t.Errorf("counter after Close = %d, want 16", counter.Load())
	}
	if pool.Executed() != 16 {
		t.Errorf("Executed() = %d, want 16", pool.Executed())
	}
}

func TestWorkerPool_CloseIdempotent(t *testing.T) {
	pool := NewWorkerPool(2, nil)
	pool.Close()
	pool.Close()

	if pool.IsRunning() {
		t.Error("IsRunning() = true after Close, want false")
	}
	if pool.Submit(func() {}) {
		t.Error("Submit() after Close = true, want false")
	}
}

func TestWorkerPool_NoGoroutineLeak(t *testing.T) {
	runtime.GC()
	time.Sleep(50 * time.Millisecond)
	baseline := runtime.NumGoroutine()

	for range 5 {
		pool := NewWorkerPool(4, nil)
		for range 100 {
			pool.Submit(func() {})
		}
		pool.Close()
	}

	runtime.GC()
	time.Sleep(100 * time.Millisecond)

	if final := runtime.NumGoroutine(); final > baseline+2 {
		t.Errorf("goroutine count: baseline=%d, final=%d (leak detected)", baseline, final)
	}
}
