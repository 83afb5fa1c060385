package concurrency

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type discardLogger struct{}

func (discardLogger) Errorf(string, ...interface{}) {}
func (discardLogger) Infof(string, ...interface{})  {}
func (discardLogger) Debugf(string, ...interface{}) {}

func newTestPool(t *testing.T, size int, opts ...PoolOption) *ThreadPool {
	t.Helper()
	opts = append([]PoolOption{WithLogger(discardLogger{})}, opts...)
	pool, err := NewThreadPool(size, opts...)
	if err != nil {
		t.Fatalf("NewThreadPool(%d) error = %v", size, err)
	}
	t.Cleanup(pool.Shutdown)
	return pool
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatalf("timed out after %v", timeout)
	}
}

func TestNewThreadPool_InvalidSize(t *testing.T) {
	before := runtime.NumGoroutine()

	for _, size := range []int{0, -1, -100} {
		pool, err := NewThreadPool(size, WithLogger(discardLogger{}))
		if !errors.Is(err, ErrInvalidPoolSize) {
			t.Errorf("NewThreadPool(%d) error = %v, want ErrInvalidPoolSize", size, err)
		}
		if pool != nil {
			t.Errorf("NewThreadPool(%d) returned a pool alongside an error", size)
		}
	}

	if after := runtime.NumGoroutine(); after > before {
		t.Errorf("goroutines grew from %d to %d on failed construction", before, after)
	}
}

func TestNewThreadPool_InvalidQueueCapacity(t *testing.T) {
	if _, err := NewThreadPool(1, WithLogger(discardLogger{}), WithQueueCapacity(-1)); err == nil {
		t.Error("NewThreadPool() with negative queue capacity should fail")
	}
}

func TestThreadPool_RunsExactlySizeJobsConcurrently(t *testing.T) {
	for _, size := range []int{1, 2, 4, 8} {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			pool := newTestPool(t, size)
			if pool.Size() != size {
				t.Fatalf("Size() = %d, want %d", pool.Size(), size)
			}

			release := make(chan struct{})
			releaseAll := sync.OnceFunc(func() { close(release) })
			t.Cleanup(releaseAll)
			var started sync.WaitGroup
			started.Add(size)
			for i := 0; i < size; i++ {
				if err := pool.Submit(func() {
					started.Done()
					<-release
				}); err != nil {
					t.Fatalf("Submit() error = %v", err)
				}
			}
			waitTimeout(t, &started, 2*time.Second)

			extra := make(chan struct{})
			if err := pool.Submit(func() { close(extra) }); err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
			select {
			case <-extra:
				t.Fatalf("job %d ran while all %d workers were busy", size+1, size)
			case <-time.After(50 * time.Millisecond):
			}

			stats := pool.Stats()
			if stats.Busy != int64(size) {
				t.Errorf("Stats().Busy = %d, want %d", stats.Busy, size)
			}
			if stats.Queued != 1 {
				t.Errorf("Stats().Queued = %d, want 1", stats.Queued)
			}

			releaseAll()
			select {
			case <-extra:
			case <-time.After(2 * time.Second):
				t.Fatal("queued job never ran after workers were released")
			}
		})
	}
}

func TestThreadPool_SubmitNil(t *testing.T) {
	pool := newTestPool(t, 1)
	if err := pool.Submit(nil); !errors.Is(err, ErrNilJob) {
		t.Errorf("Submit(nil) error = %v, want ErrNilJob", err)
	}
}

func TestThreadPool_ShutdownRunsEveryQueuedJob(t *testing.T) {
	pool := newTestPool(t, 2)

	gate := make(chan struct{})
	for i := 0; i < 2; i++ {
		_ = pool.Submit(func() { <-gate })
	}

	const jobs = 100
	var ran [jobs]int32
	for i := 0; i < jobs; i++ {
		if err := pool.Submit(func() { atomic.AddInt32(&ran[i], 1) }); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	shutdownDone := make(chan struct{})
	go func() {
		pool.Shutdown()
		close(shutdownDone)
	}()

	deadline := time.Now().Add(time.Second)
	for !pool.IsShutdown() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !pool.IsShutdown() {
		t.Fatal("shutdown was not initiated")
	}
	close(gate)

	select {
	case <-shutdownDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown() did not return")
	}

	for i := range ran {
		if n := atomic.LoadInt32(&ran[i]); n != 1 {
			t.Errorf("job %d ran %d times, want 1", i, n)
		}
	}
	if stats := pool.Stats(); stats.Completed != jobs+2 {
		t.Errorf("Stats().Completed = %d, want %d", stats.Completed, jobs+2)
	}
}

func TestThreadPool_SubmitAfterShutdown(t *testing.T) {
	pool := newTestPool(t, 2)
	pool.Shutdown()

	var ran int32
	err := pool.Submit(func() { atomic.StoreInt32(&ran, 1) })
	if !errors.Is(err, ErrPoolShuttingDown) {
		t.Fatalf("Submit() after Shutdown() error = %v, want ErrPoolShuttingDown", err)
	}

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&ran) != 0 {
		t.Error("job submitted after shutdown was executed")
	}
	if stats := pool.Stats(); stats.Rejected != 1 || stats.Submitted != 0 {
		t.Errorf("Stats() = %+v, want Rejected=1 Submitted=0", stats)
	}
}

func TestThreadPool_PanicIsIsolated(t *testing.T) {
	var (
		mu     sync.Mutex
		panics []*JobPanicError
	)
	pool := newTestPool(t, 1, WithJobObserver(func(r JobResult) {
		if r.Panic != nil {
			mu.Lock()
			panics = append(panics, r.Panic)
			mu.Unlock()
		}
	}))

	boom := errors.New("boom")
	if err := pool.SubmitNamed("bad-job", func() { panic(boom) }); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	var wg sync.WaitGroup
	var completed int32
	wg.Add(10)
	for i := 0; i < 10; i++ {
		_ = pool.Submit(func() {
			atomic.AddInt32(&completed, 1)
			wg.Done()
		})
	}
	waitTimeout(t, &wg, 2*time.Second)

	if got := atomic.LoadInt32(&completed); got != 10 {
		t.Errorf("completed = %d, want 10", got)
	}

	stats := pool.Stats()
	if stats.Panicked != 1 {
		t.Errorf("Stats().Panicked = %d, want 1", stats.Panicked)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(panics) != 1 {
		t.Fatalf("observer saw %d panics, want 1", len(panics))
	}
	perr := panics[0]
	if perr.JobName != "bad-job" || perr.WorkerID != 0 {
		t.Errorf("panic = %+v, want job bad-job on worker 0", perr)
	}
	if !errors.Is(perr, boom) {
		t.Errorf("errors.Is(panic, boom) = false, want true")
	}
	if len(perr.Stack) == 0 {
		t.Error("panic error should carry a stack trace")
	}
}

func TestThreadPool_ShutdownIsIdempotent(t *testing.T) {
	pool := newTestPool(t, 3)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Shutdown()
		}()
	}
	waitTimeout(t, &wg, 2*time.Second)

	pool.Shutdown()
	if err := pool.ShutdownContext(context.Background()); err != nil {
		t.Errorf("ShutdownContext() after Shutdown() error = %v", err)
	}

	select {
	case <-pool.Done():
	default:
		t.Error("Done() should be closed after Shutdown()")
	}
}

func TestThreadPool_ShutdownContextTimeout(t *testing.T) {
	pool := newTestPool(t, 1)

	gate := make(chan struct{})
	_ = pool.Submit(func() { <-gate })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := pool.ShutdownContext(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ShutdownContext() error = %v, want DeadlineExceeded", err)
	}

	close(gate)
	select {
	case <-pool.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("workers were not joined after the stuck job returned")
	}
}

func TestThreadPool_BoundedQueueBlocksSubmit(t *testing.T) {
	pool := newTestPool(t, 1, WithQueueCapacity(1))

	gate := make(chan struct{})
	started := make(chan struct{})
	_ = pool.Submit(func() {
		close(started)
		<-gate
	})
	<-started
	_ = pool.Submit(func() {}) // fills the queue

	submitted := make(chan error, 1)
	go func() {
		submitted <- pool.Submit(func() {})
	}()

	select {
	case err := <-submitted:
		t.Fatalf("Submit() on full bounded queue returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	select {
	case err := <-submitted:
		if err != nil {
			t.Errorf("Submit() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Submit() stayed blocked after the queue drained")
	}
	if stats := pool.Stats(); stats.QueueCapacity != 1 {
		t.Errorf("Stats().QueueCapacity = %d, want 1", stats.QueueCapacity)
	}
}

func TestThreadPool_ObserverSeesNameAndTiming(t *testing.T) {
	results := make(chan JobResult, 1)
	pool := newTestPool(t, 1, WithJobObserver(func(r JobResult) { results <- r }))

	_ = pool.SubmitNamed("sleepy", func() { time.Sleep(20 * time.Millisecond) })

	select {
	case r := <-results:
		if r.Name != "sleepy" {
			t.Errorf("JobResult.Name = %q, want sleepy", r.Name)
		}
		if r.Elapsed < 20*time.Millisecond {
			t.Errorf("JobResult.Elapsed = %v, want >= 20ms", r.Elapsed)
		}
		if r.Panic != nil {
			t.Errorf("JobResult.Panic = %v, want nil", r.Panic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("observer was not called")
	}
}

func TestThreadPool_PanickingObserverIsIsolated(t *testing.T) {
	var seen int64
	pool := newTestPool(t, 1,
		WithJobObserver(func(r JobResult) {
			if r.Name == "bad" {
				panic("observer boom")
			}
		}),
		WithJobObserver(func(JobResult) { atomic.AddInt64(&seen, 1) }),
	)

	var ran int64
	_ = pool.SubmitNamed("bad", func() { atomic.AddInt64(&ran, 1) })
	for i := 0; i < 3; i++ {
		_ = pool.SubmitNamed("good", func() { atomic.AddInt64(&ran, 1) })
	}
	pool.Shutdown()

	if got := atomic.LoadInt64(&ran); got != 4 {
		t.Errorf("jobs run = %d, want 4", got)
	}
	if got := atomic.LoadInt64(&seen); got != 4 {
		t.Errorf("second observer calls = %d, want 4", got)
	}
	if st := pool.Stats(); st.Completed != 4 || st.Panicked != 0 {
		t.Errorf("Stats = %+v, want Completed=4 Panicked=0", st)
	}
}

func TestThreadPool_TwoWorkersFourJobs(t *testing.T) {
	pool := newTestPool(t, 2)

	var (
		counter int64
		mu      sync.Mutex
		order   []int
		wg      sync.WaitGroup
	)
	start := time.Now()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		_ = pool.Submit(func() {
			defer wg.Done()
			time.Sleep(100 * time.Millisecond)
			atomic.AddInt64(&counter, 1)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	waitTimeout(t, &wg, 2*time.Second)
	elapsed := time.Since(start)

	if elapsed < 190*time.Millisecond || elapsed > 380*time.Millisecond {
		t.Errorf("4 jobs of 100ms on 2 workers took %v, want about 200ms", elapsed)
	}
	if got := atomic.LoadInt64(&counter); got != 4 {
		t.Errorf("counter = %d, want 4", got)
	}

	mu.Lock()
	defer mu.Unlock()
	seen := make(map[int]bool)
	for _, id := range order {
		if seen[id] {
			t.Errorf("job %d completed twice", id)
		}
		seen[id] = true
	}
}

func TestThreadPool_ConcurrentSubmit(t *testing.T) {
	pool := newTestPool(t, 4)

	const producers = 10
	const jobsPerProducer = 100

	var counter int64
	var wg sync.WaitGroup
	wg.Add(producers * jobsPerProducer)
	for p := 0; p < producers; p++ {
		go func() {
			for j := 0; j < jobsPerProducer; j++ {
				if err := pool.Submit(func() {
					atomic.AddInt64(&counter, 1)
					wg.Done()
				}); err != nil {
					t.Errorf("Submit() error = %v", err)
					wg.Done()
				}
			}
		}()
	}
	waitTimeout(t, &wg, 5*time.Second)

	if got := atomic.LoadInt64(&counter); got != producers*jobsPerProducer {
		t.Errorf("counter = %d, want %d", got, producers*jobsPerProducer)
	}
}
