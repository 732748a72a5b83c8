package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	cmcderrors "github.com/qualabs/cmcd-toolkit/errors"
	"github.com/qualabs/cmcd-toolkit/metric"
)

type testWork struct {
	id    int
	delay time.Duration
	fail  bool
}

func TestNewPool(t *testing.T) {
	processor := func(_ context.Context, _ testWork) error { return nil }

	pool := NewPool(5, 100, processor)
	if pool.workers != 5 {
		t.Errorf("Expected 5 workers, got %d", pool.workers)
	}
	if pool.queueSize != 100 {
		t.Errorf("Expected queue size 100, got %d", pool.queueSize)
	}

	pool = NewPool(0, 0, processor)
	if pool.workers != defaultWorkers {
		t.Errorf("Expected default %d workers, got %d", defaultWorkers, pool.workers)
	}
	if pool.queueSize != defaultQueueSize {
		t.Errorf("Expected default queue size %d, got %d", defaultQueueSize, pool.queueSize)
	}
}

func TestNewPool_NilProcessor(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected panic for nil processor")
		}
	}()
	NewPool[testWork](5, 100, nil)
}

func TestPool_StartStopDrainsQueue(t *testing.T) {
	var processedCount atomic.Int64
	processor := func(_ context.Context, w testWork) error {
		time.Sleep(w.delay)
		processedCount.Add(1)
		return nil
	}

	pool := NewPool(2, 10, processor)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	if err := pool.Start(context.Background()); !errors.Is(err, ErrPoolAlreadyStarted) {
		t.Errorf("Expected ErrPoolAlreadyStarted, got %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := pool.Submit(testWork{id: i, delay: 10 * time.Millisecond}); err != nil {
			t.Errorf("Failed to submit work %d: %v", i, err)
		}
	}

	if err := pool.Stop(5 * time.Second); err != nil {
		t.Fatalf("Failed to stop pool: %v", err)
	}
	if got := processedCount.Load(); got != 5 {
		t.Errorf("Expected 5 processed items, got %d", got)
	}

	if err := pool.Submit(testWork{id: 999}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Expected ErrPoolStopped, got %v", err)
	}
	if err := pool.Stop(time.Second); err != nil {
		t.Errorf("Second stop should be a no-op, got %v", err)
	}
}

func TestPool_SubmitBeforeStart(t *testing.T) {
	pool := NewPool(1, 1, func(_ context.Context, _ testWork) error { return nil })
	if err := pool.Submit(testWork{}); !errors.Is(err, ErrPoolNotStarted) {
		t.Errorf("Expected ErrPoolNotStarted, got %v", err)
	}
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	processor := func(_ context.Context, _ testWork) error {
		<-release
		return nil
	}

	pool := NewPool(1, 2, processor)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	defer pool.Stop(5 * time.Second)
	defer close(release)

	var dropped int
	var lastErr error
	for i := 0; i < 5; i++ {
		if err := pool.Submit(testWork{id: i}); err != nil {
			dropped++
			lastErr = err
		}
	}

	if dropped == 0 {
		t.Fatal("Expected some work to be dropped due to full queue")
	}
	if !errors.Is(lastErr, ErrQueueFull) || !cmcderrors.IsTransient(lastErr) {
		t.Errorf("Expected transient ErrQueueFull, got %v", lastErr)
	}
	if stats := pool.Stats(); stats.Dropped != int64(dropped) {
		t.Errorf("Expected %d dropped in stats, got %d", dropped, stats.Dropped)
	}
}

func TestPool_ProcessingErrors(t *testing.T) {
	processor := func(_ context.Context, w testWork) error {
		if w.fail {
			return errors.New("simulated error")
		}
		return nil
	}

	registry := metric.NewMetricsRegistry()
	pool := NewPool(2, 10, processor, WithMetrics[testWork](registry.CoreMetrics(), "test"))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}

	for i := 0; i < 10; i++ {
		if err := pool.Submit(testWork{id: i, fail: i%2 == 0}); err != nil {
			t.Errorf("Failed to submit work %d: %v", i, err)
		}
	}
	if err := pool.Stop(5 * time.Second); err != nil {
		t.Fatalf("Failed to stop pool: %v", err)
	}

	stats := pool.Stats()
	if stats.Processed != 10 {
		t.Errorf("Expected 10 processed items, got %d", stats.Processed)
	}
	if stats.Failed != 5 {
		t.Errorf("Expected 5 failed items, got %d", stats.Failed)
	}
	if stats.Submitted != 10 {
		t.Errorf("Expected 10 submitted items, got %d", stats.Submitted)
	}
}

func TestPool_ContextCancellation(t *testing.T) {
	started := make(chan struct{}, 10)
	processor := func(ctx context.Context, _ testWork) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}

	pool := NewPool(1, 10, processor)
	ctx, cancel := context.WithCancel(context.Background())
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	for i := 0; i < 3; i++ {
		_ = pool.Submit(testWork{id: i})
	}

	<-started
	cancel()

	if err := pool.Stop(5 * time.Second); err != nil {
		t.Fatalf("Failed to stop pool: %v", err)
	}
	if stats := pool.Stats(); stats.Failed != stats.Processed {
		t.Errorf("Expected every processed item to fail with cancellation, got %+v", stats)
	}
}

func TestPool_StopTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	pool := NewPool(1, 1, func(_ context.Context, _ testWork) error {
		<-release
		return nil
	})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	_ = pool.Submit(testWork{})

	time.Sleep(10 * time.Millisecond)
	if err := pool.Stop(20 * time.Millisecond); !errors.Is(err, ErrStopTimeout) {
		t.Errorf("Expected ErrStopTimeout, got %v", err)
	}
}
