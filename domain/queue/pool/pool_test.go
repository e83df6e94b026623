package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_BoundsConcurrency(t *testing.T) {
	p := New(Config{MaxConcurrency: 2, RequestsPerMinute: 1000})

	var active int32
	var maxObserved int32
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Execute(context.Background(), func(ctx context.Context) error {
				n := atomic.AddInt32(&active, 1)
				for {
					max := atomic.LoadInt32(&maxObserved)
					if n <= max || atomic.CompareAndSwapInt32(&maxObserved, max, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&maxObserved), int32(2))
}

func TestExecute_StampsRequestWindowUpToLimit(t *testing.T) {
	p := New(Config{MaxConcurrency: 10, RequestsPerMinute: 2})

	ctx := context.Background()
	require.NoError(t, p.Execute(ctx, func(ctx context.Context) error { return nil }))
	require.NoError(t, p.Execute(ctx, func(ctx context.Context) error { return nil }))

	assert.Equal(t, 2, len(p.window))
}

func TestAwaitRateLimit_WaitsForOldestStampToAgeOut(t *testing.T) {
	p := New(Config{MaxConcurrency: 10, RequestsPerMinute: 1})
	base := time.Unix(1000, 0)
	p.now = func() time.Time { return base }

	require.NoError(t, p.awaitRateLimit(context.Background()))
	assert.Equal(t, 1, len(p.window))

	// Advance the clock past the 60s window so the next call is admitted
	// immediately instead of blocking on a real timer.
	p.now = func() time.Time { return base.Add(61 * time.Second) }
	require.NoError(t, p.awaitRateLimit(context.Background()))
	assert.Equal(t, 1, len(p.window))
}

func TestExecute_CancellationWhileQueuedReturnsWithoutStamping(t *testing.T) {
	p := New(Config{MaxConcurrency: 1, RequestsPerMinute: 1000})

	blockCh := make(chan struct{})
	go func() {
		_ = p.Execute(context.Background(), func(ctx context.Context) error {
			<-blockCh
			return nil
		})
	}()

	// Give the first execution a moment to acquire the permit.
	time.Sleep(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Execute(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	close(blockCh)
}

func TestReconfigure_TakesEffectWithoutInterruptingActive(t *testing.T) {
	p := New(Config{MaxConcurrency: 5, RequestsPerMinute: 100})

	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = p.Execute(context.Background(), func(ctx context.Context) error {
			close(done)
			<-release
			return nil
		})
	}()
	<-done

	p.Reconfigure(Config{MaxConcurrency: 1, RequestsPerMinute: 100})
	assert.Equal(t, 1, p.Active())

	close(release)
}
