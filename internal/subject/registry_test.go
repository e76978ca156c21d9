// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package subject

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nerrors "nlcube/cli/internal/errors"
)

func newTestRegistry(t *testing.T, size int) (*Registry, *fakeDriver) {
	t.Helper()
	d := newFakeDriver()
	r := New(d, Options{
		PoolSize:       size,
		AcquireTimeout: 200 * time.Millisecond,
		OpenBackoff:    time.Millisecond,
		RemoveTimeout:  100 * time.Millisecond,
	}, nil, nil)
	_, err := r.Register(context.Background(), "sales")
	require.NoError(t, err)
	return r, d
}

func TestRegisterValidation(t *testing.T) {
	r, d := newTestRegistry(t, 2)

	s, err := r.Get("sales")
	require.NoError(t, err)
	assert.Equal(t, "/fake/sales", s.StoragePath)
	assert.True(t, s.Attached)
	assert.True(t, d.created["sales"])

	_, err = r.Register(context.Background(), "sales")
	assert.Equal(t, nerrors.AlreadyExists, nerrors.KindOf(err))

	for _, name := range []string{"", "my-db", "a b", "x;DROP", string(make([]byte, 65))} {
		_, err = r.Register(context.Background(), name)
		assert.Equal(t, nerrors.InvalidName, nerrors.KindOf(err), "name %q", name)
	}

	_, err = r.Adopt(context.Background(), "sales")
	assert.NoError(t, err)
	_, err = r.Adopt(context.Background(), "hr")
	require.NoError(t, err)
	assert.False(t, d.created["hr"])
	assert.Equal(t, []string{"hr", "sales"}, r.List())
}

func TestAcquireUnknownSubject(t *testing.T) {
	r, _ := newTestRegistry(t, 1)
	_, err := r.Acquire(context.Background(), "missing")
	assert.Equal(t, nerrors.UnknownSubject, nerrors.KindOf(err))
}

func TestAcquireReleaseRestoresFree(t *testing.T) {
	r, d := newTestRegistry(t, 3)
	ctx := context.Background()

	before, err := r.Stats("sales")
	require.NoError(t, err)
	assert.Equal(t, 3, before.Free)

	c, err := r.Acquire(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, InUse, c.State())
	assert.Equal(t, "sales", c.Subject())

	mid, _ := r.Stats("sales")
	assert.Equal(t, 2, mid.Free)
	assert.Equal(t, 1, mid.InUse)

	r.Release(c)
	after, _ := r.Stats("sales")
	assert.Equal(t, before.Free, after.Free)
	assert.Equal(t, 1, after.Idle)
	assert.Equal(t, Idle, c.State())

	// The idle connection is reused rather than reopened.
	c2, err := r.Acquire(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, c.ID(), c2.ID())
	assert.Equal(t, int32(1), d.opens.Load())

	// Double release is ignored.
	r.Release(c2)
	r.Release(c2)
	final, _ := r.Stats("sales")
	assert.Equal(t, 0, final.InUse)
	assert.Equal(t, 1, final.Idle)
}

func TestAcquireNeverExceedsPoolSize(t *testing.T) {
	const size, callers = 3, 12
	r, _ := newTestRegistry(t, size)
	r.opts.AcquireTimeout = 2 * time.Second

	var (
		active, peak atomic.Int32
		wg           sync.WaitGroup
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := r.Acquire(context.Background(), "sales")
			if !assert.NoError(t, err) {
				return
			}
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			r.Release(c)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(size))
	st, _ := r.Stats("sales")
	assert.Equal(t, 0, st.InUse)
	assert.Equal(t, 0, st.Waiting)
	assert.Equal(t, size, st.Free)
}

func TestAcquireTimesOutWithPoolExhausted(t *testing.T) {
	r, _ := newTestRegistry(t, 1)
	held, err := r.Acquire(context.Background(), "sales")
	require.NoError(t, err)

	start := time.Now()
	_, err = r.Acquire(context.Background(), "sales")
	assert.Equal(t, nerrors.PoolExhausted, nerrors.KindOf(err))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)

	st, _ := r.Stats("sales")
	assert.Equal(t, 0, st.Waiting)

	r.Release(held)
	c, err := r.Acquire(context.Background(), "sales")
	require.NoError(t, err)
	r.Release(c)
}

func TestAcquireCanceled(t *testing.T) {
	r, _ := newTestRegistry(t, 1)
	held, err := r.Acquire(context.Background(), "sales")
	require.NoError(t, err)
	defer r.Release(held)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = r.Acquire(ctx, "sales")
	assert.Equal(t, nerrors.Canceled, nerrors.KindOf(err))
}

func TestWaitersServedInArrivalOrder(t *testing.T) {
	r, _ := newTestRegistry(t, 1)
	r.opts.AcquireTimeout = 2 * time.Second
	held, err := r.Acquire(context.Background(), "sales")
	require.NoError(t, err)

	order := make(chan int, 3)
	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := r.Acquire(context.Background(), "sales")
			if !assert.NoError(t, err) {
				return
			}
			order <- i
			r.Release(c)
		}(i)
		require.Eventually(t, func() bool {
			st, _ := r.Stats("sales")
			return st.Waiting == i
		}, time.Second, time.Millisecond)
	}

	r.Release(held)
	wg.Wait()
	close(order)

	var got []int
	for i := range order {
		got = append(got, i)
	}
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestBrokenConnectionIsReplaced(t *testing.T) {
	r, d := newTestRegistry(t, 1)
	ctx := context.Background()

	c, err := r.Acquire(ctx, "sales")
	require.NoError(t, err)
	c.Handle().(*fakeHandle).pingFail.Store(true)
	r.Release(c)

	assert.Equal(t, Broken, c.State())
	assert.True(t, c.Handle().(*fakeHandle).closed.Load())
	st, _ := r.Stats("sales")
	assert.Equal(t, 0, st.Idle)
	assert.Equal(t, 1, st.Free)

	c2, err := r.Acquire(ctx, "sales")
	require.NoError(t, err)
	assert.NotEqual(t, c.ID(), c2.ID())
	assert.Equal(t, int32(2), d.opens.Load())

	r.MarkBroken(c2)
	r.Release(c2)
	assert.Equal(t, int32(2), d.closes.Load())
}

func TestOpenRetriesThenFails(t *testing.T) {
	r, d := newTestRegistry(t, 1)
	d.failOpen.Store(2)

	c, err := r.Acquire(context.Background(), "sales")
	require.NoError(t, err)
	assert.Equal(t, int32(3), d.opens.Load())
	r.Release(c)

	r2, d2 := newTestRegistry(t, 1)
	d2.failOpen.Store(10)
	_, err = r2.Acquire(context.Background(), "sales")
	assert.Equal(t, nerrors.ConnectionError, nerrors.KindOf(err))

	st, _ := r2.Stats("sales")
	assert.Equal(t, 0, st.Opening)
	assert.Equal(t, 1, st.Free)
}

func TestRemoveBusyThenDrains(t *testing.T) {
	r, d := newTestRegistry(t, 2)
	ctx := context.Background()

	held, err := r.Acquire(ctx, "sales")
	require.NoError(t, err)
	idle, err := r.Acquire(ctx, "sales")
	require.NoError(t, err)
	r.Release(idle)

	err = r.Remove(ctx, "sales")
	assert.Equal(t, nerrors.Busy, nerrors.KindOf(err))

	// Still serving after the failed removal.
	c, err := r.Acquire(ctx, "sales")
	require.NoError(t, err)
	r.Release(c)

	done := make(chan error, 1)
	r.opts.RemoveTimeout = 2 * time.Second
	go func() { done <- r.Remove(ctx, "sales") }()

	require.Eventually(t, func() bool {
		c, err := r.Acquire(ctx, "sales")
		if err == nil {
			r.Release(c)
		}
		return nerrors.Is(err, nerrors.Busy)
	}, time.Second, time.Millisecond)

	r.Release(held)
	require.NoError(t, <-done)

	_, err = r.Get("sales")
	assert.Equal(t, nerrors.UnknownSubject, nerrors.KindOf(err))
	assert.Equal(t, int32(2), d.closes.Load())
	assert.Empty(t, r.List())
}

func TestCloseRemovesAll(t *testing.T) {
	r, _ := newTestRegistry(t, 1)
	_, err := r.Register(context.Background(), "hr")
	require.NoError(t, err)
	c, err := r.Acquire(context.Background(), "hr")
	require.NoError(t, err)
	r.Release(c)

	require.NoError(t, r.Close(context.Background()))
	assert.Empty(t, r.List())
}
