package handles_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/pageheap/handles"
	"github.com/vkngwrapper/pageheap/memutils"
	"github.com/vkngwrapper/pageheap/page"
)

func requireAssertionPanic(t *testing.T, f func()) {
	t.Helper()

	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")

		err, isErr := r.(error)
		require.True(t, isErr)
		require.True(t, errors.IsAssertionFailure(err))
	}()

	f()
}

func TestNewPool(t *testing.T) {
	pool, err := handles.NewPool(0)
	require.NoError(t, err)
	require.Equal(t, handles.DefaultCapacity, pool.Cap())
	require.Equal(t, 0, pool.Len())

	_, err = handles.NewPool(-1)
	require.Error(t, err)
}

func TestAcquireRelease(t *testing.T) {
	pool, err := handles.NewPool(4)
	require.NoError(t, err)

	first, err := pool.Acquire(2)
	require.NoError(t, err)
	require.NotEqual(t, handles.NoHandle, first)

	second, err := pool.Acquire(14)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	require.Equal(t, 2, pool.Len())
	require.Equal(t, page.ShortPtr(2), pool.Value(first))
	require.Equal(t, page.ShortPtr(14), pool.Value(second))
	require.True(t, pool.IsPinned(2))
	require.True(t, pool.IsPinned(14))
	require.False(t, pool.IsPinned(26))

	pool.Release(first)
	require.Equal(t, 1, pool.Len())
	require.False(t, pool.IsPinned(2))

	// The released slot is reused first
	third, err := pool.Acquire(26)
	require.NoError(t, err)
	require.Equal(t, first, third)
	require.Equal(t, page.ShortPtr(26), pool.Value(third))
}

func TestExhaustion(t *testing.T) {
	pool, err := handles.NewPool(3)
	require.NoError(t, err)

	var acquired []handles.Handle
	for i := 0; i < 3; i++ {
		handle, err := pool.Acquire(page.ShortPtr(2 + 12*i))
		require.NoError(t, err)
		acquired = append(acquired, handle)
	}

	_, err = pool.Acquire(100)
	require.ErrorIs(t, err, memutils.ErrOutOfHandles)

	pool.Release(acquired[1])
	_, err = pool.Acquire(100)
	require.NoError(t, err)
}

func TestPinCounts(t *testing.T) {
	pool, err := handles.NewPool(8)
	require.NoError(t, err)

	a, err := pool.Acquire(40)
	require.NoError(t, err)
	b, err := pool.Acquire(40)
	require.NoError(t, err)
	require.Equal(t, 2, pool.PinCount(40))

	pool.Set(b, 52)
	require.Equal(t, 1, pool.PinCount(40))
	require.Equal(t, 1, pool.PinCount(52))

	visited := map[page.ShortPtr]int{}
	pool.VisitPinned(func(value page.ShortPtr, count int) {
		visited[value] = count
	})
	require.Equal(t, map[page.ShortPtr]int{40: 1, 52: 1}, visited)

	pool.Release(a)
	require.Equal(t, 0, pool.PinCount(40))
	require.False(t, pool.IsPinned(40))

	pool.Clear()
	require.Equal(t, 0, pool.Len())
	require.False(t, pool.IsPinned(52))
}

func TestReleaseInvalidHandle(t *testing.T) {
	pool, err := handles.NewPool(2)
	require.NoError(t, err)

	handle, err := pool.Acquire(2)
	require.NoError(t, err)
	pool.Release(handle)

	requireAssertionPanic(t, func() { pool.Release(handle) })
	requireAssertionPanic(t, func() { pool.Release(handles.NoHandle) })
	requireAssertionPanic(t, func() { pool.Release(handles.Handle(3)) })
	requireAssertionPanic(t, func() { pool.Value(handle) })
}

func TestClearThenAcquire(t *testing.T) {
	pool, err := handles.NewPool(2)
	require.NoError(t, err)

	first, err := pool.Acquire(2)
	require.NoError(t, err)
	_, err = pool.Acquire(2)
	require.NoError(t, err)
	require.Equal(t, 2, pool.PinCount(2))

	pool.Clear()
	require.Equal(t, 0, pool.PinCount(2))
	requireAssertionPanic(t, func() { pool.Release(first) })

	// Every slot is available again, starting from the first one
	again, err := pool.Acquire(14)
	require.NoError(t, err)
	require.Equal(t, first, again)
	require.Equal(t, 1, pool.PinCount(14))
	require.False(t, pool.IsPinned(2))

	_, err = pool.Acquire(14)
	require.NoError(t, err)
	require.Equal(t, 2, pool.PinCount(14))

	_, err = pool.Acquire(26)
	require.ErrorIs(t, err, memutils.ErrOutOfHandles)
}
