package page_test

import (
	"encoding/binary"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/pageheap/page"
)

func readyAllocator(t *testing.T) ([]byte, *page.Allocator) {
	t.Helper()

	buf := make([]byte, page.PageSize)
	alloc := page.NewAllocator()
	alloc.Init(buf)
	require.NoError(t, alloc.Validate())

	return buf, alloc
}

func headerAt(buf []byte, offset int) uint16 {
	return binary.LittleEndian.Uint16(buf[offset:])
}

func requireAssertionPanic(t *testing.T, f func()) {
	t.Helper()

	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")

		err, isErr := r.(error)
		require.True(t, isErr, "expected the panic value to be an error, got %v", r)
		require.True(t, errors.IsAssertionFailure(err), "expected an assertion failure, got %+v", err)
	}()

	f()
}

func requirePattern(t *testing.T, data []byte, pattern uint8) {
	t.Helper()

	for i, b := range data {
		if b != pattern {
			require.Failf(t, "unexpected byte", "byte %d is %#02x, expected %#02x", i, b, pattern)
		}
	}
}
