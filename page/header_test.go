package page

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderEncoding(t *testing.T) {
	h := makeHeader(12, true)
	require.Equal(t, header(13), h)
	require.Equal(t, 12, h.Size())
	require.True(t, h.Used())
	require.False(t, h.IsTerminator())

	h = makeHeader(MaxBlockSize, false)
	require.Equal(t, header(0xFFFE), h)
	require.Equal(t, MaxBlockSize, h.Size())
	require.False(t, h.Used())

	require.True(t, header(0).IsTerminator())
}

func TestHeaderReadWrite(t *testing.T) {
	data := make([]byte, 4)
	writeHeader(data, 2, makeHeader(64, true))
	require.Equal(t, []byte{0, 0, 65, 0}, data)
	require.Equal(t, makeHeader(64, true), readHeader(data, 2))
}

func TestRoundUpBlockSize(t *testing.T) {
	testCases := []struct {
		size     int
		expected int
		ok       bool
	}{
		{size: 0, expected: 2, ok: true},
		{size: 1, expected: 4, ok: true},
		{size: 2, expected: 4, ok: true},
		{size: 10, expected: 12, ok: true},
		{size: 11, expected: 14, ok: true},
		{size: 65531, expected: 65534, ok: true},
		{size: 65532, expected: 65534, ok: true},
		{size: 65533, ok: false},
		{size: 65534, ok: false},
		{size: 65536, ok: false},
		{size: 1 << 20, ok: false},
		{size: -1, ok: false},
	}

	for _, testCase := range testCases {
		needed, ok := roundUpBlockSize(testCase.size)
		require.Equal(t, testCase.ok, ok, "size %d", testCase.size)
		if ok {
			require.Equal(t, testCase.expected, needed, "size %d", testCase.size)
		}
	}
}
