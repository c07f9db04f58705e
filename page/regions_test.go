package page_test

import (
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/pageheap/memutils"
	"github.com/vkngwrapper/pageheap/page"
)

func readyScenario(t *testing.T) *page.Allocator {
	_, alloc := readyAllocator(t)

	first, err := alloc.Alloc(10)
	require.NoError(t, err)
	_, err = alloc.Alloc(10)
	require.NoError(t, err)
	alloc.Free(first)

	return alloc
}

func TestStatistics(t *testing.T) {
	alloc := readyScenario(t)

	var stats memutils.Statistics
	alloc.AddStatistics(&stats)

	require.Equal(t, memutils.Statistics{
		PageCount:       1,
		AllocationCount: 1,
		PageBytes:       65536,
		AllocationBytes: 12,
	}, stats)
}

func TestDetailedStatistics(t *testing.T) {
	alloc := readyScenario(t)

	var stats memutils.DetailedStatistics
	stats.Clear()
	alloc.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			PageCount:       1,
			AllocationCount: 1,
			PageBytes:       65536,
			AllocationBytes: 12,
		},
		UnusedRangeCount:   2,
		UnusedBytes:        65522,
		AllocationSizeMin:  12,
		AllocationSizeMax:  12,
		UnusedRangeSizeMin: 12,
		UnusedRangeSizeMax: 65510,
	}, stats)
}

func TestDetailedStatisticsMergesAdjacentFreeBlocks(t *testing.T) {
	_, alloc := readyAllocator(t)

	a, err := alloc.Alloc(10)
	require.NoError(t, err)
	b, err := alloc.Alloc(10)
	require.NoError(t, err)
	alloc.Free(b)
	alloc.Free(a)

	var stats memutils.DetailedStatistics
	stats.Clear()
	alloc.AddDetailedStatistics(&stats)

	require.Equal(t, 1, stats.UnusedRangeCount)
	require.Equal(t, page.TerminatorOffset, stats.UnusedRangeSizeMax)
	require.Equal(t, 1, alloc.FreeRegionsCount())
}

func TestVisitAllRegionsStopsOnError(t *testing.T) {
	alloc := readyScenario(t)

	stop := errors.New("stop")
	var visited int
	err := alloc.VisitAllRegions(func(offset int, size int, free bool) error {
		visited++
		if !free {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 2, visited)
}

func TestBlockJsonData(t *testing.T) {
	alloc := readyScenario(t)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	alloc.BlockJsonData(&obj)
	alloc.PrintDetailedMap(&obj)
	obj.End()

	require.NoError(t, writer.Error())
	require.JSONEq(t, `{
		"TotalBytes": 65536,
		"UnusedBytes": 65522,
		"Allocations": 1,
		"UnusedRanges": 2,
		"HighWaterMark": 24,
		"FoldedBytes": 0,
		"Blocks": [
			{"Offset": 0, "Size": 12, "Type": "FREE"},
			{"Offset": 12, "Size": 12, "Type": "USED"},
			{"Offset": 24, "Size": 65510, "Type": "FREE"}
		]
	}`, string(writer.Bytes()))
}

func TestFoldedBytes(t *testing.T) {
	_, alloc := readyAllocator(t)

	// 65480 payload bytes need a 65482 byte block, leaving 52 bytes that are too small to split off
	big, err := alloc.Alloc(65480)
	require.NoError(t, err)
	require.Equal(t, page.TerminatorOffset, alloc.BlockSize(big))
	require.Equal(t, 52, alloc.FoldedBytes())

	alloc.Free(big)

	small, err := alloc.Alloc(10)
	require.NoError(t, err)
	require.Equal(t, 52, alloc.FoldedBytes())

	var stats memutils.DetailedStatistics
	stats.Clear()
	alloc.AddDetailedStatistics(&stats)
	require.Equal(t, 52, stats.FoldedBytes)
	require.Equal(t, page.TerminatorOffset-12, stats.UnusedBytes)
	require.Zero(t, stats.Fragmentation())

	alloc.Free(small)
	alloc.Init(make([]byte, page.PageSize))
	require.Zero(t, alloc.FoldedBytes())
}

func TestFragmentation(t *testing.T) {
	alloc := readyScenario(t)

	var stats memutils.DetailedStatistics
	stats.Clear()
	alloc.AddDetailedStatistics(&stats)

	require.InDelta(t, 12.0/65522.0, stats.Fragmentation(), 1e-9)
}
