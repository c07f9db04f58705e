package page

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/pageheap/memutils"
)

// VisitAllRegions calls handleBlock once for every block in the chain, in page order. Adjacent free
// blocks that have not been coalesced yet are reported separately. Iteration stops at the first
// error returned by handleBlock, and that error is returned.
//
// handleBlock must not call Alloc or Free.
func (a *Allocator) VisitAllRegions(handleBlock func(offset int, size int, free bool) error) error {
	a.checkInitialized()

	for offset := 0; offset < TerminatorOffset; {
		h := readHeader(a.data, offset)
		if h.IsTerminator() || h.Size() < HeaderSize {
			break
		}

		err := handleBlock(offset, h.Size(), !h.Used())
		if err != nil {
			return err
		}

		offset += h.Size()
	}

	return nil
}

// visitFreeRanges calls handleRange once for each run of adjacent free blocks
func (a *Allocator) visitFreeRanges(handleRange func(offset int, size int)) {
	rangeStart, rangeSize := -1, 0

	_ = a.VisitAllRegions(func(offset int, size int, free bool) error {
		if !free {
			if rangeStart >= 0 {
				handleRange(rangeStart, rangeSize)
				rangeStart = -1
			}
			return nil
		}

		if rangeStart < 0 {
			rangeStart, rangeSize = offset, 0
		}
		rangeSize += size
		return nil
	})

	if rangeStart >= 0 {
		handleRange(rangeStart, rangeSize)
	}
}

// FreeRegionsCount returns the number of distinct regions of free memory. Adjacent free blocks
// count as a single region even before they have been coalesced.
func (a *Allocator) FreeRegionsCount() int {
	var count int
	a.visitFreeRanges(func(offset int, size int) {
		count++
	})
	return count
}

// AddStatistics sums this page's allocation statistics into stats
func (a *Allocator) AddStatistics(stats *memutils.Statistics) {
	stats.PageCount++
	stats.AllocationCount += a.allocCount
	stats.PageBytes += PageSize
	stats.AllocationBytes += a.UsedBytes()
	stats.FoldedBytes += a.foldedBytes
}

// AddDetailedStatistics sums this page's allocation statistics into stats, including the size of
// every allocation and every free range
func (a *Allocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.PageCount++
	stats.PageBytes += PageSize
	stats.FoldedBytes += a.foldedBytes

	_ = a.VisitAllRegions(func(offset int, size int, free bool) error {
		if !free {
			stats.AddAllocation(size)
		}
		return nil
	})

	a.visitFreeRanges(func(offset int, size int) {
		stats.AddUnusedRange(size)
	})
}

// BlockJsonData populates a json object with summary information about this page
func (a *Allocator) BlockJsonData(json *jwriter.ObjectState) {
	json.Name("TotalBytes").Int(PageSize)
	json.Name("UnusedBytes").Int(a.SumFreeSize())
	json.Name("Allocations").Int(a.AllocationCount())
	json.Name("UnusedRanges").Int(a.FreeRegionsCount())
	json.Name("HighWaterMark").Int(a.HighWaterMark())
	json.Name("FoldedBytes").Int(a.foldedBytes)
}

// PrintDetailedMap adds a "Blocks" array to json listing every block in the chain
func (a *Allocator) PrintDetailedMap(json *jwriter.ObjectState) {
	arrayState := json.Name("Blocks").Array()
	defer arrayState.End()

	_ = a.VisitAllRegions(func(offset int, size int, free bool) error {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(offset)
		obj.Name("Size").Int(size)
		if free {
			obj.Name("Type").String("FREE")
		} else {
			obj.Name("Type").String("USED")
		}

		return nil
	})
}
