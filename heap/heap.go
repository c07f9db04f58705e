package heap

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/pageheap/handles"
	"github.com/vkngwrapper/pageheap/memutils"
	"github.com/vkngwrapper/pageheap/page"
	"golang.org/x/exp/slog"
)

// Heap is the host runtime's view of a page: block allocation backed by a page.Allocator, a pool
// of handles that pin pointers, and a collect-and-retry policy for when the page is full.
//
// Heap is not safe for concurrent use.
type Heap struct {
	logger    *slog.Logger
	flags     CreateFlags
	collector Collector

	allocator *page.Allocator
	handles   *handles.Pool

	collecting  bool
	collections int
}

// Allocate reserves size payload bytes in the page. If the page is full and a Collector was
// provided, the collector runs once and the allocation is retried.
//
// The returned error wraps memutils.ErrPageFull or memutils.ErrSizeOutOfRange when the allocation
// cannot be satisfied, or the collector's error if it failed.
func (h *Heap) Allocate(size int) (page.ShortPtr, error) {
	if h.collecting {
		panic(errors.AssertionFailedf("Allocate was called from inside a collection"))
	}

	ptr, err := h.allocator.Alloc(size)
	if err == nil {
		h.validateOperation()
		return ptr, nil
	}

	if !errors.Is(err, memutils.ErrPageFull) || h.collector == nil || h.flags&CreateNoCollectRetry != 0 {
		h.logger.LogAttrs(context.Background(), slog.LevelDebug, "Heap::Allocate failed",
			slog.Int("size", size),
			slog.Any("error", err))
		return page.NullPtr, err
	}

	h.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Page full, running collection",
		slog.Int("size", size),
		slog.Int("freeBytes", h.allocator.SumFreeSize()),
		slog.Int("freeRegions", h.allocator.FreeRegionsCount()))

	err = h.collect(size)
	if err != nil {
		return page.NullPtr, errors.Wrapf(err, "collection for a %d byte allocation failed", size)
	}

	ptr, err = h.allocator.Alloc(size)
	if err != nil {
		h.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Allocation failed after collection",
			slog.Int("size", size),
			slog.Int("freeBytes", h.allocator.SumFreeSize()))
		return page.NullPtr, err
	}

	h.validateOperation()
	return ptr, nil
}

func (h *Heap) collect(size int) error {
	h.collecting = true
	defer func() {
		h.collecting = false
	}()

	h.collections++
	return h.collector.Collect(h, size)
}

// Release returns the block behind ptr to the page. Releasing a pinned pointer, a pointer that is
// already free, or a pointer that did not come from Allocate panics.
func (h *Heap) Release(ptr page.ShortPtr) {
	if h.handles.IsPinned(ptr) {
		panic(errors.AssertionFailedf("pointer %#04x is pinned by %d handles and cannot be released", uint16(ptr), h.handles.PinCount(ptr)))
	}

	h.allocator.Free(ptr)
	h.validateOperation()
}

// Payload returns the payload bytes of the live allocation at ptr
func (h *Heap) Payload(ptr page.ShortPtr) []byte {
	return h.allocator.Payload(ptr)
}

// Pin acquires a handle that keeps ptr, which must be a live allocation, from being released. If
// every handle is in use, the returned error wraps memutils.ErrOutOfHandles.
func (h *Heap) Pin(ptr page.ShortPtr) (handles.Handle, error) {
	h.allocator.CheckLive(ptr)

	return h.handles.Acquire(ptr)
}

// Unpin releases a handle acquired from Pin
func (h *Heap) Unpin(handle handles.Handle) {
	h.handles.Release(handle)
}

// Deref returns the pointer pinned by handle
func (h *Heap) Deref(handle handles.Handle) page.ShortPtr {
	return h.handles.Value(handle)
}

// Collections returns the number of times the heap has called its Collector
func (h *Heap) Collections() int {
	return h.collections
}

func (h *Heap) validateOperation() {
	if h.flags&CreateValidateOperations != 0 {
		h.allocator.CheckHeap()
	}
}

// Validate checks the integrity of the page and that every pinned pointer is a live allocation
func (h *Heap) Validate() error {
	err := h.allocator.Validate()
	if err != nil {
		return err
	}

	live := make(map[page.ShortPtr]bool)
	err = h.allocator.VisitAllRegions(func(offset int, size int, free bool) error {
		if !free {
			live[page.ShortPtr(offset+page.HeaderSize)] = true
		}
		return nil
	})
	if err != nil {
		return err
	}

	h.handles.VisitPinned(func(value page.ShortPtr, count int) {
		if err == nil && !live[value] {
			err = errors.Newf("pointer %#04x is pinned by %d handles but is not a live allocation", uint16(value), count)
		}
	})

	return err
}

// Statistics returns summary statistics for the page
func (h *Heap) Statistics() memutils.Statistics {
	var stats memutils.Statistics
	h.allocator.AddStatistics(&stats)
	return stats
}

// DetailedStatistics returns statistics for the page including allocation and free range sizes
func (h *Heap) DetailedStatistics() memutils.DetailedStatistics {
	var stats memutils.DetailedStatistics
	stats.Clear()
	h.allocator.AddDetailedStatistics(&stats)
	return stats
}

// BuildStatsString returns a JSON document describing the heap. If detailedMap is true, every
// block in the page is listed.
func (h *Heap) BuildStatsString(detailedMap bool) string {
	writer := jwriter.NewWriter()
	obj := writer.Object()

	stats := h.DetailedStatistics()
	totalObj := obj.Name("Total").Object()
	printDetailedStatistics(&totalObj, &stats)
	totalObj.End()

	pageObj := obj.Name("Page").Object()
	h.allocator.BlockJsonData(&pageObj)
	if detailedMap {
		h.allocator.PrintDetailedMap(&pageObj)
	}
	pageObj.End()

	handlesObj := obj.Name("Handles").Object()
	handlesObj.Name("Capacity").Int(h.handles.Cap())
	handlesObj.Name("InUse").Int(h.handles.Len())
	handlesObj.End()

	obj.Name("Collections").Int(h.collections)
	obj.End()

	return string(writer.Bytes())
}

func printDetailedStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("PageCount").Int(stats.PageCount)
	json.Name("PageBytes").Int(stats.PageBytes)
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
	json.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)
	json.Name("UnusedBytes").Int(stats.UnusedBytes)
	json.Name("FoldedBytes").Int(stats.FoldedBytes)

	if stats.AllocationCount > 0 {
		json.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}

	if stats.UnusedRangeCount > 0 {
		json.Name("UnusedRangeSizeMin").Int(stats.UnusedRangeSizeMin)
		json.Name("UnusedRangeSizeMax").Int(stats.UnusedRangeSizeMax)
	}
}

// Destroy tears the heap down. If any allocation is still live, each one is logged and an error is
// returned, and the heap is left intact.
func (h *Heap) Destroy() error {
	if !h.allocator.IsEmpty() {
		// Log all remaining allocations
		err := h.allocator.VisitAllRegions(func(offset int, size int, free bool) error {
			if free {
				return nil
			}

			h.logUnreleasedMemory(offset, size)
			return nil
		})
		if err != nil {
			h.logger.LogAttrs(context.Background(),
				slog.LevelError,
				"[UNRELEASED MEMORY] error while iterating unreleased memory",
				slog.Any("error", err))
		}

		return errors.Newf("%d allocations were not released before the heap was destroyed", h.allocator.AllocationCount())
	}

	h.handles.Clear()
	h.allocator.Deinit()
	return nil
}

func (h *Heap) logUnreleasedMemory(offset, size int) {
	ptr := page.ShortPtr(offset + page.HeaderSize)

	h.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
		slog.Int("offset", offset),
		slog.Int("size", size),
		slog.Int("pins", h.handles.PinCount(ptr)),
	)
}
