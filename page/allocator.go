package page

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/pageheap/memutils"
)

// Allocator manages a single 64KiB page as a chain of header-prefixed blocks. The chain is
// implicit: each block's size, added to its offset, is the offset of the next block, and the chain
// ends at a zero header at TerminatorOffset.
//
// Blocks are found with a first-fit scan from the start of the page. Freed blocks are not merged
// with their neighbors right away; adjacent free blocks are coalesced by the next Alloc scan that
// walks over them.
//
// Allocator is not safe for concurrent use, and must not be re-entered from code that runs during
// one of its own calls.
type Allocator struct {
	data []byte

	allocCount    int
	freeBytes     int
	highWaterMark int
	foldedBytes   int
}

// NewAllocator creates an allocator with no page. Call Init before using it.
func NewAllocator() *Allocator {
	return &Allocator{}
}

// Init takes over page, which must be exactly PageSize bytes, and resets it to one free block
// covering everything up to the terminator. The previous contents of page are discarded.
//
// Init panics if page has the wrong size, or if the allocator is still managing a page that has
// live allocations.
func (a *Allocator) Init(page []byte) {
	if len(page) != PageSize {
		panic(errors.AssertionFailedf("page must be exactly %d bytes, but was %d bytes", PageSize, len(page)))
	}
	if a.data != nil && a.allocCount > 0 {
		panic(errors.AssertionFailedf("attempting to initialize a page allocator that still has %d live allocations", a.allocCount))
	}

	memutils.Fill(page, 0)
	writeHeader(page, 0, makeHeader(TerminatorOffset, false))
	writeHeader(page, TerminatorOffset, 0)

	a.data = page
	a.allocCount = 0
	a.freeBytes = TerminatorOffset
	a.highWaterMark = 0
	a.foldedBytes = 0

	memutils.DebugValidate(a)
}

// Deinit releases the allocator's reference to its page. The page itself belongs to the caller.
func (a *Allocator) Deinit() {
	a.data = nil
	a.allocCount = 0
	a.freeBytes = 0
	a.highWaterMark = 0
	a.foldedBytes = 0
}

// Initialized returns true between a call to Init and a call to Deinit
func (a *Allocator) Initialized() bool {
	return a.data != nil
}

func (a *Allocator) checkInitialized() {
	if a.data == nil {
		panic(errors.AssertionFailedf("page allocator used before Init"))
	}
}

// Alloc finds room for size payload bytes and returns a pointer to the first of them. The payload
// is filled with memutils.CreatedFillPattern.
//
// If size cannot be described by a block header, memutils.ErrSizeOutOfRange is returned. If the
// page has no free block big enough, even after merging adjacent free blocks, memutils.ErrPageFull
// is returned. Both are recoverable: no live allocation is affected.
func (a *Allocator) Alloc(size int) (ShortPtr, error) {
	a.checkInitialized()

	needed, ok := roundUpBlockSize(size)
	if !ok {
		return NullPtr, errors.Wrapf(memutils.ErrSizeOutOfRange, "requested %d bytes", size)
	}

	// Is the page big enough?
	if needed > a.freeBytes {
		return NullPtr, errors.Wrapf(memutils.ErrPageFull, "requested %d bytes with %d bytes free", size, a.freeBytes)
	}

	offset := 0
	prevFree := -1
	for {
		h := readHeader(a.data, offset)
		if h.IsTerminator() {
			break
		}

		blockSize := h.Size()
		if blockSize < HeaderSize || offset+blockSize > TerminatorOffset {
			panic(errors.AssertionFailedf("corrupt block header %#04x at offset %d", uint16(h), offset))
		}

		if h.Used() {
			prevFree = -1
			offset += blockSize
			continue
		}

		if prevFree >= 0 {
			// Two free blocks in a row: fold this one into the previous block and look at it again
			blockSize += readHeader(a.data, prevFree).Size()
			offset = prevFree
			writeHeader(a.data, offset, makeHeader(blockSize, false))
			prevFree = -1
		}

		if blockSize >= needed {
			return a.take(offset, blockSize, needed), nil
		}

		prevFree = offset
		offset += blockSize
	}

	memutils.DebugValidate(a)
	return NullPtr, errors.Wrapf(memutils.ErrPageFull, "requested %d bytes but no free range was large enough", size)
}

func (a *Allocator) take(offset, blockSize, needed int) ShortPtr {
	memutils.DebugCheckEven(needed, "needed")

	if remainder := blockSize - needed; remainder >= MinSplitRemainder {
		writeHeader(a.data, offset+needed, makeHeader(remainder, false))
		blockSize = needed
	} else {
		a.foldedBytes += remainder
	}

	writeHeader(a.data, offset, makeHeader(blockSize, true))
	memutils.Fill(a.data[offset+HeaderSize:offset+blockSize], memutils.CreatedFillPattern)

	a.allocCount++
	a.freeBytes -= blockSize
	if used := a.UsedBytes(); used > a.highWaterMark {
		a.highWaterMark = used
	}

	memutils.DebugValidate(a)
	return ShortPtr(offset + HeaderSize)
}

// Free returns the block behind ptr to the page and fills its payload with
// memutils.DestroyedFillPattern. The block is not merged with its neighbors until a later Alloc
// walks over it.
//
// Free panics if ptr does not refer to a used block: freeing a block twice, or freeing a pointer
// that did not come from Alloc, is a caller bug.
func (a *Allocator) Free(ptr ShortPtr) {
	offset, size := a.usedBlock(ptr)

	writeHeader(a.data, offset, makeHeader(size, false))
	memutils.Fill(a.data[offset+HeaderSize:offset+size], memutils.DestroyedFillPattern)

	a.allocCount--
	a.freeBytes += size

	memutils.DebugValidate(a)
}

// usedBlock returns the offset and size of the used block that ptr points into the payload of,
// and panics if there isn't one
func (a *Allocator) usedBlock(ptr ShortPtr) (int, int) {
	a.checkInitialized()

	offset := int(ptr) - HeaderSize
	if offset < 0 || offset >= TerminatorOffset || ptr&1 != 0 {
		panic(errors.AssertionFailedf("pointer %#04x does not point into the page's block chain", uint16(ptr)))
	}

	// Stale pointers into freed payloads read 0xDBDB, which looks like a used header
	if memutils.DebugEnabled && !a.isBlockStart(offset) {
		panic(errors.AssertionFailedf("pointer %#04x is not the payload of any block in the chain", uint16(ptr)))
	}

	h := readHeader(a.data, offset)
	if !h.Used() {
		panic(errors.AssertionFailedf("block at offset %d is not allocated", offset))
	}

	size := h.Size()
	if size < HeaderSize || offset+size > TerminatorOffset {
		panic(errors.AssertionFailedf("corrupt block header %#04x at offset %d", uint16(h), offset))
	}

	return offset, size
}

func (a *Allocator) isBlockStart(target int) bool {
	for offset := 0; offset <= target; {
		h := readHeader(a.data, offset)
		if offset == target {
			return !h.IsTerminator()
		}
		if h.IsTerminator() || h.Size() < HeaderSize {
			return false
		}
		offset += h.Size()
	}
	return false
}

// CheckLive panics unless ptr is the payload pointer of a live allocation
func (a *Allocator) CheckLive(ptr ShortPtr) {
	a.usedBlock(ptr)
}

// BlockSize returns the full size, header included, of the used block behind ptr
func (a *Allocator) BlockSize(ptr ShortPtr) int {
	_, size := a.usedBlock(ptr)
	return size
}

// Payload returns the payload bytes of the used block behind ptr. The slice aliases the page and
// may be longer than the size that was requested.
func (a *Allocator) Payload(ptr ShortPtr) []byte {
	offset, size := a.usedBlock(ptr)
	return a.data[offset+HeaderSize : offset+size]
}

// Size returns the size in bytes of the managed page
func (a *Allocator) Size() int { return PageSize }

// AllocationCount returns the number of live allocations
func (a *Allocator) AllocationCount() int { return a.allocCount }

// SumFreeSize returns the total size of all free blocks, headers included
func (a *Allocator) SumFreeSize() int { return a.freeBytes }

// UsedBytes returns the total size of all used blocks, headers included
func (a *Allocator) UsedBytes() int {
	if a.data == nil {
		return 0
	}
	return TerminatorOffset - a.freeBytes
}

// HighWaterMark returns the largest value UsedBytes has reached since Init
func (a *Allocator) HighWaterMark() int { return a.highWaterMark }

// FoldedBytes returns the number of bytes handed out since Init beyond what allocations needed,
// because the rest of the free block was too small to split off
func (a *Allocator) FoldedBytes() int { return a.foldedBytes }

// IsEmpty returns true if the page has no live allocations
func (a *Allocator) IsEmpty() bool { return a.allocCount == 0 }
