package page

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/pageheap/memutils"
)

var _ memutils.Validatable = &Allocator{}

// Validate walks the block chain and checks that it covers the page exactly, ending on the
// terminator, and that the allocator's counters agree with what the chain holds. It is O(blocks)
// and meant for tests and diagnostics.
func (a *Allocator) Validate() error {
	if a.data == nil {
		return errors.New("page allocator has not been initialized")
	}

	var allocCount, freeBytes int
	offset := 0
	for {
		if offset < 0 || offset > TerminatorOffset {
			return errors.Errorf("block chain left the page at offset %d", offset)
		}

		h := readHeader(a.data, offset)
		if h.IsTerminator() {
			break
		}

		size := h.Size()
		if size < HeaderSize {
			return errors.Errorf("block at offset %d has header %#04x, which is too small to be a block", offset, uint16(h))
		}

		if h.Used() {
			allocCount++
		} else {
			freeBytes += size
		}

		offset += size
	}

	if offset != TerminatorOffset {
		return errors.Errorf("block chain ended at offset %d, but the terminator belongs at offset %d", offset, TerminatorOffset)
	}

	if allocCount != a.allocCount {
		return errors.Errorf("the allocation count of the allocator is %d, but the used blocks only added up to %d", a.allocCount, allocCount)
	}

	if freeBytes != a.freeBytes {
		return errors.Errorf("the free size of the allocator is %d, but the free blocks added up to %d", a.freeBytes, freeBytes)
	}

	return nil
}

// CheckHeap validates the page and panics if it is inconsistent. Corrupt bookkeeping means every
// later Alloc or Free is unsafe, so there is nothing to recover.
func (a *Allocator) CheckHeap() {
	err := a.Validate()
	if err != nil {
		panic(cerrors.NewAssertionErrorWithWrappedErrf(err, "page heap check failed"))
	}
}
