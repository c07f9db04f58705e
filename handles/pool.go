package handles

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/pageheap/memutils"
	"github.com/vkngwrapper/pageheap/page"
)

// DefaultCapacity is the number of slots in a Pool created with a capacity of 0
const DefaultCapacity int = 2048

// Handle identifies a slot in a Pool. The zero Handle is never issued.
type Handle uint32

const (
	NoHandle Handle = 0
	noSlot   int32  = -1
)

type slot struct {
	value    page.ShortPtr
	nextFree int32
	inUse    bool
}

// Pool is a fixed number of slots that each pin one page pointer. A host keeps a pointer alive
// across collections by holding a Handle to it. Free slots are threaded into a singly linked
// free list, so Acquire and Release are O(1) and the pool never grows.
//
// Pool is not safe for concurrent use.
type Pool struct {
	slots    []slot
	freeHead int32
	count    int
	pins     *swiss.Map[page.ShortPtr, int]
}

// NewPool creates a pool with room for capacity handles. A capacity of 0 selects DefaultCapacity.
func NewPool(capacity int) (*Pool, error) {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if capacity < 0 || capacity > 1<<20 {
		return nil, errors.Newf("invalid handle pool capacity: %d", capacity)
	}

	p := &Pool{
		slots: make([]slot, capacity),
	}
	p.Clear()

	return p, nil
}

// Clear releases every handle in the pool at once
func (p *Pool) Clear() {
	for i := range p.slots {
		p.slots[i] = slot{nextFree: int32(i + 1)}
	}
	p.slots[len(p.slots)-1].nextFree = noSlot
	p.freeHead = 0
	p.count = 0
	p.pins = swiss.NewMap[page.ShortPtr, int](42)
}

// Cap returns the number of slots in the pool
func (p *Pool) Cap() int { return len(p.slots) }

// Len returns the number of handles currently acquired
func (p *Pool) Len() int { return p.count }

// Acquire takes a free slot and pins value in it. If every slot is taken, memutils.ErrOutOfHandles
// is returned.
func (p *Pool) Acquire(value page.ShortPtr) (Handle, error) {
	if p.freeHead == noSlot {
		return NoHandle, errors.Wrapf(memutils.ErrOutOfHandles, "all %d handles are in use", len(p.slots))
	}

	index := p.freeHead
	s := &p.slots[index]
	p.freeHead = s.nextFree

	s.value = value
	s.nextFree = noSlot
	s.inUse = true
	p.count++
	p.pin(value)

	return Handle(index + 1), nil
}

// Release returns the slot behind handle to the pool. Releasing a handle that is not currently
// acquired is a caller bug and panics.
func (p *Pool) Release(handle Handle) {
	index := p.slotIndex(handle)
	s := &p.slots[index]

	p.unpin(s.value)
	s.value = page.NullPtr
	s.inUse = false
	s.nextFree = p.freeHead
	p.freeHead = index
	p.count--
}

// Value returns the pointer pinned by handle
func (p *Pool) Value(handle Handle) page.ShortPtr {
	return p.slots[p.slotIndex(handle)].value
}

// Set changes the pointer pinned by handle
func (p *Pool) Set(handle Handle, value page.ShortPtr) {
	s := &p.slots[p.slotIndex(handle)]
	p.unpin(s.value)
	s.value = value
	p.pin(value)
}

// PinCount returns the number of handles pinning value
func (p *Pool) PinCount(value page.ShortPtr) int {
	count, _ := p.pins.Get(value)
	return count
}

// IsPinned returns true if any handle pins value
func (p *Pool) IsPinned(value page.ShortPtr) bool {
	return p.pins.Has(value)
}

// VisitPinned calls visit once for each distinct pinned pointer, with the number of handles
// pinning it. Order is unspecified.
func (p *Pool) VisitPinned(visit func(value page.ShortPtr, count int)) {
	p.pins.Iter(func(value page.ShortPtr, count int) bool {
		visit(value, count)
		return false
	})
}

func (p *Pool) slotIndex(handle Handle) int32 {
	if handle == NoHandle || int(handle) > len(p.slots) {
		panic(errors.AssertionFailedf("handle %d does not belong to this pool", handle))
	}

	index := int32(handle - 1)
	if !p.slots[index].inUse {
		panic(errors.AssertionFailedf("handle %d is not acquired", handle))
	}

	return index
}

func (p *Pool) pin(value page.ShortPtr) {
	count, _ := p.pins.Get(value)
	p.pins.Put(value, count+1)
}

func (p *Pool) unpin(value page.ShortPtr) {
	count, ok := p.pins.Get(value)
	if !ok {
		panic(errors.AssertionFailedf("pointer %#04x is not pinned", uint16(value)))
	}

	if count <= 1 {
		p.pins.Delete(value)
		return
	}
	p.pins.Put(value, count-1)
}
