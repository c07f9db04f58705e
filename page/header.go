package page

import (
	"encoding/binary"

	"github.com/vkngwrapper/pageheap/memutils"
)

const (
	// PageSize is the exact size in bytes of the one region an Allocator manages
	PageSize int = 0x10000
	// HeaderSize is the size in bytes of the header at the start of every block
	HeaderSize int = 2
	// TerminatorOffset is the fixed offset of the zero header that ends the block chain
	TerminatorOffset int = PageSize - HeaderSize
	// MaxBlockSize is the largest size a block header can encode
	MaxBlockSize int = 0xFFFE
	// MinSplitRemainder is the smallest free remainder that Alloc will carve off into its own block.
	// Anything smaller stays attached to the allocation.
	MinSplitRemainder int = 64

	usedFlag uint16 = 1
	sizeMask uint16 = 0xFFFE
)

// ShortPtr is a page-relative address. Pointers handed out by Allocator.Alloc always refer to the
// first payload byte of a used block.
type ShortPtr uint16

// NullPtr is never a valid payload pointer, since offset 0 always holds a header
const NullPtr ShortPtr = 0

// header is the 16-bit value at the start of each block: the block's total size with the low bit
// used as the used flag
type header uint16

func makeHeader(size int, used bool) header {
	h := header(uint16(size) & sizeMask)
	if used {
		h |= header(usedFlag)
	}
	return h
}

func (h header) Size() int {
	return int(uint16(h) & sizeMask)
}

func (h header) Used() bool {
	return uint16(h)&usedFlag != 0
}

func (h header) IsTerminator() bool {
	return h == 0
}

func readHeader(data []byte, offset int) header {
	return header(binary.LittleEndian.Uint16(data[offset:]))
}

func writeHeader(data []byte, offset int, h header) {
	binary.LittleEndian.PutUint16(data[offset:], uint16(h))
}

// roundUpBlockSize returns the size of the block needed to hold size payload bytes, and false if
// that block cannot be described by a header
func roundUpBlockSize(size int) (int, bool) {
	if size < 0 || size > MaxBlockSize-HeaderSize {
		return 0, false
	}

	return memutils.AlignUp(size+HeaderSize, 2), true
}
