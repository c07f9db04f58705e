package memutils

import "github.com/pkg/errors"

// ErrPageFull is returned when no free block in the page is large enough for a requested
// allocation. It is a normal, recoverable outcome: the caller may release memory and retry.
var ErrPageFull error = errors.New("page has no free block large enough for the allocation")

// ErrSizeOutOfRange is returned when a requested allocation size cannot be encoded in a block header
var ErrSizeOutOfRange error = errors.New("requested size does not fit in a block header")

// ErrOutOfHandles is returned when every slot of a handle pool is pinning a value
var ErrOutOfHandles error = errors.New("handle pool has run out of handles")
