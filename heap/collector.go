package heap

//go:generate mockgen -source collector.go -destination ./mocks/collector.go -package mocks

// Collector is implemented by the host runtime. When the page cannot satisfy an allocation, the
// heap calls Collect so the host can Release whatever it no longer reaches. needed is the payload
// size of the allocation that failed.
//
// Collect may call Release, Pin and Unpin on the heap, but must not call Allocate.
type Collector interface {
	Collect(heap *Heap, needed int) error
}
