package heap

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/pageheap/handles"
	"github.com/vkngwrapper/pageheap/page"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific heap behaviors to activate or deactivate
type CreateFlags int32

const (
	// CreateValidateOperations causes the heap to walk and check the whole block chain after every
	// Allocate and Release, panicking if it is inconsistent. It is slow, and meant for tracking down
	// heap corruption.
	CreateValidateOperations CreateFlags = 1 << iota
	// CreateNoCollectRetry prevents the heap from calling its Collector when the page is full
	CreateNoCollectRetry
)

var createFlagsMapping = make(map[CreateFlags]string)

func init() {
	createFlagsMapping[CreateValidateOperations] = "CreateValidateOperations"
	createFlagsMapping[CreateNoCollectRetry] = "CreateNoCollectRetry"
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for bit := CreateFlags(1); bit != 0 && bit <= f; bit <<= 1 {
		if f&bit == 0 {
			continue
		}

		name, ok := createFlagsMapping[bit]
		if !ok {
			name = "Unknown"
		}
		names = append(names, name)
	}

	return strings.Join(names, "|")
}

// CreateOptions contains optional settings when creating a heap
type CreateOptions struct {
	// Flags indicates specific heap behaviors to activate or deactivate
	Flags CreateFlags

	// HandleCount is the number of pin handles available to the host. 0 selects
	// handles.DefaultCapacity.
	HandleCount int

	// Collector is called when an allocation does not fit in the page, so that the host can free
	// unreachable blocks before the allocation is retried once. It may be nil.
	Collector Collector
}

// New creates a Heap that manages buffer, which must be exactly page.PageSize bytes. Anything
// already in buffer is discarded.
//
// logger - The logger that will receive the heap's diagnostic output. If nil, slog.Default is used.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, buffer []byte, options CreateOptions) (*Heap, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if len(buffer) != page.PageSize {
		return nil, errors.Newf("heap buffer must be exactly %d bytes, but was %d bytes", page.PageSize, len(buffer))
	}

	pool, err := handles.NewPool(options.HandleCount)
	if err != nil {
		return nil, errors.Wrap(err, "could not create the handle pool")
	}

	h := &Heap{
		logger:    logger,
		flags:     options.Flags,
		collector: options.Collector,
		allocator: page.NewAllocator(),
		handles:   pool,
	}
	h.allocator.Init(buffer)

	logger.Debug("Heap::New",
		slog.Int("HandleCount", pool.Cap()),
		slog.String("Flags", options.Flags.String()),
		slog.Bool("Collector", options.Collector != nil),
	)

	return h, nil
}
