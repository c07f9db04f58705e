package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/pageheap/handles"
	"github.com/vkngwrapper/pageheap/heap"
	"github.com/vkngwrapper/pageheap/memutils"
	"github.com/vkngwrapper/pageheap/page"
	"golang.org/x/exp/slog"
)

type replayOptions struct {
	detailedMap bool
	validate    bool
	handleCount int
}

var replayOpts replayOptions

func init() {
	cmd := newReplayCmd()
	cmd.Flags().BoolVar(&replayOpts.detailedMap, "map", false, "Include every block of the page in the output")
	cmd.Flags().BoolVar(&replayOpts.validate, "validate", false, "Check the whole block chain after every operation")
	cmd.Flags().IntVar(&replayOpts.handleCount, "handles", 0, "Number of pin handles (0 uses the default)")
	rootCmd.AddCommand(cmd)
}

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <trace-file>",
		Short: "Replay an allocation trace against a fresh page",
		Long: `The replay command runs every operation of a trace file against a new heap
and prints the heap statistics as JSON when the trace is done.

Each line of the trace holds one operation:
  alloc <name> <size>   allocate size bytes and remember the pointer as name
  free <name>           release the allocation called name
  pin <name>            pin the allocation called name with a new handle
  unpin <name>          drop the most recent handle pinning name
  validate              check the heap and stop the replay if it is corrupt
Blank lines and lines starting with # are ignored. Allocations and pins that fail
because the page or the handle pool is full are reported and the replay continues.

Example:
  pageheap replay trace.txt
  pageheap replay trace.txt --map --validate`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return errors.Wrap(err, "failed to open trace")
			}
			defer file.Close()

			return runReplay(cmd.OutOrStdout(), newLogger(cmd.ErrOrStderr()), file, replayOpts)
		},
	}
	return cmd
}

type replayer struct {
	out  io.Writer
	heap *heap.Heap

	allocations map[string]page.ShortPtr
	pins        map[string][]handles.Handle
	failures    int
}

func runReplay(out io.Writer, logger *slog.Logger, trace io.Reader, options replayOptions) error {
	var flags heap.CreateFlags
	if options.validate {
		flags |= heap.CreateValidateOperations
	}

	h, err := heap.New(logger, make([]byte, page.PageSize), heap.CreateOptions{
		Flags:       flags,
		HandleCount: options.handleCount,
	})
	if err != nil {
		return err
	}

	r := &replayer{
		out:         out,
		heap:        h,
		allocations: make(map[string]page.ShortPtr),
		pins:        make(map[string][]handles.Handle),
	}

	scanner := bufio.NewScanner(trace)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		err = r.execute(lineNumber, strings.Fields(line))
		if err != nil {
			return errors.Wrapf(err, "line %d", lineNumber)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "failed to read trace")
	}

	if r.failures > 0 {
		fmt.Fprintf(out, "%d operations failed\n", r.failures)
	}
	fmt.Fprintln(out, h.BuildStatsString(options.detailedMap))

	// Leftover allocations are logged by Destroy; the replay itself still succeeded
	if err := h.Destroy(); err != nil {
		fmt.Fprintf(out, "warning: %v\n", err)
	}
	return nil
}

func (r *replayer) execute(lineNumber int, fields []string) error {
	switch fields[0] {
	case "alloc":
		if len(fields) != 3 {
			return errors.Newf("usage: alloc <name> <size>")
		}
		return r.alloc(lineNumber, fields[1], fields[2])
	case "free":
		if len(fields) != 2 {
			return errors.Newf("usage: free <name>")
		}
		return r.free(fields[1])
	case "pin":
		if len(fields) != 2 {
			return errors.Newf("usage: pin <name>")
		}
		return r.pin(lineNumber, fields[1])
	case "unpin":
		if len(fields) != 2 {
			return errors.Newf("usage: unpin <name>")
		}
		return r.unpin(fields[1])
	case "validate":
		if len(fields) != 1 {
			return errors.Newf("usage: validate")
		}
		return errors.Wrap(r.heap.Validate(), "heap validation failed")
	default:
		return errors.Newf("unknown operation %q", fields[0])
	}
}

func (r *replayer) alloc(lineNumber int, name string, sizeText string) error {
	if _, live := r.allocations[name]; live {
		return errors.Newf("allocation %q is already live", name)
	}

	size, err := strconv.Atoi(sizeText)
	if err != nil {
		return errors.Wrapf(err, "invalid size %q", sizeText)
	}

	ptr, err := r.heap.Allocate(size)
	if errors.Is(err, memutils.ErrPageFull) || errors.Is(err, memutils.ErrSizeOutOfRange) {
		r.failures++
		fmt.Fprintf(r.out, "line %d: alloc %s %d failed: %v\n", lineNumber, name, size, err)
		return nil
	} else if err != nil {
		return err
	}

	r.allocations[name] = ptr
	return nil
}

func (r *replayer) lookup(name string) (page.ShortPtr, error) {
	ptr, live := r.allocations[name]
	if !live {
		return page.NullPtr, errors.Newf("no live allocation named %q", name)
	}
	return ptr, nil
}

func (r *replayer) free(name string) error {
	ptr, err := r.lookup(name)
	if err != nil {
		return err
	}

	if len(r.pins[name]) > 0 {
		return errors.Newf("allocation %q is pinned by %d handles", name, len(r.pins[name]))
	}

	r.heap.Release(ptr)
	delete(r.allocations, name)
	return nil
}

func (r *replayer) pin(lineNumber int, name string) error {
	ptr, err := r.lookup(name)
	if err != nil {
		return err
	}

	handle, err := r.heap.Pin(ptr)
	if errors.Is(err, memutils.ErrOutOfHandles) {
		r.failures++
		fmt.Fprintf(r.out, "line %d: pin %s failed: %v\n", lineNumber, name, err)
		return nil
	} else if err != nil {
		return err
	}

	r.pins[name] = append(r.pins[name], handle)
	return nil
}

func (r *replayer) unpin(name string) error {
	pinned := r.pins[name]
	if len(pinned) == 0 {
		return errors.Newf("allocation %q is not pinned", name)
	}

	r.heap.Unpin(pinned[len(pinned)-1])
	pinned = pinned[:len(pinned)-1]
	if len(pinned) == 0 {
		delete(r.pins, name)
	} else {
		r.pins[name] = pinned
	}
	return nil
}
