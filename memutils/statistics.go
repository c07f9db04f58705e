package memutils

import "math"

// Statistics is a summary of one or more pages. All byte counts include block headers.
//
// FoldedBytes counts the bytes allocations received beyond their rounded request because the
// leftover part of the free block was too small to split off. It accumulates from the page's Init
// and is not reduced when those allocations are freed.
type Statistics struct {
	PageCount       int
	AllocationCount int
	PageBytes       int
	AllocationBytes int
	FoldedBytes     int
}

func (s *Statistics) Clear() {
	s.PageCount = 0
	s.AllocationCount = 0
	s.PageBytes = 0
	s.AllocationBytes = 0
	s.FoldedBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.PageCount += other.PageCount
	s.AllocationCount += other.AllocationCount
	s.PageBytes += other.PageBytes
	s.AllocationBytes += other.AllocationBytes
	s.FoldedBytes += other.FoldedBytes
}

// DetailedStatistics extends Statistics with the size spread of allocations and unused ranges.
// An unused range is a run of adjacent free blocks, whether or not they have been coalesced yet.
type DetailedStatistics struct {
	Statistics
	UnusedRangeCount   int
	UnusedBytes        int
	AllocationSizeMin  int
	AllocationSizeMax  int
	UnusedRangeSizeMin int
	UnusedRangeSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.UnusedRangeCount = 0
	s.UnusedBytes = 0
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
	s.UnusedRangeSizeMin = math.MaxInt
	s.UnusedRangeSizeMax = 0
}

func (s *DetailedStatistics) AddUnusedRange(size int) {
	s.UnusedRangeCount++
	s.UnusedBytes += size

	if size < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = size
	}

	if size > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = size
	}
}

func (s *DetailedStatistics) AddAllocation(size int) {
	s.AllocationCount++
	s.AllocationBytes += size

	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}

	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.UnusedRangeCount += other.UnusedRangeCount
	s.UnusedBytes += other.UnusedBytes

	if other.UnusedRangeSizeMin < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = other.UnusedRangeSizeMin
	}

	if other.UnusedRangeSizeMax > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = other.UnusedRangeSizeMax
	}

	if other.AllocationSizeMin < s.AllocationSizeMin {
		s.AllocationSizeMin = other.AllocationSizeMin
	}

	if other.AllocationSizeMax > s.AllocationSizeMax {
		s.AllocationSizeMax = other.AllocationSizeMax
	}
}

// Fragmentation returns how much of the unused space lies outside the largest unused range, from 0
// when all free space is one range to nearly 1 when it is scattered. A request larger than the
// largest range fails even if UnusedBytes would cover it.
func (s *DetailedStatistics) Fragmentation() float64 {
	if s.UnusedBytes == 0 {
		return 0
	}

	return 1 - float64(s.UnusedRangeSizeMax)/float64(s.UnusedBytes)
}
