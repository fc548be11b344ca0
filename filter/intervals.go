package filter

import (
	"sort"
	"time"
)

// Interval is a pair of dates
type Interval struct {
	Start, End time.Time
}

// MergeIntervals returns the sorted list of the non-overlapping intervals covering the same dates as the input.
// Adjacent intervals (one starting at the end of the other) are merged.
// The input is not modified.
func MergeIntervals(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}
	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	merged := []Interval{sorted[0]}
	for _, in := range sorted[1:] {
		last := &merged[len(merged)-1]
		if in.Start.After(last.End) {
			merged = append(merged, in)
		} else if in.End.After(last.End) {
			last.End = in.End
		}
	}
	return merged
}

// Gaps returns the holes between successive merged intervals
func Gaps(merged []Interval) []Interval {
	var gaps []Interval
	for i := 1; i < len(merged); i++ {
		gaps = append(gaps, Interval{Start: merged[i-1].End, End: merged[i].Start})
	}
	return gaps
}

// Connected returns true if the merged intervals form a single interval
func Connected(merged []Interval) bool {
	return len(merged) == 1
}
