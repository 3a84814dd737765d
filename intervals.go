package main

import (
	"sort"
	"time"
)

// gridInterval is the fixed width of the reporting grid. Every expected
// data point sits on a 30 minute boundary counted from the request start.
const gridInterval = 30 * time.Minute

// gridPoints enumerates the expected grid instants in [r.Start, r.End),
// spaced exactly gridInterval apart starting at r.Start. Empty when
// Start >= End.
func gridPoints(r TimeRange) []time.Time {
	var points []time.Time
	for t := r.Start; t.Before(r.End); t = t.Add(gridInterval) {
		points = append(points, t)
	}
	return points
}

// expectedPointCount is the number of half-hour report intervals between
// the range bounds, counting a partial trailing interval as a full one.
func expectedPointCount(r TimeRange) int {
	d := r.End.Sub(r.Start)
	if d <= 0 {
		return 0
	}
	n := int(d / gridInterval)
	if d%gridInterval != 0 {
		n++
	}
	return n
}

// missingRanges computes the minimal set of contiguous sub-ranges of r
// whose grid points are absent from present. Presence is exact instant
// equality; consecutive missing points coalesce into a single range
// [first, last+gridInterval). An empty present set yields the whole
// request range as one gap.
func missingRanges(r TimeRange, present []time.Time) []TimeRange {
	expected := gridPoints(r)
	if len(expected) == 0 {
		return nil
	}

	if len(present) == 0 {
		return []TimeRange{r}
	}

	// Key on UnixNano so equality means "same instant" regardless of
	// the time.Location the rows were loaded with.
	have := make(map[int64]struct{}, len(present))
	for _, t := range present {
		have[t.UnixNano()] = struct{}{}
	}

	var missing []time.Time
	for _, t := range expected {
		if _, ok := have[t.UnixNano()]; !ok {
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var ranges []TimeRange
	rangeStart := missing[0]
	rangeEnd := missing[0].Add(gridInterval)
	for _, t := range missing[1:] {
		if t.Equal(rangeEnd) {
			// consecutive interval, extend the range
			rangeEnd = t.Add(gridInterval)
			continue
		}
		ranges = append(ranges, TimeRange{Start: rangeStart, End: rangeEnd})
		rangeStart = t
		rangeEnd = t.Add(gridInterval)
	}
	ranges = append(ranges, TimeRange{Start: rangeStart, End: rangeEnd})

	return ranges
}

// sortSeries orders points chronologically in place.
func sortSeries(points []SeriesPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
}

// seriesTimestamps projects a series down to its timestamps.
func seriesTimestamps(points []SeriesPoint) []time.Time {
	out := make([]time.Time, len(points))
	for i, p := range points {
		out[i] = p.Timestamp
	}
	return out
}
