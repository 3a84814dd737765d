package main

import (
	"fmt"
	"time"

	"github.com/go-openapi/strfmt"
)

// assembleSeries merges raw upstream batches into a single normalized
// series: empty batches are dropped, each record's date field is parsed
// from its wire string, rows outside [r.Start, r.End) are filtered out,
// and the result is projected down to (timestamp, value) and sorted
// ascending. Duplicate timestamps keep the first-seen row, matching the
// store's insert-or-ignore semantics.
func assembleSeries(batches []RawBatch, r TimeRange, dateField, valueField string) ([]SeriesPoint, error) {
	var out []SeriesPoint
	seen := make(map[int64]struct{})

	for _, batch := range batches {
		if len(batch.Results) == 0 {
			continue
		}
		for _, record := range batch.Results {
			raw, ok := record[dateField].(string)
			if !ok {
				return nil, fmt.Errorf("record has no %s field", dateField)
			}
			parsed, err := strfmt.ParseDateTime(raw)
			if err != nil {
				return nil, fmt.Errorf("parsing %s %q: %w", dateField, raw, err)
			}
			ts := time.Time(parsed)

			// Same half-open convention as the interval grid, so gap
			// arithmetic stays consistent with what gets persisted.
			if ts.Before(r.Start) || !ts.Before(r.End) {
				continue
			}

			value, ok := record[valueField].(float64)
			if !ok {
				return nil, fmt.Errorf("record at %s has no numeric %s field", raw, valueField)
			}

			if _, dup := seen[ts.UnixNano()]; dup {
				continue
			}
			seen[ts.UnixNano()] = struct{}{}
			out = append(out, SeriesPoint{Timestamp: ts, Value: value})
		}
	}

	sortSeries(out)
	return out, nil
}
