package main

import (
	"context"
	"fmt"
	"log"
)

// SeriesStore is the persistence capability the reconciler consumes:
// query rows of one kind inside a range, and insert rows with
// conflict-ignore semantics on the kind's natural key.
type SeriesStore interface {
	QuerySeries(ctx context.Context, kind SeriesKind, r TimeRange) ([]SeriesPoint, error)
	InsertSeries(ctx context.Context, kind SeriesKind, points []SeriesPoint) error
}

// PageFetcher retrieves a list of page URLs, all-or-nothing.
type PageFetcher interface {
	FetchPages(ctx context.Context, urls []string) ([]RawBatch, error)
}

// DataService reconciles a requested range against the local cache:
// rows already persisted are reused, only the missing sub-ranges are
// fetched from the upstream API, and fetched rows are written back so
// the next request finds them locally.
type DataService struct {
	store     SeriesStore
	fetcher   PageFetcher
	endpoints map[SeriesKind]string
}

func NewDataService(store SeriesStore, fetcher PageFetcher, endpoints map[SeriesKind]string) *DataService {
	return &DataService{
		store:     store,
		fetcher:   fetcher,
		endpoints: endpoints,
	}
}

// GetSeries returns the complete, chronologically sorted series of the
// given kind for [r.Start, r.End). An empty series is a valid outcome
// when neither the cache nor the upstream API has data for the range.
//
// Store read failures degrade to the empty-cache path and store write
// failures are logged without affecting the response; an upstream fetch
// failure aborts the whole call, since a partial series would be wrong.
func (s *DataService) GetSeries(ctx context.Context, kind SeriesKind, r TimeRange) ([]SeriesPoint, error) {
	log.Printf("%s: requesting data from %s", kind, r)

	cached, err := s.store.QuerySeries(ctx, kind, r)
	if err != nil {
		// A degraded cache must not take the read path down with it.
		log.Printf("%s: error querying data from database, treating range as uncached: %v", kind, err)
		cached = nil
	}

	if len(cached) == 0 {
		return s.fetchAll(ctx, kind, r)
	}

	log.Printf("%s: data found in database: %d records", kind, len(cached))

	gaps := missingRanges(r, seriesTimestamps(cached))
	if len(gaps) == 0 {
		log.Printf("%s: all intervals present in database", kind)
		return cached, nil
	}

	log.Printf("%s: fetching %d missing ranges from API", kind, len(gaps))
	for _, gap := range gaps {
		log.Printf("%s: missing range: %s", kind, gap)
	}

	merged := append([]SeriesPoint(nil), cached...)
	fetchedAny := false
	for _, gap := range gaps {
		fetched, err := s.fetchRange(ctx, kind, gap)
		if err != nil {
			return nil, err
		}
		if len(fetched) == 0 {
			continue
		}

		log.Printf("%s: saving %d missing records to database", kind, len(fetched))
		s.persist(ctx, kind, fetched)
		merged = append(merged, fetched...)
		fetchedAny = true
	}

	if !fetchedAny {
		log.Printf("%s: no data returned from API for missing ranges", kind)
		return cached, nil
	}

	sortSeries(merged)
	log.Printf("%s: combined data: %d total records", kind, len(merged))
	return merged, nil
}

// fetchAll covers the full-miss path: the cache had nothing for the
// range, so the whole request is fetched in one pass and persisted.
func (s *DataService) fetchAll(ctx context.Context, kind SeriesKind, r TimeRange) ([]SeriesPoint, error) {
	log.Printf("%s: no data in database, fetching all from API", kind)

	fetched, err := s.fetchRange(ctx, kind, r)
	if err != nil {
		return nil, err
	}
	if len(fetched) == 0 {
		log.Printf("%s: no data returned from API for %s", kind, r)
		return nil, nil
	}

	log.Printf("%s: saving %d records to database", kind, len(fetched))
	s.persist(ctx, kind, fetched)
	return fetched, nil
}

// fetchRange retrieves and assembles one range: page URLs are computed
// from the expected point count, fetched concurrently, and normalized
// down to the kind's (timestamp, value) columns.
func (s *DataService) fetchRange(ctx context.Context, kind SeriesKind, r TimeRange) ([]SeriesPoint, error) {
	urls := pageURLs(s.endpoints[kind], r)
	if len(urls) == 0 {
		return nil, nil
	}

	log.Printf("%s: fetching data from API: %d requests", kind, len(urls))
	batches, err := s.fetcher.FetchPages(ctx, urls)
	if err != nil {
		return nil, fmt.Errorf("%s: fetching %s: %w", kind, r, err)
	}

	spec := kind.spec()
	series, err := assembleSeries(batches, r, spec.dateField, spec.valueField)
	if err != nil {
		return nil, fmt.Errorf("%s: assembling %s: %w", kind, r, err)
	}

	log.Printf("%s: filtered to %d records from API", kind, len(series))
	return series, nil
}

// persist writes fetched rows back to the cache. Durability is best
// effort: the rows are already in hand, so a failed write is logged and
// the response proceeds unchanged.
func (s *DataService) persist(ctx context.Context, kind SeriesKind, points []SeriesPoint) {
	if err := s.store.InsertSeries(ctx, kind, points); err != nil {
		log.Printf("%s: error inserting data to database: %v", kind, err)
	}
}
