package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// pageSize is the maximum number of half-hour records requested per
	// page; ranges needing more points fan out across multiple pages.
	pageSize = 1500

	// periodLayout is the timestamp format the upstream API expects in
	// period_from/period_to query parameters.
	periodLayout = "2006-01-02T15:04Z"

	requestTimeout = 30 * time.Second
)

// RawBatch is one upstream page's payload: {"results": [...]}. Records
// stay untyped until the assembler projects the requested fields out.
type RawBatch struct {
	Results []map[string]any `json:"results"`
}

// RestFetcher issues paginated GET requests against the Octopus REST API
// using basic auth with the account API key.
type RestFetcher struct {
	client *http.Client
	apiKey string
}

// NewRestFetcher creates a fetcher on the given transport. A nil
// transport uses http.DefaultTransport.
func NewRestFetcher(rt http.RoundTripper, apiKey string) *RestFetcher {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &RestFetcher{
		client: &http.Client{Transport: rt, Timeout: requestTimeout},
		apiKey: apiKey,
	}
}

// pageURLs builds the page request URLs covering one time range. The
// page size shrinks to the expected point count when the range is small,
// and page numbers are 1-based.
func pageURLs(endpoint string, r TimeRange) []string {
	points := expectedPointCount(r)
	if points == 0 {
		return nil
	}

	size := pageSize
	if points < pageSize {
		size = points
	}
	pages := (points + pageSize - 1) / pageSize

	urls := make([]string, 0, pages)
	for page := 1; page <= pages; page++ {
		urls = append(urls, fmt.Sprintf("%s?period_from=%s&period_to=%s&page_size=%d&page=%d",
			endpoint,
			r.Start.UTC().Format(periodLayout),
			r.End.UTC().Format(periodLayout),
			size, page))
	}
	return urls
}

// FetchPages retrieves every URL concurrently and suspends until all
// pages complete. Pages are all-or-nothing: any failed page fails the
// whole call.
func (f *RestFetcher) FetchPages(ctx context.Context, urls []string) ([]RawBatch, error) {
	batches := make([]RawBatch, len(urls))

	g, ctx := errgroup.WithContext(ctx)
	for i, url := range urls {
		i, url := i, url
		g.Go(func() error {
			batch, err := f.fetchPage(ctx, url)
			if err != nil {
				return err
			}
			batches[i] = batch
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return batches, nil
}

func (f *RestFetcher) fetchPage(ctx context.Context, url string) (RawBatch, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return RawBatch{}, &FetchError{URL: url, Err: err}
	}
	req.SetBasicAuth(f.apiKey, "")

	resp, err := f.client.Do(req)
	if err != nil {
		return RawBatch{}, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return RawBatch{}, &FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	var batch RawBatch
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return RawBatch{}, &FetchError{URL: url, Err: fmt.Errorf("decoding response: %w", err)}
	}

	return batch, nil
}
