package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// MockRoundTripper is a mock implementation of http.RoundTripper.
type MockRoundTripper struct {
	Handler func(req *http.Request) (*http.Response, error)
}

func (m *MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.Handler(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     make(http.Header),
	}
}

func TestPageURLs(t *testing.T) {
	endpoint := "https://api.example.com/v1/products/AGILE/standard-unit-rates/"

	tests := []struct {
		name   string
		r      TimeRange
		expect []string
	}{
		{
			name: "one day fits one page",
			r:    TimeRange{t0, t0.Add(24 * time.Hour)},
			expect: []string{
				endpoint + "?period_from=2025-01-01T00:00Z&period_to=2025-01-02T00:00Z&page_size=48&page=1",
			},
		},
		{
			name: "seventy days needs three pages",
			r:    TimeRange{t0, t0.Add(70 * 24 * time.Hour)},
			expect: []string{
				endpoint + "?period_from=2025-01-01T00:00Z&period_to=2025-03-12T00:00Z&page_size=1500&page=1",
				endpoint + "?period_from=2025-01-01T00:00Z&period_to=2025-03-12T00:00Z&page_size=1500&page=2",
				endpoint + "?period_from=2025-01-01T00:00Z&period_to=2025-03-12T00:00Z&page_size=1500&page=3",
			},
		},
		{
			name:   "empty range needs no pages",
			r:      TimeRange{t0, t0},
			expect: nil,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expect, pageURLs(endpoint, test.r))
		})
	}
}

func TestFetchPages(t *testing.T) {
	mockRoundTripper := &MockRoundTripper{
		Handler: func(req *http.Request) (*http.Response, error) {
			user, _, ok := req.BasicAuth()
			require.True(t, ok, "Expected basic auth on the request")
			require.Equal(t, "dummyKey", user)

			page := req.URL.Query().Get("page")
			body := fmt.Sprintf(`{"results": [{"valid_from": "2025-01-0%sT00:00:00Z", "value_inc_vat": 20.0}]}`, page)
			return jsonResponse(http.StatusOK, body), nil
		},
	}

	fetcher := NewRestFetcher(mockRoundTripper, "dummyKey")
	urls := []string{
		"https://api.example.com/rates/?page=1",
		"https://api.example.com/rates/?page=2",
	}

	batches, err := fetcher.FetchPages(context.Background(), urls)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	// Batches line up with their request order regardless of completion order.
	require.Equal(t, "2025-01-01T00:00:00Z", batches[0].Results[0]["valid_from"])
	require.Equal(t, "2025-01-02T00:00:00Z", batches[1].Results[0]["valid_from"])
}

func TestFetchPagesAllOrNothing(t *testing.T) {
	var calls atomic.Int32
	mockRoundTripper := &MockRoundTripper{
		Handler: func(req *http.Request) (*http.Response, error) {
			calls.Add(1)
			if strings.Contains(req.URL.RawQuery, "page=2") {
				return jsonResponse(http.StatusTooManyRequests, `{"detail": "throttled"}`), nil
			}
			return jsonResponse(http.StatusOK, `{"results": []}`), nil
		},
	}

	fetcher := NewRestFetcher(mockRoundTripper, "dummyKey")
	urls := []string{
		"https://api.example.com/rates/?page=1",
		"https://api.example.com/rates/?page=2",
		"https://api.example.com/rates/?page=3",
	}

	batches, err := fetcher.FetchPages(context.Background(), urls)
	require.Error(t, err)
	require.Nil(t, batches, "A failed page must fail the whole fetch")

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, http.StatusTooManyRequests, fetchErr.StatusCode)
}

func TestFetchPagesTransportError(t *testing.T) {
	mockRoundTripper := &MockRoundTripper{
		Handler: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		},
	}

	fetcher := NewRestFetcher(mockRoundTripper, "dummyKey")
	_, err := fetcher.FetchPages(context.Background(), []string{"https://api.example.com/rates/"})

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, "https://api.example.com/rates/", fetchErr.URL)
}

func TestFetchPagesBadJSON(t *testing.T) {
	mockRoundTripper := &MockRoundTripper{
		Handler: func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `<html>not json</html>`), nil
		},
	}

	fetcher := NewRestFetcher(mockRoundTripper, "dummyKey")
	_, err := fetcher.FetchPages(context.Background(), []string{"https://api.example.com/rates/"})

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
}
