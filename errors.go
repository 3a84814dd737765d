package main

import "fmt"

// FetchError reports a failed upstream page request. One failed page
// invalidates the whole fetch, and the reconciler aborts the call rather
// than return a partial series.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch error at %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch error at %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
