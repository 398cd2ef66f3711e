// Package fetcher downloads portal pages and spreadsheet exports and decodes
// the workbooks into raw sheets.
package fetcher

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rotisserie/eris"
)

// Fetcher performs a retried GET for one URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Response, error)
}

// Response is a fully read HTTP response.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ContentType returns the Content-Type header.
func (r *Response) ContentType() string { return r.Header.Get("Content-Type") }

// ErrBodyTooLarge means a response exceeded HTTPOptions.MaxBodyBytes.
var ErrBodyTooLarge = eris.New("fetcher: response body too large")

// ErrFetchExhausted is matched by every *FetchExhausted.
var ErrFetchExhausted = eris.New("fetcher: retries exhausted")

// FetchExhausted is returned when every attempt for a URL failed.
type FetchExhausted struct {
	URL      string
	Attempts int
	// StatusCode and the content headers describe the last response, if any.
	StatusCode    int
	ContentType   string
	ContentLength string
	Err           error
}

func (e *FetchExhausted) Error() string {
	msg := fmt.Sprintf("fetcher: %d attempts failed for %s", e.Attempts, e.URL)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (last status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchExhausted) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrFetchExhausted) true.
func (e *FetchExhausted) Is(target error) bool { return target == ErrFetchExhausted }

// StatusError is the attempt error for a non-2xx response.
type StatusError struct {
	StatusCode int
	Header     http.Header
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}
