// Package browser provides the page transport used to load and drive
// marketplace listing pages.
package browser

import (
	"context"
	"errors"
	"fmt"
)

// ErrElementNotFound is returned by Fill and Click when no element matches
// the selector.
var ErrElementNotFound = errors.New("element not found")

// ErrForbidden marks a 403 response. It is not retried.
var ErrForbidden = errors.New("forbidden")

// TransportError reports a page that could not be loaded.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsForbidden reports whether err is a 403 from the marketplace.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// Transport loads a page and drives it. A Transport holds one current page
// and is not safe for concurrent use.
type Transport interface {
	// Fetch navigates to url and returns its markup.
	Fetch(ctx context.Context, url string) (string, error)
	// Fill sets the value of the form control matched by selector.
	Fill(ctx context.Context, selector, value string) error
	// Click activates the element matched by selector. Links navigate and
	// submit buttons submit their form with the filled values.
	Click(ctx context.Context, selector string) error
	// ScrollToBottom scrolls the current page to its end.
	ScrollToBottom(ctx context.Context) error
	// CurrentHeight returns the document height of the current page.
	CurrentHeight(ctx context.Context) (int, error)
	// Content returns the markup of the current page.
	Content(ctx context.Context) (string, error)
	// URL returns the address of the current page.
	URL() string
	// Close releases the current page.
	Close() error
}
