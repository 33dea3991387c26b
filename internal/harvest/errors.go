package harvest

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that a catalog page yielded no item identifiers.
var ErrNotFound = errors.New("no items found")

// NetworkError is the terminal failure of a fetch after all attempts.
type NetworkError struct {
	Target   string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.Target, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// StatusError is returned for responses outside the 2xx range.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

// DiscoveryError is the failure of a catalog page: either the listing could
// not be fetched or it contained no identifiers (wrapping ErrNotFound).
type DiscoveryError struct {
	Page int
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("catalog page %d: %v", e.Page, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// ItemError is the failure of an item's metadata fetch.
type ItemError struct {
	ID  string
	Err error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %s: %v", e.ID, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}
