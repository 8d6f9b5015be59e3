package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput rejects a malformed start URL or page budget before any network activity.
	ErrInvalidInput = errors.New("invalid input")
	// ErrRobotsUnavailable marks a robots.txt that could not be loaded; callers fall back to allow-all.
	ErrRobotsUnavailable = errors.New("robots.txt unavailable")
	// ErrFetchFailure is matched by every *FetchError.
	ErrFetchFailure = errors.New("fetch failed")
	// ErrPolicyDenied marks a URL excluded by robots rules.
	ErrPolicyDenied = errors.New("denied by robots policy")
	// ErrEmptyFrontier signals that no URL is left to crawl.
	ErrEmptyFrontier = errors.New("frontier is empty")
	// ErrSinkWrite wraps failures persisting crawl records.
	ErrSinkWrite = errors.New("sink write failed")
)

// FetchError describes why a single URL could not be retrieved.
type FetchError struct {
	URL        string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Timeout:
		if e.Err != nil {
			return fmt.Sprintf("fetch %s: timeout: %v", e.URL, e.Err)
		}
		return fmt.Sprintf("fetch %s: timeout", e.URL)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s: failed", e.URL)
	}
}

// Unwrap exposes both the cause and ErrFetchFailure to errors.Is.
func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFetchFailure}
	}
	return []error{ErrFetchFailure, e.Err}
}
