package client

import (
	"errors"
	"fmt"
)

// FetchError represents a failed network fetch with additional context.
type FetchError struct {
	Class ErrorClass
	URL   string
	Err   error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error fetching %s: %v", e.Class, e.URL, e.Err)
	}
	return fmt.Sprintf("%s error fetching %s", e.Class, e.URL)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsNetworkError reports whether err is a network-class fetch failure.
func IsNetworkError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Class == ErrorClassNetwork
}
