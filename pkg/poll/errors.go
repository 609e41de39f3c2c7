package poll

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is reported through the ErrorHandler when a source can't be started.
	ErrInvalidConfig = errors.New("invalid source config")
	// ErrDisposed is reported when Start is called on a closed Poller.
	ErrDisposed = errors.New("poller disposed")
)

// FetchError wraps a failed fetch for one source.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// SinkError wraps a failed persist for one source.
type SinkError struct {
	Source string
	Err    error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Source, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}
