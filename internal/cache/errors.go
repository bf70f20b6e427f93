package cache

import (
	"errors"
	"fmt"
)

// Common cache errors.
var (
	// ErrNotFound is returned when an entry is absent or has expired.
	ErrNotFound = errors.New("cache entry not found")

	ErrInvalidLifetime = errors.New("cache lifetime must not be negative")
	ErrInvalidAppID    = errors.New("cache application id is empty or reserved")
)

// IOError reports a filesystem failure other than a missing entry.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
