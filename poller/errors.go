package poller

import (
	"errors"
	"fmt"
)

// FetchError is returned when the feed client could not deliver a page
type FetchError struct {
	Feed string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Feed, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StoreError is returned when reading or writing the store failed
type StoreError struct {
	Feed string
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Feed == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s for %s: %v", e.Op, e.Feed, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ConfigError marks a feed whose configuration is invalid. The feed is
// skipped every cycle until it is corrected.
type ConfigError struct {
	Feed string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %v", e.Feed, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func errorKind(err error) string {
	var fetchErr *FetchError
	var storeErr *StoreError
	var configErr *ConfigError
	switch {
	case errors.As(err, &configErr):
		return "config"
	case errors.As(err, &fetchErr):
		return "fetch"
	case errors.As(err, &storeErr):
		return "store"
	default:
		return "other"
	}
}
