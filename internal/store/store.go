package store

import "errors"

// ErrNotFound is returned when the requested record does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for the integration's entry
// configuration.
type Store interface {
	GetEntryConfig() (*EntryConfig, error)
	SaveEntryConfig(cfg *EntryConfig) error

	// UpdateEntryConfig atomically reads, modifies, and saves the entry
	// config in a single transaction. Returns ErrNotFound if no config
	// has been saved yet.
	UpdateEntryConfig(fn func(cfg *EntryConfig) error) error

	// Close the store
	Close() error
}
