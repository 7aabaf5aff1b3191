// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"adwatch/internal/model"
)

var (
	// ErrInvalidParameter is returned for a filter field or value that
	// cannot be written. The stored row is left unchanged.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNotFound is returned when a filter or seen ad does not exist.
	ErrNotFound = errors.New("not found")
)

// FilterStore persists search filters.
type FilterStore interface {
	CreateFilter(ctx context.Context, f *model.Filter) error
	GetFilter(ctx context.Context, id int64) (*model.Filter, error)
	ListFilters(ctx context.Context) ([]model.Filter, error)
	UpdateFilter(ctx context.Context, id int64, field, value string) error
	DeleteFilter(ctx context.Context, id int64) error
	DeleteAllFilters(ctx context.Context) error
}

// SeenStore records ad URLs that have already been notified.
type SeenStore interface {
	IsSeen(ctx context.Context, url string) (bool, error)
	MarkSeen(ctx context.Context, url string) error
}

// Storage is the interface for all persistence operations.
type Storage interface {
	FilterStore
	SeenStore

	Close() error
}
