package repository

import (
	"context"
	"errors"

	"docmerge/internal/model"
)

// ErrNotFound is returned when no record matches the entity and id.
var ErrNotFound = errors.New("record not found")

// RecordRepository persists merged records. It performs no merging and no
// file I/O; those belong to the service.
type RecordRepository interface {
	// Ping checks connectivity with the backing store.
	Ping(ctx context.Context) error

	// Create inserts a new record. ID, Entity and CreatedAt must be set.
	Create(ctx context.Context, rec *model.Record) error

	// FindByID returns the record of the given entity type, or ErrNotFound.
	FindByID(ctx context.Context, entity, id string) (*model.Record, error)

	// Update replaces the stored record with rec, or returns ErrNotFound.
	Update(ctx context.Context, rec *model.Record) error

	// List returns a page of records of one entity type, newest first.
	List(ctx context.Context, entity string, pq PageQuery) (*PageResult[model.Record], error)

	// Delete removes a record. It returns nil if the record did not exist.
	Delete(ctx context.Context, entity, id string) error
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper.
// T is typically a model type.
type PageResult[T any] struct {
	Items []T
	Total int
}
