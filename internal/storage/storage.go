// Package storage defines the record store the task transaction writes to,
// with memory, SQL, MongoDB and Redis implementations.
//
// Records live in collections (a template, step or instance database) and
// are never hard-deleted: ArchiveRecord flags them as archived.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record has the given id.
	ErrNotFound = errors.New("record not found")

	// ErrEmptyCollection is returned when a record is created without a collection.
	ErrEmptyCollection = errors.New("collection is required")
)

// Backend is the write side used by the transaction and the step service.
type Backend interface {
	// CreateRecord stores fields in collection and returns the new id.
	CreateRecord(ctx context.Context, collection string, fields Fields) (string, error)

	// ArchiveRecord soft-deletes a record.
	ArchiveRecord(ctx context.Context, id string) error

	// UpdateRecord merges fields into an existing record.
	UpdateRecord(ctx context.Context, id string, fields Fields) error
}

// Reader loads a record by id, archived or not.
type Reader interface {
	GetRecord(ctx context.Context, id string) (*Record, error)
}

// Store is a Backend that can also read records back.
type Store interface {
	Backend
	Reader
	Close() error
}

// Record is a stored record.
type Record struct {
	ID         string    `json:"id"`
	Collection string    `json:"collection"`
	Fields     Fields    `json:"fields"`
	Archived   bool      `json:"archived"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DatabaseIDs names the collections a task transaction writes to.
type DatabaseIDs struct {
	Templates string `json:"templates"`
	Steps     string `json:"steps"`
	Instances string `json:"instances"`
}

// Clock returns the current time. Stores accept one for tests.
type Clock func() time.Time
