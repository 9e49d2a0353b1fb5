// Package search defines the index operations the propagation worker needs:
// scanning a user's documents and bulk-updating their suppression flag.
// Backends live in the elastic and bleve subpackages.
package search

import (
	"context"
	"errors"
	"fmt"
)

// Default field names of the annotation index.
const (
	DefaultOwnerField = "user"
	DefaultFlagField  = "not_in_public_site_areas"
)

// ErrIndexUnavailable wraps every failure to reach the index.
var ErrIndexUnavailable = errors.New("search index unavailable")

// Schema names the document fields the worker reads and writes.
type Schema struct {
	OwnerField string
	FlagField  string
}

// DefaultSchema returns the field names used by the annotation index.
func DefaultSchema() Schema {
	return Schema{OwnerField: DefaultOwnerField, FlagField: DefaultFlagField}
}

// WithDefaults fills empty fields with their defaults.
func (s Schema) WithDefaults() Schema {
	if s.OwnerField == "" {
		s.OwnerField = DefaultOwnerField
	}
	if s.FlagField == "" {
		s.FlagField = DefaultFlagField
	}
	return s
}

// Query selects the documents owned by OwnerUserID whose flag is true
// (Flagged) or not true (!Flagged, which includes a missing flag).
type Query struct {
	OwnerUserID string
	Flagged     bool
}

// Op is a per-document mutation.
type Op int

const (
	// OpSetFlag sets the flag field to true.
	OpSetFlag Op = iota + 1
	// OpRemoveFlag deletes the flag field from the document.
	OpRemoveFlag
)

func (o Op) String() string {
	switch o {
	case OpSetFlag:
		return "set_flag"
	case OpRemoveFlag:
		return "remove_flag"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Action is one queued document mutation.
type Action struct {
	DocumentID string
	Op         Op
}

// BulkFailure describes a document the index rejected.
type BulkFailure struct {
	DocumentID string
	Reason     string
}

// BulkResult summarizes a closed bulk session.
type BulkResult struct {
	Succeeded int
	Failed    []BulkFailure
}

// Total is the number of actions the session carried.
func (r BulkResult) Total() int {
	return r.Succeeded + len(r.Failed)
}

// Bulk is a bulk session. Actions are buffered and flushed in bounded
// chunks; Close flushes the remainder. Per-document rejections are reported
// in BulkResult, not as errors. An error from Add or Close means the index
// could not be reached.
type Bulk interface {
	Add(ctx context.Context, a Action) error
	Close(ctx context.Context) (BulkResult, error)
}

// Index is a searchable document store.
type Index interface {
	// Scan calls fn with the ID of every document matching q, one page at a
	// time. Returning an error from fn stops the scan.
	Scan(ctx context.Context, q Query, fn func(id string) error) error
	// NewBulk opens a bulk session.
	NewBulk(ctx context.Context) (Bulk, error)
	Ping(ctx context.Context) error
	Close() error
}

// Unavailable wraps a transport failure as ErrIndexUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrIndexUnavailable, err)
}
