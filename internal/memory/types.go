package memory

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyText is returned when a save is attempted with no content.
var ErrEmptyText = errors.New("empty text")

// StoreError wraps a long-term store failure (vector backend unreachable,
// write/read failure). Callers detect it with errors.As; at the tool boundary
// it is reported to the model loop instead of aborting the turn.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("memory store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Chunk is the unit actually persisted and retrieved. A saved text is split
// into overlapping chunks; each chunk carries the parent metadata plus its
// position within the save.
type Chunk struct {
	ID       string
	Text     string
	Metadata map[string]string
	Index    int // position within the originating save
	Total    int // number of chunks the originating save produced
}

// Result is a retrieved chunk with its similarity score.
type Result struct {
	Chunk Chunk
	Score float32
}

// Store is the interface for the persistent long-term memory.
type Store interface {
	// Save splits text into chunks and persists them all, returning the
	// chunk count. Empty text and backend failures yield a *StoreError.
	Save(ctx context.Context, text string, metadata map[string]string) (int, error)
	// Search returns up to k chunks ordered by descending similarity.
	// An empty store yields an empty result, not an error.
	Search(ctx context.Context, query string, k int) ([]Result, error)
	List(ctx context.Context, limit int) ([]Chunk, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Count() int
	Close() error
}
