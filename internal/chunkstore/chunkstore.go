// Package chunkstore persists raw chunk bytes per (session, chunk index) on
// an object store. Writes are append-only with no ordering requirement;
// duplicate writes of the same index are idempotent since chunk content for
// a given index is immutable input.
package chunkstore

import (
	"context"
	"errors"
	"io"
)

// Sentinel errors for chunk store operations
var (
	// ErrObjectNotFound indicates the requested object does not exist
	ErrObjectNotFound = errors.New("object not found")

	// ErrAccessDenied indicates insufficient permissions for the operation
	ErrAccessDenied = errors.New("access denied")

	// ErrNetworkError indicates a network connectivity issue
	ErrNetworkError = errors.New("network error")

	// ErrIncomplete indicates assembly was attempted with chunks missing
	ErrIncomplete = errors.New("chunk set incomplete")
)

// Store is the chunk persistence contract. Implementations must allow
// concurrent Put calls for different indices of the same session.
type Store interface {
	// Put writes the bytes for one chunk index. Re-writing an index is a
	// last-write-wins no-op.
	Put(ctx context.Context, sessionID string, index int, data []byte) error

	// ListPresent returns the sorted chunk indices currently stored for the
	// session.
	ListPresent(ctx context.Context, sessionID string) ([]int, error)

	// Assemble concatenates all chunks in index order. Returns ErrIncomplete
	// if any index in [0, chunkCount) is missing.
	Assemble(ctx context.Context, sessionID string, chunkCount int) ([]byte, error)

	// Delete removes all chunk data for the session. Deleting a session with
	// no chunks is not an error.
	Delete(ctx context.Context, sessionID string) error

	// PutOutput stores a merged output video for a group and returns its
	// locator.
	PutOutput(ctx context.Context, groupID string, r io.Reader, size int64, contentType string) (string, error)

	// DeleteOutput removes a merged output by locator.
	DeleteOutput(ctx context.Context, locator string) error
}
