package models

import "errors"

// Sentinel errors for domain operations. Handlers map these to stable
// error codes and HTTP statuses; callers test them with errors.Is.
var (
	// ErrNotFound indicates an unknown session or group id.
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied indicates the requester does not own the record.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidState indicates the operation is not valid for the record's
	// current status (e.g. uploading a chunk to a cancelled session).
	ErrInvalidState = errors.New("operation not valid in current state")

	// ErrInvalidMetadata indicates declared upload metadata failed validation.
	ErrInvalidMetadata = errors.New("invalid metadata")

	// ErrIndexOutOfRange indicates a chunk index at or beyond the declared
	// chunk count.
	ErrIndexOutOfRange = errors.New("chunk index out of range")

	// ErrDuplicateChunk indicates a chunk index that was already stored.
	// Duplicate writes are treated as idempotent no-ops; this sentinel is
	// internal and never surfaced to clients.
	ErrDuplicateChunk = errors.New("duplicate chunk")

	// ErrIncomplete indicates completion was attempted before all declared
	// chunks were present, or assembly found chunks missing.
	ErrIncomplete = errors.New("upload incomplete")

	// ErrIntegrity indicates the assembled content hash did not match the
	// declared hash.
	ErrIntegrity = errors.New("content hash mismatch")

	// ErrAlreadyTriggered indicates the merge latch was already set. Internal
	// only: duplicate completion notifications are silent no-ops, so this
	// never crosses the API boundary.
	ErrAlreadyTriggered = errors.New("merge already triggered")
)

// Stable error codes surfaced to clients. Each sentinel above maps to one.
const (
	CodeNotFound         = "not_found"
	CodeAccessDenied     = "access_denied"
	CodeInvalidState     = "invalid_state"
	CodeInvalidMetadata  = "invalid_metadata"
	CodeIndexOutOfRange  = "index_out_of_range"
	CodeIncomplete       = "incomplete"
	CodeIntegrityError   = "integrity_error"
	CodeValidationFailed = "validation_failed"
	CodeMergeFailure     = "merge_failure"
)
