package validation

import "fmt"

// Upload limits. Chunk size is fixed: clients split files into ChunkSize
// pieces and the declared chunk count must match exactly.
const (
	ChunkSize       = 1 << 20   // 1 MiB per chunk
	MaxFileSize     = 100 << 20 // 100 MiB per statement video
	MinDurationMs   = 1_000     // statements shorter than 1s are rejected
	MaxDurationMs   = 60_000    // statements longer than 60s are rejected
	RequiredEntries = 3         // a challenge is exactly three statements
	MaxOwnerIDLen   = 256
)

// allowedMIMETypes is the set of accepted video container types.
var allowedMIMETypes = map[string]bool{
	"video/mp4":       true,
	"video/quicktime": true,
	"video/webm":      true,
}

// AllowedMIMEType reports whether the given MIME type is an accepted video type.
func AllowedMIMEType(mimeType string) bool {
	return allowedMIMETypes[mimeType]
}

// ExpectedChunkCount returns the chunk count a file of the given size must
// declare (ceiling division; the last chunk may be short).
func ExpectedChunkCount(size int64) int {
	return int((size + ChunkSize - 1) / ChunkSize)
}

// Violation describes one validation failure. Index is the statement index
// the violation applies to, or -1 for request-level violations.
type Violation struct {
	Field   string `json:"field"`
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// Errors is the full list of violations found in a request. It implements
// error so callers can return it directly.
type Errors []Violation

func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation passed"
	}
	if len(e) == 1 {
		return fmt.Sprintf("validation failed: %s", e[0].Message)
	}
	return fmt.Sprintf("validation failed: %s (and %d more)", e[0].Message, len(e)-1)
}

// ValidateGroupRequest checks a group initiation request and returns every
// violation found, not just the first, so the caller can report a complete
// error list in one response. The parallel arrays must each have exactly
// count entries and count must equal RequiredEntries.
func ValidateGroupRequest(count int, sizes []int64, mimeTypes []string, durationsMs []int64) Errors {
	var errs Errors

	if count != RequiredEntries {
		errs = append(errs, Violation{
			Field:   "count",
			Index:   -1,
			Message: fmt.Sprintf("exactly %d statements are required, got %d", RequiredEntries, count),
		})
	}

	arrays := []struct {
		field string
		n     int
	}{
		{"sizes", len(sizes)},
		{"mime_types", len(mimeTypes)},
		{"durations_ms", len(durationsMs)},
	}
	lengthsOK := true
	for _, a := range arrays {
		if a.n != count {
			lengthsOK = false
			errs = append(errs, Violation{
				Field:   a.field,
				Index:   -1,
				Message: fmt.Sprintf("%s has %d entries, expected %d", a.field, a.n, count),
			})
		}
	}

	// Per-entry checks only make sense when the arrays line up.
	if !lengthsOK {
		return errs
	}

	for i := 0; i < count; i++ {
		errs = append(errs, validateEntry(i, sizes[i], mimeTypes[i], durationsMs[i])...)
	}
	return errs
}

// ValidateSessionMetadata checks the declared metadata for a single upload
// session, including chunk-count consistency with the fixed chunk size.
func ValidateSessionMetadata(size int64, chunkCount int, mimeType string, durationMs int64) Errors {
	errs := validateEntry(-1, size, mimeType, durationMs)
	if size > 0 && chunkCount != ExpectedChunkCount(size) {
		errs = append(errs, Violation{
			Field:   "chunk_count",
			Index:   -1,
			Message: fmt.Sprintf("chunk_count %d inconsistent with size %d (expected %d)", chunkCount, size, ExpectedChunkCount(size)),
		})
	}
	return errs
}

// ValidateOwnerID checks an owner id received from the auth collaborator.
func ValidateOwnerID(ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("owner id is required")
	}
	if len(ownerID) > MaxOwnerIDLen {
		return fmt.Errorf("owner id must be at most %d characters", MaxOwnerIDLen)
	}
	return nil
}

func validateEntry(index int, size int64, mimeType string, durationMs int64) Errors {
	var errs Errors
	if size <= 0 {
		errs = append(errs, Violation{
			Field:   "size",
			Index:   index,
			Message: "size must be greater than zero",
		})
	} else if size > MaxFileSize {
		errs = append(errs, Violation{
			Field:   "size",
			Index:   index,
			Message: fmt.Sprintf("size %d exceeds maximum %d", size, int64(MaxFileSize)),
		})
	}
	if durationMs < MinDurationMs || durationMs > MaxDurationMs {
		errs = append(errs, Violation{
			Field:   "duration_ms",
			Index:   index,
			Message: fmt.Sprintf("duration %dms outside allowed range [%d, %d]", durationMs, int64(MinDurationMs), int64(MaxDurationMs)),
		})
	}
	if !AllowedMIMEType(mimeType) {
		errs = append(errs, Violation{
			Field:   "mime_type",
			Index:   index,
			Message: fmt.Sprintf("mime type %q is not an allowed video type", mimeType),
		})
	}
	return errs
}
