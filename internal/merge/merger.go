package merge

import (
	"context"

	"github.com/tripletake/tripletake/internal/models"
)

// Source describes one assembled statement video staged on local disk,
// ready for the merge/transcode step.
type Source struct {
	StatementIndex     int
	Path               string
	MIMEType           string
	DeclaredDurationMs int64
}

// Merger is the capability interface for the external merge/transcode
// function. The orchestrator guarantees Run is invoked at most once per
// group; implementations must watch ctx between internal steps and abort
// cleanly when it is cancelled.
type Merger interface {
	Run(ctx context.Context, groupID string, sources []Source) (*models.MergeResult, error)
}

// CodedError is a merge failure with a stable, client-safe code and message.
// Mergers return it so that internal detail (paths, tool output) never
// reaches the group's public error fields.
type CodedError struct {
	Code    string
	Message string
}

func (e *CodedError) Error() string {
	return e.Message
}

// Stable merge failure codes.
const (
	CodeMergeFailed    = "merge_failed"
	CodeMergeTimeout   = "merge_timeout"
	CodeProbeFailed    = "probe_failed"
	CodeTranscodeError = "transcode_failed"
)
