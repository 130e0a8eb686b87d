package models

import "time"

// StatementCount is the number of video statements in a challenge group.
// A group always references exactly this many upload sessions.
const StatementCount = 3

// SessionStatus is the lifecycle state of a single video upload.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionUploading SessionStatus = "uploading"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether no further client-driven transitions are possible.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionCancelled:
		return true
	}
	return false
}

// GroupStatus is the lifecycle state of a merge group.
type GroupStatus string

const (
	GroupAwaitingUploads GroupStatus = "awaiting_uploads"
	GroupMerging         GroupStatus = "merging"
	GroupCompleted       GroupStatus = "completed"
	GroupFailed          GroupStatus = "failed"
	GroupCancelled       GroupStatus = "cancelled"
)

// Terminal reports whether the group can no longer change state.
func (s GroupStatus) Terminal() bool {
	switch s {
	case GroupCompleted, GroupFailed, GroupCancelled:
		return true
	}
	return false
}

// UploadSession is the upload lifecycle record for one video statement.
// Owned by the upload manager; the merge group references it by id.
type UploadSession struct {
	ID                 string        `json:"id"`
	OwnerID            string        `json:"owner_id"`
	GroupID            string        `json:"group_id"`
	StatementIndex     int           `json:"statement_index"`
	DeclaredSize       int64         `json:"declared_size"`
	ChunkCount         int           `json:"chunk_count"`
	MIMEType           string        `json:"mime_type"`
	DeclaredDurationMs int64         `json:"declared_duration_ms"`
	Status             SessionStatus `json:"status"`
	DeclaredHash       string        `json:"declared_hash,omitempty"`
	ComputedHash       string        `json:"computed_hash,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Segment describes where one statement sits in the merged output.
type Segment struct {
	StatementIndex int   `json:"statement_index"`
	StartOffsetMs  int64 `json:"start_offset_ms"`
	EndOffsetMs    int64 `json:"end_offset_ms"`
}

// MergeResult is the outcome of a successful merge run.
type MergeResult struct {
	OutputLocator string    `json:"output_locator"`
	Segments      []Segment `json:"segments"`
}

// MergeGroup coordinates the three upload sessions of one challenge.
type MergeGroup struct {
	ID          string                 `json:"id"`
	OwnerID     string                 `json:"owner_id"`
	SessionIDs  [StatementCount]string `json:"session_ids"`
	Status      GroupStatus            `json:"status"`
	SlotReady   [StatementCount]bool   `json:"slot_ready"`
	Triggered   bool                   `json:"triggered"`
	Result      *MergeResult           `json:"result,omitempty"`
	ErrorCode   string                 `json:"error_code,omitempty"`
	ErrorDetail string                 `json:"error_detail,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// SessionStatusInfo is the read-only status view of an upload session.
type SessionStatusInfo struct {
	ID             string        `json:"id"`
	GroupID        string        `json:"group_id"`
	StatementIndex int           `json:"statement_index"`
	Status         SessionStatus `json:"status"`
	Progress       float64       `json:"progress"`
	PresentChunks  []int         `json:"present_chunks"`
	MissingChunks  []int         `json:"missing_chunks"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// GroupStatusInfo is the read-only aggregate view of a merge group.
type GroupStatusInfo struct {
	ID           string              `json:"id"`
	Status       GroupStatus         `json:"status"`
	Sessions     []SessionStatusInfo `json:"sessions"`
	Progress     float64             `json:"progress"`
	Result       *MergeResult        `json:"result,omitempty"`
	ErrorCode    string              `json:"error_code,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// CancelOutcome describes what a bulk group cancel did to one member session.
type CancelOutcome string

const (
	// CancelOutcomeCancelled: the session was active and is now cancelled.
	CancelOutcomeCancelled CancelOutcome = "cancelled"
	// CancelOutcomeForceReset: the session had completed and was reset to
	// cancelled by the group-level override.
	CancelOutcomeForceReset CancelOutcome = "force_reset"
	// CancelOutcomeAlreadyTerminal: the session was already failed or
	// cancelled; nothing changed.
	CancelOutcomeAlreadyTerminal CancelOutcome = "already_terminal"
)

// MemberCancelResult reports the per-session outcome of a group cancel.
type MemberCancelResult struct {
	SessionID      string        `json:"session_id"`
	StatementIndex int           `json:"statement_index"`
	Outcome        CancelOutcome `json:"outcome"`
}
