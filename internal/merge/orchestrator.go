// Package merge owns the coordination of a challenge's three upload
// sessions: group initiation, readiness tracking, the single-fire merge
// trigger, aggregate status, and cancellation.
package merge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tripletake/tripletake/internal/chunkstore"
	"github.com/tripletake/tripletake/internal/events"
	"github.com/tripletake/tripletake/internal/logger"
	"github.com/tripletake/tripletake/internal/models"
	"github.com/tripletake/tripletake/internal/upload"
	"github.com/tripletake/tripletake/internal/validation"
)

var tracer = otel.Tracer("tripletake/merge")

// DefaultMergeTimeout bounds a single merge run, including source staging
// and the external transcode call.
const DefaultMergeTimeout = 10 * time.Minute

// Config holds orchestrator tunables.
type Config struct {
	// MergeTimeout bounds one merge run. Zero means DefaultMergeTimeout.
	MergeTimeout time.Duration
	// StagingDir is where assembled sources are staged for the merger.
	// Empty means the system temp directory.
	StagingDir string
}

// Orchestrator owns all merge group records. Locking is per group, so
// unrelated groups never block each other; the registry lock only guards
// the map. Lock order is always group before session.
type Orchestrator struct {
	uploads *upload.Manager
	store   chunkstore.Store
	merger  Merger
	events  events.Sink
	config  Config

	mu     sync.RWMutex
	groups map[string]*group
}

// group pairs a record with its lock and, while a merge is in flight, the
// cancellation hook for the run.
type group struct {
	mu          sync.Mutex
	rec         models.MergeGroup
	cancelMerge context.CancelFunc
}

// NewOrchestrator creates a merge orchestrator. It registers itself as the
// upload manager's completion notifier.
func NewOrchestrator(uploads *upload.Manager, store chunkstore.Store, merger Merger, sink events.Sink, config Config) *Orchestrator {
	if config.MergeTimeout <= 0 {
		config.MergeTimeout = DefaultMergeTimeout
	}
	o := &Orchestrator{
		uploads: uploads,
		store:   store,
		merger:  merger,
		events:  sink,
		config:  config,
		groups:  make(map[string]*group),
	}
	uploads.SetNotifier(o)
	return o
}

// GroupRequest is the parallel-array form of a group initiation request.
type GroupRequest struct {
	Sizes       []int64
	MIMETypes   []string
	DurationsMs []int64
}

// SlotSession pairs a created session with its statement index.
type SlotSession struct {
	StatementIndex int    `json:"statement_index"`
	SessionID      string `json:"session_id"`
}

// InitiateResult is the outcome of a successful group initiation.
type InitiateResult struct {
	GroupID  string        `json:"group_id"`
	Sessions []SlotSession `json:"sessions"`
}

// Initiate validates the request and creates one merge group plus its three
// upload sessions atomically: if any sub-creation fails, already-created
// sessions are rolled back and no partial group becomes visible.
func (o *Orchestrator) Initiate(ctx context.Context, ownerID string, req GroupRequest) (*InitiateResult, error) {
	ctx, span := tracer.Start(ctx, "merge.initiate",
		trace.WithAttributes(attribute.String("owner.id", ownerID)))
	defer span.End()

	count := len(req.Sizes)
	if errs := validation.ValidateGroupRequest(count, req.Sizes, req.MIMETypes, req.DurationsMs); len(errs) > 0 {
		return nil, errs
	}

	groupID := uuid.New().String()
	now := time.Now().UTC()

	var sessionIDs [models.StatementCount]string
	created := make([]string, 0, models.StatementCount)
	for i := 0; i < models.StatementCount; i++ {
		rec, err := o.uploads.Create(ctx, ownerID, groupID, i, upload.Declared{
			Size:       req.Sizes[i],
			ChunkCount: validation.ExpectedChunkCount(req.Sizes[i]),
			MIMEType:   req.MIMETypes[i],
			DurationMs: req.DurationsMs[i],
		})
		if err != nil {
			for _, id := range created {
				if rmErr := o.uploads.Remove(ctx, id); rmErr != nil {
					logger.Warn("failed to roll back session", "session_id", id, "error", rmErr)
				}
			}
			return nil, fmt.Errorf("statement %d: %w", i, err)
		}
		sessionIDs[i] = rec.ID
		created = append(created, rec.ID)
	}

	g := &group{
		rec: models.MergeGroup{
			ID:         groupID,
			OwnerID:    ownerID,
			SessionIDs: sessionIDs,
			Status:     models.GroupAwaitingUploads,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}
	o.mu.Lock()
	o.groups[groupID] = g
	o.mu.Unlock()

	span.SetAttributes(attribute.String("group.id", groupID))
	result := &InitiateResult{GroupID: groupID}
	for i, id := range sessionIDs {
		result.Sessions = append(result.Sessions, SlotSession{StatementIndex: i, SessionID: id})
	}
	return result, nil
}

// SessionCompleted is the completion callback invoked by the upload manager.
// It marks the slot ready and performs the single atomic check-and-set for
// the merge trigger: under the group lock, if all three slots are ready, the
// latch is unset and the group is not terminal, the latch is set and exactly
// one merge run is scheduled. Duplicate or late notifications are silent
// no-ops.
func (o *Orchestrator) SessionCompleted(ctx context.Context, groupID, sessionID string) {
	g, err := o.lookup(groupID)
	if err != nil {
		logger.Warn("completion callback for unknown group", "group_id", groupID, "session_id", sessionID)
		return
	}

	g.mu.Lock()
	if g.rec.Triggered || g.rec.Status != models.GroupAwaitingUploads {
		g.mu.Unlock()
		return
	}
	slot := -1
	for i, id := range g.rec.SessionIDs {
		if id == sessionID {
			slot = i
			break
		}
	}
	if slot < 0 {
		// A replaced session completing after the swap. Its slot no longer
		// belongs to it.
		g.mu.Unlock()
		logger.Warn("completion callback for non-member session", "group_id", groupID, "session_id", sessionID)
		return
	}
	g.rec.SlotReady[slot] = true
	now := time.Now().UTC()
	g.rec.UpdatedAt = now

	allReady := true
	for _, ready := range g.rec.SlotReady {
		if !ready {
			allReady = false
			break
		}
	}
	if !allReady {
		g.mu.Unlock()
		return
	}

	g.rec.Triggered = true
	g.rec.Status = models.GroupMerging
	// The run is detached from the triggering request's context: the
	// complete call must not block on, or abort, the merge.
	mergeCtx, cancel := context.WithCancel(context.Background())
	g.cancelMerge = cancel
	rec := g.rec
	g.mu.Unlock()

	o.events.Publish(ctx, events.Event{
		Type:    events.GroupTriggerFired,
		GroupID: rec.ID,
		OwnerID: rec.OwnerID,
		At:      now,
	})
	go o.runMerge(mergeCtx, g, rec)
}

// Status returns the aggregate group view: overall status, per-slot session
// statuses, average progress, and the merge result or error once terminal.
// The snapshot is taken under the group lock, so a status read immediately
// after the merge worker's final write always sees the final state.
func (o *Orchestrator) Status(ctx context.Context, groupID, requesterID string) (*models.GroupStatusInfo, error) {
	g, err := o.lookup(groupID)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rec.OwnerID != requesterID {
		return nil, models.ErrAccessDenied
	}

	info := &models.GroupStatusInfo{
		ID:           g.rec.ID,
		Status:       g.rec.Status,
		Result:       g.rec.Result,
		ErrorCode:    g.rec.ErrorCode,
		ErrorMessage: g.rec.ErrorDetail,
		CreatedAt:    g.rec.CreatedAt,
		UpdatedAt:    g.rec.UpdatedAt,
	}

	var progressSum float64
	for _, sid := range g.rec.SessionIDs {
		st, err := o.uploads.StatusInternal(ctx, sid)
		if err != nil {
			return nil, fmt.Errorf("member session %s: %w", sid, err)
		}
		info.Sessions = append(info.Sessions, *st)
		progressSum += st.Progress
	}
	info.Progress = progressSum / models.StatementCount
	return info, nil
}

// Cancel force-cancels the whole group: all member sessions regardless of
// state (including completed ones, via the privileged override), plus any
// in-flight merge run. Returns the per-session outcomes so a partially
// trivial bulk cancel is observable. Cancelling an already-cancelled group
// is an idempotent no-op; a completed or failed group cannot be cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, groupID, requesterID string) ([]models.MemberCancelResult, error) {
	g, err := o.lookup(groupID)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	if g.rec.OwnerID != requesterID {
		g.mu.Unlock()
		return nil, models.ErrAccessDenied
	}
	switch g.rec.Status {
	case models.GroupCompleted, models.GroupFailed:
		status := g.rec.Status
		g.mu.Unlock()
		return nil, fmt.Errorf("group is %s: %w", status, models.ErrInvalidState)
	}
	alreadyCancelled := g.rec.Status == models.GroupCancelled

	now := time.Now().UTC()
	if !alreadyCancelled {
		g.rec.Status = models.GroupCancelled
		g.rec.UpdatedAt = now
		if g.cancelMerge != nil {
			// Best-effort: the worker checks its context between steps.
			g.cancelMerge()
			g.cancelMerge = nil
		}
	}
	rec := g.rec

	// Member sessions are cancelled while holding the group lock; lock
	// order is group before session everywhere.
	results := make([]models.MemberCancelResult, 0, models.StatementCount)
	for i, sid := range rec.SessionIDs {
		outcome, err := o.uploads.ForceCancel(ctx, sid)
		if err != nil {
			outcome = models.CancelOutcomeAlreadyTerminal
		}
		results = append(results, models.MemberCancelResult{
			SessionID:      sid,
			StatementIndex: i,
			Outcome:        outcome,
		})
	}
	g.mu.Unlock()

	if !alreadyCancelled {
		o.events.Publish(ctx, events.Event{
			Type:    events.GroupCancelled,
			GroupID: rec.ID,
			OwnerID: rec.OwnerID,
			At:      now,
		})
	}
	return results, nil
}

// ReplaceSlot creates a replacement session for a statement slot whose
// previous session was cancelled or failed, and re-associates the slot with
// it. Only permitted while the group is awaiting uploads.
func (o *Orchestrator) ReplaceSlot(ctx context.Context, groupID string, statementIndex int, decl upload.Declared, requesterID string) (*models.UploadSession, error) {
	g, err := o.lookup(groupID)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rec.OwnerID != requesterID {
		return nil, models.ErrAccessDenied
	}
	if g.rec.Status != models.GroupAwaitingUploads {
		return nil, fmt.Errorf("group is %s: %w", g.rec.Status, models.ErrInvalidState)
	}
	if statementIndex < 0 || statementIndex >= models.StatementCount {
		return nil, fmt.Errorf("statement index %d: %w", statementIndex, models.ErrIndexOutOfRange)
	}

	oldID := g.rec.SessionIDs[statementIndex]
	old, err := o.uploads.Record(oldID)
	if err != nil {
		return nil, fmt.Errorf("slot session %s: %w", oldID, err)
	}
	switch old.Status {
	case models.SessionCancelled, models.SessionFailed:
		// Only an abandoned slot can be replaced.
	default:
		return nil, fmt.Errorf("slot session is %s: %w", old.Status, models.ErrInvalidState)
	}

	rec, err := o.uploads.Create(ctx, requesterID, groupID, statementIndex, decl)
	if err != nil {
		return nil, err
	}
	g.rec.SessionIDs[statementIndex] = rec.ID
	g.rec.SlotReady[statementIndex] = false
	g.rec.UpdatedAt = time.Now().UTC()
	return rec, nil
}

// Sweep removes groups that have been terminal for at least retention,
// along with their sessions, chunk data, and merged output. Returns the
// number of groups removed. Called by the retention janitor.
func (o *Orchestrator) Sweep(ctx context.Context, retention time.Duration) int {
	o.mu.RLock()
	candidates := make([]*group, 0, len(o.groups))
	for _, g := range o.groups {
		candidates = append(candidates, g)
	}
	o.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-retention)
	removed := 0
	for _, g := range candidates {
		g.mu.Lock()
		expired := g.rec.Status.Terminal() && g.rec.UpdatedAt.Before(cutoff)
		rec := g.rec
		g.mu.Unlock()
		if !expired {
			continue
		}

		for _, sid := range rec.SessionIDs {
			if err := o.uploads.Remove(ctx, sid); err != nil {
				logger.Warn("janitor failed to remove session", "session_id", sid, "error", err)
			}
		}
		if rec.Result != nil {
			if err := o.store.DeleteOutput(ctx, rec.Result.OutputLocator); err != nil {
				logger.Warn("janitor failed to delete merged output",
					"group_id", rec.ID,
					"locator", rec.Result.OutputLocator,
					"error", err)
			}
		}

		o.mu.Lock()
		delete(o.groups, rec.ID)
		o.mu.Unlock()
		removed++
	}
	return removed
}

func (o *Orchestrator) lookup(groupID string) (*group, error) {
	o.mu.RLock()
	g, ok := o.groups[groupID]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("group %s: %w", groupID, models.ErrNotFound)
	}
	return g, nil
}
