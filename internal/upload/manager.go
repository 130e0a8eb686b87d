// Package upload owns the lifecycle of a single video statement's chunked
// upload: session creation, chunk ingestion, hash verification, completion,
// and cancellation.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tripletake/tripletake/internal/chunkstore"
	"github.com/tripletake/tripletake/internal/events"
	"github.com/tripletake/tripletake/internal/logger"
	"github.com/tripletake/tripletake/internal/models"
	"github.com/tripletake/tripletake/internal/validation"
)

var tracer = otel.Tracer("tripletake/upload")

// cleanupTimeout bounds best-effort chunk deletion after a cancel. The
// status flip is synchronous; storage cleanup is not.
const cleanupTimeout = 30 * time.Second

// GroupNotifier receives the synchronous completion callback that drives the
// merge group's single-fire trigger. Implemented by the merge orchestrator.
type GroupNotifier interface {
	SessionCompleted(ctx context.Context, groupID, sessionID string)
}

// Manager owns all upload session records. Locking is per session: the
// registry lock only guards the map itself, so unrelated sessions never
// block each other.
type Manager struct {
	store    chunkstore.Store
	events   events.Sink
	notifier GroupNotifier

	mu       sync.RWMutex
	sessions map[string]*session
}

// session pairs a record with its lock. All field access goes through mu.
type session struct {
	mu      sync.Mutex
	rec     models.UploadSession
	present map[int]struct{}
}

// NewManager creates an upload session manager on the given chunk store.
func NewManager(store chunkstore.Store, sink events.Sink) *Manager {
	return &Manager{
		store:    store,
		events:   sink,
		sessions: make(map[string]*session),
	}
}

// SetNotifier wires the merge orchestrator's completion callback. Must be
// called before any session completes; split from the constructor because
// the orchestrator itself depends on the manager.
func (m *Manager) SetNotifier(n GroupNotifier) {
	m.notifier = n
}

// Declared is the client-declared metadata for one upload session.
type Declared struct {
	Size       int64
	ChunkCount int
	MIMEType   string
	DurationMs int64
}

// Create registers a new upload session in status pending. Declared metadata
// is validated against the fixed chunk size and upload limits.
func (m *Manager) Create(ctx context.Context, ownerID, groupID string, statementIndex int, decl Declared) (*models.UploadSession, error) {
	if errs := validation.ValidateSessionMetadata(decl.Size, decl.ChunkCount, decl.MIMEType, decl.DurationMs); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidMetadata, errs.Error())
	}

	now := time.Now().UTC()
	rec := models.UploadSession{
		ID:                 uuid.New().String(),
		OwnerID:            ownerID,
		GroupID:            groupID,
		StatementIndex:     statementIndex,
		DeclaredSize:       decl.Size,
		ChunkCount:         decl.ChunkCount,
		MIMEType:           decl.MIMEType,
		DeclaredDurationMs: decl.DurationMs,
		Status:             models.SessionPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	m.mu.Lock()
	m.sessions[rec.ID] = &session{
		rec:     rec,
		present: make(map[int]struct{}),
	}
	m.mu.Unlock()

	m.events.Publish(ctx, events.Event{
		Type:      events.SessionCreated,
		GroupID:   groupID,
		SessionID: rec.ID,
		OwnerID:   ownerID,
		At:        now,
	})
	return &rec, nil
}

// PutChunk ingests one chunk. Writing an already-present index is an
// idempotent no-op. The chunk store write happens outside the session lock
// so chunks of the same session can stream concurrently.
func (m *Manager) PutChunk(ctx context.Context, sessionID string, index int, data []byte, requesterID string) (*models.SessionStatusInfo, error) {
	ctx, span := tracer.Start(ctx, "upload.put_chunk",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("chunk.index", index),
			attribute.Int("chunk.size", len(data)),
		))
	defer span.End()

	sess, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if sess.rec.OwnerID != requesterID {
		sess.mu.Unlock()
		return nil, models.ErrAccessDenied
	}
	if sess.rec.Status.Terminal() {
		sess.mu.Unlock()
		return nil, fmt.Errorf("session is %s: %w", sess.rec.Status, models.ErrInvalidState)
	}
	if index < 0 || index >= sess.rec.ChunkCount {
		sess.mu.Unlock()
		return nil, fmt.Errorf("index %d, declared chunk count %d: %w", index, sess.rec.ChunkCount, models.ErrIndexOutOfRange)
	}
	if err := checkChunkSize(&sess.rec, index, len(data)); err != nil {
		sess.mu.Unlock()
		return nil, err
	}
	if _, dup := sess.present[index]; dup {
		// Chunk content per index is immutable input, so a retry carries
		// identical bytes and the earlier write stands.
		info := statusLocked(sess)
		sess.mu.Unlock()
		span.AddEvent("duplicate_chunk_noop")
		return info, nil
	}
	sess.mu.Unlock()

	if err := m.store.Put(ctx, sessionID, index, data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.rec.Status.Terminal() {
		// Cancelled while the write was in flight. The cancel's cleanup may
		// have run before this chunk landed, so sweep again.
		m.deleteChunksAsync(sessionID)
		return nil, fmt.Errorf("session is %s: %w", sess.rec.Status, models.ErrInvalidState)
	}
	sess.present[index] = struct{}{}
	if sess.rec.Status == models.SessionPending {
		sess.rec.Status = models.SessionUploading
	}
	sess.rec.UpdatedAt = time.Now().UTC()

	info := statusLocked(sess)
	span.SetAttributes(attribute.Float64("session.progress", info.Progress))
	return info, nil
}

// Complete verifies the chunk set, computes the content hash, and
// transitions the session to completed. On success the owning merge group is
// notified synchronously; the notification happens outside the session lock
// because group-level locking always precedes session-level locking.
func (m *Manager) Complete(ctx context.Context, sessionID, declaredHash, requesterID string) (*models.UploadSession, error) {
	ctx, span := tracer.Start(ctx, "upload.complete",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	sess, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if sess.rec.OwnerID != requesterID {
		sess.mu.Unlock()
		return nil, models.ErrAccessDenied
	}
	if sess.rec.Status == models.SessionCompleted {
		// A client retry after a lost response. Re-notify the group: its
		// check-and-set treats duplicates as silent no-ops.
		rec := sess.rec
		sess.mu.Unlock()
		m.notifyGroup(ctx, rec.GroupID, rec.ID)
		return &rec, nil
	}
	if sess.rec.Status.Terminal() {
		sess.mu.Unlock()
		return nil, fmt.Errorf("session is %s: %w", sess.rec.Status, models.ErrInvalidState)
	}
	if len(sess.present) != sess.rec.ChunkCount {
		missing := sess.rec.ChunkCount - len(sess.present)
		sess.mu.Unlock()
		return nil, fmt.Errorf("%d of %d chunks missing: %w", missing, sess.rec.ChunkCount, models.ErrIncomplete)
	}

	// Holding the session lock through assembly keeps cancellation and late
	// duplicate chunks from interleaving with verification. Other sessions
	// are unaffected.
	assembled, err := m.store.Assemble(ctx, sessionID, sess.rec.ChunkCount)
	if err != nil {
		sess.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	sum := sha256.Sum256(assembled)
	computed := hex.EncodeToString(sum[:])
	now := time.Now().UTC()
	sess.rec.ComputedHash = computed
	sess.rec.DeclaredHash = declaredHash

	if int64(len(assembled)) != sess.rec.DeclaredSize {
		sess.rec.Status = models.SessionFailed
		sess.rec.UpdatedAt = now
		rec := sess.rec
		sess.mu.Unlock()
		m.events.Publish(ctx, events.Event{
			Type:      events.SessionFailed,
			GroupID:   rec.GroupID,
			SessionID: rec.ID,
			OwnerID:   rec.OwnerID,
			Detail:    "assembled size does not match declared size",
			At:        now,
		})
		return nil, fmt.Errorf("assembled %d bytes, declared %d: %w", len(assembled), rec.DeclaredSize, models.ErrIntegrity)
	}
	if declaredHash != "" && declaredHash != computed {
		sess.rec.Status = models.SessionFailed
		sess.rec.UpdatedAt = now
		rec := sess.rec
		sess.mu.Unlock()
		m.events.Publish(ctx, events.Event{
			Type:      events.SessionFailed,
			GroupID:   rec.GroupID,
			SessionID: rec.ID,
			OwnerID:   rec.OwnerID,
			Detail:    "declared hash does not match content",
			At:        now,
		})
		return nil, fmt.Errorf("declared hash does not match content: %w", models.ErrIntegrity)
	}

	sess.rec.Status = models.SessionCompleted
	sess.rec.UpdatedAt = now
	rec := sess.rec
	sess.mu.Unlock()

	m.events.Publish(ctx, events.Event{
		Type:      events.SessionCompleted,
		GroupID:   rec.GroupID,
		SessionID: rec.ID,
		OwnerID:   rec.OwnerID,
		At:        now,
	})
	m.notifyGroup(ctx, rec.GroupID, rec.ID)
	return &rec, nil
}

// Cancel cancels a session at the client's request. Allowed from any
// non-terminal state; cancelling an already-failed or already-cancelled
// session is an idempotent no-op. A completed session cannot be cancelled
// here: only the group-level override resets completed sessions.
func (m *Manager) Cancel(ctx context.Context, sessionID, requesterID string) error {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	if sess.rec.OwnerID != requesterID {
		sess.mu.Unlock()
		return models.ErrAccessDenied
	}
	if sess.rec.Status == models.SessionCompleted {
		sess.mu.Unlock()
		return fmt.Errorf("completed session can only be cancelled with its group: %w", models.ErrInvalidState)
	}
	if sess.rec.Status.Terminal() {
		sess.mu.Unlock()
		return nil
	}

	now := time.Now().UTC()
	sess.rec.Status = models.SessionCancelled
	sess.rec.UpdatedAt = now
	rec := sess.rec
	sess.mu.Unlock()

	m.events.Publish(ctx, events.Event{
		Type:      events.SessionCancelled,
		GroupID:   rec.GroupID,
		SessionID: rec.ID,
		OwnerID:   rec.OwnerID,
		At:        now,
	})
	m.deleteChunksAsync(sessionID)
	return nil
}

// ForceCancel is the privileged group-level override: it cancels the session
// regardless of state, resetting even completed sessions. Not reachable from
// client calls; only the orchestrator's group cancel uses it.
func (m *Manager) ForceCancel(ctx context.Context, sessionID string) (models.CancelOutcome, error) {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return models.CancelOutcomeAlreadyTerminal, err
	}

	sess.mu.Lock()
	var outcome models.CancelOutcome
	switch sess.rec.Status {
	case models.SessionCancelled, models.SessionFailed:
		sess.mu.Unlock()
		return models.CancelOutcomeAlreadyTerminal, nil
	case models.SessionCompleted:
		outcome = models.CancelOutcomeForceReset
	default:
		outcome = models.CancelOutcomeCancelled
	}

	now := time.Now().UTC()
	sess.rec.Status = models.SessionCancelled
	sess.rec.UpdatedAt = now
	rec := sess.rec
	sess.mu.Unlock()

	m.events.Publish(ctx, events.Event{
		Type:      events.SessionCancelled,
		GroupID:   rec.GroupID,
		SessionID: rec.ID,
		OwnerID:   rec.OwnerID,
		Detail:    string(outcome),
		At:        now,
	})
	m.deleteChunksAsync(sessionID)
	return outcome, nil
}

// Status returns the read-only status view. Safe under concurrent calls.
func (m *Manager) Status(ctx context.Context, sessionID, requesterID string) (*models.SessionStatusInfo, error) {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.rec.OwnerID != requesterID {
		return nil, models.ErrAccessDenied
	}
	return statusLocked(sess), nil
}

// StatusInternal is Status without the ownership check, for the orchestrator's
// aggregate view where group ownership was already enforced.
func (m *Manager) StatusInternal(_ context.Context, sessionID string) (*models.SessionStatusInfo, error) {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return statusLocked(sess), nil
}

// Record returns a snapshot of the session record without an ownership
// check, for the orchestrator (which enforces ownership at group level).
func (m *Manager) Record(sessionID string) (*models.UploadSession, error) {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	rec := sess.rec
	return &rec, nil
}

// Remove drops the session record and deletes its chunk data. Used by the
// retention janitor after the owning group has been terminal for the
// retention window.
func (m *Manager) Remove(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return m.store.Delete(ctx, sessionID)
}

func (m *Manager) lookup(sessionID string) (*session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
	}
	return sess, nil
}

func (m *Manager) notifyGroup(ctx context.Context, groupID, sessionID string) {
	if m.notifier == nil || groupID == "" {
		return
	}
	m.notifier.SessionCompleted(ctx, groupID, sessionID)
}

// deleteChunksAsync removes a session's chunk data without blocking the
// caller. Cancellation flips status synchronously; storage cleanup is
// best-effort and may finish after the call returns.
func (m *Manager) deleteChunksAsync(sessionID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := m.store.Delete(ctx, sessionID); err != nil {
			logger.Warn("failed to delete chunks for cancelled session",
				"session_id", sessionID,
				"error", err)
		}
	}()
}

// checkChunkSize enforces the fixed chunk size: every chunk except the last
// must be exactly ChunkSize bytes, and the last must carry the remainder.
func checkChunkSize(rec *models.UploadSession, index, size int) error {
	expected := int64(validation.ChunkSize)
	if index == rec.ChunkCount-1 {
		expected = rec.DeclaredSize - int64(rec.ChunkCount-1)*validation.ChunkSize
	}
	if int64(size) != expected {
		return fmt.Errorf("chunk %d must be %d bytes, got %d: %w", index, expected, size, models.ErrInvalidMetadata)
	}
	return nil
}

// statusLocked builds the status view. Caller holds sess.mu.
func statusLocked(sess *session) *models.SessionStatusInfo {
	present := make([]int, 0, len(sess.present))
	for idx := range sess.present {
		present = append(present, idx)
	}
	sort.Ints(present)

	missing := make([]int, 0, sess.rec.ChunkCount-len(present))
	for i := 0; i < sess.rec.ChunkCount; i++ {
		if _, ok := sess.present[i]; !ok {
			missing = append(missing, i)
		}
	}

	progress := 0.0
	if sess.rec.ChunkCount > 0 {
		progress = float64(len(present)) / float64(sess.rec.ChunkCount) * 100
	}
	return &models.SessionStatusInfo{
		ID:             sess.rec.ID,
		GroupID:        sess.rec.GroupID,
		StatementIndex: sess.rec.StatementIndex,
		Status:         sess.rec.Status,
		Progress:       progress,
		PresentChunks:  present,
		MissingChunks:  missing,
		CreatedAt:      sess.rec.CreatedAt,
		UpdatedAt:      sess.rec.UpdatedAt,
	}
}
