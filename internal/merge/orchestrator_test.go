package merge

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tripletake/tripletake/internal/chunkstore"
	"github.com/tripletake/tripletake/internal/events"
	"github.com/tripletake/tripletake/internal/models"
	"github.com/tripletake/tripletake/internal/upload"
	"github.com/tripletake/tripletake/internal/validation"
)

const testOwner = "owner-1"

// stubMerger stands in for the ffmpeg merger. It fabricates segment offsets
// from the declared durations, or blocks/fails on demand.
type stubMerger struct {
	mu      sync.Mutex
	runs    int
	sources []Source

	block bool  // wait for ctx cancellation instead of producing a result
	fail  error // return this error instead of a result
}

func (s *stubMerger) Run(ctx context.Context, groupID string, sources []Source) (*models.MergeResult, error) {
	s.mu.Lock()
	s.runs++
	s.sources = sources
	s.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.fail != nil {
		return nil, s.fail
	}

	segments := make([]models.Segment, 0, len(sources))
	var offset int64
	for _, src := range sources {
		segments = append(segments, models.Segment{
			StatementIndex: src.StatementIndex,
			StartOffsetMs:  offset,
			EndOffsetMs:    offset + src.DeclaredDurationMs,
		})
		offset += src.DeclaredDurationMs
	}
	return &models.MergeResult{
		OutputLocator: "groups/" + groupID + "/merged.mp4",
		Segments:      segments,
	}, nil
}

func (s *stubMerger) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

func newTestOrchestrator(t *testing.T, merger Merger, config Config) (*Orchestrator, *upload.Manager, *events.Capture) {
	t.Helper()
	store := chunkstore.NewMemory()
	capture := &events.Capture{}
	uploads := upload.NewManager(store, capture)
	o := NewOrchestrator(uploads, store, merger, capture, config)
	return o, uploads, capture
}

func validRequest() GroupRequest {
	return GroupRequest{
		Sizes:       []int64{4, 5, 6},
		MIMETypes:   []string{"video/mp4", "video/mp4", "video/webm"},
		DurationsMs: []int64{5_000, 10_000, 1_500},
	}
}

// completeSlot uploads the single chunk of a small session and completes it.
func completeSlot(t *testing.T, uploads *upload.Manager, sessionID string, size int64) {
	t.Helper()
	ctx := context.Background()
	data := bytes.Repeat([]byte{'v'}, int(size))
	if _, err := uploads.PutChunk(ctx, sessionID, 0, data, testOwner); err != nil {
		t.Fatalf("PutChunk(%s) failed: %v", sessionID, err)
	}
	sum := sha256.Sum256(data)
	if _, err := uploads.Complete(ctx, sessionID, hex.EncodeToString(sum[:]), testOwner); err != nil {
		t.Fatalf("Complete(%s) failed: %v", sessionID, err)
	}
}

func waitForGroupStatus(t *testing.T, o *Orchestrator, groupID string, want models.GroupStatus) *models.GroupStatusInfo {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		info, err := o.Status(context.Background(), groupID, testOwner)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if info.Status == want {
			return info
		}
		time.Sleep(5 * time.Millisecond)
	}
	info, _ := o.Status(context.Background(), groupID, testOwner)
	t.Fatalf("group %s never reached %s (last seen %+v)", groupID, want, info)
	return nil
}

func TestInitiate(t *testing.T) {
	t.Run("creates group with three sessions", func(t *testing.T) {
		o, uploads, capture := newTestOrchestrator(t, &stubMerger{}, Config{})

		result, err := o.Initiate(context.Background(), testOwner, validRequest())
		if err != nil {
			t.Fatalf("Initiate failed: %v", err)
		}
		if result.GroupID == "" {
			t.Fatal("empty group id")
		}
		if len(result.Sessions) != models.StatementCount {
			t.Fatalf("sessions = %d, want %d", len(result.Sessions), models.StatementCount)
		}
		for i, s := range result.Sessions {
			if s.StatementIndex != i {
				t.Errorf("session %d has statement index %d", i, s.StatementIndex)
			}
			if _, err := uploads.Status(context.Background(), s.SessionID, testOwner); err != nil {
				t.Errorf("member session %s not registered: %v", s.SessionID, err)
			}
		}
		if capture.Count(events.SessionCreated) != 3 {
			t.Errorf("created events = %d, want 3", capture.Count(events.SessionCreated))
		}

		info, err := o.Status(context.Background(), result.GroupID, testOwner)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if info.Status != models.GroupAwaitingUploads {
			t.Errorf("status = %s, want awaiting_uploads", info.Status)
		}
		if info.Progress != 0 {
			t.Errorf("progress = %v, want 0", info.Progress)
		}
	})

	t.Run("reports all validation violations", func(t *testing.T) {
		o, _, _ := newTestOrchestrator(t, &stubMerger{}, Config{})

		req := GroupRequest{
			Sizes:       []int64{0, 4, 4},
			MIMETypes:   []string{"video/mp4", "text/plain", "video/mp4"},
			DurationsMs: []int64{5_000, 5_000, 100},
		}
		_, err := o.Initiate(context.Background(), testOwner, req)
		var verrs validation.Errors
		if !errors.As(err, &verrs) {
			t.Fatalf("Initiate = %v, want validation.Errors", err)
		}
		if len(verrs) != 3 {
			t.Errorf("violations = %d, want 3: %v", len(verrs), verrs)
		}
	})

	t.Run("wrong statement count rejected", func(t *testing.T) {
		o, _, _ := newTestOrchestrator(t, &stubMerger{}, Config{})

		req := GroupRequest{
			Sizes:       []int64{4, 4},
			MIMETypes:   []string{"video/mp4", "video/mp4"},
			DurationsMs: []int64{5_000, 5_000},
		}
		var verrs validation.Errors
		if _, err := o.Initiate(context.Background(), testOwner, req); !errors.As(err, &verrs) {
			t.Fatalf("Initiate = %v, want validation.Errors", err)
		}
	})
}

func TestMergeTriggersOnceAllSlotsComplete(t *testing.T) {
	merger := &stubMerger{}
	o, uploads, capture := newTestOrchestrator(t, merger, Config{})

	result, err := o.Initiate(context.Background(), testOwner, validRequest())
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}

	req := validRequest()
	// First two completions must not fire the trigger.
	for i := 0; i < 2; i++ {
		completeSlot(t, uploads, result.Sessions[i].SessionID, req.Sizes[i])
	}
	time.Sleep(20 * time.Millisecond)
	if merger.runCount() != 0 {
		t.Fatalf("merge ran after %d completions", 2)
	}
	info, err := o.Status(context.Background(), result.GroupID, testOwner)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if info.Status != models.GroupAwaitingUploads {
		t.Fatalf("status = %s, want awaiting_uploads", info.Status)
	}

	completeSlot(t, uploads, result.Sessions[2].SessionID, req.Sizes[2])

	info = waitForGroupStatus(t, o, result.GroupID, models.GroupCompleted)
	if merger.runCount() != 1 {
		t.Errorf("merge runs = %d, want 1", merger.runCount())
	}
	if capture.Count(events.GroupTriggerFired) != 1 {
		t.Errorf("trigger events = %d, want 1", capture.Count(events.GroupTriggerFired))
	}
	if capture.Count(events.MergeCompleted) != 1 {
		t.Errorf("merge completed events = %d, want 1", capture.Count(events.MergeCompleted))
	}

	if info.Result == nil {
		t.Fatal("completed group has no result")
	}
	if info.Result.OutputLocator != "groups/"+result.GroupID+"/merged.mp4" {
		t.Errorf("output locator = %q", info.Result.OutputLocator)
	}
	wantSegments := []models.Segment{
		{StatementIndex: 0, StartOffsetMs: 0, EndOffsetMs: 5_000},
		{StatementIndex: 1, StartOffsetMs: 5_000, EndOffsetMs: 15_000},
		{StatementIndex: 2, StartOffsetMs: 15_000, EndOffsetMs: 16_500},
	}
	if len(info.Result.Segments) != len(wantSegments) {
		t.Fatalf("segments = %v", info.Result.Segments)
	}
	for i, want := range wantSegments {
		if info.Result.Segments[i] != want {
			t.Errorf("segment %d = %+v, want %+v", i, info.Result.Segments[i], want)
		}
	}
	if info.Progress != 100 {
		t.Errorf("progress = %v, want 100", info.Progress)
	}
}

func TestConcurrentCompletionsTriggerOneRun(t *testing.T) {
	merger := &stubMerger{}
	o, uploads, capture := newTestOrchestrator(t, merger, Config{})

	result, err := o.Initiate(context.Background(), testOwner, validRequest())
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}

	req := validRequest()
	ctx := context.Background()
	hashes := make([]string, models.StatementCount)
	for i, s := range result.Sessions {
		data := bytes.Repeat([]byte{'v'}, int(req.Sizes[i]))
		if _, err := uploads.PutChunk(ctx, s.SessionID, 0, data, testOwner); err != nil {
			t.Fatalf("PutChunk failed: %v", err)
		}
		sum := sha256.Sum256(data)
		hashes[i] = hex.EncodeToString(sum[:])
	}

	var wg sync.WaitGroup
	for i, s := range result.Sessions {
		wg.Add(1)
		go func(sessionID, hash string) {
			defer wg.Done()
			if _, err := uploads.Complete(ctx, sessionID, hash, testOwner); err != nil {
				t.Errorf("Complete failed: %v", err)
			}
		}(s.SessionID, hashes[i])
	}
	wg.Wait()

	waitForGroupStatus(t, o, result.GroupID, models.GroupCompleted)
	if merger.runCount() != 1 {
		t.Errorf("merge runs = %d, want exactly 1", merger.runCount())
	}
	if capture.Count(events.GroupTriggerFired) != 1 {
		t.Errorf("trigger events = %d, want 1", capture.Count(events.GroupTriggerFired))
	}
}

func TestQuickMergeVisibleAfterFinalWrite(t *testing.T) {
	merger := &stubMerger{}
	o, uploads, capture := newTestOrchestrator(t, merger, Config{})

	result, err := o.Initiate(context.Background(), testOwner, validRequest())
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	req := validRequest()
	for i, s := range result.Sessions {
		completeSlot(t, uploads, s.SessionID, req.Sizes[i])
	}

	// Once the worker's completion event is out, the final state write has
	// already happened; every status read from here on sees completed.
	deadline := time.Now().Add(2 * time.Second)
	for capture.Count(events.MergeCompleted) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("merge never completed")
		}
		time.Sleep(2 * time.Millisecond)
	}
	info, err := o.Status(context.Background(), result.GroupID, testOwner)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if info.Status != models.GroupCompleted {
		t.Errorf("status = %s, want completed immediately after final write", info.Status)
	}
	if info.Result == nil {
		t.Error("completed group has no result")
	}
}

func TestMergeFailureMarksGroupFailed(t *testing.T) {
	merger := &stubMerger{fail: &CodedError{Code: CodeTranscodeError, Message: "transcode failed"}}
	o, uploads, capture := newTestOrchestrator(t, merger, Config{})

	result, err := o.Initiate(context.Background(), testOwner, validRequest())
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	req := validRequest()
	for i, s := range result.Sessions {
		completeSlot(t, uploads, s.SessionID, req.Sizes[i])
	}

	info := waitForGroupStatus(t, o, result.GroupID, models.GroupFailed)
	if info.ErrorCode != CodeTranscodeError {
		t.Errorf("error code = %q, want %q", info.ErrorCode, CodeTranscodeError)
	}
	if info.Result != nil {
		t.Error("failed group carries a result")
	}
	if capture.Count(events.MergeFailed) != 1 {
		t.Errorf("merge failed events = %d, want 1", capture.Count(events.MergeFailed))
	}

	// A failed group cannot be cancelled.
	if _, err := o.Cancel(context.Background(), result.GroupID, testOwner); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("Cancel of failed group = %v, want ErrInvalidState", err)
	}
}

func TestMergeTimeout(t *testing.T) {
	merger := &stubMerger{block: true}
	o, uploads, _ := newTestOrchestrator(t, merger, Config{MergeTimeout: 30 * time.Millisecond})

	result, err := o.Initiate(context.Background(), testOwner, validRequest())
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	req := validRequest()
	for i, s := range result.Sessions {
		completeSlot(t, uploads, s.SessionID, req.Sizes[i])
	}

	info := waitForGroupStatus(t, o, result.GroupID, models.GroupFailed)
	if info.ErrorCode != CodeMergeTimeout {
		t.Errorf("error code = %q, want %q", info.ErrorCode, CodeMergeTimeout)
	}
}

func TestGroupCancelBeforeTrigger(t *testing.T) {
	merger := &stubMerger{}
	o, uploads, capture := newTestOrchestrator(t, merger, Config{})

	result, err := o.Initiate(context.Background(), testOwner, validRequest())
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	req := validRequest()
	// Two slots completed, one still uploading: the completed ones must be
	// force-reset by the group-level cancel.
	completeSlot(t, uploads, result.Sessions[0].SessionID, req.Sizes[0])
	completeSlot(t, uploads, result.Sessions[1].SessionID, req.Sizes[1])

	outcomes, err := o.Cancel(context.Background(), result.GroupID, testOwner)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	want := []models.CancelOutcome{
		models.CancelOutcomeForceReset,
		models.CancelOutcomeForceReset,
		models.CancelOutcomeCancelled,
	}
	if len(outcomes) != len(want) {
		t.Fatalf("outcomes = %v", outcomes)
	}
	for i, w := range want {
		if outcomes[i].Outcome != w {
			t.Errorf("outcome %d = %s, want %s", i, outcomes[i].Outcome, w)
		}
	}
	if capture.Count(events.GroupCancelled) != 1 {
		t.Errorf("cancelled events = %d, want 1", capture.Count(events.GroupCancelled))
	}

	// The missing completion can no longer arrive, and even if a stale one
	// did, the trigger must not fire on a cancelled group.
	time.Sleep(20 * time.Millisecond)
	if merger.runCount() != 0 {
		t.Errorf("merge ran on a cancelled group")
	}
	info, err := o.Status(context.Background(), result.GroupID, testOwner)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if info.Status != models.GroupCancelled {
		t.Errorf("status = %s, want cancelled", info.Status)
	}

	// Member sessions reject further writes.
	if _, err := uploads.PutChunk(context.Background(), result.Sessions[2].SessionID, 0, bytes.Repeat([]byte{'v'}, int(req.Sizes[2])), testOwner); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("PutChunk after group cancel = %v, want ErrInvalidState", err)
	}

	// Repeat cancel is an idempotent no-op that still reports outcomes.
	outcomes, err = o.Cancel(context.Background(), result.GroupID, testOwner)
	if err != nil {
		t.Fatalf("repeat Cancel failed: %v", err)
	}
	for _, oc := range outcomes {
		if oc.Outcome != models.CancelOutcomeAlreadyTerminal {
			t.Errorf("repeat outcome = %s, want already_terminal", oc.Outcome)
		}
	}
	if capture.Count(events.GroupCancelled) != 1 {
		t.Errorf("cancelled events after repeat = %d, want 1", capture.Count(events.GroupCancelled))
	}
}

func TestGroupCancelAbortsRunningMerge(t *testing.T) {
	merger := &stubMerger{block: true}
	o, uploads, _ := newTestOrchestrator(t, merger, Config{})

	result, err := o.Initiate(context.Background(), testOwner, validRequest())
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	req := validRequest()
	for i, s := range result.Sessions {
		completeSlot(t, uploads, s.SessionID, req.Sizes[i])
	}

	waitForGroupStatus(t, o, result.GroupID, models.GroupMerging)
	if _, err := o.Cancel(context.Background(), result.GroupID, testOwner); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	// The aborted worker must leave the cancelled state untouched.
	time.Sleep(50 * time.Millisecond)
	info, err := o.Status(context.Background(), result.GroupID, testOwner)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if info.Status != models.GroupCancelled {
		t.Errorf("status = %s, want cancelled", info.Status)
	}
	if info.Result != nil {
		t.Error("cancelled group carries a result")
	}
	if merger.runCount() != 1 {
		t.Errorf("merge runs = %d, want 1", merger.runCount())
	}
}

func TestReplaceSlot(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces a cancelled slot and merge still fires", func(t *testing.T) {
		merger := &stubMerger{}
		o, uploads, _ := newTestOrchestrator(t, merger, Config{})

		result, err := o.Initiate(ctx, testOwner, validRequest())
		if err != nil {
			t.Fatalf("Initiate failed: %v", err)
		}
		req := validRequest()
		completeSlot(t, uploads, result.Sessions[0].SessionID, req.Sizes[0])
		completeSlot(t, uploads, result.Sessions[1].SessionID, req.Sizes[1])
		if err := uploads.Cancel(ctx, result.Sessions[2].SessionID, testOwner); err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}

		rec, err := o.ReplaceSlot(ctx, result.GroupID, 2, upload.Declared{
			Size:       8,
			ChunkCount: 1,
			MIMEType:   "video/mp4",
			DurationMs: 2_000,
		}, testOwner)
		if err != nil {
			t.Fatalf("ReplaceSlot failed: %v", err)
		}
		if rec.ID == result.Sessions[2].SessionID {
			t.Error("replacement reused the old session id")
		}

		info, err := o.Status(ctx, result.GroupID, testOwner)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if info.Status != models.GroupAwaitingUploads {
			t.Fatalf("status = %s, want awaiting_uploads", info.Status)
		}

		completeSlot(t, uploads, rec.ID, 8)
		final := waitForGroupStatus(t, o, result.GroupID, models.GroupCompleted)
		if merger.runCount() != 1 {
			t.Errorf("merge runs = %d, want 1", merger.runCount())
		}
		// The replacement's duration drives the third segment.
		if got := final.Result.Segments[2]; got.EndOffsetMs-got.StartOffsetMs != 2_000 {
			t.Errorf("segment 2 = %+v, want 2000ms span", got)
		}
	})

	t.Run("active slot cannot be replaced", func(t *testing.T) {
		o, _, _ := newTestOrchestrator(t, &stubMerger{}, Config{})
		result, err := o.Initiate(ctx, testOwner, validRequest())
		if err != nil {
			t.Fatalf("Initiate failed: %v", err)
		}

		_, err = o.ReplaceSlot(ctx, result.GroupID, 0, upload.Declared{
			Size: 8, ChunkCount: 1, MIMEType: "video/mp4", DurationMs: 2_000,
		}, testOwner)
		if !errors.Is(err, models.ErrInvalidState) {
			t.Errorf("ReplaceSlot = %v, want ErrInvalidState", err)
		}
	})

	t.Run("statement index bounds", func(t *testing.T) {
		o, _, _ := newTestOrchestrator(t, &stubMerger{}, Config{})
		result, err := o.Initiate(ctx, testOwner, validRequest())
		if err != nil {
			t.Fatalf("Initiate failed: %v", err)
		}

		for _, idx := range []int{-1, models.StatementCount} {
			_, err := o.ReplaceSlot(ctx, result.GroupID, idx, upload.Declared{
				Size: 8, ChunkCount: 1, MIMEType: "video/mp4", DurationMs: 2_000,
			}, testOwner)
			if !errors.Is(err, models.ErrIndexOutOfRange) {
				t.Errorf("ReplaceSlot(%d) = %v, want ErrIndexOutOfRange", idx, err)
			}
		}
	})

	t.Run("cancelled group rejects replacement", func(t *testing.T) {
		o, _, _ := newTestOrchestrator(t, &stubMerger{}, Config{})
		result, err := o.Initiate(ctx, testOwner, validRequest())
		if err != nil {
			t.Fatalf("Initiate failed: %v", err)
		}
		if _, err := o.Cancel(ctx, result.GroupID, testOwner); err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}

		_, err = o.ReplaceSlot(ctx, result.GroupID, 0, upload.Declared{
			Size: 8, ChunkCount: 1, MIMEType: "video/mp4", DurationMs: 2_000,
		}, testOwner)
		if !errors.Is(err, models.ErrInvalidState) {
			t.Errorf("ReplaceSlot = %v, want ErrInvalidState", err)
		}
	})
}

func TestStaleCompletionAfterReplacementIgnored(t *testing.T) {
	merger := &stubMerger{}
	o, uploads, _ := newTestOrchestrator(t, merger, Config{})
	ctx := context.Background()

	result, err := o.Initiate(ctx, testOwner, validRequest())
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	req := validRequest()
	completeSlot(t, uploads, result.Sessions[0].SessionID, req.Sizes[0])
	completeSlot(t, uploads, result.Sessions[1].SessionID, req.Sizes[1])
	if err := uploads.Cancel(ctx, result.Sessions[2].SessionID, testOwner); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if _, err := o.ReplaceSlot(ctx, result.GroupID, 2, upload.Declared{
		Size: 8, ChunkCount: 1, MIMEType: "video/mp4", DurationMs: 2_000,
	}, testOwner); err != nil {
		t.Fatalf("ReplaceSlot failed: %v", err)
	}

	// A callback for the replaced session must not count as slot readiness.
	o.SessionCompleted(ctx, result.GroupID, result.Sessions[2].SessionID)
	time.Sleep(20 * time.Millisecond)
	if merger.runCount() != 0 {
		t.Error("stale completion fired the trigger")
	}
}

func TestStatusAccess(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &stubMerger{}, Config{})
	ctx := context.Background()

	result, err := o.Initiate(ctx, testOwner, validRequest())
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}

	if _, err := o.Status(ctx, result.GroupID, "intruder"); !errors.Is(err, models.ErrAccessDenied) {
		t.Errorf("Status = %v, want ErrAccessDenied", err)
	}
	if _, err := o.Status(ctx, "nope", testOwner); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Status = %v, want ErrNotFound", err)
	}
	if _, err := o.Cancel(ctx, result.GroupID, "intruder"); !errors.Is(err, models.ErrAccessDenied) {
		t.Errorf("Cancel = %v, want ErrAccessDenied", err)
	}
}

func TestSweepRemovesExpiredGroups(t *testing.T) {
	merger := &stubMerger{}
	o, uploads, _ := newTestOrchestrator(t, merger, Config{})
	ctx := context.Background()

	result, err := o.Initiate(ctx, testOwner, validRequest())
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	req := validRequest()
	for i, s := range result.Sessions {
		completeSlot(t, uploads, s.SessionID, req.Sizes[i])
	}
	waitForGroupStatus(t, o, result.GroupID, models.GroupCompleted)

	// Fresh terminal groups survive a sweep with a long retention.
	if removed := o.Sweep(ctx, time.Hour); removed != 0 {
		t.Errorf("Sweep removed %d fresh groups", removed)
	}

	// With zero retention everything terminal is collectable.
	if removed := o.Sweep(ctx, 0); removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if _, err := o.Status(ctx, result.GroupID, testOwner); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Status after sweep = %v, want ErrNotFound", err)
	}
	for _, s := range result.Sessions {
		if _, err := uploads.Status(ctx, s.SessionID, testOwner); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("session %s survived sweep: %v", s.SessionID, err)
		}
	}

	// Non-terminal groups are never swept.
	result2, err := o.Initiate(ctx, testOwner, validRequest())
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if removed := o.Sweep(ctx, 0); removed != 0 {
		t.Errorf("Sweep removed %d active groups", removed)
	}
	if _, err := o.Status(ctx, result2.GroupID, testOwner); err != nil {
		t.Errorf("active group swept: %v", err)
	}
}
