package merge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tripletake/tripletake/internal/events"
	"github.com/tripletake/tripletake/internal/logger"
	"github.com/tripletake/tripletake/internal/models"
)

// runMerge is the asynchronous merge worker: it stages the three assembled
// sources, calls the external merger, and writes the group's final state.
// The final state write happens under the group lock before the goroutine
// exits, so a status read can never observe a stale "merging" after the
// merge has finished (the quick-merge case).
func (o *Orchestrator) runMerge(ctx context.Context, g *group, rec models.MergeGroup) {
	runCtx, cancel := context.WithTimeout(ctx, o.config.MergeTimeout)
	defer cancel()

	runCtx, span := tracer.Start(runCtx, "merge.run",
		trace.WithAttributes(attribute.String("group.id", rec.ID)))
	defer span.End()

	start := time.Now()
	result, err := o.executeMerge(runCtx, rec)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int64("merge.duration_ms", elapsed.Milliseconds()))
	}

	o.finishMerge(g, result, err, elapsed)
}

// executeMerge assembles each member session into a staged local file and
// invokes the merger. The context is checked between steps so a group
// cancel aborts the run at the next boundary.
func (o *Orchestrator) executeMerge(ctx context.Context, rec models.MergeGroup) (*models.MergeResult, error) {
	tmpDir, err := os.MkdirTemp(o.config.StagingDir, "merge-"+rec.ID+"-")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	sources := make([]Source, 0, models.StatementCount)
	for i, sid := range rec.SessionIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		srec, err := o.uploads.Record(sid)
		if err != nil {
			return nil, fmt.Errorf("stage statement %d: %w", i, err)
		}
		data, err := o.store.Assemble(ctx, sid, srec.ChunkCount)
		if err != nil {
			return nil, fmt.Errorf("stage statement %d: %w", i, err)
		}

		path := filepath.Join(tmpDir, fmt.Sprintf("statement_%d%s", i, extensionFor(srec.MIMEType)))
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return nil, fmt.Errorf("stage statement %d: %w", i, err)
		}
		sources = append(sources, Source{
			StatementIndex:     i,
			Path:               path,
			MIMEType:           srec.MIMEType,
			DeclaredDurationMs: srec.DeclaredDurationMs,
		})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return o.merger.Run(ctx, rec.ID, sources)
}

// finishMerge writes the run's outcome into the group record. A run aborted
// by group cancellation maps to the group's already-cancelled state as a
// no-op update, reporting neither success nor failure.
func (o *Orchestrator) finishMerge(g *group, result *models.MergeResult, err error, elapsed time.Duration) {
	now := time.Now().UTC()

	if err != nil && errors.Is(err, context.Canceled) {
		g.mu.Lock()
		g.cancelMerge = nil
		groupID := g.rec.ID
		g.mu.Unlock()
		logger.Info("merge run aborted by cancellation", "group_id", groupID)
		return
	}

	g.mu.Lock()
	if g.rec.Status != models.GroupMerging {
		// The group was cancelled after the worker passed its last context
		// check. Leave the cancelled state untouched and drop the output.
		g.cancelMerge = nil
		rec := g.rec
		g.mu.Unlock()
		if result != nil {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if delErr := o.store.DeleteOutput(cleanupCtx, result.OutputLocator); delErr != nil {
				logger.Warn("failed to delete orphaned merge output",
					"group_id", rec.ID, "locator", result.OutputLocator, "error", delErr)
			}
		}
		return
	}

	if err != nil {
		code, msg := sanitizeMergeError(err)
		g.rec.Status = models.GroupFailed
		g.rec.ErrorCode = code
		g.rec.ErrorDetail = msg
		g.rec.UpdatedAt = now
		g.cancelMerge = nil
		rec := g.rec
		g.mu.Unlock()

		// Full detail stays in the server log; the record carries only the
		// sanitized code and message.
		logger.Error("merge failed",
			"group_id", rec.ID,
			"error", err,
			"error_code", code,
			"duration_ms", elapsed.Milliseconds())
		o.events.Publish(context.Background(), events.Event{
			Type:    events.MergeFailed,
			GroupID: rec.ID,
			OwnerID: rec.OwnerID,
			Detail:  code,
			At:      now,
		})
		return
	}

	g.rec.Status = models.GroupCompleted
	g.rec.Result = result
	g.rec.UpdatedAt = now
	g.cancelMerge = nil
	rec := g.rec
	g.mu.Unlock()

	logger.Info("merge completed",
		"group_id", rec.ID,
		"output", result.OutputLocator,
		"segments", len(result.Segments),
		"duration_ms", elapsed.Milliseconds())
	o.events.Publish(context.Background(), events.Event{
		Type:    events.MergeCompleted,
		GroupID: rec.ID,
		OwnerID: rec.OwnerID,
		At:      now,
	})
}

// sanitizeMergeError maps an arbitrary merge failure to a stable code and a
// client-safe message. Internal paths and tool output never pass through.
func sanitizeMergeError(err error) (code, msg string) {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeMergeTimeout, "merge timed out"
	}
	return CodeMergeFailed, "merge failed"
}

// extensionFor maps an allowed MIME type to a staging file extension.
func extensionFor(mimeType string) string {
	switch mimeType {
	case "video/quicktime":
		return ".mov"
	case "video/webm":
		return ".webm"
	default:
		return ".mp4"
	}
}
