// Package ffmpeg implements the merge capability with the ffmpeg concat
// demuxer. Segment boundaries come from per-source ffprobe duration probes,
// so the metadata reflects the streams actually merged rather than the
// client-declared durations.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tripletake/tripletake/internal/chunkstore"
	"github.com/tripletake/tripletake/internal/logger"
	"github.com/tripletake/tripletake/internal/merge"
	"github.com/tripletake/tripletake/internal/models"
)

// maxStderrLog caps how much tool output lands in the server log.
const maxStderrLog = 2000

// Merger runs ffmpeg/ffprobe as external processes and uploads the merged
// output to the chunk store's output area.
type Merger struct {
	FFmpegPath  string
	FFprobePath string
	store       chunkstore.Store
}

// New creates an ffmpeg merger storing outputs in the given store. Tool
// paths default to resolution via PATH.
func New(store chunkstore.Store) *Merger {
	return &Merger{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		store:       store,
	}
}

// Run merges the staged sources into one video, uploads it, and returns the
// output locator plus per-statement segment boundaries. Aborts between
// steps when ctx is cancelled.
func (m *Merger) Run(ctx context.Context, groupID string, sources []merge.Source) (*models.MergeResult, error) {
	durations := make([]int64, len(sources))
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := m.probeDurationMs(ctx, src.Path)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.Error("ffprobe failed",
				"group_id", groupID,
				"statement_index", src.StatementIndex,
				"error", err)
			return nil, &merge.CodedError{Code: merge.CodeProbeFailed, Message: "failed to read source duration"}
		}
		durations[i] = d
	}

	workDir := filepath.Dir(sources[0].Path)
	listPath := filepath.Join(workDir, "concat.txt")
	var list strings.Builder
	for _, src := range sources {
		// The concat demuxer's quoting rule: single quotes around the path,
		// embedded quotes escaped.
		escaped := strings.ReplaceAll(src.Path, "'", `'\''`)
		fmt.Fprintf(&list, "file '%s'\n", escaped)
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o600); err != nil {
		return nil, fmt.Errorf("write concat list: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outPath := filepath.Join(workDir, "merged.mp4")
	cmd := exec.CommandContext(ctx, m.FFmpegPath,
		"-hide_banner",
		"-loglevel", "error",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-movflags", "+faststart",
		"-y", outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.Error("ffmpeg concat failed",
			"group_id", groupID,
			"error", err,
			"stderr", truncate(stderr.String(), maxStderrLog))
		return nil, &merge.CodedError{Code: merge.CodeTranscodeError, Message: "video merge failed"}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := os.Open(outPath)
	if err != nil {
		return nil, fmt.Errorf("open merged output: %w", err)
	}
	defer out.Close()
	stat, err := out.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat merged output: %w", err)
	}

	locator, err := m.store.PutOutput(ctx, groupID, out, stat.Size(), "video/mp4")
	if err != nil {
		return nil, fmt.Errorf("upload merged output: %w", err)
	}

	segments := make([]models.Segment, len(sources))
	var offset int64
	for i := range sources {
		segments[i] = models.Segment{
			StatementIndex: i,
			StartOffsetMs:  offset,
			EndOffsetMs:    offset + durations[i],
		}
		offset += durations[i]
	}
	return &models.MergeResult{OutputLocator: locator, Segments: segments}, nil
}

// probeDurationMs reads a source's duration via ffprobe.
func (m *Merger) probeDurationMs(ctx context.Context, path string) (int64, error) {
	cmd := exec.CommandContext(ctx, m.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", filepath.Base(path), err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration: %w", err)
	}
	return int64(seconds * 1000), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
