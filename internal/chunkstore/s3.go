package chunkstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("tripletake/chunkstore")

// maxParallelDownloads limits concurrent chunk downloads during assembly to
// avoid overwhelming the object store.
const maxParallelDownloads = 10

// S3Config holds S3/MinIO configuration
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
}

// S3Store persists chunks and merged outputs on S3/MinIO.
type S3Store struct {
	client *minio.Client
	bucket string
}

// NewS3Store creates a new S3/MinIO chunk store
func NewS3Store(config S3Config) (*S3Store, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	// Verify bucket exists (bucket must be created out-of-band)
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, config.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %q does not exist: create it before starting the server", config.BucketName)
	}

	return &S3Store{
		client: client,
		bucket: config.BucketName,
	}, nil
}

// chunkKey builds the object key for one chunk.
// Format: sessions/{session_id}/chunks/chunk_{index:06d}.bin
func chunkKey(sessionID string, index int) string {
	return fmt.Sprintf("sessions/%s/chunks/chunk_%06d.bin", sessionID, index)
}

// chunkPrefix is the listing prefix for a session's chunks.
func chunkPrefix(sessionID string) string {
	return fmt.Sprintf("sessions/%s/chunks/", sessionID)
}

// parseChunkKey extracts the chunk index from an object key.
// Returns (index, ok).
func parseChunkKey(key string) (int, bool) {
	parts := strings.Split(key, "/")
	if len(parts) == 0 {
		return 0, false
	}
	filename := parts[len(parts)-1]
	if !strings.HasPrefix(filename, "chunk_") || !strings.HasSuffix(filename, ".bin") {
		return 0, false
	}

	middle := strings.TrimPrefix(filename, "chunk_")
	middle = strings.TrimSuffix(middle, ".bin")

	var index int
	if _, err := fmt.Sscanf(middle, "%06d", &index); err != nil {
		return 0, false
	}
	return index, true
}

// Put uploads one chunk.
func (s *S3Store) Put(ctx context.Context, sessionID string, index int, data []byte) error {
	ctx, span := tracer.Start(ctx, "chunkstore.put",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("chunk.index", index),
			attribute.Int("chunk.size", len(data)),
		))
	defer span.End()

	key := chunkKey(sessionID, index)
	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return classifyStorageError(err, "put chunk")
	}
	return nil
}

// ListPresent lists the chunk indices stored for a session, sorted ascending.
func (s *S3Store) ListPresent(ctx context.Context, sessionID string) ([]int, error) {
	ctx, span := tracer.Start(ctx, "chunkstore.list_present",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	var indices []int
	objectCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    chunkPrefix(sessionID),
		Recursive: true,
	})

	for obj := range objectCh {
		if obj.Err != nil {
			span.RecordError(obj.Err)
			span.SetStatus(codes.Error, obj.Err.Error())
			return nil, classifyStorageError(obj.Err, "list chunks")
		}
		index, ok := parseChunkKey(obj.Key)
		if !ok {
			span.AddEvent("skipped_unparseable_key", trace.WithAttributes(attribute.String("key", obj.Key)))
			continue
		}
		indices = append(indices, index)
	}

	sort.Ints(indices)
	span.SetAttributes(attribute.Int("chunks.count", len(indices)))
	return indices, nil
}

// chunkResult holds the result of a parallel chunk download.
type chunkResult struct {
	index    int
	data     []byte
	err      error
	duration time.Duration
}

// Assemble downloads all chunks in parallel and concatenates them in index
// order. Downloads are limited to maxParallelDownloads concurrent operations.
func (s *S3Store) Assemble(ctx context.Context, sessionID string, chunkCount int) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "chunkstore.assemble",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("chunks.declared", chunkCount),
		))
	defer span.End()

	present, err := s.ListPresent(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	presentSet := make(map[int]bool, len(present))
	for _, idx := range present {
		presentSet[idx] = true
	}
	for i := 0; i < chunkCount; i++ {
		if !presentSet[i] {
			err := fmt.Errorf("assemble session %s: chunk %d missing: %w", sessionID, i, ErrIncomplete)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	// Use a semaphore pattern for bounded parallelism
	results := make(chan chunkResult, chunkCount)
	sem := make(chan struct{}, maxParallelDownloads)

	for i := 0; i < chunkCount; i++ {
		go func(idx int) {
			sem <- struct{}{}        // acquire semaphore
			defer func() { <-sem }() // release semaphore

			start := time.Now()
			data, err := s.download(ctx, chunkKey(sessionID, idx))
			results <- chunkResult{index: idx, data: data, err: err, duration: time.Since(start)}
		}(i)
	}

	// Collect results
	chunks := make([][]byte, chunkCount)
	var firstErr error
	var maxDuration time.Duration
	totalSize := 0

	for i := 0; i < chunkCount; i++ {
		result := <-results
		if result.duration > maxDuration {
			maxDuration = result.duration
		}
		if result.err != nil {
			if firstErr == nil {
				firstErr = result.err
			}
			continue
		}
		chunks[result.index] = result.data
		totalSize += len(result.data)
	}

	span.SetAttributes(
		attribute.Int64("max_duration_ms", maxDuration.Milliseconds()),
		attribute.Int("assembled.bytes", totalSize),
	)

	if firstErr != nil {
		span.RecordError(firstErr)
		span.SetStatus(codes.Error, firstErr.Error())
		return nil, firstErr
	}

	assembled := make([]byte, 0, totalSize)
	for _, chunk := range chunks {
		assembled = append(assembled, chunk...)
	}
	return assembled, nil
}

// Delete removes all chunk data for a session.
func (s *S3Store) Delete(ctx context.Context, sessionID string) error {
	ctx, span := tracer.Start(ctx, "chunkstore.delete",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	var deletedCount int
	objectCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    chunkPrefix(sessionID),
		Recursive: true,
	})

	for obj := range objectCh {
		if obj.Err != nil {
			span.RecordError(obj.Err)
			span.SetStatus(codes.Error, obj.Err.Error())
			return classifyStorageError(obj.Err, "list session chunks")
		}
		err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("failed to delete chunk %s: %w", obj.Key, err)
		}
		deletedCount++
	}

	span.SetAttributes(attribute.Int("chunks.deleted", deletedCount))
	return nil
}

// PutOutput stores a merged output video and returns its object key.
// Format: groups/{group_id}/merged.mp4
func (s *S3Store) PutOutput(ctx context.Context, groupID string, r io.Reader, size int64, contentType string) (string, error) {
	ctx, span := tracer.Start(ctx, "chunkstore.put_output",
		trace.WithAttributes(
			attribute.String("group.id", groupID),
			attribute.Int64("output.size", size),
		))
	defer span.End()

	key := fmt.Sprintf("groups/%s/merged.mp4", groupID)
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", classifyStorageError(err, "put output")
	}
	return key, nil
}

// DeleteOutput removes a merged output by object key.
func (s *S3Store) DeleteOutput(ctx context.Context, locator string) error {
	ctx, span := tracer.Start(ctx, "chunkstore.delete_output",
		trace.WithAttributes(attribute.String("storage.key", locator)))
	defer span.End()

	err := s.client.RemoveObject(ctx, s.bucket, locator, minio.RemoveObjectOptions{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return classifyStorageError(err, "delete output")
	}
	return nil
}

// download retrieves a single object.
func (s *S3Store) download(ctx context.Context, key string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyStorageError(err, "download")
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, classifyStorageError(err, "download")
	}
	return data, nil
}

// classifyStorageError examines a storage error and returns an appropriate sentinel error
func classifyStorageError(err error, operation string) error {
	if err == nil {
		return nil
	}

	// Check for MinIO error response
	var minioErr minio.ErrorResponse
	if errors.As(err, &minioErr) {
		switch minioErr.Code {
		case "NoSuchKey", "NoSuchBucket":
			return fmt.Errorf("%s: %w", operation, ErrObjectNotFound)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%s: %w", operation, ErrAccessDenied)
		}
	}

	// Check for network/connection errors
	errStr := err.Error()
	for _, marker := range []string{"connection", "timeout", "network", "dial", "refused"} {
		if strings.Contains(errStr, marker) {
			return fmt.Errorf("%s network issue: %w", operation, ErrNetworkError)
		}
	}

	// Return wrapped generic error for unknown cases
	return fmt.Errorf("%s failed: %w", operation, err)
}
