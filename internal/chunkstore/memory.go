package chunkstore

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Memory is an in-process Store used for tests and local development.
// It mirrors the S3 store's contract: duplicate puts are last-write-wins,
// deletes of absent sessions succeed.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]map[int][]byte
	outputs  map[string][]byte
}

// NewMemory creates an empty in-memory chunk store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]map[int][]byte),
		outputs:  make(map[string][]byte),
	}
}

// Put stores a copy of the chunk bytes.
func (m *Memory) Put(_ context.Context, sessionID string, index int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chunks, ok := m.sessions[sessionID]
	if !ok {
		chunks = make(map[int][]byte)
		m.sessions[sessionID] = chunks
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	chunks[index] = buf
	return nil
}

// ListPresent returns the sorted chunk indices stored for the session.
func (m *Memory) ListPresent(_ context.Context, sessionID string) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chunks := m.sessions[sessionID]
	indices := make([]int, 0, len(chunks))
	for idx := range chunks {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices, nil
}

// Assemble concatenates all chunks in index order.
func (m *Memory) Assemble(_ context.Context, sessionID string, chunkCount int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chunks := m.sessions[sessionID]
	totalSize := 0
	for i := 0; i < chunkCount; i++ {
		data, ok := chunks[i]
		if !ok {
			return nil, fmt.Errorf("assemble session %s: chunk %d missing: %w", sessionID, i, ErrIncomplete)
		}
		totalSize += len(data)
	}

	assembled := make([]byte, 0, totalSize)
	for i := 0; i < chunkCount; i++ {
		assembled = append(assembled, chunks[i]...)
	}
	return assembled, nil
}

// Delete removes all chunk data for the session.
func (m *Memory) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

// PutOutput stores a merged output and returns its locator.
func (m *Memory) PutOutput(_ context.Context, groupID string, r io.Reader, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read output: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("groups/%s/merged.mp4", groupID)
	m.outputs[key] = data
	return key, nil
}

// DeleteOutput removes a merged output by locator.
func (m *Memory) DeleteOutput(_ context.Context, locator string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.outputs, locator)
	return nil
}

// Output returns a stored merged output. Test helper.
func (m *Memory) Output(locator string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.outputs[locator]
	return data, ok
}
