// Package httpbuffer converts push-stream output into a polled stream for
// transports that cannot maintain a long-lived connection.
package httpbuffer

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/tutu-network/infergate/internal/domain"
)

// errBufferCapacityExceeded is returned when HTTPMaxBuffers or
// HTTPMaxChunkSize would be exceeded.
var errBufferCapacityExceeded = errors.New("http buffer capacity exceeded")

// Manager is the single mutex-protected table of live buffers, plus the
// reaper that evicts idle ones.
type Manager struct {
	mu      sync.Mutex
	records map[string]*domain.BufferRecord
}

// NewManager returns an empty buffer manager.
func NewManager() *Manager {
	return &Manager{records: make(map[string]*domain.BufferRecord)}
}

// Create allocates or reuses a slot keyed by requestID. Returns
// errBufferCapacityExceeded when HTTPMaxBuffers would be exceeded by a
// genuinely new key.
func (m *Manager) Create(requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UnixMilli()
	if rec, ok := m.records[requestID]; ok {
		rec.LastAccessMS = now
		return nil
	}
	if len(m.records) >= domain.HTTPMaxBuffers {
		return errBufferCapacityExceeded
	}
	m.records[requestID] = &domain.BufferRecord{
		RequestID: requestID,
		CreatedMS: now,
		LastAccessMS: now,
	}
	return nil
}

// Append adds a chunk's JSON text fragment to the buffer's accumulator,
// doubling capacity up to HTTPMaxChunkSize and rejecting further appends
// beyond that ceiling. end marks the buffer completed.
func (m *Manager) Append(requestID string, fragment string, end bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[requestID]
	if !ok {
		return domain.ErrStreamNotFound
	}
	if rec.Size()+len(fragment) > domain.HTTPMaxChunkSize {
		return errBufferCapacityExceeded
	}
	rec.AppendFragment(fragment)
	rec.LastAccessMS = time.Now().UnixMilli()
	if end {
		rec.Completed = true
	}
	return nil
}

// Poll returns the concatenated fragments joined with ",", wrapped by the caller in "[...]". If
// clearAfterRead is set or the buffer is completed, it is deleted after
// this call.
func (m *Manager) Poll(requestID string, clearAfterRead bool) (chunksText string, completed bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[requestID]
	if !ok {
		return "", false, domain.ErrStreamNotFound
	}
	rec.LastAccessMS = time.Now().UnixMilli()
	chunksText = joinFragments(rec.Fragments)
	completed = rec.Completed
	if clearAfterRead || completed {
		delete(m.records, requestID)
	}
	return chunksText, completed, nil
}

// Remove forcibly deletes a buffer regardless of state.
func (m *Manager) Remove(requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, requestID)
}

// Count returns the number of currently live buffer records, for metrics.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// RunReaper blocks, evicting buffers whose LastAccessMS exceeds
// HTTPBufferTimeout every HTTPCleanupInterval, until ctx is canceled.
func (m *Manager) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(domain.HTTPCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reapOnce()
		}
	}
}

func (m *Manager) reapOnce() {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-domain.HTTPBufferTimeout).UnixMilli()
	for id, rec := range m.records {
		if rec.LastAccessMS < cutoff {
			delete(m.records, id)
			log.Printf("[httpbuffer] reaped idle buffer %s", id)
		}
	}
}

func joinFragments(fragments []string) string {
	out := ""
	for i, f := range fragments {
		if i > 0 {
			out += ","
		}
		out += f
	}
	return out
}
