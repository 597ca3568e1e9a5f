// Package stream implements the single global streaming context: the
// process-wide binding that tells the native callback where to deliver
// the current inference's chunks. The native runtime is single-session
// globally, so a single atomic cell is sufficient — no per-handle map is
// needed.
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tutu-network/infergate/internal/domain"
	"github.com/tutu-network/infergate/internal/rpc"
)

// Sender delivers a formatted chunk response to the transport bound by a
// streaming context. Implemented by the transport manager's
// send_stream_chunk entry point; injected here to avoid
// stream depending on transport.
type Sender interface {
	SendStreamChunk(ctx context.Context, sc domain.StreamingContext, resp *rpc.Response) error
}

// ChunkCounter records each chunk emitted, for /metrics observability.
// Implemented by internal/metrics.Registry's StreamChunksTotal counter.
type ChunkCounter interface {
	Inc()
}

// Manager owns the single streaming-context slot. The callback reads it via
// an atomic pointer without taking the handle-pool lock.
type Manager struct {
	slot    atomic.Pointer[domain.StreamingContext]
	sender  Sender
	counter ChunkCounter

	// mu guards only Install/Clear against each other, never the read path
	// used by the callback (Current is lock-free).
	mu sync.Mutex
}

// NewManager returns an empty manager; SetSender must be called before any
// chunk can be delivered.
func NewManager() *Manager {
	return &Manager{}
}

// SetSender wires the transport manager that will actually deliver chunks.
func (m *Manager) SetSender(s Sender) { m.sender = s }

// SetCounter wires an optional chunk counter; nil disables observation.
func (m *Manager) SetCounter(c ChunkCounter) { m.counter = c }

// Install binds a new streaming context. It fails with
// domain.ErrStreamAlreadyActive if one is already installed, enforcing the
// at-most-one-active-stream rule.
func (m *Manager) Install(sc domain.StreamingContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.slot.Load(); cur != nil && cur.Active {
		return domain.ErrStreamAlreadyActive
	}
	sc.Active = true
	m.slot.Store(&sc)
	return nil
}

// Current returns the active streaming context, if any. Safe to call from
// the native callback without locking.
func (m *Manager) Current() (domain.StreamingContext, bool) {
	sc := m.slot.Load()
	if sc == nil || !sc.Active {
		return domain.StreamingContext{}, false
	}
	return *sc, true
}

// ForHandle returns the active context only if it is bound to handleID,
// used by abort/destroy to decide whether a handle is currently streaming.
func (m *Manager) ForHandle(handleID uint32) (domain.StreamingContext, bool) {
	sc, ok := m.Current()
	if !ok || sc.HandleID != handleID {
		return domain.StreamingContext{}, false
	}
	return sc, true
}

// Clear removes the active context, regardless of which handle it names.
// Called on FINISH/ERROR callback states.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slot.Store(nil)
}

// Emit formats and delivers one NORMAL chunk for the currently installed
// context, then stores an updated context with the sequence counter
// incremented. If no context is installed — e.g. the callback fires after
// cancellation — the chunk is dropped silently. The updated context is a
// new value swapped into the slot, never a mutation of the loaded pointee,
// so concurrent readers (Current/ForHandle) never observe a half-written
// struct.
func (m *Manager) Emit(ctx context.Context, delta string) {
	sc := m.slot.Load()
	if sc == nil || !sc.Active {
		return
	}
	chunk := rpc.StreamChunk{Seq: sc.Seq, Delta: delta}
	resp := rpc.NewChunkResponse(sc.RequestID, chunk)
	if m.sender != nil {
		_ = m.sender.SendStreamChunk(ctx, *sc, resp)
	}
	if m.counter != nil {
		m.counter.Inc()
	}
	next := *sc
	next.Seq++
	m.slot.Store(&next)
}

// Finish emits the terminal end=true chunk and clears the context.
func (m *Manager) Finish(ctx context.Context) {
	sc := m.slot.Load()
	if sc == nil || !sc.Active {
		return
	}
	chunk := rpc.StreamChunk{Seq: sc.Seq, End: true}
	resp := rpc.NewChunkResponse(sc.RequestID, chunk)
	if m.sender != nil {
		_ = m.sender.SendStreamChunk(ctx, *sc, resp)
	}
	m.Clear()
}

// FinishError emits a terminal error chunk and clears the context.
func (m *Manager) FinishError(ctx context.Context, message string) {
	sc := m.slot.Load()
	if sc == nil || !sc.Active {
		return
	}
	chunk := rpc.StreamChunk{Seq: sc.Seq, Error: &rpc.ChunkError{Message: message}}
	resp := rpc.NewChunkResponse(sc.RequestID, chunk)
	if m.sender != nil {
		_ = m.sender.SendStreamChunk(ctx, *sc, resp)
	}
	m.Clear()
}
