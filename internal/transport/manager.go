package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/tutu-network/infergate/internal/domain"
	"github.com/tutu-network/infergate/internal/httpbuffer"
	"github.com/tutu-network/infergate/internal/rpc"
)

// Manager owns all active transports and is the sole entry point the
// streaming context uses to deliver a chunk. It satisfies stream.Sender.
type Manager struct {
	mu       sync.RWMutex
	adapters map[domain.TransportKind]Adapter
	http     *httpbuffer.Manager
}

// NewManager returns a manager with no adapters registered yet; Register
// each transport as it comes up.
func NewManager(http *httpbuffer.Manager) *Manager {
	return &Manager{adapters: make(map[domain.TransportKind]Adapter), http: http}
}

// Register adds or replaces the adapter for its own Kind().
func (m *Manager) Register(a Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[a.Kind()] = a
}

// Get returns the adapter registered for kind, if any.
func (m *Manager) Get(kind domain.TransportKind) (Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[kind]
	return a, ok
}

// SendStreamChunk dispatches to the concrete transport named by sc's
// Transport field: push transports write directly to the
// bound connection; the HTTP transport instead appends to the chunk buffer.
func (m *Manager) SendStreamChunk(ctx context.Context, sc domain.StreamingContext, resp *rpc.Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal stream chunk: %w", err)
	}

	if sc.Transport == domain.TransportHTTP {
		return m.appendToHTTPBuffer(sc, payload)
	}

	adapter, ok := m.Get(sc.Transport)
	if !ok {
		log.Printf("[transport] no adapter registered for %s, dropping chunk", sc.Transport)
		return nil
	}
	if target, ok := adapter.(PushTarget); ok {
		return target.SendTo(sc.ClientFD, payload)
	}
	_, err = adapter.SendRaw(payload)
	return err
}

// statusReporter is satisfied by HTTPAdapter; kept local so this package
// doesn't need to import anything beyond the adapter interfaces it already
// depends on to track npu_status transitions for HTTP streaming requests.
type statusReporter interface {
	SetStatus(requestID, status string)
}

func (m *Manager) appendToHTTPBuffer(sc domain.StreamingContext, payload []byte) error {
	reqKey := fmt.Sprintf("%v", sc.RequestID)
	chunk := extractChunkField(payload)
	terminal := isTerminalChunk(payload)

	if err := m.http.Create(reqKey); err != nil {
		return err
	}
	if err := m.http.Append(reqKey, chunk, terminal); err != nil {
		return err
	}

	if a, ok := m.Get(domain.TransportHTTP); ok {
		if sr, ok := a.(statusReporter); ok {
			status := "processing"
			if terminal {
				status = "completed"
				if isErrorChunk(payload) {
					status = "error"
				}
			}
			sr.SetStatus(reqKey, status)
		}
	}
	return nil
}

func isErrorChunk(payload []byte) bool {
	var envelope struct {
		Result struct {
			Chunk struct {
				Error any `json:"error"`
			} `json:"chunk"`
		} `json:"result"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return false
	}
	return envelope.Result.Chunk.Error != nil
}

// extractChunkField pulls out result.chunk's JSON text, since the HTTP
// buffer accumulates raw chunk fragments rather than the
// full enclosing JSON-RPC envelope.
func extractChunkField(payload []byte) string {
	var envelope struct {
		Result struct {
			Chunk json.RawMessage `json:"chunk"`
		} `json:"result"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Result.Chunk == nil {
		return string(payload)
	}
	return string(envelope.Result.Chunk)
}

func isTerminalChunk(payload []byte) bool {
	var envelope struct {
		Result struct {
			Chunk struct {
				End   bool `json:"end"`
				Error any  `json:"error"`
			} `json:"chunk"`
		} `json:"result"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return false
	}
	return envelope.Result.Chunk.End || envelope.Result.Chunk.Error != nil
}

// Shutdown tears down every registered transport.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for kind, a := range m.adapters {
		if err := a.Shutdown(ctx); err != nil {
			log.Printf("[transport] shutdown %s: %v", kind, err)
		}
	}
}
