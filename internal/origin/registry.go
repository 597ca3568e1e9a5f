// Package origin tracks which transport and connection a given in-flight
// request-id arrived on. The queue item tuple itself carries
// no transport identity, so the transport layer records the binding here
// when it enqueues a request, and the dispatcher consults it when it needs
// to install a streaming context.
package origin

import (
	"sync"

	"github.com/tutu-network/infergate/internal/domain"
)

// Binding names the transport and connection a request-id should stream
// its output back to.
type Binding struct {
	Transport domain.TransportKind
	ClientFD  int
}

// Registry is a single mutex-protected map, mirroring the HTTP buffer
// table's single-mutex discipline since the same concurrency
// shape applies here.
type Registry struct {
	mu       sync.Mutex
	bindings map[uint32]Binding
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[uint32]Binding)}
}

// Put records the origin of requestID. Called by a transport immediately
// before pushing the corresponding item onto the request queue.
func (r *Registry) Put(requestID uint32, b Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[requestID] = b
}

// Get returns the recorded origin for requestID, if any.
func (r *Registry) Get(requestID uint32) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[requestID]
	return b, ok
}

// Delete removes the binding once a request has been fully resolved — a
// single response was sent, or its stream reached a terminal event.
func (r *Registry) Delete(requestID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bindings, requestID)
}
