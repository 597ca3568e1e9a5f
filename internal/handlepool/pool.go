// Package handlepool is the fixed-slot registry of native model instances.
// It never calls into the native runtime itself — callers are responsible
// for teardown before destroy and for creation before the slot is marked
// active.
package handlepool

import (
	"sync"
	"time"

	"github.com/tutu-network/infergate/internal/domain"
)

// Pool is a mutex-protected, fixed-size array of handle slots. All
// operations are O(MAX_HANDLES) scans — acceptable because MAX_HANDLES is
// small. The pool lock is never held across a native call;
// callers pass already-constructed native references into Create.
type Pool struct {
	mu      sync.Mutex
	slots   [domain.MaxHandles]domain.HandleSlot
	nextID  uint32
}

// New returns an empty pool with the monotonic identifier counter starting
// at 1 (0 is reserved as the invalid handle).
func New() *Pool {
	return &Pool{nextID: 1}
}

// Create allocates the first free slot for a native reference already
// produced by the caller (e.g. via native.Runtime.Init), mints a fresh
// identifier, and marks the slot active. Returns domain.InvalidHandleID on
// exhaustion — callers map this to a resource-exhausted JSON-RPC error.
func (p *Pool) Create(nativeRef any, modelPath string, isAsync bool) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.slots {
		if p.slots[i].Active {
			continue
		}
		id := p.nextID
		p.nextID++
		p.slots[i] = domain.HandleSlot{
			ID:        id,
			Native:    nativeRef,
			Active:    true,
			ModelPath: modelPath,
			IsAsync:   isAsync,
			LastUsed:  time.Now(),
		}
		return id
	}
	return domain.InvalidHandleID
}

// Get performs a constant-effort (bounded by MAX_HANDLES) lookup, rejecting
// inactive or unknown ids.
func (p *Pool) Get(id uint32) (domain.HandleSlot, bool) {
	if id == domain.InvalidHandleID {
		return domain.HandleSlot{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.slots {
		if p.slots[i].Active && p.slots[i].ID == id {
			return p.slots[i], true
		}
	}
	return domain.HandleSlot{}, false
}

// IsValid reports whether id currently names an active slot.
func (p *Pool) IsValid(id uint32) bool {
	_, ok := p.Get(id)
	return ok
}

// Touch refreshes a slot's last-used timestamp.
func (p *Pool) Touch(id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.slots {
		if p.slots[i].Active && p.slots[i].ID == id {
			p.slots[i].LastUsed = time.Now()
			return
		}
	}
}

// SetMemoryFootprint records an estimated memory footprint for reporting
// via memory_footprint/total_footprint.
func (p *Pool) SetMemoryFootprint(id uint32, bytes uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.slots {
		if p.slots[i].Active && p.slots[i].ID == id {
			p.slots[i].MemBytes = bytes
			return
		}
	}
}

// MemoryFootprint returns the recorded footprint for a single handle.
func (p *Pool) MemoryFootprint(id uint32) uint64 {
	slot, ok := p.Get(id)
	if !ok {
		return 0
	}
	return slot.MemBytes
}

// TotalFootprint sums the memory footprint across all active slots.
func (p *Pool) TotalFootprint() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total uint64
	for i := range p.slots {
		if p.slots[i].Active {
			total += p.slots[i].MemBytes
		}
	}
	return total
}

// Destroy marks the slot free and zeroes its metadata. The caller must have
// already invoked native teardown so the native side sees no
// dangling reference; Destroy itself never touches the native runtime.
func (p *Pool) Destroy(id uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.slots {
		if p.slots[i].Active && p.slots[i].ID == id {
			p.slots[i] = domain.HandleSlot{}
			return true
		}
	}
	return false
}

// Count returns the number of currently active slots.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for i := range p.slots {
		if p.slots[i].Active {
			n++
		}
	}
	return n
}
