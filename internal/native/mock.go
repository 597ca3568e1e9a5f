package native

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockRuntime is a deterministic stand-in for the real inference runtime,
// used by default in development and exercised directly by the dispatcher's
// tests. It tokenizes the prompt on whitespace and emits one NORMAL callback
// per token before a terminal FINISH, mirroring the shape of the real
// runtime's callback-driven delivery without any actual model weights.
type MockRuntime struct {
	mu      sync.Mutex
	running map[Handle]bool
	aborted map[Handle]bool
}

// NewMockRuntime constructs a ready-to-use mock.
func NewMockRuntime() *MockRuntime {
	return &MockRuntime{
		running: make(map[Handle]bool),
		aborted: make(map[Handle]bool),
	}
}

func (m *MockRuntime) CreateDefaultParam() Param {
	return Param{
		"temperature": 0.8,
		"top_p":       0.95,
		"max_tokens":  512,
	}
}

func (m *MockRuntime) Init(ctx context.Context, param Param, cb Callback) (Handle, error) {
	h := new(int)
	return h, nil
}

func (m *MockRuntime) LoadLora(ctx context.Context, h Handle, adapter LoraAdapter) error { return nil }

func (m *MockRuntime) LoadPromptCache(ctx context.Context, h Handle, path string) error { return nil }

func (m *MockRuntime) ReleasePromptCache(ctx context.Context, h Handle) error { return nil }

func (m *MockRuntime) ClearKVCache(ctx context.Context, h Handle, keepSystemPrompt bool, start, end []int32) error {
	return nil
}

func (m *MockRuntime) GetKVCacheSize(ctx context.Context, h Handle) ([]int64, error) {
	return []int64{0}, nil
}

func (m *MockRuntime) SetChatTemplate(ctx context.Context, h Handle, system, prefix, postfix string) error {
	return nil
}

func (m *MockRuntime) SetFunctionTools(ctx context.Context, h Handle, system string, tools any, responseTemplate string) error {
	return nil
}

func (m *MockRuntime) SetCrossAttnParams(ctx context.Context, h Handle, p CrossAttnParam) error {
	return nil
}

// Run drives the callback synchronously to completion, mimicking the real
// runtime's blocking single-session behavior.
func (m *MockRuntime) Run(ctx context.Context, h Handle, in Input, p InferParam, userdata uintptr) error {
	return m.runTokens(h, in, cbFromUserdata(userdata))
}

func (m *MockRuntime) RunAsync(ctx context.Context, h Handle, in Input, p InferParam, userdata uintptr) error {
	cb := cbFromUserdata(userdata)
	go m.runTokens(h, in, cb)
	return nil
}

func (m *MockRuntime) runTokens(h Handle, in Input, cb Callback) error {
	m.mu.Lock()
	m.running[h] = true
	m.aborted[h] = false
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running[h] = false
		m.mu.Unlock()
	}()

	tokens := strings.Fields(in.Prompt)
	for _, tok := range tokens {
		m.mu.Lock()
		aborted := m.aborted[h]
		m.mu.Unlock()
		if aborted {
			cb(Result{}, StateFinish)
			return nil
		}
		cb(Result{Text: tok + " "}, StateNormal)
		time.Sleep(time.Millisecond)
	}
	cb(Result{}, StateFinish)
	return nil
}

func (m *MockRuntime) IsRunning(h Handle) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[h], nil
}

func (m *MockRuntime) Abort(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aborted[h] = true
	return nil
}

func (m *MockRuntime) Destroy(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, h)
	delete(m.aborted, h)
	return nil
}

// callbackRegistry lets Run/RunAsync recover a typed Callback from the
// uintptr userdata slot of the Runtime interface, mirroring how the real
// FFI boundary would round-trip an opaque userdata pointer.
var (
	callbackRegistryMu sync.Mutex
	callbackRegistry   = map[uintptr]Callback{}
	nextUserdata       uintptr = 1
)

// RegisterCallback stores cb and returns a userdata token to pass to
// Run/RunAsync; callers release it with UnregisterCallback once the
// inference completes.
func RegisterCallback(cb Callback) uintptr {
	callbackRegistryMu.Lock()
	defer callbackRegistryMu.Unlock()
	token := nextUserdata
	nextUserdata++
	callbackRegistry[token] = cb
	return token
}

// UnregisterCallback releases a token produced by RegisterCallback.
func UnregisterCallback(token uintptr) {
	callbackRegistryMu.Lock()
	defer callbackRegistryMu.Unlock()
	delete(callbackRegistry, token)
}

func cbFromUserdata(token uintptr) Callback {
	callbackRegistryMu.Lock()
	defer callbackRegistryMu.Unlock()
	cb, ok := callbackRegistry[token]
	if !ok {
		return func(Result, CallbackState) int32 { return 0 }
	}
	return cb
}
