// Package native defines the boundary to the inference runtime: an
// opaque, fixed-arity contract the gateway binds against but does not
// implement. Runtime is the Go-shaped mirror of that FFI surface.
package native

import "context"

// CallbackState mirrors the native runtime's callback state enum.
type CallbackState int

const (
	StateNormal CallbackState = iota
	StateWaiting
	StateFinish
	StateError
)

func (s CallbackState) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateWaiting:
		return "WAITING"
	case StateFinish:
		return "FINISH"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Result is the per-token payload handed to the callback on each invocation.
type Result struct {
	Text string
	Code int32 // native status/error code; meaningful when State == StateError
}

// Callback is invoked on the native runtime's own thread. It must return
// promptly and always returns 0 to continue.
type Callback func(result Result, state CallbackState) int32

// Param is the opaque default-parameter object returned by
// createDefaultParam and consumed by init/lora_init.
type Param map[string]any

// LoraAdapter describes an adapter to attach to a loaded base model.
type LoraAdapter struct {
	Path string
}

// Input is the union of prompt/tokens/embed/multimodal inference input
// shapes run and run_async accept.
type Input struct {
	Prompt     string  `json:"prompt,omitempty"`
	Tokens     []int32 `json:"tokens,omitempty"`
	Embed      []float32 `json:"embed,omitempty"`
	Multimodal any     `json:"multimodal,omitempty"`
}

// InferParam carries sampler/generation parameters for run/run_async.
type InferParam map[string]any

// CrossAttnParam carries encoder caches and masks.
type CrossAttnParam map[string]any

// Handle is the opaque native model-instance reference. The gateway never
// interprets its contents; it only threads it back into later calls.
type Handle any

// Runtime is the native inference engine's operation set, Go-shaped: errors
// are returned as Go errors (constructed from the native status code) rather
// than raw negative integers, so callers can use errors.As(*domain.NativeError).
type Runtime interface {
	CreateDefaultParam() Param

	Init(ctx context.Context, param Param, cb Callback) (Handle, error)
	LoadLora(ctx context.Context, h Handle, adapter LoraAdapter) error
	LoadPromptCache(ctx context.Context, h Handle, path string) error
	ReleasePromptCache(ctx context.Context, h Handle) error
	ClearKVCache(ctx context.Context, h Handle, keepSystemPrompt bool, start, end []int32) error
	GetKVCacheSize(ctx context.Context, h Handle) ([]int64, error)
	SetChatTemplate(ctx context.Context, h Handle, system, prefix, postfix string) error
	SetFunctionTools(ctx context.Context, h Handle, system string, tools any, responseTemplate string) error
	SetCrossAttnParams(ctx context.Context, h Handle, p CrossAttnParam) error

	Run(ctx context.Context, h Handle, in Input, p InferParam, userdata uintptr) error
	RunAsync(ctx context.Context, h Handle, in Input, p InferParam, userdata uintptr) error
	IsRunning(h Handle) (bool, error)
	Abort(h Handle) error
	Destroy(h Handle) error
}
