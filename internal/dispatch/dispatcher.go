// Package dispatch is the operation dispatcher: a static
// method table run inside each worker, translating JSON-RPC params into
// native runtime calls and native results back into JSON-RPC responses.
package dispatch

import (
	"context"
	"errors"
	"log"

	"github.com/tutu-network/infergate/internal/domain"
	"github.com/tutu-network/infergate/internal/handlepool"
	"github.com/tutu-network/infergate/internal/native"
	"github.com/tutu-network/infergate/internal/origin"
	"github.com/tutu-network/infergate/internal/rpc"
	"github.com/tutu-network/infergate/internal/stream"
)

// AuditSink records a completed dispatch for operational forensics
// (internal/audit). Optional — a nil sink disables auditing.
type AuditSink interface {
	RecordInvocation(method string, handleID uint32, ok bool, detail string)
}

// handlerFunc is the signature every method-table entry implements. It
// returns nil when the method replies entirely via the streaming context
// (run in streaming mode) rather than the worker's response push.
type handlerFunc func(d *Dispatcher, ctx context.Context, item domain.QueueItem) *rpc.Response

// Dispatcher wires the method table to the handle pool, the native
// runtime, the streaming context manager, and the origin registry that
// tells it which transport/connection a streaming reply belongs to.
type Dispatcher struct {
	Pool    *handlepool.Pool
	Runtime native.Runtime
	Streams *stream.Manager
	Origins *origin.Registry
	Audit   AuditSink
}

// New constructs a Dispatcher. Audit may be nil.
func New(pool *handlepool.Pool, rt native.Runtime, streams *stream.Manager, origins *origin.Registry, audit AuditSink) *Dispatcher {
	return &Dispatcher{Pool: pool, Runtime: rt, Streams: streams, Origins: origins, Audit: audit}
}

var methodTable = map[string]handlerFunc{
	"createDefaultParam":    (*Dispatcher).handleCreateDefaultParam,
	"init":                  (*Dispatcher).handleInit,
	"lora_init":             (*Dispatcher).handleLoraInit,
	"run":                   (*Dispatcher).handleRun,
	"run_async":             (*Dispatcher).handleRunAsync,
	"is_running":            (*Dispatcher).handleIsRunning,
	"abort":                 (*Dispatcher).handleAbort,
	"destroy":               (*Dispatcher).handleDestroy,
	"load_lora":             (*Dispatcher).handleLoadLora,
	"load_prompt_cache":     (*Dispatcher).handleLoadPromptCache,
	"release_prompt_cache":  (*Dispatcher).handleReleasePromptCache,
	"clear_kv_cache":        (*Dispatcher).handleClearKVCache,
	"get_kv_cache_size":     (*Dispatcher).handleGetKVCacheSize,
	"set_chat_template":     (*Dispatcher).handleSetChatTemplate,
	"set_function_tools":    (*Dispatcher).handleSetFunctionTools,
	"set_cross_attn_params": (*Dispatcher).handleSetCrossAttnParams,
}

// methodsRequiringHandle is every method except createDefaultParam, init,
// and lora_init.
var methodsRequiringHandle = map[string]bool{
	"run": true, "run_async": true, "is_running": true, "abort": true,
	"destroy": true, "load_lora": true, "load_prompt_cache": true,
	"release_prompt_cache": true, "clear_kv_cache": true,
	"get_kv_cache_size": true, "set_chat_template": true,
	"set_function_tools": true, "set_cross_attn_params": true,
}

// Dispatch resolves item.Method and runs its handler. It always uses
// Background as the native-call context today; a future transport-level
// deadline could be threaded through via item once the queue item carries
// one.
func (d *Dispatcher) Dispatch(item domain.QueueItem) *rpc.Response {
	id := requestIDToJSON(item.RequestID)

	handler, ok := methodTable[item.Method]
	if !ok {
		return rpc.NewMethodNotFound(id, item.Method)
	}

	if methodsRequiringHandle[item.Method] {
		if item.HandleID == domain.InvalidHandleID || !d.Pool.IsValid(item.HandleID) {
			return rpc.NewInvalidParams(id, "unknown or inactive handle_id")
		}
	}

	resp := handler(d, context.Background(), item)
	if d.Audit != nil {
		ok := resp == nil || resp.Error == nil
		detail := ""
		if resp != nil && resp.Error != nil {
			detail = resp.Error.Message
		}
		d.Audit.RecordInvocation(item.Method, item.HandleID, ok, detail)
	}
	return resp
}

func requestIDToJSON(requestID uint32) any { return float64(requestID) }

// mapNativeErr classifies err (expected to be, or wrap, a *domain.NativeError)
// into the JSON-RPC error taxonomy.
func mapNativeErr(id any, err error) *rpc.Response {
	var nerr *domain.NativeError
	if errors.As(err, &nerr) {
		code := rpc.CodeInternalError
		if nerr.Kind == domain.NativeInvalidParam {
			code = rpc.CodeInvalidParams
		}
		log.Printf("[dispatch] native error kind=%d code=%d: %s", nerr.Kind, nerr.Code, nerr.Message)
		return rpc.NewError(id, code, nerr.Error(), nil)
	}
	return rpc.NewInternalError(id, err.Error())
}
