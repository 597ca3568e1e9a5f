package dispatch

import (
	"context"
	"encoding/json"

	"github.com/tutu-network/infergate/internal/domain"
	"github.com/tutu-network/infergate/internal/native"
	"github.com/tutu-network/infergate/internal/rpc"
)

func decodeParams(id any, raw []byte, dst any) *rpc.Response {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return rpc.NewInvalidParams(id, err.Error())
	}
	return nil
}

// ── createDefaultParam ──────────────────────────────────────────────────

func (d *Dispatcher) handleCreateDefaultParam(ctx context.Context, item domain.QueueItem) *rpc.Response {
	id := requestIDToJSON(item.RequestID)
	return rpc.NewResult(id, d.Runtime.CreateDefaultParam())
}

// ── init / lora_init ─────────────────────────────────────────────────────

type initParams struct {
	ModelPath     string         `json:"model_path"`
	MaxContextLen int            `json:"max_context_len"`
	IsAsync       bool           `json:"is_async"`
	Sampler       map[string]any `json:"sampler,omitempty"`
}

func (d *Dispatcher) handleInit(ctx context.Context, item domain.QueueItem) *rpc.Response {
	id := requestIDToJSON(item.RequestID)
	var p initParams
	if errResp := decodeParams(id, item.Params, &p); errResp != nil {
		return errResp
	}
	if p.ModelPath == "" {
		return rpc.NewInvalidParams(id, "model_path is required")
	}

	footprint, err := estimateFootprint(p.ModelPath)
	if err != nil {
		return rpc.NewError(id, rpc.CodeInternalError, domain.ErrInsufficientMemory.Error(), err.Error())
	}
	if avail, merr := availableMemoryBytes(); merr == nil && footprint > avail {
		return rpc.NewError(id, rpc.CodeInternalError, domain.ErrInsufficientMemory.Error(), nil)
	}

	param := d.Runtime.CreateDefaultParam()
	h, err := d.Runtime.Init(ctx, param, nil)
	if err != nil {
		return mapNativeErr(id, err)
	}
	handleID := d.Pool.Create(h, p.ModelPath, p.IsAsync)
	if handleID == domain.InvalidHandleID {
		return rpc.NewError(id, rpc.CodeInternalError, domain.ErrPoolExhausted.Error(), nil)
	}
	d.Pool.SetMemoryFootprint(handleID, footprint)
	return rpc.NewResult(id, map[string]any{
		"handle_id":   handleID,
		"system_info": map[string]any{"max_context_len": p.MaxContextLen},
	})
}

type loraInitParams struct {
	initParams
	BaseModelPath    string `json:"base_model_path"`
	LoraAdapterPath  string `json:"lora_adapter_path"`
}

func (d *Dispatcher) handleLoraInit(ctx context.Context, item domain.QueueItem) *rpc.Response {
	id := requestIDToJSON(item.RequestID)
	var p loraInitParams
	if errResp := decodeParams(id, item.Params, &p); errResp != nil {
		return errResp
	}
	if p.BaseModelPath == "" || p.LoraAdapterPath == "" {
		return rpc.NewInvalidParams(id, "base_model_path and lora_adapter_path are required")
	}
	if compatible, err := loraVersionCompatible(p.BaseModelPath, p.LoraAdapterPath); err != nil {
		return rpc.NewError(id, rpc.CodeInternalError, err.Error(), nil)
	} else if !compatible {
		return rpc.NewError(id, rpc.CodeInternalError, domain.ErrLoraIncompatible.Error(), nil)
	}

	footprint, err := estimateFootprint(p.BaseModelPath)
	if err != nil {
		return rpc.NewError(id, rpc.CodeInternalError, domain.ErrInsufficientMemory.Error(), err.Error())
	}
	if avail, merr := availableMemoryBytes(); merr == nil && footprint > avail {
		return rpc.NewError(id, rpc.CodeInternalError, domain.ErrInsufficientMemory.Error(), nil)
	}

	param := d.Runtime.CreateDefaultParam()
	h, err := d.Runtime.Init(ctx, param, nil)
	if err != nil {
		return mapNativeErr(id, err)
	}
	if err := d.Runtime.LoadLora(ctx, h, native.LoraAdapter{Path: p.LoraAdapterPath}); err != nil {
		return mapNativeErr(id, err)
	}
	handleID := d.Pool.Create(h, p.BaseModelPath, p.IsAsync)
	if handleID == domain.InvalidHandleID {
		return rpc.NewError(id, rpc.CodeInternalError, domain.ErrPoolExhausted.Error(), nil)
	}
	d.Pool.SetMemoryFootprint(handleID, footprint)
	return rpc.NewResult(id, map[string]any{
		"handle_id":   handleID,
		"system_info": map[string]any{"max_context_len": p.MaxContextLen},
	})
}

// ── run / run_async ──────────────────────────────────────────────────────

type runParams struct {
	HandleID   uint32            `json:"handle_id"`
	Prompt     string            `json:"prompt"`
	Tokens     []int32           `json:"tokens,omitempty"`
	Embed      []float32         `json:"embed,omitempty"`
	Multimodal any               `json:"multimodal,omitempty"`
	Params     native.InferParam `json:"params,omitempty"`
}

func (d *Dispatcher) handleRun(ctx context.Context, item domain.QueueItem) *rpc.Response {
	id := requestIDToJSON(item.RequestID)
	var p runParams
	if errResp := decodeParams(id, item.Params, &p); errResp != nil {
		return errResp
	}
	slot, ok := d.Pool.Get(item.HandleID)
	if !ok {
		return rpc.NewInvalidParams(id, domain.ErrHandleNotFound.Error())
	}
	in := native.Input{Prompt: p.Prompt, Tokens: p.Tokens, Embed: p.Embed, Multimodal: p.Multimodal}

	if !slot.IsAsync {
		text, err := d.runSync(ctx, slot.Native, in, p.Params)
		if err != nil {
			return mapNativeErr(id, err)
		}
		return rpc.NewResult(id, map[string]any{"text": text})
	}

	if errResp := d.startStreaming(ctx, item, slot, in, p.Params, false); errResp != nil {
		return errResp
	}
	return nil // replies entirely via stream chunks
}

func (d *Dispatcher) handleRunAsync(ctx context.Context, item domain.QueueItem) *rpc.Response {
	id := requestIDToJSON(item.RequestID)
	var p runParams
	if errResp := decodeParams(id, item.Params, &p); errResp != nil {
		return errResp
	}
	slot, ok := d.Pool.Get(item.HandleID)
	if !ok {
		return rpc.NewInvalidParams(id, domain.ErrHandleNotFound.Error())
	}
	in := native.Input{Prompt: p.Prompt, Tokens: p.Tokens, Embed: p.Embed, Multimodal: p.Multimodal}
	if errResp := d.startStreaming(ctx, item, slot, in, p.Params, true); errResp != nil {
		return errResp
	}
	return rpc.NewResult(id, map[string]any{"started": true})
}

// runSync drives a blocking, non-streaming inference by accumulating every
// NORMAL callback's text locally and returning once FINISH/ERROR arrives —
// the is_async=false path.
func (d *Dispatcher) runSync(ctx context.Context, h native.Handle, in native.Input, params native.InferParam) (string, error) {
	var text string
	var callErr error
	done := make(chan struct{})
	cb := func(res native.Result, state native.CallbackState) int32 {
		switch state {
		case native.StateNormal:
			text += res.Text
		case native.StateFinish:
			close(done)
		case native.StateError:
			callErr = &domain.NativeError{Kind: domain.NativeUnknown, Code: res.Code, Message: "inference error"}
			close(done)
		}
		return 0
	}
	token := native.RegisterCallback(cb)
	defer native.UnregisterCallback(token)
	if err := d.Runtime.Run(ctx, h, in, params, token); err != nil {
		return "", err
	}
	<-done
	return text, callErr
}

// startStreaming installs the global streaming context and launches the
// native call (synchronously for run_async already being async at the
// native layer, asynchronously via goroutine for a streaming run) so that
// the calling worker is not blocked for the duration of the inference.
func (d *Dispatcher) startStreaming(ctx context.Context, item domain.QueueItem, slot domain.HandleSlot, in native.Input, params native.InferParam, async bool) *rpc.Response {
	id := requestIDToJSON(item.RequestID)
	bind, _ := d.Origins.Get(item.RequestID)

	sc := domain.StreamingContext{
		HandleID:  item.HandleID,
		ClientFD:  bind.ClientFD,
		Transport: bind.Transport,
		RequestID: id,
	}
	if err := d.Streams.Install(sc); err != nil {
		return rpc.NewError(id, rpc.CodeInternalError, err.Error(), nil)
	}

	cb := func(res native.Result, state native.CallbackState) int32 {
		switch state {
		case native.StateNormal:
			d.Streams.Emit(ctx, res.Text)
		case native.StateFinish:
			d.Streams.Finish(ctx)
			d.Origins.Delete(item.RequestID)
		case native.StateError:
			d.Streams.FinishError(ctx, "inference error")
			d.Origins.Delete(item.RequestID)
		}
		return 0
	}
	token := native.RegisterCallback(cb)

	run := func() error {
		defer native.UnregisterCallback(token)
		if async {
			return d.Runtime.RunAsync(ctx, slot.Native, in, params, token)
		}
		return d.Runtime.Run(ctx, slot.Native, in, params, token)
	}

	if async {
		if err := run(); err != nil {
			d.Streams.Clear()
			return mapNativeErr(id, err)
		}
		return nil
	}
	go func() {
		if err := run(); err != nil {
			d.Streams.FinishError(ctx, err.Error())
		}
	}()
	return nil
}

// ── lifecycle / query methods ────────────────────────────────────────────

type handleOnlyParams struct {
	HandleID uint32 `json:"handle_id"`
}

func (d *Dispatcher) handleIsRunning(ctx context.Context, item domain.QueueItem) *rpc.Response {
	id := requestIDToJSON(item.RequestID)
	slot, ok := d.Pool.Get(item.HandleID)
	if !ok {
		return rpc.NewInvalidParams(id, domain.ErrHandleNotFound.Error())
	}
	running, err := d.Runtime.IsRunning(slot.Native)
	if err != nil {
		return mapNativeErr(id, err)
	}
	return rpc.NewResult(id, map[string]any{"is_running": running})
}

func (d *Dispatcher) handleAbort(ctx context.Context, item domain.QueueItem) *rpc.Response {
	id := requestIDToJSON(item.RequestID)
	slot, ok := d.Pool.Get(item.HandleID)
	if !ok {
		return rpc.NewInvalidParams(id, domain.ErrHandleNotFound.Error())
	}
	if err := d.Runtime.Abort(slot.Native); err != nil {
		return mapNativeErr(id, err)
	}
	return rpc.NewResult(id, map[string]any{"status": "aborted"})
}

func (d *Dispatcher) handleDestroy(ctx context.Context, item domain.QueueItem) *rpc.Response {
	id := requestIDToJSON(item.RequestID)
	slot, ok := d.Pool.Get(item.HandleID)
	if !ok {
		return rpc.NewInvalidParams(id, domain.ErrHandleNotFound.Error())
	}
	if _, active := d.Streams.ForHandle(item.HandleID); active {
		return rpc.NewError(id, rpc.CodeInternalError, domain.ErrHandleBusy.Error(), nil)
	}
	if err := d.Runtime.Destroy(slot.Native); err != nil {
		return mapNativeErr(id, err)
	}
	d.Pool.Destroy(item.HandleID)
	return rpc.NewResult(id, map[string]any{"status": "destroyed"})
}

func (d *Dispatcher) handleLoadLora(ctx context.Context, item domain.QueueItem) *rpc.Response {
	id := requestIDToJSON(item.RequestID)
	var p struct {
		HandleID uint32 `json:"handle_id"`
		Path     string `json:"path"`
	}
	if errResp := decodeParams(id, item.Params, &p); errResp != nil {
		return errResp
	}
	slot, _ := d.Pool.Get(item.HandleID)
	if err := d.Runtime.LoadLora(ctx, slot.Native, native.LoraAdapter{Path: p.Path}); err != nil {
		return mapNativeErr(id, err)
	}
	return rpc.NewResult(id, map[string]any{"success": true})
}

func (d *Dispatcher) handleLoadPromptCache(ctx context.Context, item domain.QueueItem) *rpc.Response {
	id := requestIDToJSON(item.RequestID)
	var p struct {
		HandleID uint32 `json:"handle_id"`
		Path     string `json:"path"`
	}
	if errResp := decodeParams(id, item.Params, &p); errResp != nil {
		return errResp
	}
	slot, _ := d.Pool.Get(item.HandleID)
	if err := d.Runtime.LoadPromptCache(ctx, slot.Native, p.Path); err != nil {
		return mapNativeErr(id, err)
	}
	return rpc.NewResult(id, map[string]any{"success": true})
}

// handleReleasePromptCache intentionally surfaces whatever the native call
// reports, including failure on a handle with no prompt cache loaded — there
// is no guarantee of a safe no-op here, so this layer does not synthesize
// success.
func (d *Dispatcher) handleReleasePromptCache(ctx context.Context, item domain.QueueItem) *rpc.Response {
	id := requestIDToJSON(item.RequestID)
	slot, _ := d.Pool.Get(item.HandleID)
	if err := d.Runtime.ReleasePromptCache(ctx, slot.Native); err != nil {
		return mapNativeErr(id, err)
	}
	return rpc.NewResult(id, map[string]any{"success": true})
}

func (d *Dispatcher) handleClearKVCache(ctx context.Context, item domain.QueueItem) *rpc.Response {
	id := requestIDToJSON(item.RequestID)
	var p struct {
		HandleID         uint32  `json:"handle_id"`
		KeepSystemPrompt bool    `json:"keep_system_prompt"`
		StartPos         []int32 `json:"start_pos"`
		EndPos           []int32 `json:"end_pos"`
	}
	if errResp := decodeParams(id, item.Params, &p); errResp != nil {
		return errResp
	}
	slot, _ := d.Pool.Get(item.HandleID)
	if err := d.Runtime.ClearKVCache(ctx, slot.Native, p.KeepSystemPrompt, p.StartPos, p.EndPos); err != nil {
		return mapNativeErr(id, err)
	}
	return rpc.NewResult(id, map[string]any{"success": true})
}

func (d *Dispatcher) handleGetKVCacheSize(ctx context.Context, item domain.QueueItem) *rpc.Response {
	id := requestIDToJSON(item.RequestID)
	slot, _ := d.Pool.Get(item.HandleID)
	sizes, err := d.Runtime.GetKVCacheSize(ctx, slot.Native)
	if err != nil {
		return mapNativeErr(id, err)
	}
	return rpc.NewResult(id, map[string]any{"sizes": sizes})
}

func (d *Dispatcher) handleSetChatTemplate(ctx context.Context, item domain.QueueItem) *rpc.Response {
	id := requestIDToJSON(item.RequestID)
	var p struct {
		HandleID uint32 `json:"handle_id"`
		System   string `json:"system"`
		Prefix   string `json:"prefix"`
		Postfix  string `json:"postfix"`
	}
	if errResp := decodeParams(id, item.Params, &p); errResp != nil {
		return errResp
	}
	slot, _ := d.Pool.Get(item.HandleID)
	if err := d.Runtime.SetChatTemplate(ctx, slot.Native, p.System, p.Prefix, p.Postfix); err != nil {
		return mapNativeErr(id, err)
	}
	return rpc.NewResult(id, map[string]any{"success": true})
}

func (d *Dispatcher) handleSetFunctionTools(ctx context.Context, item domain.QueueItem) *rpc.Response {
	id := requestIDToJSON(item.RequestID)
	var p struct {
		HandleID         uint32 `json:"handle_id"`
		System           string `json:"system"`
		Tools            any    `json:"tools"`
		ResponseTemplate string `json:"response_template"`
	}
	if errResp := decodeParams(id, item.Params, &p); errResp != nil {
		return errResp
	}
	slot, _ := d.Pool.Get(item.HandleID)
	if err := d.Runtime.SetFunctionTools(ctx, slot.Native, p.System, p.Tools, p.ResponseTemplate); err != nil {
		return mapNativeErr(id, err)
	}
	return rpc.NewResult(id, map[string]any{"success": true})
}

func (d *Dispatcher) handleSetCrossAttnParams(ctx context.Context, item domain.QueueItem) *rpc.Response {
	id := requestIDToJSON(item.RequestID)
	var p struct {
		HandleID uint32                `json:"handle_id"`
		Params   native.CrossAttnParam `json:"params"`
	}
	if errResp := decodeParams(id, item.Params, &p); errResp != nil {
		return errResp
	}
	slot, _ := d.Pool.Get(item.HandleID)
	if err := d.Runtime.SetCrossAttnParams(ctx, slot.Native, p.Params); err != nil {
		return mapNativeErr(id, err)
	}
	return rpc.NewResult(id, map[string]any{"success": true})
}
