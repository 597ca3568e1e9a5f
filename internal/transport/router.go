package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tutu-network/infergate/internal/domain"
	"github.com/tutu-network/infergate/internal/origin"
	"github.com/tutu-network/infergate/internal/queue"
	"github.com/tutu-network/infergate/internal/rpc"
)

// replyWait bounds how long the router waits for a dispatched request's
// response to appear on the response queue before giving up — generous
// relative to domain.RequestTimeout since the worker itself is the
// authoritative timeout source and always produces a
// response, timeout or otherwise.
const replyWait = domain.RequestTimeout + 5*time.Second

// Router is the fan-in/fan-out glue between the wire-level transports and
// the request/response queues: it assigns internal u32 request ids,
// records the client's original id for echoing, pushes onto the request
// queue, and correlates responses as they drain off the response queue
// (grounded on a pending-request-channel map, the same shape as a
// request/response multiplexer over an async transport).
type Router struct {
	reqQ    *queue.Ring[domain.QueueItem]
	respQ   *queue.Ring[domain.ResponseItem]
	origins *origin.Registry

	nextID  atomic.Uint32
	pending sync.Map // uint32 -> chan []byte
	echoIDs sync.Map // uint32 -> original client id (any), only when non-trivial
}

// NewRouter wires a Router to the shared queues and origin registry.
func NewRouter(reqQ *queue.Ring[domain.QueueItem], respQ *queue.Ring[domain.ResponseItem], origins *origin.Registry) *Router {
	r := &Router{reqQ: reqQ, respQ: respQ, origins: origins}
	r.nextID.Store(1)
	return r
}

// RunResponseDrain continuously pops the response queue and delivers each
// payload to whichever caller is waiting on that request id, until ctx is
// canceled. Exactly one goroutine per process should run this.
func (r *Router) RunResponseDrain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		item, ok := r.respQ.Pop()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		if v, ok := r.pending.LoadAndDelete(item.RequestID); ok {
			v.(chan []byte) <- item.Payload
		}
		// No one waiting (a notification's synthesized response, or a
		// caller that already gave up) — drop silently.
	}
}

// Dispatch handles one inbound wire message for the given origin binding
// (which transport/connection it arrived on, used to seed streaming
// contexts). It returns the bytes to write back to the client, or nil if
// the message produced no reply (a lone notification, or a fully-elided
// notification batch).
func (r *Router) Dispatch(ctx context.Context, raw []byte, bind origin.Binding) []byte {
	reqs, errResps := rpc.ParseMessage(raw)
	if reqs == nil {
		out, _ := json.Marshal(errResps[0])
		return out
	}
	isBatch := bytes.HasPrefix(bytes.TrimLeft(raw, " \t\r\n"), []byte("["))

	results := make([]*rpc.Response, len(reqs))
	waiters := make(map[int]chan []byte)
	internalIDs := make(map[int]uint32)

	for i, req := range reqs {
		if errResps[i] != nil {
			results[i] = errResps[i]
			continue
		}
		if req.IsNotification() {
			r.enqueue(req, bind, nil)
			continue
		}
		ch := make(chan []byte, 1)
		internalID := r.enqueue(req, bind, ch)
		if internalID == 0 {
			results[i] = rpc.NewError(req.ID, rpc.CodeInternalError, domain.ErrQueueFull.Error(), nil)
			continue
		}
		waiters[i] = ch
		internalIDs[i] = internalID
	}

	for i, ch := range waiters {
		select {
		case payload := <-ch:
			results[i] = r.decodeAndRestoreID(payload)
		case <-time.After(replyWait):
			results[i] = rpc.NewInternalError(reqs[i].ID, "no response received before router timeout")
		case <-ctx.Done():
			results[i] = rpc.NewInternalError(reqs[i].ID, "request canceled")
		}
		r.origins.Delete(internalIDs[i])
	}

	return r.formatOutput(results, isBatch)
}

// enqueue allocates a request id, records the origin binding and (if
// needed) a channel to receive the eventual response, and pushes the
// queue item. It returns 0 if the request queue was full (Full surfaced as
// resource-busy), after releasing anything it reserved.
func (r *Router) enqueue(req *rpc.Request, bind origin.Binding, waiter chan []byte) uint32 {
	id := r.allocateID(req.ID)
	r.origins.Put(id, bind)
	if waiter != nil {
		r.pending.Store(id, waiter)
	}

	handleID, _ := extractHandleID(req.Params)
	item := domain.QueueItem{
		RequestID:     id,
		HandleID:      handleID,
		Method:        truncateMethod(req.Method),
		Params:        req.Params,
		EnqueueTimeMS: time.Now().UnixMilli(),
	}
	if err := r.reqQ.Push(item); err != nil {
		r.pending.Delete(id)
		r.origins.Delete(id)
		return 0
	}
	return id
}

// allocateID uses the client-supplied id directly when it is a small
// positive JSON number, so the wire echoes the same value; otherwise
// (string ids, zero, large/negative numbers, or a notification) it mints a fresh
// internal id and remembers the original value for restoration in
// decodeAndRestoreID.
func (r *Router) allocateID(clientID any) uint32 {
	if f, ok := clientID.(float64); ok && f > 0 && f <= float64(^uint32(0)) && f == float64(uint32(f)) {
		return uint32(f)
	}
	id := r.nextID.Add(1)
	if clientID != nil {
		r.echoIDs.Store(id, clientID)
	}
	return id
}

func (r *Router) decodeAndRestoreID(payload []byte) *rpc.Response {
	var resp rpc.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return rpc.NewInternalError(nil, "malformed response from worker")
	}
	if idFloat, ok := resp.ID.(float64); ok {
		if original, found := r.echoIDs.LoadAndDelete(uint32(idFloat)); found {
			resp.ID = original
		}
	}
	return &resp
}

func (r *Router) formatOutput(results []*rpc.Response, isBatch bool) []byte {
	nonNil := results[:0:0]
	for _, res := range results {
		if res != nil {
			nonNil = append(nonNil, res)
		}
	}
	if len(nonNil) == 0 {
		return nil
	}
	if !isBatch {
		out, _ := json.Marshal(nonNil[0])
		return out
	}
	out, _ := json.Marshal(nonNil)
	return out
}

func truncateMethod(method string) string {
	if len(method) > domain.MaxMethodLen {
		return method[:domain.MaxMethodLen]
	}
	return method
}

func extractHandleID(params []byte) (uint32, bool) {
	var p struct {
		HandleID uint32 `json:"handle_id"`
	}
	if len(params) == 0 {
		return 0, false
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return 0, false
	}
	return p.HandleID, true
}
