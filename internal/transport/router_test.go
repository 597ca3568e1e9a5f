package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/tutu-network/infergate/internal/domain"
	"github.com/tutu-network/infergate/internal/origin"
	"github.com/tutu-network/infergate/internal/queue"
	"github.com/tutu-network/infergate/internal/rpc"
)

// fakeWorker pops exactly one request queue item and replies with a fixed
// result, standing in for the real worker pool in router-level tests.
func fakeWorker(t *testing.T, reqQ *queue.Ring[domain.QueueItem], respQ *queue.Ring[domain.ResponseItem], build func(domain.QueueItem) *rpc.Response) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("fakeWorker: timed out waiting for a request")
		default:
		}
		if item, ok := reqQ.Pop(); ok {
			resp := build(item)
			payload, _ := json.Marshal(resp)
			respQ.Push(domain.ResponseItem{RequestID: item.RequestID, Payload: payload})
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRouter_SingleRequest_EchoesOriginalID(t *testing.T) {
	reqQ := queue.New[domain.QueueItem](domain.QueueSize)
	respQ := queue.New[domain.ResponseItem](domain.QueueSize)
	r := NewRouter(reqQ, respQ, origin.NewRegistry())

	go fakeWorker(t, reqQ, respQ, func(item domain.QueueItem) *rpc.Response {
		return rpc.NewResult(float64(item.RequestID), map[string]any{"is_running": false})
	})

	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"is_running","params":{"handle_id":1}}`)
	reply := r.Dispatch(context.Background(), raw, origin.Binding{Transport: domain.TransportTCP})
	if reply == nil {
		t.Fatal("expected a reply")
	}
	var resp rpc.Response
	if err := json.Unmarshal(reply, &resp); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if resp.ID != float64(1) {
		t.Errorf("id = %v, want 1", resp.ID)
	}
}

func TestRouter_StringID_RestoredOnReply(t *testing.T) {
	reqQ := queue.New[domain.QueueItem](domain.QueueSize)
	respQ := queue.New[domain.ResponseItem](domain.QueueSize)
	r := NewRouter(reqQ, respQ, origin.NewRegistry())

	go fakeWorker(t, reqQ, respQ, func(item domain.QueueItem) *rpc.Response {
		return rpc.NewResult(float64(item.RequestID), "ok")
	})

	raw := []byte(`{"jsonrpc":"2.0","id":"client-abc","method":"is_running","params":{"handle_id":1}}`)
	reply := r.Dispatch(context.Background(), raw, origin.Binding{Transport: domain.TransportTCP})
	var resp rpc.Response
	json.Unmarshal(reply, &resp)
	if resp.ID != "client-abc" {
		t.Errorf("id = %v, want %q", resp.ID, "client-abc")
	}
}

func TestRouter_Notification_NoReply(t *testing.T) {
	reqQ := queue.New[domain.QueueItem](domain.QueueSize)
	respQ := queue.New[domain.ResponseItem](domain.QueueSize)
	r := NewRouter(reqQ, respQ, origin.NewRegistry())

	raw := []byte(`{"jsonrpc":"2.0","method":"abort","params":{"handle_id":1}}`)
	reply := r.Dispatch(context.Background(), raw, origin.Binding{Transport: domain.TransportTCP})
	if reply != nil {
		t.Errorf("expected nil reply for a notification, got %s", reply)
	}
	// Drain the item the router still pushed so the goroutine (if any) doesn't leak.
	reqQ.Pop()
}

func TestRouter_BatchWithNotification_OneElement(t *testing.T) {
	reqQ := queue.New[domain.QueueItem](domain.QueueSize)
	respQ := queue.New[domain.ResponseItem](domain.QueueSize)
	r := NewRouter(reqQ, respQ, origin.NewRegistry())

	go fakeWorker(t, reqQ, respQ, func(item domain.QueueItem) *rpc.Response {
		return rpc.NewResult(float64(item.RequestID), map[string]any{"is_running": false})
	})
	go func() {
		// drain the notification's queue item too.
		time.Sleep(50 * time.Millisecond)
		reqQ.Pop()
	}()

	raw := []byte(`[{"jsonrpc":"2.0","id":10,"method":"is_running","params":{"handle_id":1}},{"jsonrpc":"2.0","method":"abort","params":{"handle_id":1}}]`)
	reply := r.Dispatch(context.Background(), raw, origin.Binding{Transport: domain.TransportTCP})
	var batch []rpc.Response
	if err := json.Unmarshal(reply, &batch); err != nil {
		t.Fatalf("unmarshal batch: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("expected 1 response in batch, got %d", len(batch))
	}
	if batch[0].ID != float64(10) {
		t.Errorf("id = %v, want 10", batch[0].ID)
	}
}

func TestRouter_ParseError(t *testing.T) {
	reqQ := queue.New[domain.QueueItem](domain.QueueSize)
	respQ := queue.New[domain.ResponseItem](domain.QueueSize)
	r := NewRouter(reqQ, respQ, origin.NewRegistry())

	reply := r.Dispatch(context.Background(), []byte(`{bad json`), origin.Binding{})
	var resp rpc.Response
	json.Unmarshal(reply, &resp)
	if resp.Error == nil || resp.Error.Code != rpc.CodeParseError {
		t.Errorf("expected parse error, got %+v", resp)
	}
}
