package worker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/tutu-network/infergate/internal/domain"
	"github.com/tutu-network/infergate/internal/queue"
	"github.com/tutu-network/infergate/internal/rpc"
)

type fakeDispatcher struct {
	handle func(domain.QueueItem) *rpc.Response
}

func (f *fakeDispatcher) Dispatch(item domain.QueueItem) *rpc.Response {
	return f.handle(item)
}

func newTestPool(t *testing.T, d Dispatcher) (*Pool, *queue.Ring[domain.QueueItem], *queue.Ring[domain.ResponseItem]) {
	t.Helper()
	reqQ := queue.New[domain.QueueItem](domain.QueueSize)
	respQ := queue.New[domain.ResponseItem](domain.QueueSize)
	p := New(reqQ, respQ, d)
	return p, reqQ, respQ
}

func TestPool_DispatchesAndPushesResponse(t *testing.T) {
	d := &fakeDispatcher{handle: func(item domain.QueueItem) *rpc.Response {
		return rpc.NewResult(float64(item.RequestID), map[string]any{"is_running": false})
	}}
	p, reqQ, respQ := newTestPool(t, d)
	p.Start()
	defer p.Shutdown()

	reqQ.Push(domain.QueueItem{RequestID: 1, Method: "is_running", EnqueueTimeMS: time.Now().UnixMilli()})

	var got domain.ResponseItem
	deadline := time.After(time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for response")
		default:
		}
		if item, ok := respQ.Pop(); ok {
			got = item
			break
		}
		time.Sleep(time.Millisecond)
	}
	var resp rpc.Response
	if err := json.Unmarshal(got.Payload, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error != nil {
		t.Errorf("unexpected error in response: %v", resp.Error)
	}
}

func TestPool_TimesOutStaleItems(t *testing.T) {
	called := false
	d := &fakeDispatcher{handle: func(item domain.QueueItem) *rpc.Response {
		called = true
		return rpc.NewResult(float64(item.RequestID), "should not be reached")
	}}
	p, reqQ, respQ := newTestPool(t, d)
	p.Start()
	defer p.Shutdown()

	stale := time.Now().Add(-2 * domain.RequestTimeout).UnixMilli()
	reqQ.Push(domain.QueueItem{RequestID: 42, Method: "run", EnqueueTimeMS: stale})

	deadline := time.After(time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for timeout response")
		default:
		}
		if item, ok := respQ.Pop(); ok {
			var resp rpc.Response
			if err := json.Unmarshal(item.Payload, &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.Error == nil {
				t.Fatalf("expected a timeout error response")
			}
			break
		}
		time.Sleep(time.Millisecond)
	}
	if called {
		t.Errorf("dispatcher should not be invoked for a timed-out item")
	}
}

func TestPool_ShutdownStopsWorkers(t *testing.T) {
	d := &fakeDispatcher{handle: func(item domain.QueueItem) *rpc.Response {
		return rpc.NewResult(float64(item.RequestID), "ok")
	}}
	p, _, _ := newTestPool(t, d)
	p.Start()
	p.Shutdown()
	if p.running.get() {
		t.Errorf("running flag should be cleared after Shutdown")
	}
}
