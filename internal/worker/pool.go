// Package worker implements the fixed-size worker pool that drains the
// request queue and pushes formatted responses to the response queue.
package worker

import (
	"log"
	"sync"
	"time"

	"github.com/tutu-network/infergate/internal/domain"
	"github.com/tutu-network/infergate/internal/queue"
	"github.com/tutu-network/infergate/internal/rpc"
)

// Dispatcher resolves a queue item to a JSON-RPC response. Implemented by
// internal/dispatch.Dispatcher; kept as an interface here so worker does not
// import dispatch directly (dispatch depends on handlepool/native/stream,
// none of which the worker pool itself needs to know about).
type Dispatcher interface {
	Dispatch(item domain.QueueItem) *rpc.Response
}

// MetricsSink records per-method outcome and latency. Implemented by
// internal/metrics.Registry; optional (a nil sink disables observation).
type MetricsSink interface {
	ObserveInvocation(method string, ok bool, seconds float64)
}

const (
	popRetryInterval      = time.Millisecond
	responsePushRetryWait = time.Millisecond
	shutdownDrainTimeout  = 3 * time.Second
)

// Pool runs domain.WorkerCount goroutines, each executing the loop of
// pop, timeout-check, dispatch, format, push, release.
type Pool struct {
	requestQ  *queue.Ring[domain.QueueItem]
	responseQ *queue.Ring[domain.ResponseItem]
	dispatcher Dispatcher
	metrics    MetricsSink

	running atomicBool
	wg      sync.WaitGroup
}

// New constructs a worker pool bound to the given queues and dispatcher.
// Start must be called to begin processing.
func New(requestQ *queue.Ring[domain.QueueItem], responseQ *queue.Ring[domain.ResponseItem], d Dispatcher) *Pool {
	p := &Pool{requestQ: requestQ, responseQ: responseQ, dispatcher: d}
	p.running.set(true)
	return p
}

// SetMetrics wires an optional metrics sink; call before Start.
func (p *Pool) SetMetrics(m MetricsSink) { p.metrics = m }

// Start launches domain.WorkerCount worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < domain.WorkerCount; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
}

func (p *Pool) runWorker(id int) {
	defer p.wg.Done()
	for p.running.get() {
		item, ok := p.requestQ.Pop()
		if !ok {
			time.Sleep(popRetryInterval)
			continue
		}

		if p.isTimedOut(item) {
			p.pushResponse(timeoutResponse(item))
			continue
		}

		start := time.Now()
		resp := p.dispatcher.Dispatch(item)
		if p.metrics != nil {
			p.metrics.ObserveInvocation(item.Method, resp == nil || resp.Error == nil, time.Since(start).Seconds())
		}
		if resp == nil {
			// Streaming methods reply entirely via the streaming context /
			// HTTP buffer; the worker has nothing further to push.
			continue
		}
		payload, err := marshalResponse(resp)
		if err != nil {
			log.Printf("[worker %d] format response for request %d: %v", id, item.RequestID, err)
			continue
		}
		p.pushResponse(domain.ResponseItem{RequestID: item.RequestID, Payload: payload})
	}
}

func (p *Pool) isTimedOut(item domain.QueueItem) bool {
	age := time.Since(time.UnixMilli(item.EnqueueTimeMS))
	return age > domain.RequestTimeout
}

func timeoutResponse(item domain.QueueItem) domain.ResponseItem {
	resp := rpc.NewError(float64(item.RequestID), rpc.CodeInternalError, "request timed out", nil)
	payload, _ := marshalResponse(resp)
	return domain.ResponseItem{RequestID: item.RequestID, Payload: payload}
}

// pushResponse blocks with a short retry loop under backpressure, until
// the pool is shutting down.
func (p *Pool) pushResponse(item domain.ResponseItem) {
	for p.running.get() {
		if err := p.responseQ.Push(item); err == nil {
			return
		}
		time.Sleep(responsePushRetryWait)
	}
}

// Shutdown clears the running flag and waits up to 3s for workers to
// drain. Remaining queued items are simply dropped by letting the
// goroutines exit.
func (p *Pool) Shutdown() {
	p.running.set(false)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownDrainTimeout):
		log.Printf("[worker] shutdown drain timed out after %s", shutdownDrainTimeout)
	}
}
