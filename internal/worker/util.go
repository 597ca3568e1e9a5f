package worker

import (
	"encoding/json"
	"sync/atomic"

	"github.com/tutu-network/infergate/internal/rpc"
)

// atomicBool is a tiny wrapper used for the pool's running flag; workers
// read it every loop iteration without taking a lock.
type atomicBool struct{ v atomic.Bool }

func (a *atomicBool) set(b bool) { a.v.Store(b) }
func (a *atomicBool) get() bool  { return a.v.Load() }

func marshalResponse(resp *rpc.Response) ([]byte, error) {
	return json.Marshal(resp)
}
