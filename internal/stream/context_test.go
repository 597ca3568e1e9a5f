package stream

import (
	"context"
	"testing"

	"github.com/tutu-network/infergate/internal/domain"
	"github.com/tutu-network/infergate/internal/rpc"
)

type recordingSender struct {
	chunks []*rpc.Response
}

func (r *recordingSender) SendStreamChunk(ctx context.Context, sc domain.StreamingContext, resp *rpc.Response) error {
	r.chunks = append(r.chunks, resp)
	return nil
}

func TestManager_InstallRejectsSecondWhileActive(t *testing.T) {
	m := NewManager()
	if err := m.Install(domain.StreamingContext{HandleID: 1, RequestID: float64(1)}); err != nil {
		t.Fatalf("first install: %v", err)
	}
	if err := m.Install(domain.StreamingContext{HandleID: 2, RequestID: float64(2)}); err != domain.ErrStreamAlreadyActive {
		t.Errorf("second install = %v, want ErrStreamAlreadyActive", err)
	}
}

func TestManager_EmitIncrementsSeqAndFinishClears(t *testing.T) {
	m := NewManager()
	sender := &recordingSender{}
	m.SetSender(sender)
	m.Install(domain.StreamingContext{HandleID: 1, RequestID: float64(7)})

	m.Emit(context.Background(), "hello")
	m.Emit(context.Background(), "world")
	m.Finish(context.Background())

	if len(sender.chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(sender.chunks))
	}
	for i, resp := range sender.chunks {
		chunk := resp.Result.(map[string]any)["chunk"].(rpc.StreamChunk)
		if chunk.Seq != uint32(i) {
			t.Errorf("chunk %d seq = %d, want %d", i, chunk.Seq, i)
		}
	}
	if _, active := m.Current(); active {
		t.Errorf("context should be cleared after Finish")
	}
}

func TestManager_EmitDropsSilentlyWhenNoneInstalled(t *testing.T) {
	m := NewManager()
	sender := &recordingSender{}
	m.SetSender(sender)
	m.Emit(context.Background(), "orphaned")
	if len(sender.chunks) != 0 {
		t.Errorf("expected chunk to be dropped, got %d sent", len(sender.chunks))
	}
}

func TestManager_ForHandle(t *testing.T) {
	m := NewManager()
	m.Install(domain.StreamingContext{HandleID: 5, RequestID: float64(1)})
	if _, ok := m.ForHandle(5); !ok {
		t.Errorf("expected active context for handle 5")
	}
	if _, ok := m.ForHandle(6); ok {
		t.Errorf("handle 6 should not have an active context")
	}
}
