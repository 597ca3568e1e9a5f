package transport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/tutu-network/infergate/internal/domain"
	"github.com/tutu-network/infergate/internal/httpbuffer"
	"github.com/tutu-network/infergate/internal/origin"
	"github.com/tutu-network/infergate/internal/queue"
	"github.com/tutu-network/infergate/internal/rpc"
)

func npuStatus(t *testing.T, a *HTTPAdapter, requestID string) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/npu_status?id="+requestID, nil)
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)

	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode npu_status response: %v", err)
	}
	return body.Status
}

func TestManager_SendStreamChunk_HTTPTracksNPUStatus(t *testing.T) {
	reqQ := queue.New[domain.QueueItem](domain.QueueSize)
	respQ := queue.New[domain.ResponseItem](domain.QueueSize)
	router := NewRouter(reqQ, respQ, origin.NewRegistry())
	httpBuf := httpbuffer.NewManager()

	m := NewManager(httpBuf)
	httpAdapter := NewHTTPAdapter(router, httpBuf)
	m.Register(httpAdapter)

	sc := domain.StreamingContext{Transport: domain.TransportHTTP, RequestID: float64(42)}

	mid := rpc.NewChunkResponse(sc.RequestID, rpc.StreamChunk{Seq: 0, Delta: "hel"})
	if err := m.SendStreamChunk(context.Background(), sc, mid); err != nil {
		t.Fatalf("SendStreamChunk (mid): %v", err)
	}
	if got := npuStatus(t, httpAdapter, "42"); got != "processing" {
		t.Errorf("npu_status after mid-chunk = %q, want %q", got, "processing")
	}

	final := rpc.NewChunkResponse(sc.RequestID, rpc.StreamChunk{Seq: 1, Delta: "lo", End: true})
	if err := m.SendStreamChunk(context.Background(), sc, final); err != nil {
		t.Fatalf("SendStreamChunk (final): %v", err)
	}
	if got := npuStatus(t, httpAdapter, "42"); got != "completed" {
		t.Errorf("npu_status after final chunk = %q, want %q", got, "completed")
	}

	text, completed, err := httpBuf.Poll("42", false)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !completed {
		t.Error("expected buffer to be marked completed")
	}
	if text == "" {
		t.Error("expected accumulated chunk text")
	}
}

func TestManager_SendStreamChunk_UnregisteredTransportDropsSilently(t *testing.T) {
	m := NewManager(httpbuffer.NewManager())
	sc := domain.StreamingContext{Transport: domain.TransportTCP, ClientFD: 7}
	resp := rpc.NewChunkResponse(float64(1), rpc.StreamChunk{Seq: 0, Delta: "x"})
	if err := m.SendStreamChunk(context.Background(), sc, resp); err != nil {
		t.Errorf("expected nil error for an unregistered transport, got %v", err)
	}
}
