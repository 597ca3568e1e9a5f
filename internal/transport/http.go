package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/tutu-network/infergate/internal/domain"
	"github.com/tutu-network/infergate/internal/httpbuffer"
	"github.com/tutu-network/infergate/internal/origin"
	"github.com/tutu-network/infergate/internal/rpc"
)

const maxHTTPBodyBytes = 1 << 20 // 1 MiB

// HTTPAdapter is the poll-based transport: JSON-RPC
// requests arrive as POST bodies, and streaming output is retrieved via
// stream.poll rather than pushed, since the connection does not stay open.
type HTTPAdapter struct {
	router *Router
	http   *httpbuffer.Manager

	mux    *chi.Mux
	server *http.Server

	mu     sync.Mutex
	statuses map[string]string // request-id -> queued|processing|completed|error, for npu_status
}

// HTTPConfig names the address to listen on and whether to mount /metrics.
type HTTPConfig struct {
	Addr            string
	EnableMetrics   bool
	MetricsHandler  http.Handler
}

// NewHTTPAdapter builds the HTTP transport's router; Init binds the
// listener.
func NewHTTPAdapter(router *Router, httpBuf *httpbuffer.Manager) *HTTPAdapter {
	a := &HTTPAdapter{router: router, http: httpBuf, statuses: make(map[string]string)}
	a.mux = chi.NewRouter()
	a.mux.Use(middleware.RequestID)
	a.mux.Use(middleware.RealIP)
	a.mux.Use(middleware.Recoverer)
	a.mux.Use(middleware.Timeout(60 * time.Second))
	a.mux.Get("/health", a.handleHealth)
	a.mux.Post("/", a.handleRPC)
	a.mux.Get("/stream/poll", a.handlePoll)
	a.mux.Get("/npu_status", a.handleNPUStatus)
	return a
}

func (a *HTTPAdapter) Kind() domain.TransportKind { return domain.TransportHTTP }

func (a *HTTPAdapter) Init(config any) error {
	cfg, _ := config.(HTTPConfig)
	if cfg.EnableMetrics && cfg.MetricsHandler != nil {
		a.mux.Handle("/metrics", cfg.MetricsHandler)
	}
	a.server = &http.Server{Addr: cfg.Addr, Handler: a.mux}
	return nil
}

func (a *HTTPAdapter) Connect() error    { return nil }
func (a *HTTPAdapter) Disconnect() error { return nil }
func (a *HTTPAdapter) IsConnected() bool { return a.server != nil }

func (a *HTTPAdapter) SendRaw(data []byte) (int, error) { return 0, nil }

// Serve blocks running the HTTP server until it is shut down.
func (a *HTTPAdapter) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- a.server.ListenAndServe() }()
	select {
	case <-ctx.Done():
		return a.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (a *HTTPAdapter) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return a.server.Shutdown(shutdownCtx)
}

func (a *HTTPAdapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *HTTPAdapter) handleRPC(w http.ResponseWriter, r *http.Request) {
	// Mcp-Session-Id-style opaque correlation id, independent of the
	// JSON-RPC request id, for clients and proxies that need to tie a POST
	// to the stream.poll calls that follow it without parsing the body.
	w.Header().Set("X-Infergate-Session-Id", uuid.NewString())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxHTTPBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, rpc.NewParseError(err.Error()))
		return
	}
	bind := origin.Binding{Transport: domain.TransportHTTP, ClientFD: 0}
	reply := a.router.Dispatch(r.Context(), body, bind)
	if reply == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(reply)
}

// handlePoll implements stream.poll as a plain HTTP endpoint
// (GET /stream/poll?id=...) that reads the buffer directly, bypassing the
// request queue. A JSON-RPC request for method "stream.poll" posted to
// handleRPC goes to the dispatcher, which has no such method and answers
// Method not found.
func (a *HTTPAdapter) handlePoll(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("id")
	if requestID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "missing id"})
		return
	}
	text, completed, err := a.http.Poll(requestID, false)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "waiting"})
		return
	}
	if text == "" && !completed {
		writeJSON(w, http.StatusOK, map[string]string{"status": "waiting"})
		return
	}
	status := "data_available"
	if completed {
		status = "completed"
	}
	raw := json.RawMessage("[" + text + "]")
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "chunks": raw})
}

func (a *HTTPAdapter) handleNPUStatus(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("id")
	a.mu.Lock()
	status, ok := a.statuses[requestID]
	a.mu.Unlock()
	if !ok {
		status = "queued"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// SetStatus records a request's npu_status. Manager.appendToHTTPBuffer
// calls it with processing/completed/error as HTTP streaming chunks are
// buffered; an id with no recorded status reads as queued.
func (a *HTTPAdapter) SetStatus(requestID, status string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statuses[requestID] = status
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
