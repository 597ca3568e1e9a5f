package transport

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tutu-network/infergate/internal/domain"
	"github.com/tutu-network/infergate/internal/origin"
)

// WebSocketAdapter is push-capable like TCP/UDP/stdio: once upgraded, the
// connection stays open and stream chunks are written to it directly,
// rather than accumulated for polling.
type WebSocketAdapter struct {
	router   *Router
	upgrader websocket.Upgrader
	server   *http.Server

	mu        sync.Mutex
	nextConn  int
	conns     map[int]*websocket.Conn
	connected bool
}

// WebSocketConfig names the address to listen on and the upgrade path.
type WebSocketConfig struct {
	Addr string
	Path string
}

func NewWebSocketAdapter(router *Router) *WebSocketAdapter {
	return &WebSocketAdapter{
		router:   router,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		conns:    make(map[int]*websocket.Conn),
	}
}

func (a *WebSocketAdapter) Kind() domain.TransportKind { return domain.TransportWebSocket }

func (a *WebSocketAdapter) Init(config any) error {
	cfg, _ := config.(WebSocketConfig)
	path := cfg.Path
	if path == "" {
		path = "/ws"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, a.handleUpgrade)
	a.server = &http.Server{Addr: cfg.Addr, Handler: mux}
	return nil
}

func (a *WebSocketAdapter) Connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	return nil
}

func (a *WebSocketAdapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

func (a *WebSocketAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *WebSocketAdapter) SendRaw(data []byte) (int, error) { return 0, nil }

// SendTo writes a streaming chunk as a single text frame to the connection
// identified by clientFD.
func (a *WebSocketAdapter) SendTo(clientFD int, data []byte) error {
	a.mu.Lock()
	conn, ok := a.conns[clientFD]
	a.mu.Unlock()
	if !ok {
		return nil
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (a *WebSocketAdapter) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[transport/websocket] upgrade: %v", err)
		return
	}
	a.mu.Lock()
	fd := a.nextConn
	a.nextConn++
	a.conns[fd] = conn
	a.mu.Unlock()

	defer func() {
		conn.Close()
		a.mu.Lock()
		delete(a.conns, fd)
		a.mu.Unlock()
	}()

	bind := origin.Binding{Transport: domain.TransportWebSocket, ClientFD: fd}
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		reply := a.router.Dispatch(r.Context(), msg, bind)
		if reply != nil {
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				log.Printf("[transport/websocket] write reply to fd %d: %v", fd, err)
				return
			}
		}
	}
}

func (a *WebSocketAdapter) Serve(ctx context.Context) error {
	if err := a.Connect(); err != nil {
		return err
	}
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

func (a *WebSocketAdapter) Shutdown(ctx context.Context) error {
	a.Disconnect()
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}
