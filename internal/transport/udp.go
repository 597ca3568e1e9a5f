package transport

import (
	"context"
	"log"
	"net"
	"sync"

	"github.com/tutu-network/infergate/internal/domain"
	"github.com/tutu-network/infergate/internal/origin"
)

// UDPAdapter is datagram-based: one request per packet, no persistent
// connection. ClientFD encodes the remote address so a stream chunk can be
// sent back to the right peer even though UDP itself is connectionless.
type UDPAdapter struct {
	router *Router
	conn   *net.UDPConn

	mu        sync.Mutex
	nextPeer  int
	peers     map[int]*net.UDPAddr
	connected bool
}

func NewUDPAdapter(router *Router) *UDPAdapter {
	return &UDPAdapter{router: router, peers: make(map[int]*net.UDPAddr)}
}

func (a *UDPAdapter) Kind() domain.TransportKind { return domain.TransportUDP }

// UDPConfig names the address to bind, e.g. "127.0.0.1:7302".
type UDPConfig struct{ Addr string }

func (a *UDPAdapter) Init(config any) error {
	cfg, _ := config.(UDPConfig)
	addr, err := net.ResolveUDPAddr("udp", cfg.Addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	a.conn = conn
	return nil
}

func (a *UDPAdapter) Connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	return nil
}

func (a *UDPAdapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

func (a *UDPAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *UDPAdapter) SendRaw(data []byte) (int, error) { return 0, nil }

// SendTo writes a streaming chunk as a new datagram to the peer address
// recorded under clientFD.
func (a *UDPAdapter) SendTo(clientFD int, data []byte) error {
	a.mu.Lock()
	addr, ok := a.peers[clientFD]
	a.mu.Unlock()
	if !ok {
		return nil
	}
	_, err := a.conn.WriteToUDP(data, addr)
	return err
}

func (a *UDPAdapter) peerID(addr *net.UDPAddr) int {
	key := addr.String()
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, existing := range a.peers {
		if existing.String() == key {
			return id
		}
	}
	id := a.nextPeer
	a.nextPeer++
	a.peers[id] = addr
	return id
}

// Serve reads datagrams until ctx is canceled; each datagram is a complete
// JSON-RPC message (no line-delimiting needed — UDP preserves boundaries).
func (a *UDPAdapter) Serve(ctx context.Context) error {
	if err := a.Connect(); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		a.conn.Close()
	}()
	buf := make([]byte, 64*1024)
	for {
		n, peer, err := a.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		if n == 0 {
			continue
		}
		msg := append([]byte(nil), buf[:n]...)
		fd := a.peerID(peer)
		bind := origin.Binding{Transport: domain.TransportUDP, ClientFD: fd}
		go func() {
			reply := a.router.Dispatch(ctx, msg, bind)
			if reply != nil {
				if err := a.SendTo(fd, reply); err != nil {
					log.Printf("[transport/udp] write reply to %s: %v", peer, err)
				}
			}
		}()
	}
}

func (a *UDPAdapter) Shutdown(ctx context.Context) error { return a.Disconnect() }
