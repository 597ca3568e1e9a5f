package transport

import (
	"bufio"
	"context"
	"io"
	"log"
	"sync"

	"github.com/tutu-network/infergate/internal/domain"
	"github.com/tutu-network/infergate/internal/origin"
)

// StdioAdapter implements line-delimited JSON-RPC over the process's own
// stdin/stdout. There is exactly one connection, identified by
// ClientFD 0, so SendRaw is all it ever needs.
type StdioAdapter struct {
	router *Router
	in     io.Reader
	out    io.Writer

	mu        sync.Mutex
	connected bool
}

// NewStdioAdapter builds a stdio transport over in/out (normally os.Stdin
// and os.Stdout; parameterized for testability).
func NewStdioAdapter(router *Router, in io.Reader, out io.Writer) *StdioAdapter {
	return &StdioAdapter{router: router, in: in, out: out}
}

func (a *StdioAdapter) Kind() domain.TransportKind { return domain.TransportStdio }

func (a *StdioAdapter) Init(config any) error { return nil }

func (a *StdioAdapter) Connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	return nil
}

func (a *StdioAdapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

func (a *StdioAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// SendRaw writes one line-delimited message to stdout, the bound
// connection for every streaming chunk on this transport.
func (a *StdioAdapter) SendRaw(data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, err := a.out.Write(append(data, '\n'))
	return n, err
}

// Serve reads newline-delimited JSON-RPC messages until the reader is
// exhausted or ctx is canceled, dispatching each through the router.
func (a *StdioAdapter) Serve(ctx context.Context) error {
	if err := a.Connect(); err != nil {
		return err
	}
	bind := origin.Binding{Transport: domain.TransportStdio, ClientFD: 0}
	scanner := bufio.NewScanner(a.in)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		reply := a.router.Dispatch(ctx, append([]byte(nil), line...), bind)
		if reply != nil {
			if _, err := a.SendRaw(reply); err != nil {
				log.Printf("[transport/stdio] write reply: %v", err)
			}
		}
	}
	return scanner.Err()
}

func (a *StdioAdapter) Shutdown(ctx context.Context) error { return a.Disconnect() }
