// Package transport implements the five wire adapters
// and the transport manager that dispatches streaming chunks to whichever
// one is bound to a given streaming context.
package transport

import (
	"context"

	"github.com/tutu-network/infergate/internal/domain"
)

// Adapter is the uniform contract every transport implements.
// Socket accept loops, HTTP parsing, and WebSocket framing are each
// transport's own concern; this interface is only the seam the manager
// and recovery supervisor need.
type Adapter interface {
	Kind() domain.TransportKind
	Init(config any) error
	Connect() error
	Disconnect() error
	IsConnected() bool
	Shutdown(ctx context.Context) error

	// SendRaw writes bytes to the single bound connection of a
	// point-to-point transport (stdio); push-capable transports that
	// multiplex many connections (TCP/UDP/WebSocket) instead resolve the
	// target connection from clientFD via SendTo.
	SendRaw(data []byte) (int, error)
}

// PushTarget is implemented by transports that can address an individual
// connection out of several (TCP/UDP/WebSocket); the point-to-point stdio
// transport only ever has one connection and uses SendRaw directly.
type PushTarget interface {
	SendTo(clientFD int, data []byte) error
}
