package mockviews

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1 << 20

// Harness is a mock server listening in memory.
type Harness struct {
	Server *Server
	GRPC   *grpc.Server
	lis    *bufconn.Listener
}

// ServeInMemory starts s on an in-memory listener. opts may add transport
// credentials to serve TLS.
func ServeInMemory(s *Server, auth Auth, opts ...grpc.ServerOption) *Harness {
	lis := bufconn.Listen(bufSize)
	gs := NewGRPCServer(s, auth, opts...)
	go func() { _ = gs.Serve(lis) }()
	return &Harness{Server: s, GRPC: gs, lis: lis}
}

// Dial opens a new in-memory connection, ignoring the address. Its signature
// matches net.Dialer.DialContext.
func (h *Harness) Dial(ctx context.Context, _, _ string) (net.Conn, error) {
	return h.lis.DialContext(ctx)
}

// Stop ends live streams and stops the server.
func (h *Harness) Stop() {
	h.Server.Close()
	h.GRPC.Stop()
	_ = h.lis.Close()
}
