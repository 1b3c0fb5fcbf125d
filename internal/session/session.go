// Package session owns one authenticated connection to a Canary Views
// service. A Session is a grpc.ClientConnInterface: it attaches the api token
// to every call and stamps its client connection id into every request that
// carries one.
package session

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/huntermatuse/crowsong/internal/errs"
	"github.com/huntermatuse/crowsong/internal/transport"
	"github.com/huntermatuse/crowsong/internal/trust"
	"github.com/huntermatuse/crowsong/internal/viewsapi"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// State is the lifecycle position of a Session.
type State int32

const (
	Unestablished State = iota
	Active
	Released
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Released:
		return "released"
	default:
		return "unestablished"
	}
}

// Session is safe for concurrent calls. Release must happen after all
// in-flight calls have returned.
type Session struct {
	cc      *grpc.ClientConn
	log     *zap.Logger
	traceID uuid.UUID
	target  transport.Target
	cci     atomic.Int32
	state   atomic.Int32
}

var _ grpc.ClientConnInterface = (*Session)(nil)

type options struct {
	log      *zap.Logger
	policy   trust.Policy
	dial     transport.DialFunc
	dialOpts []grpc.DialOption
}

// Option configures Establish.
type Option func(*options)

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

// WithPolicy sets the trust policy for https targets. Default accepts any server.
func WithPolicy(p trust.Policy) Option { return func(o *options) { o.policy = p } }

// WithDialFunc replaces the TCP dialer.
func WithDialFunc(d transport.DialFunc) Option { return func(o *options) { o.dial = d } }

// WithDialOptions appends raw gRPC dial options.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOpts = append(o.dialOpts, opts...) }
}

// Establish connects to address, registers as app/userID and returns an
// Active session. The connection is opened exactly once; if it drops, later
// calls fail rather than reconnect.
func Establish(ctx context.Context, address, credential, app, userID string, opts ...Option) (*Session, error) {
	o := options{log: zap.NewNop(), policy: trust.AcceptAny{}}
	for _, fn := range opts {
		fn(&o)
	}

	target, err := transport.ParseTarget(address)
	if err != nil {
		return nil, err
	}
	if err := validateCredential(credential); err != nil {
		return nil, err
	}
	traceID, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("trace id: %w", err)
	}
	log := o.log.With(zap.String("session", traceID.String()), zap.Stringer("target", target))
	warnIfExpired(log, credential, time.Now())

	var copts []transport.Option
	if o.dial != nil {
		copts = append(copts, transport.WithDialFunc(o.dial))
	}
	conn, err := transport.NewConnector(o.policy, copts...).Connect(ctx, target)
	if err != nil {
		return nil, err
	}
	h := &handoff{conn: conn}

	s := &Session{log: log, traceID: traceID, target: target}
	dialOpts := append([]grpc.DialOption{
		grpc.WithContextDialer(h.dial),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(apiToken{token: credential}),
		grpc.WithDisableRetry(),
		grpc.WithIdleTimeout(0),
		grpc.WithChainUnaryInterceptor(stampUnary(s.cci.Load), logUnary(log)),
		grpc.WithChainStreamInterceptor(stampStream(s.cci.Load), logStream(log)),
	}, o.dialOpts...)

	cc, err := grpc.NewClient("passthrough:///"+target.Addr(), dialOpts...)
	if err != nil {
		h.close()
		return nil, fmt.Errorf("%w: %w", errs.ErrTransport, err)
	}
	s.cc = cc

	req := viewsapi.New("GetClientConnectionIdRequest")
	viewsapi.SetString(req, "app", app)
	viewsapi.SetString(req, "user_id", userID)
	resp := viewsapi.New("GetClientConnectionIdResponse")
	if err := cc.Invoke(ctx, viewsapi.MethodGetClientConnectionId, req, resp); err != nil {
		_ = cc.Close()
		h.close()
		return nil, fmt.Errorf("get client connection id: %w", err)
	}

	s.cci.Store(viewsapi.GetInt32(resp, "cci"))
	s.state.Store(int32(Active))
	log.Info("session established", zap.Int32("cci", s.cci.Load()), zap.String("app", app), zap.String("user", userID))
	return s, nil
}

func (s *Session) ready() error {
	if s == nil {
		return errs.ErrNotEstablished
	}
	switch State(s.state.Load()) {
	case Active:
		return nil
	case Released:
		return errs.ErrReleased
	default:
		return errs.ErrNotEstablished
	}
}

// Invoke performs a unary call. The session field of args, if any, is
// replaced with the session's id on a copy; args itself is not modified.
func (s *Session) Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.cc.Invoke(ctx, method, args, reply, opts...)
}

// NewStream opens a stream; every sent message is stamped like in Invoke.
func (s *Session) NewStream(ctx context.Context, desc *grpc.StreamDesc, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.cc.NewStream(ctx, desc, method, opts...)
}

// Release tells the service to drop the client connection id and closes the
// connection. Only the first call does anything; the session is Released
// afterwards even when the teardown call fails.
func (s *Session) Release(ctx context.Context) error {
	if s == nil {
		return errs.ErrNotEstablished
	}
	if !s.state.CompareAndSwap(int32(Active), int32(Released)) {
		return s.ready()
	}

	req := viewsapi.New("ReleaseClientConnectionIdRequest")
	resp := viewsapi.New("ReleaseClientConnectionIdResponse")
	err := s.cc.Invoke(ctx, viewsapi.MethodReleaseClientConnectionId, req, resp)
	if cerr := s.cc.Close(); cerr != nil {
		s.log.Debug("close channel", zap.Error(cerr))
	}
	if err != nil {
		s.log.Warn("release failed", zap.Int32("cci", s.ID()), zap.Error(err))
		return fmt.Errorf("release client connection id: %w", err)
	}
	s.log.Info("session released", zap.Int32("cci", s.ID()))
	return nil
}

// ID is the client connection id issued by the service, 0 before establishment.
func (s *Session) ID() int32 {
	if s == nil {
		return 0
	}
	return s.cci.Load()
}

func (s *Session) State() State {
	if s == nil {
		return Unestablished
	}
	return State(s.state.Load())
}

// TraceID correlates log lines of one session; it never leaves the process.
func (s *Session) TraceID() uuid.UUID { return s.traceID }

func (s *Session) Target() transport.Target { return s.target }

// handoff gives the pre-established stream to gRPC once. Any further dial,
// i.e. a reconnect attempt, fails.
type handoff struct {
	mu   sync.Mutex
	conn net.Conn
}

func (h *handoff) dial(context.Context, string) (net.Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		return nil, errs.ErrConnectionLost
	}
	c := h.conn
	h.conn = nil
	return c, nil
}

func (h *handoff) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != nil {
		_ = h.conn.Close()
		h.conn = nil
	}
}
