package session

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/huntermatuse/crowsong/internal/certs"
	"github.com/huntermatuse/crowsong/internal/errs"
	"github.com/huntermatuse/crowsong/internal/mockviews"
	"github.com/huntermatuse/crowsong/internal/trust"
	"github.com/huntermatuse/crowsong/internal/viewsapi"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
)

const testToken = "test-api-token"

func startMock(t *testing.T, opts ...grpc.ServerOption) *mockviews.Harness {
	t.Helper()
	srv := mockviews.New(mockviews.DemoCatalog(), zaptest.NewLogger(t))
	h := mockviews.ServeInMemory(srv, mockviews.Auth{Token: testToken}, opts...)
	t.Cleanup(h.Stop)
	return h
}

func establish(t *testing.T, h *mockviews.Harness, address string, opts ...Option) *Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	opts = append([]Option{WithDialFunc(h.Dial), WithLogger(zaptest.NewLogger(t))}, opts...)
	s, err := Establish(ctx, address, testToken, "crowsong", "tester", opts...)
	require.NoError(t, err)
	return s
}

func getViews(ctx context.Context, s *Session, cci int32) error {
	req := viewsapi.New("GetViewsRequest")
	viewsapi.SetInt32(req, viewsapi.SessionField, cci)
	return s.Invoke(ctx, viewsapi.MethodGetViews, req, viewsapi.New("GetViewsResponse"))
}

func TestEstablish_Plaintext(t *testing.T) {
	t.Parallel()

	h := startMock(t)
	s := establish(t, h, "http://views.local:55321")

	require.Equal(t, Active, s.State())
	require.Equal(t, int32(1), s.ID())
	require.Equal(t, "http://views.local:55321", s.Target().String())
	require.False(t, s.TraceID().IsNil())

	clients := h.Server.Clients()
	require.Equal(t, mockviews.Client{App: "crowsong", UserID: "tester"}, clients[s.ID()])

	calls := h.Server.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, viewsapi.MethodGetClientConnectionId, calls[0].Method)
	require.Equal(t, testToken, calls[0].Token)
}

type countingPolicy struct {
	trust.AcceptAny
	calls atomic.Int32
}

func (c *countingPolicy) VerifyServerCert([]*x509.Certificate, string, time.Time) error {
	c.calls.Add(1)
	return nil
}

func TestEstablish_TLS(t *testing.T) {
	t.Parallel()

	cert, _, err := certs.SelfSigned("views.local")
	require.NoError(t, err)
	h := startMock(t, grpc.Creds(credentials.NewTLS(&tls.Config{Certificates: []tls.Certificate{cert}})))

	p := &countingPolicy{}
	s := establish(t, h, "https://views.local:55321", WithPolicy(p))
	require.EqualValues(t, 1, p.calls.Load())

	ctx := context.Background()
	require.NoError(t, getViews(ctx, s, 0))
	require.NoError(t, s.Release(ctx))
	require.EqualValues(t, 1, p.calls.Load())
}

func TestEstablish_TLSRejectedByPolicy(t *testing.T) {
	t.Parallel()

	cert, _, err := certs.SelfSigned("views.local")
	require.NoError(t, err)
	other, err := certs.NewAuthority("other")
	require.NoError(t, err)
	h := startMock(t, grpc.Creds(credentials.NewTLS(&tls.Config{Certificates: []tls.Certificate{cert}})))

	_, err = Establish(context.Background(), "https://views.local", testToken, "a", "u",
		WithDialFunc(h.Dial), WithPolicy(trust.NewRoots(other.Pool())))
	require.ErrorIs(t, err, errs.ErrHandshake)
	require.Empty(t, h.Server.Calls())
}

func TestInvoke_StampsSessionID(t *testing.T) {
	t.Parallel()

	h := startMock(t)
	// Register a second client first so the session id is not the default.
	_ = establish(t, h, "http://views.local")
	s := establish(t, h, "http://views.local")
	require.Equal(t, int32(2), s.ID())

	req := viewsapi.New("GetTagListRequest")
	viewsapi.SetString(req, "view", "Localhost")
	viewsapi.SetString(req, "dataset_name", "Plant")
	viewsapi.SetInt32(req, viewsapi.SessionField, 1)
	require.NoError(t, s.Invoke(context.Background(), viewsapi.MethodGetTagList, req, viewsapi.New("GetTagListResponse")))

	// The caller's request is untouched.
	require.Equal(t, int32(1), viewsapi.GetInt32(req, viewsapi.SessionField))

	calls := h.Server.Calls()
	last := calls[len(calls)-1]
	got, ok := viewsapi.Session(last.Request)
	require.True(t, ok)
	require.Equal(t, s.ID(), got)
	for _, c := range calls {
		require.Equal(t, testToken, c.Token, c.Method)
	}
}

func TestInvoke_ForeignIDNeverReachesServer(t *testing.T) {
	t.Parallel()

	h := startMock(t)
	s := establish(t, h, "http://views.local")
	ctx := context.Background()

	// 999 is not registered; without stamping the mock would answer NotFound.
	for _, forged := range []int32{0, -1, 999} {
		require.NoError(t, getViews(ctx, s, forged))
	}
}

func TestNewStream_StampsSessionID(t *testing.T) {
	t.Parallel()

	h := startMock(t)
	s := establish(t, h, "http://views.local")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cs, err := s.NewStream(ctx, viewsapi.SubscribeStreamDesc, viewsapi.MethodSubscribeToLiveData)
	require.NoError(t, err)
	req := viewsapi.New("SubscribeToLiveDataRequest")
	viewsapi.SetString(req, "view", "Localhost")
	viewsapi.AppendStrings(req, "tag_names", "Plant.Mode")
	viewsapi.SetInt32(req, viewsapi.SessionField, 42)
	require.NoError(t, cs.SendMsg(req))
	require.NoError(t, cs.CloseSend())

	resp := viewsapi.New("SubscribeToLiveDataResponse")
	require.NoError(t, cs.RecvMsg(resp))
	require.Equal(t, "Plant.Mode", viewsapi.GetString(resp, "tag_name"))

	calls := h.Server.Calls()
	got, _ := viewsapi.Session(calls[len(calls)-1].Request)
	require.Equal(t, s.ID(), got)
}

func TestRelease_TerminalState(t *testing.T) {
	t.Parallel()

	h := startMock(t)
	s := establish(t, h, "http://views.local")
	ctx := context.Background()

	require.NoError(t, s.Release(ctx))
	require.Equal(t, Released, s.State())
	require.Empty(t, h.Server.Clients())

	before := len(h.Server.Calls())
	err := getViews(ctx, s, 0)
	require.ErrorIs(t, err, errs.ErrReleased)
	_, isStatus := status.FromError(err)
	require.False(t, isStatus, "post-release failure must not look like a remote error")

	_, err = s.NewStream(ctx, viewsapi.SubscribeStreamDesc, viewsapi.MethodSubscribeToLiveData)
	require.ErrorIs(t, err, errs.ErrReleased)
	require.ErrorIs(t, s.Release(ctx), errs.ErrReleased)
	require.Len(t, h.Server.Calls(), before)
}

func TestRelease_Concurrent(t *testing.T) {
	t.Parallel()

	h := startMock(t)
	s := establish(t, h, "http://views.local")

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Release(context.Background()) == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, ok.Load())

	releases := 0
	for _, c := range h.Server.Calls() {
		if c.Method == viewsapi.MethodReleaseClientConnectionId {
			releases++
		}
	}
	require.Equal(t, 1, releases)
}

func TestUnestablished(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var nilSession *Session
	require.ErrorIs(t, getViews(ctx, nilSession, 0), errs.ErrNotEstablished)
	require.ErrorIs(t, nilSession.Release(ctx), errs.ErrNotEstablished)
	require.Equal(t, Unestablished, nilSession.State())
	require.Zero(t, nilSession.ID())

	var zero Session
	require.ErrorIs(t, getViews(ctx, &zero, 0), errs.ErrNotEstablished)
	require.ErrorIs(t, zero.Release(ctx), errs.ErrNotEstablished)
}

func TestInvoke_ConcurrentCalls(t *testing.T) {
	t.Parallel()

	h := startMock(t)
	s := establish(t, h, "http://views.local")

	var wg sync.WaitGroup
	errCh := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errCh <- getViews(context.Background(), s, int32(i))
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}
}

func TestEstablish_BadToken(t *testing.T) {
	t.Parallel()

	h := startMock(t)
	_, err := Establish(context.Background(), "http://views.local", "wrong", "a", "u", WithDialFunc(h.Dial))
	require.Error(t, err)
	require.Equal(t, codes.Unauthenticated, status.Code(err))
	require.Empty(t, h.Server.Clients())
}

func TestEstablish_InputErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, err := Establish(ctx, "views.local:55321", testToken, "a", "u")
	require.ErrorIs(t, err, errs.ErrInvalidTarget)

	_, err = Establish(ctx, "http://views.local", "", "a", "u")
	require.ErrorIs(t, err, errs.ErrInvalidCredential)

	_, err = Establish(ctx, "http://views.local", "tok\nen", "a", "u")
	require.ErrorIs(t, err, errs.ErrInvalidCredential)

	refused := errors.New("connection refused")
	_, err = Establish(ctx, "http://views.local", testToken, "a", "u",
		WithDialFunc(func(context.Context, string, string) (net.Conn, error) { return nil, refused }))
	require.ErrorIs(t, err, errs.ErrTransport)
	require.ErrorIs(t, err, refused)
}

func TestConnectionLost_NoReconnect(t *testing.T) {
	t.Parallel()

	h := startMock(t)
	var dials atomic.Int32
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		dials.Add(1)
		return h.Dial(ctx, network, addr)
	}
	s := establish(t, h, "http://views.local", WithDialFunc(dial))
	require.EqualValues(t, 1, dials.Load())

	h.GRPC.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := getViews(ctx, s, 0)
	require.Error(t, err)
	require.Equal(t, codes.Unavailable, status.Code(err))
	require.EqualValues(t, 1, dials.Load())
}

func TestEstablish_WarnsOnExpiredJWT(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)

	srv := mockviews.New(mockviews.DemoCatalog(), zaptest.NewLogger(t))
	h := mockviews.ServeInMemory(srv, mockviews.Auth{Token: tok})
	t.Cleanup(h.Stop)

	s, err := Establish(context.Background(), "http://views.local", tok, "a", "u",
		WithDialFunc(h.Dial), WithLogger(zap.New(core)))
	require.NoError(t, err)
	defer s.Release(context.Background())

	require.Equal(t, 1, logs.FilterMessage("api token looks expired").Len())
}
