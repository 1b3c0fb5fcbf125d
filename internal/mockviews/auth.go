package mockviews

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/huntermatuse/crowsong/internal/errs"
	"github.com/huntermatuse/crowsong/internal/limiter"
	"github.com/huntermatuse/crowsong/internal/viewsapi"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Auth decides which api tokens the mock accepts. With SignKey set tokens
// must be HS256 JWTs signed with it; otherwise they must equal Token. The
// zero value accepts any non-empty token. A non-nil Limiter locks out peers
// that keep presenting bad tokens.
type Auth struct {
	Token   string
	SignKey []byte
	Limiter limiter.Limiter
}

func (a Auth) check(tok string) error {
	switch {
	case len(a.SignKey) > 0:
		var claims jwt.RegisteredClaims
		parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, errors.New("unexpected signing method")
			}
			return a.SignKey, nil
		})
		if err != nil || !parsed.Valid {
			return errs.ErrUnauthorized
		}
		v := jwt.NewValidator(jwt.WithLeeway(30 * time.Second))
		if err := v.Validate(&claims); err != nil {
			return errs.ErrUnauthorized
		}
		return nil
	case a.Token != "":
		if subtle.ConstantTimeCompare([]byte(tok), []byte(a.Token)) != 1 {
			return errs.ErrUnauthorized
		}
		return nil
	default:
		return nil
	}
}

func tokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get(viewsapi.TokenHeader) {
		if v = strings.TrimSpace(v); v != "" {
			return v, nil
		}
	}
	return "", errors.New("no api token")
}

func (a Auth) authorize(ctx context.Context) error {
	key := limiter.HashPeer(peerAddr(ctx))
	if a.Limiter != nil {
		ok, retry, err := a.Limiter.Allow(ctx, key)
		if err != nil {
			return status.Errorf(codes.Internal, "limiter: %v", err)
		}
		if !ok {
			return status.Errorf(codes.ResourceExhausted, "too many bad tokens, retry in %s", retry.Round(time.Second))
		}
	}
	tok, err := tokenFromMD(ctx)
	if err == nil {
		err = a.check(tok)
	}
	if err != nil {
		if a.Limiter != nil {
			_, _, _ = a.Limiter.Failure(ctx, key)
		}
		if tok == "" {
			return status.Error(codes.Unauthenticated, err.Error())
		}
		return status.Error(codes.Unauthenticated, "bad api token")
	}
	if a.Limiter != nil {
		_ = a.Limiter.Success(ctx, key)
	}
	return nil
}

// guarded reports whether method belongs to the views service. Health and
// reflection stay open.
func guarded(method string) bool {
	return strings.HasPrefix(method, "/"+viewsapi.ServiceName+"/")
}

// AuthUnary rejects views calls without an acceptable api token.
func AuthUnary(a Auth) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if !guarded(info.FullMethod) {
			return next(ctx, req)
		}
		if err := a.authorize(ctx); err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

// AuthStream is AuthUnary for streams.
func AuthStream(a Auth) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		if !guarded(info.FullMethod) {
			return next(srv, ss)
		}
		if err := a.authorize(ss.Context()); err != nil {
			return err
		}
		return next(srv, ss)
	}
}
