package session

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/huntermatuse/crowsong/internal/errs"
	"github.com/huntermatuse/crowsong/internal/viewsapi"
	"go.uber.org/zap"
)

// apiToken attaches the credential to every call on the channel.
type apiToken struct{ token string }

func (a apiToken) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{viewsapi.TokenHeader: a.token}, nil
}

// RequireTransportSecurity is false: TLS, when used, is set up beneath gRPC.
func (a apiToken) RequireTransportSecurity() bool { return false }

// validateCredential rejects tokens that cannot travel as an ASCII header value.
func validateCredential(token string) error {
	if token == "" {
		return fmt.Errorf("%w: empty api token", errs.ErrInvalidCredential)
	}
	for i := 0; i < len(token); i++ {
		if c := token[i]; c < 0x20 || c > 0x7e {
			return fmt.Errorf("%w: api token contains non-printable byte at %d", errs.ErrInvalidCredential, i)
		}
	}
	return nil
}

// warnIfExpired logs when the token is a JWT whose exp has passed. Opaque
// tokens are not inspected; the server stays the only authority.
func warnIfExpired(log *zap.Logger, token string, now time.Time) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(now) {
		log.Warn("api token looks expired", zap.Time("exp", claims.ExpiresAt.Time))
	}
}
