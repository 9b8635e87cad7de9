package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/fenggwsx/RoomChat/internal/chat"
	"github.com/fenggwsx/RoomChat/internal/config"
	"github.com/fenggwsx/RoomChat/internal/protocol"
)

// Header names used by HeaderAuthenticator.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"
)

// Authenticator resolves the identity behind an upgrade request.
type Authenticator interface {
	Authenticate(r *http.Request) (chat.Identity, error)
}

// New selects an authenticator according to cfg.AuthMode.
func New(cfg config.ServerConfig) (Authenticator, error) {
	switch cfg.AuthMode {
	case config.AuthModeJWT:
		return JWTAuthenticator{cfg: cfg.JWT}, nil
	case config.AuthModeHeader:
		return HeaderAuthenticator{}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.AuthMode)
	}
}

// JWTAuthenticator accepts a bearer token in the Authorization header or the
// token query parameter, for browsers that cannot set headers on websockets.
type JWTAuthenticator struct {
	cfg config.JWTConfig
}

// NewJWTAuthenticator builds a JWTAuthenticator.
func NewJWTAuthenticator(cfg config.JWTConfig) JWTAuthenticator {
	return JWTAuthenticator{cfg: cfg}
}

func (a JWTAuthenticator) Authenticate(r *http.Request) (chat.Identity, error) {
	token := bearerToken(r)
	if token == "" {
		return chat.Identity{}, fmt.Errorf("no token: %w", chat.ErrAuthenticationMissing)
	}
	claims, err := ParseToken(a.cfg, token)
	if err != nil {
		return chat.Identity{}, fmt.Errorf("%w: %v", chat.ErrAuthenticationMissing, err)
	}
	identity := chat.Identity{UserID: claims.UserID, Role: claims.Role}
	if !identity.Valid() {
		return chat.Identity{}, fmt.Errorf("token claims: %w", chat.ErrAuthenticationMissing)
	}
	return identity, nil
}

// HeaderAuthenticator trusts identity headers set by an upstream proxy that
// already authenticated the caller.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (chat.Identity, error) {
	identity := chat.Identity{
		UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)),
		Role:   protocol.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole)))),
	}
	if !identity.Valid() {
		return chat.Identity{}, fmt.Errorf("identity headers: %w", chat.ErrAuthenticationMissing)
	}
	return identity, nil
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}
