// Package gatekeeping verifies user identities of connecting clients.
package gatekeeping

import (
	"context"
	"encoding/json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lefinal/flipmatch/errors"
	"github.com/lefinal/flipmatch/store"
	"go.uber.org/zap"
	"net/http"
	"strings"
	"time"
)

// DefaultTokenCookie is the default name of the cookie holding the token.
const DefaultTokenCookie = "token"

// DefaultTokenTTL is the default lifetime of issued tokens.
const DefaultTokenTTL = 90 * 24 * time.Hour

// UserStore resolves verified user ids to users.
type UserStore interface {
	// UserByID retrieves the store.User with the given id.
	UserByID(ctx context.Context, userID store.UserID) (store.User, error)
}

// Claims are the claims of identity tokens.
type Claims struct {
	jwt.RegisteredClaims
	// LegacyID is the numeric user id used by older tokens instead of the
	// subject.
	LegacyID *json.Number `json:"id,omitempty"`
}

// userID returns the subject or the legacy id if no subject is set.
func (c Claims) userID() store.UserID {
	if c.Subject != "" {
		return store.UserID(c.Subject)
	}
	if c.LegacyID != nil {
		return store.UserID(c.LegacyID.String())
	}
	return ""
}

// Config is the configuration for the Gatekeeper.
type Config struct {
	// Secret is the HMAC secret for signing tokens.
	Secret []byte
	// TokenCookie is the name of the cookie holding the token. Defaults to
	// DefaultTokenCookie.
	TokenCookie string
}

// Gatekeeper is the identity provider. It verifies HS256-signed tokens.
type Gatekeeper struct {
	logger    *zap.Logger
	userStore UserStore
	config    Config
}

// NewGatekeeper creates a new Gatekeeper.
func NewGatekeeper(logger *zap.Logger, userStore UserStore, config Config) *Gatekeeper {
	if config.TokenCookie == "" {
		config.TokenCookie = DefaultTokenCookie
	}
	return &Gatekeeper{
		logger:    logger,
		userStore: userStore,
		config:    config,
	}
}

// Verify verifies the given token and returns the associated store.User. Any
// failure results in an errors.ErrUnauthorized error.
func (g *Gatekeeper) Verify(ctx context.Context, token string) (store.User, error) {
	if token == "" {
		return store.User{}, errors.NewUnauthorizedError(errors.KindMissingToken, nil, "missing token")
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(_ *jwt.Token) (interface{}, error) {
		return g.config.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return store.User{}, errors.NewUnauthorizedError(errors.KindInvalidToken, err, "invalid token")
	}
	userID := claims.userID()
	if userID == "" {
		return store.User{}, errors.NewUnauthorizedError(errors.KindInvalidToken, nil, "token without user id")
	}
	user, err := g.userStore.UserByID(ctx, userID)
	if err != nil {
		if !errors.HasCode(err, errors.ErrNotFound) {
			errors.Log(g.logger, errors.Wrap(err, "retrieve user for token", errors.Details{"user_id": userID}))
		}
		return store.User{}, errors.NewUnauthorizedError(errors.KindInvalidToken, err, "unknown user")
	}
	return user, nil
}

// Authenticate extracts the token from the cookie or the bearer authorization
// header of the given request and verifies it.
func (g *Gatekeeper) Authenticate(r *http.Request) (store.User, error) {
	return g.Verify(r.Context(), g.tokenFromRequest(r))
}

func (g *Gatekeeper) tokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(g.config.TokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	authorization := r.Header.Get("Authorization")
	const bearerPrefix = "Bearer "
	if len(authorization) > len(bearerPrefix) && strings.EqualFold(authorization[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(authorization[len(bearerPrefix):])
	}
	return ""
}

// IssueToken issues a new token for the user with the given id that expires
// after the given duration. If the duration is not positive, DefaultTokenTTL
// is used.
func (g *Gatekeeper) IssueToken(userID store.UserID, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(g.config.Secret)
	if err != nil {
		return "", errors.NewInternalErrorFromErr(err, "sign token", errors.Details{"user_id": userID})
	}
	return signed, nil
}
