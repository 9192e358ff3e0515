package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"schoolhub/pkg/types"
)

// CookieName is the cookie the web application stores its session token in.
const CookieName = "auth_token"

// Claims is the token body: the identity plus the registered claims (exp is mandatory).
type Claims struct {
	UserID string     `json:"userId"`
	Role   types.Role `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 tokens signed with the shared secret
// ARCHITECTURAL DISCOVERY: Identity is resolved exactly once per connection,
// so the authenticator is stateless and safe for concurrent use
type Authenticator struct {
	secret []byte
	leeway time.Duration
	now    func() time.Time
}

// Option customises an Authenticator.
type Option func(*Authenticator)

// WithLeeway tolerates small clock skew on exp.
func WithLeeway(d time.Duration) Option {
	return func(a *Authenticator) { a.leeway = d }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

// NewAuthenticator creates an authenticator for the given shared secret
func NewAuthenticator(secret string, opts ...Option) (*Authenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	a := &Authenticator{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Authenticate validates a credential and returns the identity it carries.
// Every failure wraps ErrAuthentication; anonymous access is never granted.
func (a *Authenticator) Authenticate(token string) (types.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return types.Identity{}, ErrTokenRequired
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		// TECHNICAL DISCOVERY: Pinning the method blocks alg=none and RS/HS confusion
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.leeway),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return types.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	identity := types.Identity{UserID: claims.UserID, Role: claims.Role}
	if err := identity.Validate(); err != nil {
		return types.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return identity, nil
}

// Issue signs a token for identity valid for ttl.
func (a *Authenticator) Issue(identity types.Identity, ttl time.Duration) (string, error) {
	if err := identity.Validate(); err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive, got %s", ttl)
	}

	now := a.now()
	claims := Claims{
		UserID: identity.UserID,
		Role:   identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// TokenFromRequest extracts the credential from, in order, the token query
// parameter, an Authorization bearer header and the auth_token cookie.
func TokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}

	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}

	if cookie, err := r.Cookie(CookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

// AuthenticateRequest combines TokenFromRequest and Authenticate.
func (a *Authenticator) AuthenticateRequest(r *http.Request) (types.Identity, error) {
	return a.Authenticate(TokenFromRequest(r))
}
