package channel

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials supply the token attached to the push endpoint. An empty
// token is valid; the channel then connects without one. Credentials that
// also implement Invalidate are told when the server rejects their token.
type Credentials interface {
	Token(ctx context.Context) (string, error)
}

// CredentialProvider adapts a plain function to Credentials.
type CredentialProvider func(ctx context.Context) (string, error)

func (p CredentialProvider) Token(ctx context.Context) (string, error) {
	return p(ctx)
}

// TokenCache reuses JWT credentials until shortly before they expire.
// Opaque tokens carry no expiry and are fetched again on every call.
type TokenCache struct {
	provider CredentialProvider
	skew     time.Duration
	now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewTokenCache(provider CredentialProvider, skew time.Duration) *TokenCache {
	return &TokenCache{
		provider: provider,
		skew:     skew,
		now:      time.Now,
	}
}

func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expires) {
		return c.token, nil
	}

	token, err := c.provider(ctx)
	if err != nil {
		return "", err
	}

	c.token = ""
	if exp, ok := tokenExpiry(token); ok {
		c.token = token
		c.expires = exp.Add(-c.skew)
	}
	return token, nil
}

// Invalidate forgets the cached token. The channel calls it when a handshake
// is refused with 401 or 403.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// tokenExpiry reads exp without verifying the signature. The agent never
// holds the signing key; it only needs to know when to ask again.
func tokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
