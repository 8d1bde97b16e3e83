package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/restaurant-notify/pkg/errors"
	"github.com/jwalitptl/restaurant-notify/pkg/httputil"
	"github.com/jwalitptl/restaurant-notify/pkg/security"
)

const HeaderAPIKey = "X-API-Key"

// AuthMiddleware checks the X-API-Key header against a bcrypt hash. With an
// empty hash every request passes, which suits a loopback-only agent.
type AuthMiddleware struct {
	keyHash string
	hasher  security.KeyHasher
}

func NewAuthMiddleware(keyHash string) *AuthMiddleware {
	return &AuthMiddleware{
		keyHash: keyHash,
		// cost only matters for hashing; comparisons read it from the hash
		hasher: security.NewBcryptHasher(0),
	}
}

func (m *AuthMiddleware) Enabled() bool {
	return m.keyHash != ""
}

func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}

		key := c.GetHeader(HeaderAPIKey)
		if key == "" {
			// EventSource cannot set headers
			key = c.Query("api_key")
		}
		if key == "" {
			httputil.RespondWithError(c, &errors.AppError{Code: errors.ErrUnauthorized, Message: "missing API key"})
			return
		}

		if err := m.hasher.Compare(m.keyHash, key); err != nil {
			httputil.RespondWithError(c, errors.Unauthorized(err))
			return
		}
		c.Next()
	}
}
