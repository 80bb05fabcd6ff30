package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-overlay-backend/internal/sse"
)

// adminBroadcasterKey holds the broadcaster a validated admin token was
// minted for, set by RequireAdminToken and checked against the request body
// by the mutation handlers.
const adminBroadcasterKey = "admin_broadcaster"

// RequireAdminToken gates the admin mutation endpoints. The caller presents
// the same HS256 subscription token the admin SSE stream uses (aud=admin),
// as a `token` query parameter or an Authorization: Bearer header. A missing
// or invalid token is 401; a well-signed token for the wrong audience is 403.
func (h *Handler) RequireAdminToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := sse.ValidateToken(h.SigningKey, bearerToken(c), sse.AudienceAdmin)
		switch {
		case errors.Is(err, sse.ErrAudienceWrong):
			fail(c, http.StatusForbidden, ProblemForbidden, "admin token required")
			return
		case err != nil:
			fail(c, http.StatusUnauthorized, ProblemUnauthorized, "missing or invalid admin token")
			return
		}
		c.Set(adminBroadcasterKey, claims.Broadcaster)
		c.Next()
	}
}

// checkAdminTenant rejects a mutation whose body names a broadcaster other
// than the one the admin token was minted for. Reports whether the request
// may proceed.
func checkAdminTenant(c *gin.Context, broadcasterID string) bool {
	if tenant := c.GetString(adminBroadcasterKey); tenant != "" && tenant != broadcasterID {
		fail(c, http.StatusForbidden, ProblemForbidden, "token not issued for this broadcaster")
		return false
	}
	return true
}
