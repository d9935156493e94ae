package api

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vexa-ai/vexa/pkg/models"
	"github.com/vexa-ai/vexa/pkg/services"
)

const (
	headerAPIKey      = "X-API-Key"
	headerAdminAPIKey = "X-Admin-API-Key"

	ctxUserKey = "user"
)

// authMiddleware resolves the X-API-Key header to a user and stores it in the
// request context. Unknown or missing tokens are rejected with 401.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(headerAPIKey)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Detail: "missing X-API-Key header"})
			return
		}
		user, err := s.users.GetUserByToken(c.Request.Context(), token)
		if errors.Is(err, services.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Detail: "invalid API key"})
			return
		}
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(ctxUserKey, user)
		c.Next()
	}
}

// adminMiddleware gates the provisioning surface behind the shared admin key.
func (s *Server) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(headerAdminAPIKey)
		if s.adminToken == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.adminToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Detail: "invalid admin API key"})
			return
		}
		c.Next()
	}
}

// currentUser returns the user resolved by authMiddleware.
func currentUser(c *gin.Context) *models.User {
	return c.MustGet(ctxUserKey).(*models.User)
}
