package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vexa-ai/vexa/pkg/database"
)

// handleHealth reports liveness of the server and its two backends.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy := true
	body := gin.H{"status": "healthy"}

	if s.pool != nil {
		dbHealth, err := database.Health(ctx, s.pool)
		body["database"] = dbHealth
		if err != nil {
			healthy = false
			body["database_error"] = err.Error()
		}
	}
	if s.bus != nil {
		if err := s.bus.Ping(ctx); err != nil {
			healthy = false
			body["redis_error"] = err.Error()
		} else {
			body["redis"] = "ok"
		}
	}

	if !healthy {
		body["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
