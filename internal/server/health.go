package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tally/internal/observability/logger"
	"go.uber.org/zap"
)

func (s *Server) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness reports whether this instance can serve traffic: the store must
// answer and, when redis is configured, so must redis. A disabled queue is
// healthy; fallback mode is a supported deployment.
func (s *Server) Readiness(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{"database": "ok", "queue": "ok"}
	healthy := true

	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		logger.FromContext(ctx).Warn("readiness database ping failed", zap.Error(err))
		checks["database"] = "unavailable"
		healthy = false
	}

	if err := s.queue.Ping(ctx); err != nil {
		logger.FromContext(ctx).Warn("readiness queue ping failed", zap.Error(err))
		checks["queue"] = "unavailable"
		healthy = false
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "unavailable"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}
