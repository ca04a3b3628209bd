package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/campuswatch/attendance-sentry/internal/handlers"
	"github.com/campuswatch/attendance-sentry/internal/session"
	"github.com/campuswatch/attendance-sentry/internal/store"
)

// NewRouter wires the dashboard API.
// Public: /health, /ready
// Dashboard: /dashboard, /subjects, /search, /assistant, /live
func NewRouter(st *store.Store, sess *session.Session, log *zap.SugaredLogger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: reports store connectivity. A deliberately unconfigured
	// store is still "ready" — the service runs degraded by design.
	r.GET("/ready", func(c *gin.Context) {
		if st == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ready", "store": "offline"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := st.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	handlers.RegisterDashboardRoutes(r, sess)
	handlers.RegisterSearchRoutes(r, sess)
	handlers.RegisterAssistantRoutes(r, sess)
	handlers.RegisterLiveRoutes(r, sess, log)

	return r
}
