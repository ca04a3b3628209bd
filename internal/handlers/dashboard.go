package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campuswatch/attendance-sentry/internal/session"
)

// RegisterDashboardRoutes registers the read-only dashboard endpoints.
//
// GET /dashboard — derived metrics plus the buffered event and evidence
// windows, one snapshot per request.
// GET /subjects  — the cached enrollment directory.
func RegisterDashboardRoutes(r gin.IRoutes, sess *session.Session) {
	r.GET("/dashboard", func(c *gin.Context) {
		c.JSON(http.StatusOK, sess.Snapshot())
	})

	r.GET("/subjects", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"subjects": sess.Directory()})
	})
}
