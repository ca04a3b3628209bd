package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/campuswatch/attendance-sentry/internal/session"
)

// SearchRequest is the POST /search payload.
type SearchRequest struct {
	RollNo string `json:"roll_no"`
}

// RegisterSearchRoutes registers the attendance search endpoint.
//
// POST /search
// - Resolves the roll number against the cached directory
// - Returns a zero summary with "not enrolled" for unknown subjects
// - Returns retrieval_failed=true instead of a 5xx when the store errors
func RegisterSearchRoutes(r gin.IRoutes, sess *session.Session) {
	r.POST("/search", func(c *gin.Context) {
		var req SearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}

		req.RollNo = strings.TrimSpace(req.RollNo)
		if req.RollNo == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "roll_no required"})
			return
		}

		c.JSON(http.StatusOK, sess.Search(c.Request.Context(), req.RollNo))
	})
}
