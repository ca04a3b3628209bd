package handlers

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/campuswatch/attendance-sentry/internal/session"
)

// AskRequest is the POST /assistant payload.
type AskRequest struct {
	Question string `json:"question"`
}

// RegisterAssistantRoutes registers the free-text analytics endpoint.
//
// POST /assistant
//   - 400 for empty questions
//   - 409 while a previous request is still in flight (single gate)
//   - 200 with the generated answer, which may be the assistant's own
//     offline/failure sentinel text
func RegisterAssistantRoutes(r gin.IRoutes, sess *session.Session) {
	r.POST("/assistant", func(c *gin.Context) {
		var req AskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}

		answer, err := sess.Ask(c.Request.Context(), req.Question)
		switch {
		case errors.Is(err, session.ErrEmptyQuestion):
			c.JSON(http.StatusBadRequest, gin.H{"error": "question required"})
		case errors.Is(err, session.ErrBusy):
			c.JSON(http.StatusConflict, gin.H{"error": "assistant busy"})
		default:
			c.JSON(http.StatusOK, gin.H{"answer": answer})
		}
	})
}
