package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/triforce-app/triforce/internal/chat"
	"github.com/triforce-app/triforce/internal/session"
)

type chatRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// HandleChat handles POST /api/chat. The response is a single
// non-streaming completion. A nil service means no model backend is
// configured.
func HandleChat(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if svc == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat_unavailable"})
			return
		}

		var req chatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}

		text, err := svc.Respond(c.Request.Context(), c.GetString(session.CtxUserID), req.Prompt)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"text": text})
	}
}
