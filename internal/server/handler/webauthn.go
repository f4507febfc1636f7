package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/triforce-app/triforce/internal/passkey"
	"github.com/triforce-app/triforce/internal/session"
)

type generateChallengeRequest struct {
	Action string `json:"action" binding:"required"`
	Email  string `json:"email"`
}

// HandleGenerateChallenge handles POST /api/auth/webauthn/generate-challenge.
func HandleGenerateChallenge(svc *passkey.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req generateChallengeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}

		options, err := svc.GenerateChallenge(req.Action, req.Email, c.Request.Host, c.GetHeader("Origin"))
		if err != nil {
			respondError(c, err)
			return
		}
		// The body is the provider-library options object itself, not a
		// wrapper around it.
		c.Data(http.StatusOK, "application/json; charset=utf-8", options)
	}
}

type verifyCredentialRequest struct {
	Action     string          `json:"action" binding:"required"`
	Email      string          `json:"email"`
	Credential json.RawMessage `json:"credential" binding:"required"`
}

// HandleVerifyCredential handles POST /api/auth/webauthn/verify-credential.
// A successful login or registration issues the session cookie.
func HandleVerifyCredential(svc *passkey.Service, sessionSecret string, secureCookies bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req verifyCredentialRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}

		user, err := svc.VerifyCredential(req.Action, req.Email, req.Credential, c.Request.Host, c.GetHeader("Origin"))
		if err != nil {
			respondError(c, err)
			return
		}

		token, err := session.Issue(sessionSecret, user)
		if err != nil {
			respondError(c, err)
			return
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(session.Cookie, token, int(session.TTL.Seconds()), "/", "", secureCookies, true)

		c.JSON(http.StatusOK, gin.H{"verified": true, "user": user})
	}
}
