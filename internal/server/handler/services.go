package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/triforce-app/triforce/internal/connect"
	"github.com/triforce-app/triforce/internal/fault"
	"github.com/triforce-app/triforce/internal/server/db"
	"github.com/triforce-app/triforce/internal/session"
)

// HandleListServices handles GET /api/user/services: every provider
// the user has connected, metadata only.
func HandleListServices(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(session.CtxUserID)

		summaries, err := store.ListOAuthTokenSummaries(userID)
		if err != nil {
			respondError(c, err)
			return
		}

		services := make([]gin.H, 0, len(summaries))
		for _, s := range summaries {
			services = append(services, gin.H{
				"provider":   s.Provider,
				"connected":  true,
				"expires_at": s.ExpiresAt,
				"created_at": s.CreatedAt,
				"updated_at": s.UpdatedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"services": services})
	}
}

// HandleGoogleStatus handles GET /api/services/google/status.
func HandleGoogleStatus(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(session.CtxUserID)

		tok, err := store.GetOAuthToken(userID, connect.ProviderGoogle)
		if err != nil {
			respondError(c, err)
			return
		}
		if tok == nil {
			c.JSON(http.StatusOK, gin.H{"connected": false})
			return
		}

		expired := tok.ExpiresAt != nil && !tok.ExpiresAt.After(time.Now())
		c.JSON(http.StatusOK, gin.H{
			"connected":         true,
			"expires_at":        tok.ExpiresAt,
			"expired":           expired,
			"has_refresh_token": tok.RefreshToken != "",
		})
	}
}

// HandleGoogleRefresh handles GET /api/services/google/refresh. It is
// idempotent: a still-valid token reports refreshed=false.
func HandleGoogleRefresh(svc *connect.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(session.CtxUserID)

		tok, refreshed, err := svc.RefreshGoogleToken(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"refreshed":  refreshed,
			"expires_at": tok.ExpiresAt,
		})
	}
}

// HandleServiceTest handles GET /api/services/<provider>/test. It runs
// the stored token through the freshness guard and calls the provider's
// API with it, reporting what the provider says about the connection.
func HandleServiceTest(svc *connect.Service, provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(session.CtxUserID)

		info, err := svc.VerifyConnection(c.Request.Context(), userID, provider)
		if err != nil {
			if errors.Is(err, fault.ErrUpstream) {
				c.JSON(http.StatusBadRequest, gin.H{"connected": false, "error": "provider_error"})
				return
			}
			respondError(c, err)
			return
		}

		resp := gin.H{"connected": true}
		for k, v := range info {
			resp[k] = v
		}
		c.JSON(http.StatusOK, resp)
	}
}
