package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/triforce-app/triforce/internal/session"
)

// HandleSession handles GET /api/auth/session. It always answers 200;
// the body says whether a valid session is present.
func HandleSession(sessionSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(session.Cookie)
		if err != nil || token == "" {
			c.JSON(http.StatusOK, gin.H{"authenticated": false})
			return
		}
		claims, err := session.Verify(sessionSecret, token)
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"authenticated": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"authenticated": true,
			"user": gin.H{
				"id":    claims.Subject,
				"email": claims.Email,
				"name":  claims.Name,
			},
		})
	}
}

// HandleLogout handles POST /api/auth/logout by expiring the cookie.
func HandleLogout(secureCookies bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(session.Cookie, "", -1, "/", "", secureCookies, true)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
