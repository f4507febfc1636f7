package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/triforce-app/triforce/internal/session"
)

// CORS returns a Gin middleware that handles Cross-Origin Resource Sharing.
func CORS(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && allowed[strings.TrimRight(origin, "/")] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Max-Age", "86400")

			if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
		}

		c.Next()
	}
}

// SessionAuth requires a valid session cookie and stores the user's
// identity on the request context. Failures get a JSON 401.
func SessionAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := sessionClaims(c, secret)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		setSession(c, claims)
		c.Next()
	}
}

// SessionAuthRedirect is SessionAuth for browser-navigation routes:
// failures redirect back to the app with an error code instead of
// returning JSON.
func SessionAuthRedirect(secret, baseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := sessionClaims(c, secret)
		if !ok {
			c.Redirect(http.StatusFound, baseURL+"/?error=unauthorized")
			c.Abort()
			return
		}
		setSession(c, claims)
		c.Next()
	}
}

func sessionClaims(c *gin.Context, secret string) (*session.Claims, bool) {
	token, err := c.Cookie(session.Cookie)
	if err != nil || token == "" {
		return nil, false
	}
	claims, err := session.Verify(secret, token)
	if err != nil {
		return nil, false
	}
	return claims, true
}

func setSession(c *gin.Context, claims *session.Claims) {
	c.Set(session.CtxUserID, claims.Subject)
	c.Set(session.CtxUserEmail, claims.Email)
	c.Set(session.CtxUserName, claims.Name)
}
