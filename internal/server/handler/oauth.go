package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/triforce-app/triforce/internal/connect"
	"github.com/triforce-app/triforce/internal/logx"
	"github.com/triforce-app/triforce/internal/session"
)

// HandleOAuthAuthorize handles GET /api/auth/oauth/:provider. It
// records a pending state and sends the browser to the provider's
// consent page.
func HandleOAuthAuthorize(svc *connect.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		provider := c.Param("provider")
		email := c.GetString(session.CtxUserEmail)

		url, err := svc.Authorize(provider, email)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Redirect(http.StatusFound, url)
	}
}

// HandleOAuthCallback handles GET /api/auth/oauth/:provider/callback.
// Failures redirect back to the app with an error code in the query;
// success renders a small page that notifies the opener window and
// closes itself.
func HandleOAuthCallback(svc *connect.Service, sessionSecret, baseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provider := c.Param("provider")

		// The provider reports user denial and its own failures in
		// the error parameter; nothing was exchanged yet, so this
		// outranks everything including a missing session.
		if provErr := c.Query("error"); provErr != "" {
			logx.Infof("oauth callback denied: provider=%s code=%s", provider, provErr)
			c.Redirect(http.StatusFound, fmt.Sprintf("%s/?error=%s_oauth_denied", baseURL, provider))
			return
		}

		token, err := c.Cookie(session.Cookie)
		if err != nil || token == "" {
			c.Redirect(http.StatusFound, baseURL+"/?error=unauthorized")
			return
		}
		claims, err := session.Verify(sessionSecret, token)
		if err != nil {
			c.Redirect(http.StatusFound, baseURL+"/?error=unauthorized")
			return
		}

		err = svc.CompleteCallback(c.Request.Context(), provider, claims.Email, c.Query("code"), c.Query("state"))
		if err != nil {
			code := callbackErrorCode(err)
			logx.Warnf("oauth callback failed: provider=%s code=%s err=%v", provider, code, err)
			c.Redirect(http.StatusFound, baseURL+"/?error="+code)
			return
		}

		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(callbackPage(provider, baseURL)))
	}
}

// callbackPage notifies the window that opened the consent popup, and
// falls back to a plain redirect when there is no opener.
func callbackPage(provider, baseURL string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>Connected</title></head>
<body>
<script>
if (window.opener) {
  window.opener.postMessage({ type: 'OAUTH_CALLBACK', provider: %q, success: true }, '*');
  window.close();
} else {
  window.location = %q;
}
</script>
<p>Connection complete. You can close this window.</p>
</body>
</html>`, provider, baseURL+"/?connected="+provider)
}

// HandleOAuthDisconnectRedirect handles GET /api/auth/oauth/:provider/disconnect
// for plain browser navigation.
func HandleOAuthDisconnectRedirect(svc *connect.Service, baseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provider := c.Param("provider")
		if err := svc.Disconnect(c.GetString(session.CtxUserID), provider); err != nil {
			respondError(c, err)
			return
		}
		c.Redirect(http.StatusFound, baseURL+"/?disconnected="+provider)
	}
}

// HandleOAuthDisconnect handles DELETE /api/auth/oauth/:provider/disconnect.
func HandleOAuthDisconnect(svc *connect.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		provider := c.Param("provider")
		if err := svc.Disconnect(c.GetString(session.CtxUserID), provider); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
