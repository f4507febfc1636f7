package server

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/triforce-app/triforce/internal/chat"
	"github.com/triforce-app/triforce/internal/connect"
	"github.com/triforce-app/triforce/internal/passkey"
	"github.com/triforce-app/triforce/internal/server/db"
	"github.com/triforce-app/triforce/internal/server/handler"
)

// NewRouter creates and configures the Gin router with all routes.
// chatSvc may be nil when no model backend is configured.
func NewRouter(store *db.Store, cfg *Config, chatSvc *chat.Service) *gin.Engine {
	passkeySvc := passkey.NewService(store, passkey.NewWebAuthnVerifier(), passkey.Config{
		RPID:    cfg.RPID,
		RPName:  cfg.RPName,
		Origins: cfg.TrustedOrigins,
	})
	connectSvc := connect.NewService(store, cfg.BaseURL, cfg.ProviderCreds)
	return NewRouterWith(store, cfg, passkeySvc, connectSvc, chatSvc)
}

// NewRouterWith wires the route table around already-built services.
func NewRouterWith(store *db.Store, cfg *Config, passkeySvc *passkey.Service, connectSvc *connect.Service, chatSvc *chat.Service) *gin.Engine {
	r := gin.Default()

	if len(cfg.CORSOrigins) > 0 {
		r.Use(CORS(cfg.CORSOrigins))
	}

	r.GET("/", func(c *gin.Context) {
		c.String(200, "ok")
	})

	secureCookies := strings.HasPrefix(cfg.BaseURL, "https://")
	requireSession := SessionAuth(cfg.SessionSecret)
	requireSessionRedirect := SessionAuthRedirect(cfg.SessionSecret, cfg.BaseURL)

	auth := r.Group("/api/auth")
	{
		auth.POST("/webauthn/generate-challenge", handler.HandleGenerateChallenge(passkeySvc))
		auth.POST("/webauthn/verify-credential", handler.HandleVerifyCredential(passkeySvc, cfg.SessionSecret, secureCookies))
		auth.GET("/session", handler.HandleSession(cfg.SessionSecret))
		auth.POST("/logout", handler.HandleLogout(secureCookies))

		oauth := auth.Group("/oauth")
		{
			oauth.GET("/:provider", requireSessionRedirect, handler.HandleOAuthAuthorize(connectSvc))
			oauth.GET("/:provider/callback", handler.HandleOAuthCallback(connectSvc, cfg.SessionSecret, cfg.BaseURL))
			oauth.GET("/:provider/disconnect", requireSessionRedirect, handler.HandleOAuthDisconnectRedirect(connectSvc, cfg.BaseURL))
			oauth.DELETE("/:provider/disconnect", requireSession, handler.HandleOAuthDisconnect(connectSvc))
		}
	}

	user := r.Group("/api/user", requireSession)
	{
		user.GET("/services", handler.HandleListServices(store))
	}

	services := r.Group("/api/services", requireSession)
	{
		services.GET("/google/status", handler.HandleGoogleStatus(store))
		services.GET("/google/refresh", handler.HandleGoogleRefresh(connectSvc))
		services.GET("/google/test", handler.HandleServiceTest(connectSvc, connect.ProviderGoogle))
		services.GET("/slack/test", handler.HandleServiceTest(connectSvc, connect.ProviderSlack))
		services.GET("/notion/test", handler.HandleServiceTest(connectSvc, connect.ProviderNotion))
	}

	r.POST("/api/chat", requireSession, handler.HandleChat(chatSvc))

	return r
}
