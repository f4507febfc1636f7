package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/triforce-app/triforce/internal/chat"
	"github.com/triforce-app/triforce/internal/logx"
	"github.com/triforce-app/triforce/internal/server"
	"github.com/triforce-app/triforce/internal/server/db"
	"github.com/triforce-app/triforce/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	verbose := flag.Bool("verbose", false, "Enable verbose debug logs (same as --log-level debug)")
	logLevel := flag.String("log-level", "", "Log level: debug|info|warn|error (or TRIFORCE_LOG_LEVEL)")
	flag.BoolVar(showVersion, "v", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\n", version.String("triforce-server"))
		fmt.Fprintf(os.Stderr, "Triforce server handles passkey login, OAuth service connections and the dashboard chat.\n\n")
		fmt.Fprintf(os.Stderr, "Environment variables:\n")
		fmt.Fprintf(os.Stderr, "  TRIFORCE_SESSION_SECRET   Session signing secret (min 32 chars, required)\n")
		fmt.Fprintf(os.Stderr, "  TRIFORCE_MASTER_KEY       At-rest encryption key (64 hex chars, required)\n")
		fmt.Fprintf(os.Stderr, "  TRIFORCE_BASE_URL         Public base URL for redirects and OAuth callbacks (required)\n")
		fmt.Fprintf(os.Stderr, "  TRIFORCE_DB_PATH          SQLite database path (default: triforce.db)\n")
		fmt.Fprintf(os.Stderr, "  TRIFORCE_LISTEN_ADDR      Listen address (default: :8080)\n")
		fmt.Fprintf(os.Stderr, "  TRIFORCE_RP_ID            WebAuthn relying-party id override (default: request host)\n")
		fmt.Fprintf(os.Stderr, "  TRIFORCE_RP_NAME          WebAuthn relying-party name (default: Triforce App)\n")
		fmt.Fprintf(os.Stderr, "  TRIFORCE_TRUSTED_ORIGINS  Extra WebAuthn origins, comma separated\n")
		fmt.Fprintf(os.Stderr, "  TRIFORCE_CORS_ORIGINS     Allowed CORS origins, comma separated\n")
		fmt.Fprintf(os.Stderr, "  TRIFORCE_<P>_CLIENT_ID    OAuth client id for GOOGLE, SLACK or NOTION\n")
		fmt.Fprintf(os.Stderr, "  TRIFORCE_<P>_CLIENT_SECRET  Matching OAuth client secret\n")
		fmt.Fprintf(os.Stderr, "  TRIFORCE_MCP_SERVER_URL   MCP tool server base URL for chat\n")
		fmt.Fprintf(os.Stderr, "  TRIFORCE_GEMINI_API_KEY   Gemini API key for chat\n")
		fmt.Fprintf(os.Stderr, "  TRIFORCE_GEMINI_MODEL     Gemini model name (default: %s)\n", chat.DefaultModel)
		fmt.Fprintf(os.Stderr, "  TRIFORCE_LOG_LEVEL        Log level: debug|info|warn|error (default: info)\n")
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("triforce-server"))
		os.Exit(0)
	}

	if err := logx.Configure(*logLevel, *verbose); err != nil {
		log.Fatalf("configure logging: %v", err)
	}

	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Secrets from the environment never appear in log output.
	if secrets := cfg.Secrets(); len(secrets) > 0 {
		masked := logx.NewMaskingWriter(os.Stderr, secrets)
		defer masked.Flush()
		logx.SetOutput(masked)
	}

	store, err := db.NewStore(cfg.DBPath, cfg.MasterKey)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer store.Close()

	var chatSvc *chat.Service
	if cfg.GeminiAPIKey != "" {
		completer, err := chat.NewGeminiCompleter(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Fatalf("create gemini client: %v", err)
		}
		var tools chat.ToolSource
		if cfg.MCPServerURL != "" {
			tools = chat.NewMCPToolSource(cfg.MCPServerURL)
		}
		chatSvc = chat.NewService(tools, completer)
	}

	r := server.NewRouter(store, cfg, chatSvc)
	logx.Infof("server config: base_url=%s providers=%d chat=%t", cfg.BaseURL, len(cfg.ProviderCreds), chatSvc != nil)

	log.Printf("triforce-server listening on %s", cfg.ListenAddr)
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
