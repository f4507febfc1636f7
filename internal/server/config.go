package server

import (
	"fmt"
	"os"
	"strings"

	"github.com/triforce-app/triforce/internal/connect"
	"github.com/triforce-app/triforce/internal/crypto"
)

// Config holds server configuration loaded from environment variables.
type Config struct {
	ListenAddr     string
	DBPath         string
	BaseURL        string
	SessionSecret  string
	MasterKey      [32]byte
	RPID           string
	RPName         string
	TrustedOrigins []string
	CORSOrigins    []string
	ProviderCreds  map[string]connect.Credentials
	MCPServerURL   string
	GeminiAPIKey   string
	GeminiModel    string

	// secrets collects every secret value seen while loading, for
	// redaction in log output.
	secrets []string
}

// LoadConfig loads server configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.SessionSecret = os.Getenv("TRIFORCE_SESSION_SECRET")
	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("TRIFORCE_SESSION_SECRET is required")
	}
	if len(cfg.SessionSecret) < 32 {
		return nil, fmt.Errorf("TRIFORCE_SESSION_SECRET must be at least 32 characters")
	}
	cfg.secrets = append(cfg.secrets, cfg.SessionSecret)

	masterKeyHex := os.Getenv("TRIFORCE_MASTER_KEY")
	if masterKeyHex == "" {
		return nil, fmt.Errorf("TRIFORCE_MASTER_KEY is required")
	}
	masterKey, err := crypto.ParseMasterKey(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("TRIFORCE_MASTER_KEY: %w", err)
	}
	cfg.MasterKey = masterKey
	cfg.secrets = append(cfg.secrets, masterKeyHex)

	cfg.BaseURL = strings.TrimSuffix(os.Getenv("TRIFORCE_BASE_URL"), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("TRIFORCE_BASE_URL is required")
	}

	cfg.ListenAddr = os.Getenv("TRIFORCE_LISTEN_ADDR")
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}

	cfg.DBPath = os.Getenv("TRIFORCE_DB_PATH")
	if cfg.DBPath == "" {
		cfg.DBPath = "triforce.db"
	}

	cfg.RPID = os.Getenv("TRIFORCE_RP_ID")
	cfg.RPName = os.Getenv("TRIFORCE_RP_NAME")
	if cfg.RPName == "" {
		cfg.RPName = "Triforce App"
	}

	cfg.TrustedOrigins = splitList(os.Getenv("TRIFORCE_TRUSTED_ORIGINS"))
	cfg.CORSOrigins = splitList(os.Getenv("TRIFORCE_CORS_ORIGINS"))

	cfg.ProviderCreds = map[string]connect.Credentials{}
	for _, provider := range []string{connect.ProviderGoogle, connect.ProviderSlack, connect.ProviderNotion} {
		prefix := "TRIFORCE_" + strings.ToUpper(provider)
		id := os.Getenv(prefix + "_CLIENT_ID")
		secret := os.Getenv(prefix + "_CLIENT_SECRET")
		if id == "" && secret == "" {
			continue
		}
		if id == "" || secret == "" {
			return nil, fmt.Errorf("%s_CLIENT_ID and %s_CLIENT_SECRET must be set together", prefix, prefix)
		}
		cfg.ProviderCreds[provider] = connect.Credentials{ClientID: id, ClientSecret: secret}
		cfg.secrets = append(cfg.secrets, secret)
	}

	cfg.MCPServerURL = os.Getenv("TRIFORCE_MCP_SERVER_URL")

	cfg.GeminiAPIKey = os.Getenv("TRIFORCE_GEMINI_API_KEY")
	if cfg.GeminiAPIKey != "" {
		cfg.secrets = append(cfg.secrets, cfg.GeminiAPIKey)
	}
	cfg.GeminiModel = os.Getenv("TRIFORCE_GEMINI_MODEL")

	return cfg, nil
}

// Secrets returns every secret value loaded from the environment, for
// wiring into log redaction.
func (c *Config) Secrets() []string {
	out := make([]string, len(c.secrets))
	copy(out, c.secrets)
	return out
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
