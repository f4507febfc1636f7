package connect

import "golang.org/x/oauth2"

// Provider describes one OAuth provider's endpoints and quirks.
// Endpoint URLs live in the value so tests can point a provider at a
// local server.
type Provider struct {
	Name     string
	AuthURL  string
	TokenURL string
	Scopes   []string

	// CommaScopes collapses the scope list into a single
	// comma-separated value, the shape Slack expects.
	CommaScopes bool

	// JSONExchange posts the code exchange as a JSON body with HTTP
	// basic auth instead of a form, the shape Notion expects.
	JSONExchange bool

	// UserinfoURL, when set, is fetched after a successful exchange
	// and the response stored alongside the token.
	UserinfoURL string

	// TestURL is the provider API endpoint the connection test calls
	// with the stored access token.
	TestURL string

	// AuthParams are extra query parameters on the authorize redirect.
	AuthParams []oauth2.AuthCodeOption
}

const (
	ProviderGoogle = "google"
	ProviderSlack  = "slack"
	ProviderNotion = "notion"
)

func defaultProviders() map[string]Provider {
	return map[string]Provider{
		ProviderGoogle: {
			Name:     ProviderGoogle,
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
			Scopes: []string{
				"https://www.googleapis.com/auth/calendar",
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			UserinfoURL: "https://www.googleapis.com/",
			TestURL:     "https://www.googleapis.com/oauth2/v2/userinfo",
			AuthParams: []oauth2.AuthCodeOption{
				oauth2.AccessTypeOffline,
				oauth2.ApprovalForce,
			},
		},
		ProviderSlack: {
			Name:        ProviderSlack,
			AuthURL:     "https://slack.com/oauth/v2/authorize",
			TokenURL:    "https://slack.com/api/oauth.v2.access",
			Scopes:      []string{"chat:write", "channels:read", "users:read"},
			CommaScopes: true,
			TestURL:     "https://slack.com/api/auth.test",
		},
		ProviderNotion: {
			Name:         ProviderNotion,
			AuthURL:      "https://api.notion.com/v1/oauth/authorize",
			TokenURL:     "https://api.notion.com/v1/oauth/token",
			JSONExchange: true,
			TestURL:      "https://api.notion.com/v1/users/me",
			AuthParams: []oauth2.AuthCodeOption{
				oauth2.SetAuthURLParam("owner", "user"),
			},
		},
	}
}
