package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort                  = "8080"
	defaultSessionCookieName     = "llmchat_session"
	defaultSessionTTLHours       = 168
	defaultDefaultModel          = "openrouter/free"
	defaultFrontendOrigin        = "https://llmchat.co"
	defaultOpenRouterBaseURL     = "https://openrouter.ai/api/v1"
	defaultBraveBaseURL          = "https://api.search.brave.com/res/v1"
	defaultBraveMinIntervalMS    = 1100
	defaultHeartbeatSeconds      = 15
	defaultCompletionTimeoutSecs = 300
	defaultAnonymousCredits      = 10
	defaultAuthenticatedCredits  = 100
)

type Config struct {
	Port                     string
	Environment              string
	FrontendOrigin           string
	AllowedOrigins           []string
	AuthRequired             bool
	CookieSecure             bool
	SessionCookieName        string
	SessionTTL               time.Duration
	AllowedGoogleEmails      map[string]struct{}
	GoogleClientID           string
	InsecureSkipGoogleVerify bool
	TursoDatabaseURL         string
	TursoAuthToken           string

	OpenRouterAPIKey       string
	OpenRouterBaseURL      string
	OpenRouterDefaultModel string
	BraveAPIKey            string
	BraveBaseURL           string
	BraveMinInterval       time.Duration

	ModesFile         string
	HeartbeatInterval time.Duration
	CompletionTimeout time.Duration

	RedisAddr                 string
	RedisPassword             string
	RedisDB                   int
	RedisTLS                  bool
	AnonymousDailyCredits     int
	AuthenticatedDailyCredits int
}

func (c Config) ListenAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func Load() (Config, error) {
	cfg := Config{
		Port:                      envOrDefault("PORT", defaultPort),
		Environment:               envOrDefault("APP_ENV", "development"),
		FrontendOrigin:            envOrDefault("FRONTEND_ORIGIN", defaultFrontendOrigin),
		AuthRequired:              boolOrDefault("AUTH_REQUIRED", true),
		CookieSecure:              boolOrDefault("COOKIE_SECURE", false),
		SessionCookieName:         envOrDefault("SESSION_COOKIE_NAME", defaultSessionCookieName),
		GoogleClientID:            strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID")),
		InsecureSkipGoogleVerify:  boolOrDefault("AUTH_INSECURE_SKIP_GOOGLE_VERIFY", false),
		TursoDatabaseURL:          strings.TrimSpace(os.Getenv("TURSO_DATABASE_URL")),
		TursoAuthToken:            strings.TrimSpace(os.Getenv("TURSO_AUTH_TOKEN")),
		OpenRouterAPIKey:          strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")),
		OpenRouterBaseURL:         envOrDefault("OPENROUTER_BASE_URL", defaultOpenRouterBaseURL),
		OpenRouterDefaultModel:    envOrDefault("OPENROUTER_DEFAULT_MODEL", defaultDefaultModel),
		BraveAPIKey:               strings.TrimSpace(os.Getenv("BRAVE_API_KEY")),
		BraveBaseURL:              envOrDefault("BRAVE_BASE_URL", defaultBraveBaseURL),
		BraveMinInterval:          time.Duration(intOrDefault("BRAVE_MIN_INTERVAL_MS", defaultBraveMinIntervalMS)) * time.Millisecond,
		ModesFile:                 strings.TrimSpace(os.Getenv("MODES_FILE")),
		HeartbeatInterval:         time.Duration(intOrDefault("SSE_HEARTBEAT_SECONDS", defaultHeartbeatSeconds)) * time.Second,
		CompletionTimeout:         time.Duration(intOrDefault("COMPLETION_TIMEOUT_SECONDS", defaultCompletionTimeoutSecs)) * time.Second,
		RedisAddr:                 strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		RedisDB:                   intOrDefault("REDIS_DB", 0),
		RedisTLS:                  boolOrDefault("REDIS_TLS", false),
		AnonymousDailyCredits:     intOrDefault("CREDITS_DAILY_ANONYMOUS", defaultAnonymousCredits),
		AuthenticatedDailyCredits: intOrDefault("CREDITS_DAILY_AUTHENTICATED", defaultAuthenticatedCredits),
	}

	if cfg.Environment == "production" {
		cfg.CookieSecure = true
	}

	sessionTTLHours := intOrDefault("SESSION_TTL_HOURS", defaultSessionTTLHours)
	cfg.SessionTTL = time.Duration(sessionTTLHours) * time.Hour
	if cfg.SessionTTL <= 0 {
		return Config{}, errors.New("SESSION_TTL_HOURS must be > 0")
	}
	if cfg.HeartbeatInterval <= 0 {
		return Config{}, errors.New("SSE_HEARTBEAT_SECONDS must be > 0")
	}
	if cfg.CompletionTimeout <= 0 {
		return Config{}, errors.New("COMPLETION_TIMEOUT_SECONDS must be > 0")
	}

	cfg.AllowedGoogleEmails = parseEmailSet(os.Getenv("ALLOWED_GOOGLE_EMAILS"))

	origins := parseList(envOrDefault("CORS_ALLOWED_ORIGINS", cfg.FrontendOrigin+",http://localhost:3000"))
	if len(origins) == 0 {
		return Config{}, errors.New("CORS_ALLOWED_ORIGINS must include at least one origin")
	}
	cfg.AllowedOrigins = origins

	if cfg.TursoDatabaseURL == "" {
		return Config{}, errors.New("TURSO_DATABASE_URL is required")
	}
	if strings.HasPrefix(cfg.TursoDatabaseURL, "libsql://") && cfg.TursoAuthToken == "" {
		return Config{}, errors.New("TURSO_AUTH_TOKEN is required for libsql:// URLs")
	}
	if cfg.AuthRequired && !cfg.InsecureSkipGoogleVerify && cfg.GoogleClientID == "" {
		return Config{}, errors.New("GOOGLE_CLIENT_ID is required unless AUTH_INSECURE_SKIP_GOOGLE_VERIFY=true")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func boolOrDefault(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func intOrDefault(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseEmailSet returns nil for an empty list, which disables allow-listing.
func parseEmailSet(raw string) map[string]struct{} {
	emails := parseList(raw)
	if len(emails) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(emails))
	for _, email := range emails {
		out[strings.ToLower(email)] = struct{}{}
	}
	return out
}
