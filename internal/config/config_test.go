package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TURSO_DATABASE_URL", "file:local.db")
	t.Setenv("GOOGLE_CLIENT_ID", "client-id")
	t.Setenv("AUTH_INSECURE_SKIP_GOOGLE_VERIFY", "false")

	unsetIfSet(t, "SESSION_TTL_HOURS")
	unsetIfSet(t, "ALLOWED_GOOGLE_EMAILS")
	unsetIfSet(t, "CORS_ALLOWED_ORIGINS")
	unsetIfSet(t, "SSE_HEARTBEAT_SECONDS")
	unsetIfSet(t, "OPENROUTER_BASE_URL")
	unsetIfSet(t, "CREDITS_DAILY_ANONYMOUS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.SessionTTL.Hours() != 168 {
		t.Fatalf("expected default 168h session ttl, got %v", cfg.SessionTTL)
	}
	if cfg.AllowedGoogleEmails != nil {
		t.Fatalf("expected empty allowlist by default, got %v", cfg.AllowedGoogleEmails)
	}
	if cfg.HeartbeatInterval != 15*time.Second {
		t.Fatalf("unexpected heartbeat interval: %v", cfg.HeartbeatInterval)
	}
	if cfg.OpenRouterBaseURL != "https://openrouter.ai/api/v1" {
		t.Fatalf("unexpected openrouter base url: %s", cfg.OpenRouterBaseURL)
	}
	if cfg.BraveBaseURL != "https://api.search.brave.com/res/v1" {
		t.Fatalf("unexpected brave base url: %s", cfg.BraveBaseURL)
	}
	if cfg.AnonymousDailyCredits != 10 {
		t.Fatalf("unexpected anonymous credits: %d", cfg.AnonymousDailyCredits)
	}
}

func TestLoadRejectsNonPositiveHeartbeat(t *testing.T) {
	t.Setenv("TURSO_DATABASE_URL", "file:local.db")
	t.Setenv("GOOGLE_CLIENT_ID", "client-id")
	t.Setenv("SSE_HEARTBEAT_SECONDS", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero heartbeat interval")
	}
}

func TestLoadRequiresGoogleClientIDWhenVerificationEnabled(t *testing.T) {
	t.Setenv("TURSO_DATABASE_URL", "file:local.db")
	t.Setenv("GOOGLE_CLIENT_ID", "")
	t.Setenv("AUTH_INSECURE_SKIP_GOOGLE_VERIFY", "false")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when GOOGLE_CLIENT_ID is missing")
	}
}

func TestLoadAllowsMissingGoogleClientIDWhenAuthDisabled(t *testing.T) {
	t.Setenv("TURSO_DATABASE_URL", "file:local.db")
	t.Setenv("GOOGLE_CLIENT_ID", "")
	t.Setenv("AUTH_REQUIRED", "false")
	t.Setenv("AUTH_INSECURE_SKIP_GOOGLE_VERIFY", "false")

	if _, err := Load(); err != nil {
		t.Fatalf("expected auth-disabled mode to load without GOOGLE_CLIENT_ID: %v", err)
	}
}

func TestDefaultModesIncludeAuthGatedSearchModes(t *testing.T) {
	modes := DefaultModes("")

	pro, ok := modes.Lookup("pro")
	if !ok {
		t.Fatal("expected pro mode")
	}
	if !pro.AuthRequired || !pro.WebSearch {
		t.Fatalf("unexpected pro mode: %+v", pro)
	}

	chat, ok := modes.Lookup("chat")
	if !ok {
		t.Fatal("expected chat mode")
	}
	if chat.Model != "openrouter/free" {
		t.Fatalf("unexpected chat model: %s", chat.Model)
	}
}

func TestLoadModesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modes.yaml")
	content := `
modes:
  - id: fast
    model: openai/gpt-4o-mini
    credit_cost: 2
  - id: research
    name: Research
    model: openai/o3-mini
    web_search: true
    auth_required: true
    reasoning_effort: high
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write modes file: %v", err)
	}

	modes, err := LoadModes(path, "")
	if err != nil {
		t.Fatalf("load modes: %v", err)
	}

	if got := modes.IDs(); len(got) != 2 || got[0] != "fast" || got[1] != "research" {
		t.Fatalf("unexpected mode ids: %v", got)
	}
	fast, _ := modes.Lookup("fast")
	if fast.Name != "fast" || fast.CreditCost != 2 {
		t.Fatalf("unexpected fast mode: %+v", fast)
	}
	research, _ := modes.Lookup("research")
	if !research.WebSearch || !research.AuthRequired || research.ReasoningEffort != "high" {
		t.Fatalf("unexpected research mode: %+v", research)
	}
}

func TestLoadModesFromTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modes.toml")
	content := `
[[modes]]
id = "fast"
model = "openai/gpt-4o-mini"
credit_cost = 2

[[modes]]
id = "pro"
name = "Pro Search"
model = "google/gemini-2.0-flash-001"
web_search = true
auth_required = true
system_prompt = "Cite sources."
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write modes file: %v", err)
	}

	modes, err := LoadModes(path, "")
	if err != nil {
		t.Fatalf("load modes: %v", err)
	}
	pro, ok := modes.Lookup("pro")
	if !ok || !pro.WebSearch || !pro.AuthRequired || pro.SystemPrompt != "Cite sources." {
		t.Fatalf("unexpected pro mode: %+v", pro)
	}
	if fast, _ := modes.Lookup("fast"); fast.CreditCost != 2 {
		t.Fatalf("unexpected fast mode: %+v", fast)
	}
}

func TestLoadModesRejectsMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modes.toml")
	if err := os.WriteFile(path, []byte("[[modes]\nid = "), 0o600); err != nil {
		t.Fatalf("write modes file: %v", err)
	}
	if _, err := LoadModes(path, ""); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestParseModesRejectsDuplicates(t *testing.T) {
	_, err := ParseModes([]byte(`
modes:
  - id: a
    model: m
  - id: a
    model: m
`))
	if err == nil {
		t.Fatal("expected duplicate mode error")
	}
}

func unsetIfSet(t *testing.T, key string) {
	t.Helper()
	if _, ok := os.LookupEnv(key); ok {
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset env %s: %v", key, err)
		}
	}
}
