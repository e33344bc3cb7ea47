package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLWithDefaults(t *testing.T) {
	path := writeConfig(t, `
botToken: "123:abc"
adminIDs: [42, 43]
webhookHost: bot.example.com
webhookPath: hook
sessionTTL: 30m
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.MembershipTimeoutMs != 3000 || cfg.MembershipConcurrency != 4 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if len(cfg.AdminIDs) != 2 || cfg.AdminIDs[1] != 43 {
		t.Fatalf("unexpected admin ids %v", cfg.AdminIDs)
	}
	if got := cfg.WebhookURL(); got != "https://bot.example.com/hook" {
		t.Fatalf("unexpected webhook url %q", got)
	}
	if cfg.MembershipTimeout() != 3*time.Second {
		t.Fatalf("unexpected membership timeout %s", cfg.MembershipTimeout())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "botToken: file-token\nadminIDs: [1]\n")
	t.Setenv("BOT_TOKEN", "env-token")
	t.Setenv("ADMIN_IDS", "7, 8")
	t.Setenv("USER_RATE_LIMIT_PER_MINUTE", "20")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("WEBHOOK_SOURCES", "telegram, 10.0.0.0/8")
	t.Setenv("MEMBERSHIP_CACHE_TTL", "90s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BotToken != "env-token" || cfg.UserRateLimitPerMinute != 20 || !cfg.MinioUseSSL {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if len(cfg.AdminIDs) != 2 || cfg.AdminIDs[0] != 7 {
		t.Fatalf("unexpected admin ids %v", cfg.AdminIDs)
	}
	if len(cfg.WebhookSources) != 2 || cfg.WebhookSources[0] != "telegram" {
		t.Fatalf("unexpected sources %v", cfg.WebhookSources)
	}
	if ttl, err := ParseDuration(cfg.MembershipCacheTTL); err != nil || ttl != 90*time.Second {
		t.Fatalf("unexpected membership cache ttl %q", cfg.MembershipCacheTTL)
	}
}

func TestMembershipCacheTTLEnvIsValidated(t *testing.T) {
	t.Setenv("MEMBERSHIP_CACHE_TTL", "often")
	_, err := Load(writeConfig(t, "botToken: x\nadminIDs: [1]\n"))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("expected duration error, got %v", err)
	}
}

func TestLoadWithoutFileUsesEnvironment(t *testing.T) {
	t.Setenv("BOT_TOKEN", "env-token")
	t.Setenv("ADMIN_IDS", "5")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BotToken != "env-token" {
		t.Fatalf("unexpected token %q", cfg.BotToken)
	}
	if cfg.WebhookURL() != "" {
		t.Fatalf("no host means no webhook url")
	}
}

func TestValidateConfig(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "token", body: "adminIDs: [1]", want: "botToken"},
		{name: "admins", body: "botToken: x", want: "adminIDs"},
		{name: "rate limit needs redis", body: "botToken: x\nadminIDs: [1]\nuserRateLimitPerMinute: 5", want: "redisAddr"},
		{name: "minio keys", body: "botToken: x\nadminIDs: [1]\nminioEndpoint: minio:9000", want: "minioAccessKey"},
		{name: "legacy object", body: "botToken: x\nadminIDs: [1]\nlegacyObjectKey: movies.json", want: "minioEndpoint"},
		{name: "duration", body: "botToken: x\nadminIDs: [1]\nsessionTTL: soon", want: "invalid duration"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("BOT_TOKEN", "")
			t.Setenv("ADMIN_IDS", "")
			_, err := Load(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestParseAdminIDs(t *testing.T) {
	if _, err := ParseAdminIDs("1,abc"); err == nil {
		t.Fatalf("expected error")
	}
	ids, err := ParseAdminIDs(" 1 ,, 2 ")
	if err != nil || len(ids) != 2 {
		t.Fatalf("unexpected %v %v", ids, err)
	}
}
