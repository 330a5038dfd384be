package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const baseConfig = `
port: "8000"
logLevel: "info"
sessionSecret: "0123456789abcdef0123456789abcdef"
admins:
  - name: "Ops"
    email: "ops@example.com"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.SiteURL != "http://127.0.0.1:8000" {
		t.Fatalf("siteURL = %q", cfg.SiteURL)
	}
	if cfg.PageSize != 3 {
		t.Fatalf("pageSize = %d, want 3", cfg.PageSize)
	}
	if cfg.Email.Backend != "console" {
		t.Fatalf("email backend = %q, want console", cfg.Email.Backend)
	}
	ttl, err := ParseSessionTTL(cfg.SessionTTL)
	if err != nil || ttl != 14*24*time.Hour {
		t.Fatalf("session ttl = %v %v", ttl, err)
	}
	if got := cfg.AdminEmails(); len(got) != 1 || got[0] != "ops@example.com" {
		t.Fatalf("admin emails = %v", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SITE_URL", "https://books.example.com/")
	t.Setenv("BOOKREVIEW_PAGE_SIZE", "6")
	t.Setenv("EMAIL_BACKEND", "smtp")
	t.Setenv("EMAIL_HOST", "smtp.example.com")
	t.Setenv("EMAIL_HOST_USER", "mailer@example.com")
	t.Setenv("ADMINS", "Root <root@example.com>, second@example.com")
	t.Setenv("TRUSTED_PROXY_CIDRS", "10.0.0.0/8, 192.168.0.1")

	cfg, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.SiteURL != "https://books.example.com" {
		t.Fatalf("siteURL = %q, want trailing slash stripped", cfg.SiteURL)
	}
	if cfg.PageSize != 6 {
		t.Fatalf("pageSize = %d, want 6", cfg.PageSize)
	}
	if cfg.Email.Username != "mailer@example.com" {
		t.Fatalf("smtp username should default to emailHostUser, got %q", cfg.Email.Username)
	}
	if got := cfg.AdminEmails(); len(got) != 2 || got[0] != "root@example.com" || got[1] != "second@example.com" {
		t.Fatalf("admin emails = %v", got)
	}
	if len(cfg.TrustedProxyCIDRs) != 2 {
		t.Fatalf("trusted proxies = %v", cfg.TrustedProxyCIDRs)
	}
}

func TestFromAddressFallbacks(t *testing.T) {
	cfg := FileConfig{}
	if got := cfg.FromAddress(); got != "webmaster@localhost" {
		t.Fatalf("from = %q", got)
	}
	cfg.EmailHostUser = "host@example.com"
	if got := cfg.FromAddress(); got != "host@example.com" {
		t.Fatalf("from = %q", got)
	}
	cfg.DefaultFromEmail = "noreply@example.com"
	if got := cfg.FromAddress(); got != "noreply@example.com" {
		t.Fatalf("from = %q", got)
	}
}

func TestValidateConfigRejectsBadSettings(t *testing.T) {
	valid := FileConfig{
		Port:          "8000",
		SessionSecret: "0123456789abcdef0123456789abcdef",
		SessionTTL:    "1h",
		PageSize:      3,
		Email:         EmailConfig{Backend: "console"},
	}
	if err := validateConfig(valid); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cases := map[string]func(*FileConfig){
		"short secret":        func(c *FileConfig) { c.SessionSecret = "short" },
		"bad ttl":             func(c *FileConfig) { c.SessionTTL = "forever" },
		"zero page size":      func(c *FileConfig) { c.PageSize = 0 },
		"unknown backend":     func(c *FileConfig) { c.Email.Backend = "pigeon" },
		"smtp without host":   func(c *FileConfig) { c.Email.Backend = "smtp" },
		"limit without redis": func(c *FileConfig) { c.LoginRateLimitPerMinute = 5 },
		"bad admin":           func(c *FileConfig) { c.Admins = []Admin{{Email: "nope"}} },
		"bucketless minio":    func(c *FileConfig) { c.MinioEndpoint = "localhost:9000" },
	}
	for name, mutate := range cases {
		cfg := valid
		mutate(&cfg)
		if err := validateConfig(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadWithoutFileUsesEnvironment(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")
	t.Setenv("SESSION_SECRET", "")
	if _, err := Load(missing); err == nil {
		t.Fatalf("expected sessionSecret error without a file or env")
	}

	t.Setenv("SESSION_SECRET", "0123456789abcdef0123456789abcdef")
	cfg, err := Load(missing)
	if err != nil {
		t.Fatalf("load without file: %v", err)
	}
	if cfg.Port != "8000" {
		t.Fatalf("port = %q, want 8000", cfg.Port)
	}
	if cfg.Email.Backend != "console" || cfg.PageSize != 3 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadRejectsUnreadablePath(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected error reading a directory as config")
	}
}

func TestExampleConfigLoads(t *testing.T) {
	t.Setenv("SESSION_SECRET", "0123456789abcdef0123456789abcdef")
	cfg, err := Load(filepath.Join("..", "..", "..", "..", "config.example.yaml"))
	if err != nil {
		t.Fatalf("load example config: %v", err)
	}
	if cfg.Port != "8000" || cfg.PageSize != 3 {
		t.Fatalf("unexpected example config: port=%q pageSize=%d", cfg.Port, cfg.PageSize)
	}
}
