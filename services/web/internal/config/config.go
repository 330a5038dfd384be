package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/mail"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location; BOOKREVIEW_CONFIG overrides it.
var ConfigPath = "config.yaml"

const (
	defaultPort       = "8000"
	defaultSiteURL    = "http://127.0.0.1:8000"
	defaultPageSize   = 3
	defaultSessionTTL = "336h"
	fallbackFrom      = "webmaster@localhost"
)

// Admin is a site operator who receives review notifications.
type Admin struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// EmailConfig selects and configures the mail backend.
type EmailConfig struct {
	// Backend is smtp, console or memory.
	Backend  string `yaml:"backend"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	TLS      string `yaml:"tls"`
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                     string      `yaml:"port"`
	LogLevel                 string      `yaml:"logLevel"`
	DatabaseURL              string      `yaml:"databaseURL"`
	RedisAddr                string      `yaml:"redisAddr"`
	RedisPassword            string      `yaml:"redisPassword"`
	SessionSecret            string      `yaml:"sessionSecret"`
	SessionTTL               string      `yaml:"sessionTTL"`
	CookieSecure             bool        `yaml:"cookieSecure"`
	SiteURL                  string      `yaml:"siteURL"`
	PageSize                 int         `yaml:"pageSize"`
	DefaultFromEmail         string      `yaml:"defaultFromEmail"`
	EmailHostUser            string      `yaml:"emailHostUser"`
	Admins                   []Admin     `yaml:"admins"`
	Email                    EmailConfig `yaml:"email"`
	MinioEndpoint            string      `yaml:"minioEndpoint"`
	MinioAccessKey           string      `yaml:"minioAccessKey"`
	MinioSecretKey           string      `yaml:"minioSecretKey"`
	MinioBucket              string      `yaml:"minioBucket"`
	MinioUseSSL              bool        `yaml:"minioUseSSL"`
	TrustedProxyCIDRs        []string    `yaml:"trustedProxyCidrs"`
	SignupRateLimitPerMinute int         `yaml:"signupRateLimitPerMinute"`
	LoginRateLimitPerMinute  int         `yaml:"loginRateLimitPerMinute"`
	FailedLoginAlertLimit    int         `yaml:"failedLoginAlertLimit"`
}

// Load reads config from path (defaults to ConfigPath), applies env overrides and validates.
// A missing file is not an error: defaults and the environment are used instead.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}

	setString("BOOKREVIEW_PORT", &cfg.Port)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("DATABASE_URL", &cfg.DatabaseURL)
	setString("REDIS_ADDR", &cfg.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.RedisPassword)
	setString("SESSION_SECRET", &cfg.SessionSecret)
	setString("SESSION_TTL", &cfg.SessionTTL)
	setBool("COOKIE_SECURE", &cfg.CookieSecure)
	setString("SITE_URL", &cfg.SiteURL)
	setInt("BOOKREVIEW_PAGE_SIZE", &cfg.PageSize)
	setString("DEFAULT_FROM_EMAIL", &cfg.DefaultFromEmail)
	setString("EMAIL_HOST_USER", &cfg.EmailHostUser)
	setString("EMAIL_BACKEND", &cfg.Email.Backend)
	setString("EMAIL_HOST", &cfg.Email.Host)
	setInt("EMAIL_PORT", &cfg.Email.Port)
	setString("EMAIL_HOST_PASSWORD", &cfg.Email.Password)
	setString("EMAIL_TLS", &cfg.Email.TLS)
	setString("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	setString("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	setString("MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	setString("MINIO_BUCKET", &cfg.MinioBucket)
	setBool("MINIO_USE_SSL", &cfg.MinioUseSSL)
	setInt("SIGNUP_RATE_LIMIT_PER_MINUTE", &cfg.SignupRateLimitPerMinute)
	setInt("LOGIN_RATE_LIMIT_PER_MINUTE", &cfg.LoginRateLimitPerMinute)
	setInt("FAILED_LOGIN_ALERT_LIMIT", &cfg.FailedLoginAlertLimit)
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("ADMINS"); v != "" {
		cfg.Admins = parseAdmins(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if strings.TrimSpace(cfg.Port) == "" {
		cfg.Port = defaultPort
	}
	if strings.TrimSpace(cfg.SiteURL) == "" {
		cfg.SiteURL = defaultSiteURL
	}
	cfg.SiteURL = strings.TrimRight(strings.TrimSpace(cfg.SiteURL), "/")
	if cfg.PageSize == 0 {
		cfg.PageSize = defaultPageSize
	}
	if strings.TrimSpace(cfg.SessionTTL) == "" {
		cfg.SessionTTL = defaultSessionTTL
	}
	if strings.TrimSpace(cfg.Email.Backend) == "" {
		cfg.Email.Backend = "console"
	}
	if cfg.Email.Username == "" {
		cfg.Email.Username = cfg.EmailHostUser
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if len(cfg.SessionSecret) < 32 {
		return errors.New("config: sessionSecret must be at least 32 bytes (set in config.yaml or SESSION_SECRET)")
	}
	if _, err := ParseSessionTTL(cfg.SessionTTL); err != nil {
		return err
	}
	if cfg.PageSize < 1 {
		return errors.New("config: pageSize must be >= 1")
	}
	switch cfg.Email.Backend {
	case "smtp":
		if strings.TrimSpace(cfg.Email.Host) == "" {
			return errors.New("config: email.host is required for the smtp backend")
		}
	case "console", "memory":
	default:
		return fmt.Errorf("config: unknown email.backend %q", cfg.Email.Backend)
	}
	for _, a := range cfg.Admins {
		if _, err := mail.ParseAddress(a.Email); err != nil {
			return fmt.Errorf("config: invalid admin email %q", a.Email)
		}
	}
	if cfg.SignupRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 || cfg.FailedLoginAlertLimit < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" && (cfg.SignupRateLimitPerMinute > 0 || cfg.LoginRateLimitPerMinute > 0) {
		return errors.New("config: redisAddr is required when rate limits are enabled")
	}
	if cfg.MinioEndpoint != "" && cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required when minioEndpoint is set")
	}
	return nil
}

// ParseSessionTTL parses the session lifetime.
func ParseSessionTTL(ttl string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(ttl))
	if err != nil {
		return 0, fmt.Errorf("config: invalid sessionTTL: %w", err)
	}
	if d <= 0 {
		return 0, errors.New("config: sessionTTL must be positive")
	}
	return d, nil
}

// FromAddress returns the sender used for every notification.
func (c FileConfig) FromAddress() string {
	if v := strings.TrimSpace(c.DefaultFromEmail); v != "" {
		return v
	}
	if v := strings.TrimSpace(c.EmailHostUser); v != "" {
		return v
	}
	return fallbackFrom
}

// AdminEmails lists configured admin addresses in order.
func (c FileConfig) AdminEmails() []string {
	out := make([]string, 0, len(c.Admins))
	for _, a := range c.Admins {
		if e := strings.TrimSpace(a.Email); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// parseAdmins reads "Name <email>, other@example.com" lists.
func parseAdmins(value string) []Admin {
	var out []Admin
	for _, part := range splitCSV(value) {
		if addr, err := mail.ParseAddress(part); err == nil {
			out = append(out, Admin{Name: addr.Name, Email: addr.Address})
			continue
		}
		out = append(out, Admin{Email: part})
	}
	return out
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
