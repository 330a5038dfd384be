package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"bookreview/internal/ratelimit"
	"bookreview/internal/util"
	"bookreview/pkg/mail"
	"bookreview/pkg/storage"
	"bookreview/pkg/store"
	"bookreview/services/web/internal/app"
	"bookreview/services/web/internal/config"
	"bookreview/services/web/internal/notify"
	"bookreview/services/web/internal/security"
	"bookreview/services/web/internal/server"
)

// deps is everything the commands need, built from one config.
type deps struct {
	app            *app.App
	flashes        store.FlashStore
	signupLimiter  ratelimit.Limiter
	loginLimiter   ratelimit.Limiter
	alerter        *security.Alerter
	trustedProxies *util.TrustedProxies
	sessionTTL     time.Duration
	// ephemeral is true when data lives only in process memory.
	ephemeral bool
	closers   []func() error
}

// Close releases connections in reverse order of creation.
func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			slog.Warn("close dependency", "err", err)
		}
	}
}

func build(ctx context.Context, cfg config.FileConfig) (*deps, error) {
	d := &deps{}
	ok := false
	defer func() {
		if !ok {
			d.Close()
		}
	}()

	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		return nil, err
	}
	d.sessionTTL = sessionTTL

	var st store.Store
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		gs, err := store.NewGormStore(dsn)
		if err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
		d.closers = append(d.closers, gs.Close)
		st = gs
	} else {
		slog.Warn("databaseURL not set; using in-memory store")
		st = store.NewMemoryStore()
		d.ephemeral = true
	}

	var revoker store.TokenRevoker = store.NewMemoryTokenRevoker()
	d.flashes = store.NewMemoryFlashStore()
	d.signupLimiter = ratelimit.Unlimited{}
	d.loginLimiter = ratelimit.Unlimited{}
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.RedisPassword})
		d.closers = append(d.closers, client.Close)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		revoker = store.NewRedisTokenRevoker(client)
		d.flashes = store.NewRedisFlashStore(client)
		d.alerter = security.NewAlerter(client, "bookreview:alerts", cfg.FailedLoginAlertLimit)
		if n := cfg.SignupRateLimitPerMinute; n > 0 {
			if d.signupLimiter, err = ratelimit.NewFixedWindowLimiter(client, "bookreview:ratelimit:signup", n, time.Minute); err != nil {
				return nil, err
			}
		}
		if n := cfg.LoginRateLimitPerMinute; n > 0 {
			if d.loginLimiter, err = ratelimit.NewFixedWindowLimiter(client, "bookreview:ratelimit:login", n, time.Minute); err != nil {
				return nil, err
			}
		}
	} else {
		slog.Warn("redisAddr not set; sessions revocations and flash messages stay in process")
	}

	sessions, err := store.NewJWTSessionStore(cfg.SessionSecret, sessionTTL, revoker)
	if err != nil {
		return nil, fmt.Errorf("init sessions: %w", err)
	}

	sender, err := mailSender(cfg)
	if err != nil {
		return nil, err
	}
	notifier := notify.New(notify.Config{
		From:            cfg.FromAddress(),
		Admins:          cfg.AdminEmails(),
		OperatorMailbox: cfg.EmailHostUser,
		SiteURL:         cfg.SiteURL,
		Routes:          server.Routes{},
	}, st, sender)

	var covers storage.CoverStore
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		ms, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("init cover storage: %w", err)
		}
		covers = ms
	}

	d.app, err = app.New(app.Config{
		Store:    st,
		Sessions: sessions,
		Events:   notifier,
		Covers:   covers,
		PageSize: cfg.PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("init app: %w", err)
	}

	d.trustedProxies, err = util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("parse trustedProxyCidrs: %w", err)
	}
	ok = true
	return d, nil
}

func mailSender(cfg config.FileConfig) (mail.Sender, error) {
	switch cfg.Email.Backend {
	case "smtp":
		s, err := mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			TLS:      cfg.Email.TLS,
		})
		if err != nil {
			return nil, fmt.Errorf("init smtp: %w", err)
		}
		return s, nil
	case "memory":
		return &mail.Outbox{}, nil
	default:
		return mail.ConsoleSender{Logger: slog.Default()}, nil
	}
}
