package server

import (
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bookreview/internal/ratelimit"
	"bookreview/internal/util"
	"bookreview/pkg/store"
	"bookreview/services/web/internal/app"
	"bookreview/services/web/internal/security"
)

const (
	sessionCookie = "sessionid"
	flashCookie   = "flash"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App     *app.App
	Flashes store.FlashStore
	// Limiters default to unlimited when nil.
	SignupLimiter ratelimit.Limiter
	LoginLimiter  ratelimit.Limiter
	// Alerter is optional.
	Alerter        *security.Alerter
	TrustedProxies *util.TrustedProxies
	CookieSecure   bool
	SessionTTL     time.Duration
}

// Server exposes the HTML pages and the admin API.
type Server struct {
	app            *app.App
	flashes        store.FlashStore
	signupLimiter  ratelimit.Limiter
	loginLimiter   ratelimit.Limiter
	alerter        *security.Alerter
	trustedProxies *util.TrustedProxies
	cookieSecure   bool
	sessionTTL     time.Duration
	pages          map[string]*template.Template
	crossOrigin    *http.CrossOriginProtection
	mux            *chi.Mux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.Flashes == nil {
		cfg.Flashes = store.NewMemoryFlashStore()
	}
	if cfg.SignupLimiter == nil {
		cfg.SignupLimiter = ratelimit.Unlimited{}
	}
	if cfg.LoginLimiter == nil {
		cfg.LoginLimiter = ratelimit.Unlimited{}
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 14 * 24 * time.Hour
	}
	pages, err := parsePages()
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:            cfg.App,
		flashes:        cfg.Flashes,
		signupLimiter:  cfg.SignupLimiter,
		loginLimiter:   cfg.LoginLimiter,
		alerter:        cfg.Alerter,
		trustedProxies: cfg.TrustedProxies,
		cookieSecure:   cfg.CookieSecure,
		sessionTTL:     cfg.SessionTTL,
		pages:          pages,
		mux:            chi.NewRouter(),
	}
	s.crossOrigin = http.NewCrossOriginProtection()
	s.crossOrigin.SetDenyHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.audit(r, "cross_origin_request", "rejected")
		s.renderError(w, r, http.StatusForbidden, "Cross-origin request rejected.")
	}))
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(s.mux)))
}

func (s *Server) routes() {
	r := s.mux
	r.Use(s.recoverer)
	r.Use(middleware.CleanPath)
	r.Use(s.crossOrigin.Handler)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.notFound(w, r)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.renderError(w, r, http.StatusMethodNotAllowed, "Method not allowed.")
	})

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.withSession)

		r.Get(pattern(RouteHome), s.handleHome)
		r.Get(pattern(RouteBookList), s.handleBookList)
		r.Get(pattern(RouteBookDetail), s.handleBookDetail)
		r.Get(pattern(RouteReviewAdd), s.handleReviewAdd)
		r.Post(pattern(RouteReviewAdd), s.handleReviewAdd)
		r.Method(http.MethodGet, pattern(RouteReviewEdit), s.loginRequired(s.handleReviewEdit))
		r.Method(http.MethodPost, pattern(RouteReviewEdit), s.loginRequired(s.handleReviewEdit))
		r.Method(http.MethodGet, pattern(RouteReviewDelete), s.loginRequired(s.handleReviewDelete))
		r.Method(http.MethodPost, pattern(RouteReviewDelete), s.loginRequired(s.handleReviewDelete))

		r.Get(pattern(RouteSignup), s.handleSignup)
		r.Post(pattern(RouteSignup), s.handleSignup)
		r.Get(pattern(RouteLogin), s.handleLogin)
		r.Post(pattern(RouteLogin), s.handleLogin)
		r.Post(pattern(RouteLogout), s.handleLogout)

		r.Route("/admin/api", func(r chi.Router) {
			r.Method(http.MethodGet, "/categories", s.staffOnly(s.handleAdminCategories))
			r.Method(http.MethodPost, "/categories", s.staffOnly(s.handleAdminCreateCategory))
			r.Method(http.MethodGet, "/books", s.staffOnly(s.handleAdminBooks))
			r.Method(http.MethodPost, "/books", s.staffOnly(s.handleAdminCreateBook))
			r.Method(http.MethodGet, "/books/{id}", s.staffOnly(s.handleAdminGetBook))
			r.Method(http.MethodPatch, "/books/{id}", s.staffOnly(s.handleAdminUpdateBook))
			r.Method(http.MethodDelete, "/books/{id}", s.staffOnly(s.handleAdminDeleteBook))
			r.Method(http.MethodPut, "/books/{id}/cover", s.staffOnly(s.handleAdminSetCover))
			r.Method(http.MethodGet, "/reviews", s.staffOnly(s.handleAdminReviews))
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// recoverer turns a handler panic into a logged 500 page.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				util.LoggerFromContext(r.Context()).Error("panic serving request", "panic", rec, "path", r.URL.Path)
				s.renderError(w, r, http.StatusInternalServerError, "Server error.")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", s.clientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

// observeFailure feeds the alerter and logs once per window when the
// threshold is crossed.
func (s *Server) observeFailure(r *http.Request, event, outcome string) {
	res, err := s.alerter.Observe(r.Context(), event, outcome, s.clientIP(r))
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("security alert counter failed", "event", event, "err", err)
		return
	}
	if res.First {
		util.LoggerFromContext(r.Context()).Warn("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", s.clientIP(r),
			"count", res.Count,
			"threshold", res.Threshold,
			"window", res.Window.String(),
		)
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, event string) bool {
	key := r.URL.Path + "|" + s.clientIP(r)
	if limiter.Allow(r.Context(), key) {
		return true
	}
	s.audit(r, event, security.OutcomeRateLimited)
	s.observeFailure(r, event, security.OutcomeRateLimited)
	w.Header().Set("Retry-After", "60")
	s.renderError(w, r, http.StatusTooManyRequests, "Too many attempts. Please try again in a minute.")
	return false
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trustedProxies)
}

func logError(r *http.Request, msg string, err error) {
	util.LoggerFromContext(r.Context()).Error(msg, "err", err, "path", r.URL.Path)
}
