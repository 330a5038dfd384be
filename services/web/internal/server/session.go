package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"bookreview/internal/util"
	"bookreview/pkg/domain"
)

type sessionContextKey struct{}

// requestSession is resolved once per request by withSession.
type requestSession struct {
	user     *domain.User
	token    string
	flashKey string
	// flashFresh is set when the browser has no flash cookie yet.
	flashFresh bool
	flashSent  bool
}

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

// withSession resolves the session cookie into the current user. Invalid or
// revoked tokens leave the request anonymous.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := &requestSession{}
		if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
			user, ok, err := s.app.UserBySession(r.Context(), c.Value)
			if err != nil {
				logError(r, "resolve session", err)
			}
			if ok {
				sess.user = &user
				sess.token = c.Value
			}
		}
		if c, err := r.Cookie(flashCookie); err == nil && validFlashKey(c.Value) {
			sess.flashKey = c.Value
		} else {
			sess.flashKey = util.NewID()
			sess.flashFresh = true
		}
		ctx := context.WithValue(r.Context(), sessionContextKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(r *http.Request) *requestSession {
	if sess, ok := r.Context().Value(sessionContextKey{}).(*requestSession); ok {
		return sess
	}
	return &requestSession{}
}

func currentUser(r *http.Request) *domain.User {
	return sessionFrom(r).user
}

// loginRequired redirects anonymous browsers to the login page.
func (s *Server) loginRequired(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := currentUser(r)
		if user == nil {
			redirectToLogin(w, r)
			return
		}
		next(w, r, *user)
	})
}

// redirectToLogin sends the browser to the login page, returning here afterwards.
func redirectToLogin(w http.ResponseWriter, r *http.Request) {
	target := reverse(RouteLogin) + "?next=" + url.QueryEscape(r.URL.RequestURI())
	http.Redirect(w, r, target, http.StatusFound)
}

// staffOnly guards the admin API: 401 for anonymous callers, 403 for non-staff.
func (s *Server) staffOnly(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := currentUser(r)
		if user == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !user.IsStaff() {
			s.audit(r, "admin_api", "forbidden", "user_id", user.ID)
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, *user)
	})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// addFlash queues a message for the next rendered page of this browser.
// Flash failures are logged and never fail the request.
func (s *Server) addFlash(w http.ResponseWriter, r *http.Request, level domain.FlashLevel, text string) {
	sess := sessionFrom(r)
	if sess.flashKey == "" {
		return
	}
	if err := s.flashes.AddFlash(sess.flashKey, domain.Flash{Level: level, Text: text}); err != nil {
		logError(r, "add flash", err)
		return
	}
	if sess.flashFresh && !sess.flashSent {
		http.SetCookie(w, &http.Cookie{
			Name:     flashCookie,
			Value:    sess.flashKey,
			Path:     "/",
			HttpOnly: true,
			Secure:   s.cookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
		sess.flashSent = true
	}
}

func (s *Server) popFlashes(r *http.Request) []domain.Flash {
	sess := sessionFrom(r)
	if sess.flashFresh || sess.flashKey == "" {
		return nil
	}
	flashes, err := s.flashes.PopFlashes(sess.flashKey)
	if err != nil {
		logError(r, "pop flashes", err)
		return nil
	}
	return flashes
}

func validFlashKey(v string) bool {
	v = strings.TrimSpace(v)
	return v != "" && len(v) <= 64
}

// safeNext keeps post-login redirects on this site.
func safeNext(next string) string {
	next = strings.TrimSpace(next)
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return reverse(RouteHome)
	}
	return next
}
