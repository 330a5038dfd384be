package server

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"bookreview/pkg/domain"
	"bookreview/services/web/internal/app"
	"bookreview/services/web/internal/forms"
)

//go:embed templates/*.html
var templateFS embed.FS

const layoutTemplate = "templates/layout.html"

// pageData is what every page template receives.
type pageData struct {
	Title   string
	User    *domain.User
	Flashes []domain.Flash
	Page    any
}

var templateFuncs = template.FuncMap{
	"url": reverse,
	"fieldErrors": func(ve *forms.ValidationError, field string) []string {
		return ve.Field(field)
	},
	"nonFieldErrors": func(ve *forms.ValidationError) []string {
		return ve.NonFieldErrors()
	},
	"average": func(avg *float64) string {
		if avg == nil {
			return ""
		}
		return fmt.Sprintf("%.1f", *avg)
	},
	"date": func(t time.Time) string {
		return t.Format("Jan 2, 2006")
	},
}

// parsePages pairs every page template with the shared layout.
func parsePages() (map[string]*template.Template, error) {
	names, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	pages := make(map[string]*template.Template, len(names))
	for _, name := range names {
		if name == layoutTemplate {
			continue
		}
		tmpl, err := template.New(path.Base(layoutTemplate)).Funcs(templateFuncs).ParseFS(templateFS, layoutTemplate, name)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		pages[strings.TrimSuffix(path.Base(name), ".html")] = tmpl
	}
	return pages, nil
}

// render executes a page into a buffer so template failures become a 500
// instead of a half-written page.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, page, title string, data any) {
	tmpl, ok := s.pages[page]
	if !ok {
		logError(r, "render page", fmt.Errorf("unknown page %q", page))
		http.Error(w, "Server error.", http.StatusInternalServerError)
		return
	}
	pd := pageData{
		Title:   title,
		User:    currentUser(r),
		Flashes: s.popFlashes(r),
		Page:    data,
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, pd); err != nil {
		logError(r, "render page", err)
		http.Error(w, "Server error.", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

type errorPage struct {
	Status  int
	Message string
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.render(w, r, status, "error", http.StatusText(status), errorPage{Status: status, Message: msg})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	s.renderError(w, r, http.StatusNotFound, "The requested page was not found.")
}

func (s *Server) forbidden(w http.ResponseWriter, r *http.Request) {
	s.renderError(w, r, http.StatusForbidden, "You do not have permission to do that.")
}

// pageError maps an app error onto an HTML response.
func (s *Server) pageError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrNotFound), errors.Is(err, app.ErrInvalidPage):
		s.notFound(w, r)
	case errors.Is(err, app.ErrForbidden):
		s.forbidden(w, r)
	case errors.Is(err, app.ErrUnauthenticated):
		redirectToLogin(w, r)
	default:
		logError(r, "request failed", err)
		s.renderError(w, r, http.StatusInternalServerError, "Server error.")
	}
}

// redirect answers a successful form post.
func redirect(w http.ResponseWriter, r *http.Request, target string) {
	http.Redirect(w, r, target, http.StatusSeeOther)
}

type errorResponse struct {
	Error     string              `json:"error"`
	Code      string              `json:"code"`
	RequestID string              `json:"requestId,omitempty"`
	Fields    map[string][]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCode(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func writeValidation(w http.ResponseWriter, ve *forms.ValidationError) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Error:     "validation failed",
		Code:      "REQUEST_VALIDATION_FAILED",
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
		Fields:    ve.Fields,
	})
}

func errorCode(status int, msg string) string {
	switch strings.ToLower(strings.TrimSpace(msg)) {
	case "unauthorized":
		return "AUTH_REQUIRED"
	case "forbidden":
		return "ADMIN_FORBIDDEN"
	case "book not found":
		return "BOOK_NOT_FOUND"
	case "file too large":
		return "COVER_FILE_TOO_LARGE"
	case "file is required":
		return "COVER_FILE_REQUIRED"
	case "unsupported file type":
		return "COVER_UNSUPPORTED_FILE_TYPE"
	case "cover storage not configured":
		return "COVER_STORAGE_DISABLED"
	case "invalid json body":
		return "REQUEST_INVALID_BODY"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusUnauthorized:
		return "AUTH_REQUIRED"
	case http.StatusForbidden:
		return "ADMIN_FORBIDDEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
