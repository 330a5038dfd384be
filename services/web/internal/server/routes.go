package server

import (
	"fmt"
	"net/url"
	"strings"
)

// Route names used by templates, redirects and notifications.
const (
	RouteHome         = "home"
	RouteBookList     = "book-list"
	RouteBookDetail   = "book-detail"
	RouteReviewAdd    = "review-add"
	RouteReviewEdit   = "review-edit"
	RouteReviewDelete = "review-delete"
	RouteSignup       = "signup"
	RouteLogin        = "login"
	RouteLogout       = "logout"
)

var routePatterns = map[string]string{
	RouteHome:         "/",
	RouteBookList:     "/books/",
	RouteBookDetail:   "/books/{id}/",
	RouteReviewAdd:    "/books/{id}/reviews/add/",
	RouteReviewEdit:   "/reviews/{id}/edit/",
	RouteReviewDelete: "/reviews/{id}/delete/",
	RouteSignup:       "/signup/",
	RouteLogin:        "/login/",
	RouteLogout:       "/logout/",
}

// Routes reverses named routes into paths. The zero value is ready to use.
type Routes struct{}

// Reverse fills the placeholders of the named route in order.
func (Routes) Reverse(name string, params ...string) (string, error) {
	pattern, ok := routePatterns[name]
	if !ok {
		return "", fmt.Errorf("unknown route %q", name)
	}
	var b strings.Builder
	rest := pattern
	used := 0
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return "", fmt.Errorf("route %q: malformed pattern", name)
		}
		if used >= len(params) {
			return "", fmt.Errorf("route %q: expected more than %d params", name, len(params))
		}
		b.WriteString(rest[:open])
		b.WriteString(url.PathEscape(params[used]))
		used++
		rest = rest[open+end+1:]
	}
	if used != len(params) {
		return "", fmt.Errorf("route %q: got %d params, want %d", name, len(params), used)
	}
	return b.String(), nil
}

// pattern returns the chi pattern of a named route.
func pattern(name string) string {
	return routePatterns[name]
}

// reverse is the template and redirect helper; unknown routes resolve to "/".
func reverse(name string, params ...any) string {
	strs := make([]string, len(params))
	for i, p := range params {
		strs[i] = fmt.Sprint(p)
	}
	path, err := Routes{}.Reverse(name, strs...)
	if err != nil {
		return "/"
	}
	return path
}
