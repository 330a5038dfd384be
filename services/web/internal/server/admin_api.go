package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"bookreview/pkg/domain"
	"bookreview/pkg/storage"
	"bookreview/services/web/internal/app"
	"bookreview/services/web/internal/forms"
)

const maxJSONBytes = 1 << 20

type adminBook struct {
	domain.Book
	CoverURL string `json:"coverUrl,omitempty"`
}

func (s *Server) adminBook(r *http.Request, b domain.Book) adminBook {
	return adminBook{Book: b, CoverURL: s.app.CoverURL(r.Context(), b)}
}

func (s *Server) handleAdminCategories(w http.ResponseWriter, r *http.Request, user domain.User) {
	categories, err := s.app.AdminListCategories(r.Context(), &user)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": categories, "count": len(categories)})
}

func (s *Server) handleAdminCreateCategory(w http.ResponseWriter, r *http.Request, user domain.User) {
	var form forms.CategoryForm
	if !decodeJSON(w, r, &form) {
		return
	}
	category, err := s.app.AdminCreateCategory(r.Context(), &user, form)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	s.audit(r, "admin_category_create", "success", "user_id", user.ID, "category_id", category.ID)
	writeJSON(w, http.StatusCreated, category)
}

func (s *Server) handleAdminBooks(w http.ResponseWriter, r *http.Request, user domain.User) {
	query := r.URL.Query()
	filter := app.AdminBookFilter{
		Search: strings.TrimSpace(query.Get("q")),
		Author: strings.TrimSpace(query.Get("author")),
	}
	if raw := strings.TrimSpace(query.Get("category")); raw != "" {
		id, ok := parseID(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid category")
			return
		}
		filter.CategoryID = id
	}
	books, err := s.app.AdminListBooks(r.Context(), &user, filter)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	items := make([]adminBook, 0, len(books))
	for _, b := range books {
		items = append(items, s.adminBook(r, b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) handleAdminCreateBook(w http.ResponseWriter, r *http.Request, user domain.User) {
	var form forms.BookForm
	if !decodeJSON(w, r, &form) {
		return
	}
	book, err := s.app.AdminCreateBook(r.Context(), &user, form)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	s.audit(r, "admin_book_create", "success", "user_id", user.ID, "book_id", book.ID)
	writeJSON(w, http.StatusCreated, s.adminBook(r, book))
}

func (s *Server) handleAdminGetBook(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, ok := urlID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "book not found")
		return
	}
	book, err := s.app.AdminGetBook(r.Context(), &user, id)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.adminBook(r, book))
}

func (s *Server) handleAdminUpdateBook(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, ok := urlID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "book not found")
		return
	}
	var form forms.BookForm
	if !decodeJSON(w, r, &form) {
		return
	}
	book, err := s.app.AdminUpdateBook(r.Context(), &user, id, form)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	s.audit(r, "admin_book_update", "success", "user_id", user.ID, "book_id", book.ID)
	writeJSON(w, http.StatusOK, s.adminBook(r, book))
}

func (s *Server) handleAdminDeleteBook(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, ok := urlID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "book not found")
		return
	}
	if err := s.app.AdminDeleteBook(r.Context(), &user, id); err != nil {
		s.apiError(w, r, err)
		return
	}
	s.audit(r, "admin_book_delete", "success", "user_id", user.ID, "book_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminSetCover(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, ok := urlID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "book not found")
		return
	}
	// multipart overhead on top of the image itself
	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxCoverSize+1<<20)
	if err := r.ParseMultipartForm(storage.MaxCoverSize); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	if header.Size > storage.MaxCoverSize {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, storage.MaxCoverSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	if int64(len(data)) > storage.MaxCoverSize {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	// trust the bytes, not the client's Content-Type
	contentType := http.DetectContentType(data)
	book, err := s.app.AdminSetCover(r.Context(), &user, id, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	s.audit(r, "admin_book_cover", "success", "user_id", user.ID, "book_id", book.ID, "content_type", contentType)
	writeJSON(w, http.StatusOK, s.adminBook(r, book))
}

func (s *Server) handleAdminReviews(w http.ResponseWriter, r *http.Request, user domain.User) {
	query := r.URL.Query()
	rating := 0
	if raw := strings.TrimSpace(query.Get("rating")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < domain.MinRating || n > domain.MaxRating {
			writeError(w, http.StatusBadRequest, "invalid rating")
			return
		}
		rating = n
	}
	reviews, err := s.app.AdminListReviews(r.Context(), &user, strings.TrimSpace(query.Get("q")), rating)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": reviews, "count": len(reviews)})
}

// apiError maps an app error onto the JSON error envelope.
func (s *Server) apiError(w http.ResponseWriter, r *http.Request, err error) {
	if ve, ok := forms.AsValidation(err); ok {
		writeValidation(w, ve)
		return
	}
	switch {
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "book not found")
	case errors.Is(err, app.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrCoversDisabled):
		writeError(w, http.StatusServiceUnavailable, "cover storage not configured")
	default:
		logError(r, "admin request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}
