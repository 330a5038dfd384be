package server

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"bookreview/pkg/domain"
	"bookreview/services/web/internal/app"
	"bookreview/services/web/internal/forms"
)

const maxFormBytes = 1 << 20

type homePage struct {
	Books []domain.Book
}

type bookListPage struct {
	Page  app.BookPage
	Query string
}

type reviewFormPage struct {
	Book    domain.Book
	Form    forms.ReviewForm
	Errors  *forms.ValidationError
	Action  string
	Editing bool
}

type reviewDeletePage struct {
	Review domain.Review
	Book   domain.Book
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	books, err := s.app.Featured(r.Context())
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "home", "Home", homePage{Books: books})
}

func (s *Server) handleBookList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	search := forms.BindSearch(query)
	page, err := s.app.ListBooks(r.Context(), search.Q, query.Get("page"))
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "book_list", "Books", bookListPage{Page: page, Query: search.Q})
}

func (s *Server) handleBookDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		s.notFound(w, r)
		return
	}
	detail, err := s.app.BookDetail(r.Context(), id)
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "book_detail", detail.Book.Title, detail)
}

// handleReviewAdd resolves the book before asking for a login, so a missing
// book is a 404 even for anonymous visitors.
func (s *Server) handleReviewAdd(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		s.notFound(w, r)
		return
	}
	book, err := s.app.Book(r.Context(), id)
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	user := currentUser(r)
	if user == nil {
		redirectToLogin(w, r)
		return
	}
	page := reviewFormPage{Book: book, Action: reverse(RouteReviewAdd, book.ID)}
	if r.Method != http.MethodPost {
		s.render(w, r, http.StatusOK, "review_form", "Add review", page)
		return
	}

	values, ok := s.postForm(w, r)
	if !ok {
		return
	}
	form, err := forms.BindReview(values)
	page.Form = form
	if err == nil {
		_, err = s.app.CreateReview(r.Context(), user, book.ID, form)
	}
	if err != nil {
		if ve, ok := forms.AsValidation(err); ok {
			page.Errors = ve
			s.render(w, r, http.StatusOK, "review_form", "Add review", page)
			return
		}
		s.pageError(w, r, err)
		return
	}
	s.addFlash(w, r, domain.FlashSuccess, "Review added successfully.")
	redirect(w, r, reverse(RouteBookDetail, book.ID))
}

func (s *Server) handleReviewEdit(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, ok := urlID(r)
	if !ok {
		s.notFound(w, r)
		return
	}
	review, err := s.app.ReviewForEdit(r.Context(), &user, id)
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	book, err := s.app.Book(r.Context(), review.BookID)
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	page := reviewFormPage{
		Book:    book,
		Form:    forms.ReviewForm{Rating: review.Rating, Comment: review.Comment},
		Action:  reverse(RouteReviewEdit, review.ID),
		Editing: true,
	}
	if r.Method != http.MethodPost {
		s.render(w, r, http.StatusOK, "review_form", "Edit review", page)
		return
	}

	values, ok := s.postForm(w, r)
	if !ok {
		return
	}
	form, err := forms.BindReview(values)
	page.Form = form
	if err == nil {
		_, err = s.app.UpdateReview(r.Context(), &user, review.ID, form)
	}
	if err != nil {
		if ve, ok := forms.AsValidation(err); ok {
			page.Errors = ve
			s.render(w, r, http.StatusOK, "review_form", "Edit review", page)
			return
		}
		s.pageError(w, r, err)
		return
	}
	s.addFlash(w, r, domain.FlashSuccess, "Review updated successfully.")
	redirect(w, r, reverse(RouteBookDetail, review.BookID))
}

func (s *Server) handleReviewDelete(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, ok := urlID(r)
	if !ok {
		s.notFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		review, err := s.app.ReviewForDelete(r.Context(), &user, id)
		if err != nil {
			s.pageError(w, r, err)
			return
		}
		book, err := s.app.Book(r.Context(), review.BookID)
		if err != nil {
			s.pageError(w, r, err)
			return
		}
		s.render(w, r, http.StatusOK, "review_confirm_delete", "Delete review", reviewDeletePage{Review: review, Book: book})
		return
	}

	review, err := s.app.DeleteReview(r.Context(), &user, id)
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	s.audit(r, "review_delete", "success", "review_id", review.ID, "user_id", user.ID)
	s.addFlash(w, r, domain.FlashSuccess, "Review deleted successfully.")
	redirect(w, r, reverse(RouteBookList))
}

// postForm parses an urlencoded body; a malformed body gets a 400 page.
func (s *Server) postForm(w http.ResponseWriter, r *http.Request) (url.Values, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, http.StatusBadRequest, "The submitted form could not be read.")
		return nil, false
	}
	return r.PostForm, true
}

func urlID(r *http.Request) (uint, bool) {
	return parseID(chi.URLParam(r, "id"))
}

func parseID(raw string) (uint, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}
