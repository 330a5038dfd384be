package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"bookreview/internal/util"
	"bookreview/pkg/domain"
	"bookreview/pkg/store"
)

// BookPage is one page of the book listing.
type BookPage struct {
	Books    []domain.Book
	Query    string
	Number   int
	NumPages int
	Total    int
}

// HasPrevious reports whether a previous page exists.
func (p BookPage) HasPrevious() bool { return p.Number > 1 }

// HasNext reports whether a next page exists.
func (p BookPage) HasNext() bool { return p.Number < p.NumPages }

// PreviousNumber is the previous page number.
func (p BookPage) PreviousNumber() int { return p.Number - 1 }

// NextNumber is the next page number.
func (p BookPage) NextNumber() int { return p.Number + 1 }

// BookDetail is everything shown on a book page.
type BookDetail struct {
	Book    domain.Book
	Reviews []domain.Review
	// Average is nil when the book has no reviews.
	Average  *float64
	CoverURL string
}

// Featured returns the first books of the catalog for the home page.
func (a *App) Featured(ctx context.Context) ([]domain.Book, error) {
	books, _, err := a.store.ListBooks(store.BookQuery{Limit: featuredCount})
	if err != nil {
		return nil, fmt.Errorf("list featured books: %w", err)
	}
	return books, nil
}

// ListBooks returns one page of books whose title or author contains query.
// page is empty, a 1-based number, or "last".
func (a *App) ListBooks(ctx context.Context, query, page string) (BookPage, error) {
	query = strings.TrimSpace(query)
	number := 1
	last := false
	switch page = strings.TrimSpace(page); page {
	case "":
	case "last":
		last = true
	default:
		n, err := strconv.Atoi(page)
		if err != nil || n < 1 {
			return BookPage{}, ErrInvalidPage
		}
		number = n
	}

	q := store.BookQuery{Search: query, Offset: (number - 1) * a.pageSize, Limit: a.pageSize}
	books, total, err := a.store.ListBooks(q)
	if err != nil {
		return BookPage{}, fmt.Errorf("list books: %w", err)
	}
	numPages := max(1, (total+a.pageSize-1)/a.pageSize)
	if last && numPages > 1 {
		number = numPages
		q.Offset = (number - 1) * a.pageSize
		if books, total, err = a.store.ListBooks(q); err != nil {
			return BookPage{}, fmt.Errorf("list books: %w", err)
		}
	}
	if number > numPages {
		return BookPage{}, ErrInvalidPage
	}
	return BookPage{
		Books:    books,
		Query:    query,
		Number:   number,
		NumPages: numPages,
		Total:    total,
	}, nil
}

// Book returns a single book.
func (a *App) Book(ctx context.Context, id uint) (domain.Book, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return domain.Book{}, fmt.Errorf("get book: %w", err)
	}
	if !ok {
		return domain.Book{}, ErrNotFound
	}
	return book, nil
}

// BookDetail loads a book with its reviews, newest first, and rating average.
func (a *App) BookDetail(ctx context.Context, id uint) (BookDetail, error) {
	book, err := a.Book(ctx, id)
	if err != nil {
		return BookDetail{}, err
	}
	reviews, err := a.store.ListReviewsByBook(id)
	if err != nil {
		return BookDetail{}, fmt.Errorf("list reviews: %w", err)
	}
	detail := BookDetail{Book: book, Reviews: reviews}
	if avg, ok, err := a.store.AverageRating(id); err != nil {
		return BookDetail{}, fmt.Errorf("average rating: %w", err)
	} else if ok {
		detail.Average = &avg
	}
	detail.CoverURL = a.coverURL(ctx, book)
	return detail, nil
}

// AverageRating returns the mean rating of a book; ok is false without reviews.
func (a *App) AverageRating(ctx context.Context, bookID uint) (float64, bool, error) {
	return a.store.AverageRating(bookID)
}

// coverURL presigns the cover link. Storage errors degrade to no cover.
func (a *App) coverURL(ctx context.Context, book domain.Book) string {
	if a.covers == nil || book.CoverKey == "" {
		return ""
	}
	u, err := a.covers.PresignGet(ctx, book.CoverKey, a.coverURLTTL)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("cover presign failed", "book_id", book.ID, "err", err)
		return ""
	}
	return u
}
