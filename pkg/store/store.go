package store

import (
	"errors"
	"time"

	"bookreview/pkg/domain"
)

var (
	ErrDuplicateUsername = errors.New("username already exists")
	ErrDuplicateCategory = errors.New("category already exists")
	ErrDuplicateReview   = errors.New("review for this book and user already exists")
	ErrDuplicateProfile  = errors.New("profile already exists")
	ErrNotFound          = errors.New("record not found")
)

// BookQuery filters and pages the book listing. Search matches title OR
// author, case-insensitively.
type BookQuery struct {
	Search     string
	Author     string
	CategoryID uint
	Offset     int
	Limit      int
}

// ReviewQuery filters the back-office review listing. Search matches the
// book title OR the reviewer's username.
type ReviewQuery struct {
	Search string
	Rating int
	Limit  int
}

// Store defines persistence operations for users, profiles, the catalog and reviews.
type Store interface {
	// users
	CreateUser(u *domain.User) error
	SaveUser(domain.User) error
	HasUsername(username string) (bool, error)
	GetUserByUsername(username string) (domain.User, bool, error)
	GetUserByID(id uint) (domain.User, bool, error)
	UserCount() (int, error)

	// profiles
	CreateProfile(userID uint) (domain.UserProfile, error)
	GetProfile(userID uint) (domain.UserProfile, bool, error)

	// categories
	CreateCategory(c *domain.Category) error
	ListCategories() ([]domain.Category, error)

	// books
	CreateBook(b *domain.Book) error
	SaveBook(domain.Book) error
	GetBook(id uint) (domain.Book, bool, error)
	ListBooks(q BookQuery) ([]domain.Book, int, error)
	DeleteBook(id uint) error
	AverageRating(bookID uint) (float64, bool, error)

	// reviews
	CreateReview(r *domain.Review) error
	SaveReview(domain.Review) error
	GetReview(id uint) (domain.Review, bool, error)
	DeleteReview(id uint) error
	HasReview(bookID, userID uint) (bool, error)
	ListReviewsByBook(bookID uint) ([]domain.Review, error)
	ListReviews(q ReviewQuery) ([]domain.Review, error)
}

// SessionStore persists browser session tokens.
type SessionStore interface {
	NewSession(userID uint) (string, error)
	GetUserIDByToken(token string) (uint, bool, error)
	DeleteSession(token string) error
}

// FlashStore keeps one-shot status messages keyed by a browser id.
type FlashStore interface {
	AddFlash(key string, f domain.Flash) error
	PopFlashes(key string) ([]domain.Flash, error)
}

// TokenRevoker tracks revoked token ids until expiry.
type TokenRevoker interface {
	Revoke(tokenID string, ttl time.Duration) error
	IsRevoked(tokenID string) (bool, error)
}
