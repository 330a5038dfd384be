package domain

import (
	"fmt"
	"strings"
	"time"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleStaff UserRole = "staff"
)

type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusDisabled UserStatus = "disabled"
)

const (
	MinRating = 1
	MaxRating = 5
)

type User struct {
	ID           uint       `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         UserRole   `json:"role"`
	Status       UserStatus `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// IsStaff reports whether the user may use the back-office and moderate reviews.
func (u User) IsStaff() bool {
	return u.Role == RoleStaff
}

type UserProfile struct {
	ID     uint    `json:"id"`
	UserID uint    `json:"userId"`
	Bio    *string `json:"bio,omitempty"`
}

type Category struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

type Book struct {
	ID          uint       `json:"id"`
	Title       string     `json:"title"`
	Author      string     `json:"author"`
	Description string     `json:"description"`
	CoverKey    string     `json:"-"`
	Categories  []Category `json:"categories"`
	OwnerID     *uint      `json:"ownerId,omitempty"`
	Owner       *User      `json:"-"`
	OwnerEmail  string     `json:"ownerEmail,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// URLPath returns the canonical detail path, or "" for an unsaved book.
func (b Book) URLPath() string {
	if b.ID == 0 {
		return ""
	}
	return fmt.Sprintf("/books/%d/", b.ID)
}

// OwnerEmails lists the addresses of whoever owns the book. Both the owner
// relation and the plain owner_email field are optional; the result is
// deduplicated and never contains empty entries.
func (b Book) OwnerEmails() []string {
	candidates := make([]string, 0, 2)
	if b.Owner != nil {
		candidates = append(candidates, b.Owner.Email)
	}
	candidates = append(candidates, b.OwnerEmail)

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, email := range candidates {
		email = strings.TrimSpace(email)
		if email == "" {
			continue
		}
		key := strings.ToLower(email)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, email)
	}
	return out
}

type Review struct {
	ID        uint      `json:"id"`
	BookID    uint      `json:"bookId"`
	UserID    uint      `json:"userId"`
	Username  string    `json:"username,omitempty"`
	BookTitle string    `json:"bookTitle,omitempty"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UserSaved is emitted after a user row is written.
type UserSaved struct {
	User    User
	Created bool
}

// ReviewSaved is emitted after a review row is written. Book and Author are
// resolved by the write path so consumers never reload them.
type ReviewSaved struct {
	Review  Review
	Book    Book
	Author  User
	Created bool
}

// FlashLevel classifies a one-shot status message shown on the next page.
type FlashLevel string

const (
	FlashSuccess FlashLevel = "success"
	FlashWarning FlashLevel = "warning"
	FlashError   FlashLevel = "error"
)

type Flash struct {
	Level FlashLevel `json:"level"`
	Text  string     `json:"text"`
}
