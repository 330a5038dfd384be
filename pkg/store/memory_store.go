package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"bookreview/pkg/domain"
)

// MemoryStore keeps everything in-process. It enforces the same uniqueness
// rules as the Postgres schema and is used by tests and local runs.
type MemoryStore struct {
	mu         sync.RWMutex
	nextID     map[string]uint
	users      map[uint]domain.User
	profiles   map[uint]domain.UserProfile // key: user ID
	categories map[uint]domain.Category
	books      map[uint]domain.Book
	reviews    map[uint]domain.Review
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:     make(map[string]uint),
		users:      make(map[uint]domain.User),
		profiles:   make(map[uint]domain.UserProfile),
		categories: make(map[uint]domain.Category),
		books:      make(map[uint]domain.Book),
		reviews:    make(map[uint]domain.Review),
	}
}

func (m *MemoryStore) allocID(table string) uint {
	m.nextID[table]++
	return m.nextID[table]
}

// CreateUser inserts a user and fills in its ID.
func (m *MemoryStore) CreateUser(u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return ErrDuplicateUsername
		}
	}
	now := time.Now().UTC()
	u.ID = m.allocID("users")
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	m.users[u.ID] = *u
	return nil
}

// SaveUser updates mutable user columns.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Email = u.Email
	existing.PasswordHash = u.PasswordHash
	existing.Role = u.Role
	existing.Status = u.Status
	existing.UpdatedAt = time.Now().UTC()
	m.users[u.ID] = existing
	return nil
}

// HasUsername checks if a username is taken.
func (m *MemoryStore) HasUsername(username string) (bool, error) {
	_, ok, err := m.GetUserByUsername(username)
	return ok, err
}

// GetUserByUsername looks up a user by username.
func (m *MemoryStore) GetUserByUsername(username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id uint) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// UserCount returns number of users.
func (m *MemoryStore) UserCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

// CreateProfile inserts the profile row for a user.
func (m *MemoryStore) CreateProfile(userID uint) (domain.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return domain.UserProfile{}, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if _, ok := m.profiles[userID]; ok {
		return domain.UserProfile{}, ErrDuplicateProfile
	}
	p := domain.UserProfile{ID: m.allocID("profiles"), UserID: userID}
	m.profiles[userID] = p
	return p, nil
}

// GetProfile returns the profile of a user.
func (m *MemoryStore) GetProfile(userID uint) (domain.UserProfile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	return p, ok, nil
}

// ProfileCount returns the number of profiles.
func (m *MemoryStore) ProfileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.profiles)
}

// CreateCategory inserts a category; names are unique.
func (m *MemoryStore) CreateCategory(c *domain.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.categories {
		if existing.Name == c.Name {
			return ErrDuplicateCategory
		}
	}
	c.ID = m.allocID("categories")
	m.categories[c.ID] = *c
	return nil
}

// ListCategories returns all categories ordered by name.
func (m *MemoryStore) ListCategories() ([]domain.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Category, 0, len(m.categories))
	for _, c := range m.categories {
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (m *MemoryStore) resolveCategories(in []domain.Category) ([]domain.Category, error) {
	ids := make([]uint, 0, len(in))
	for _, c := range in {
		ids = append(ids, c.ID)
	}
	out := make([]domain.Category, 0, len(in))
	for _, id := range uniqueIDs(ids) {
		c, ok := m.categories[id]
		if !ok {
			return nil, fmt.Errorf("unknown category: %w", ErrNotFound)
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateBook inserts a book together with its category links.
func (m *MemoryStore) CreateBook(b *domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	categories, err := m.resolveCategories(b.Categories)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	b.ID = m.allocID("books")
	b.Categories = categories
	b.Owner = nil
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	m.books[b.ID] = *b
	b.Owner = m.ownerOf(*b)
	return nil
}

// SaveBook updates book columns and replaces its categories.
func (m *MemoryStore) SaveBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.books[b.ID]
	if !ok {
		return ErrNotFound
	}
	categories, err := m.resolveCategories(b.Categories)
	if err != nil {
		return err
	}
	b.Categories = categories
	b.Owner = nil
	b.CreatedAt = existing.CreatedAt
	b.UpdatedAt = time.Now().UTC()
	m.books[b.ID] = b
	return nil
}

func (m *MemoryStore) ownerOf(b domain.Book) *domain.User {
	if b.OwnerID == nil {
		return nil
	}
	owner, ok := m.users[*b.OwnerID]
	if !ok {
		return nil
	}
	return &owner
}

// GetBook retrieves a book with its categories and owner.
func (m *MemoryStore) GetBook(id uint) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	if !ok {
		return domain.Book{}, false, nil
	}
	b.Owner = m.ownerOf(b)
	return b, true, nil
}

// ListBooks returns one page of matching books ordered by ID plus the total.
func (m *MemoryStore) ListBooks(q BookQuery) ([]domain.Book, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	search := strings.ToLower(strings.TrimSpace(q.Search))
	author := strings.TrimSpace(q.Author)
	matches := make([]domain.Book, 0, len(m.books))
	for _, b := range m.books {
		if search != "" &&
			!strings.Contains(strings.ToLower(b.Title), search) &&
			!strings.Contains(strings.ToLower(b.Author), search) {
			continue
		}
		if author != "" && b.Author != author {
			continue
		}
		if q.CategoryID != 0 && !hasCategory(b, q.CategoryID) {
			continue
		}
		b.Owner = m.ownerOf(b)
		matches = append(matches, b)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	total := len(matches)
	start := min(max(q.Offset, 0), total)
	end := total
	if q.Limit > 0 {
		end = min(start+q.Limit, total)
	}
	return matches[start:end], total, nil
}

func hasCategory(b domain.Book, categoryID uint) bool {
	for _, c := range b.Categories {
		if c.ID == categoryID {
			return true
		}
	}
	return false
}

// DeleteBook removes a book and its reviews.
func (m *MemoryStore) DeleteBook(id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.books, id)
	for rid, r := range m.reviews {
		if r.BookID == id {
			delete(m.reviews, rid)
		}
	}
	return nil
}

// AverageRating returns the mean rating for a book; ok is false without reviews.
func (m *MemoryStore) AverageRating(bookID uint) (float64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum, n := 0, 0
	for _, r := range m.reviews {
		if r.BookID == bookID {
			sum += r.Rating
			n++
		}
	}
	if n == 0 {
		return 0, false, nil
	}
	return float64(sum) / float64(n), true, nil
}

// CreateReview inserts a review, enforcing one review per (book, user).
func (m *MemoryStore) CreateReview(r *domain.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[r.BookID]; !ok {
		return fmt.Errorf("book %d: %w", r.BookID, ErrNotFound)
	}
	if _, ok := m.users[r.UserID]; !ok {
		return fmt.Errorf("user %d: %w", r.UserID, ErrNotFound)
	}
	for _, existing := range m.reviews {
		if existing.BookID == r.BookID && existing.UserID == r.UserID {
			return ErrDuplicateReview
		}
	}
	now := time.Now().UTC()
	r.ID = m.allocID("reviews")
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	m.reviews[r.ID] = *r
	return nil
}

// SaveReview updates rating and comment.
func (m *MemoryStore) SaveReview(r domain.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.reviews[r.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Rating = r.Rating
	existing.Comment = r.Comment
	existing.UpdatedAt = time.Now().UTC()
	m.reviews[r.ID] = existing
	return nil
}

func (m *MemoryStore) resolveReview(r domain.Review) domain.Review {
	r.Username = m.users[r.UserID].Username
	r.BookTitle = m.books[r.BookID].Title
	return r
}

// GetReview returns a review with reviewer and book title resolved.
func (m *MemoryStore) GetReview(id uint) (domain.Review, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reviews[id]
	if !ok {
		return domain.Review{}, false, nil
	}
	return m.resolveReview(r), true, nil
}

// DeleteReview removes a review.
func (m *MemoryStore) DeleteReview(id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reviews, id)
	return nil
}

// HasReview reports whether the user already reviewed the book.
func (m *MemoryStore) HasReview(bookID, userID uint) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.reviews {
		if r.BookID == bookID && r.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

// ListReviewsByBook returns the reviews of a book, newest first.
func (m *MemoryStore) ListReviewsByBook(bookID uint) ([]domain.Review, error) {
	return m.listReviews(ReviewQuery{}, func(r domain.Review) bool { return r.BookID == bookID })
}

// ListReviews returns reviews matching the query, newest first.
func (m *MemoryStore) ListReviews(q ReviewQuery) ([]domain.Review, error) {
	return m.listReviews(q)
}

func (m *MemoryStore) listReviews(q ReviewQuery, extra ...func(domain.Review) bool) ([]domain.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	search := strings.ToLower(strings.TrimSpace(q.Search))
	res := make([]domain.Review, 0, len(m.reviews))
outer:
	for _, r := range m.reviews {
		r = m.resolveReview(r)
		if q.Rating != 0 && r.Rating != q.Rating {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(r.BookTitle), search) &&
			!strings.Contains(strings.ToLower(r.Username), search) {
			continue
		}
		for _, keep := range extra {
			if !keep(r) {
				continue outer
			}
		}
		res = append(res, r)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID > res[j].ID
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	if q.Limit > 0 && len(res) > q.Limit {
		res = res[:q.Limit]
	}
	return res, nil
}
