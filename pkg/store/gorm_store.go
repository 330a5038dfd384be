package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"bookreview/pkg/domain"
)

const migrateLockID int64 = 51735173

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &UserProfileModel{}, &CategoryModel{}, &BookModel{}, &ReviewModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateUser inserts a user and fills in its ID.
func (s *GormStore) CreateUser(u *domain.User) error {
	model := userToModel(*u)
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateUsername
		}
		return err
	}
	*u = userFromModel(model)
	return nil
}

// SaveUser updates mutable user columns.
func (s *GormStore) SaveUser(u domain.User) error {
	return s.db.Model(&UserModel{}).
		Where("id = ?", u.ID).
		Updates(map[string]any{
			"email":         u.Email,
			"password_hash": u.PasswordHash,
			"role":          string(u.Role),
			"status":        string(u.Status),
			"updated_at":    time.Now().UTC(),
		}).Error
}

// HasUsername checks if a username is taken (case-sensitive, as usernames are).
func (s *GormStore) HasUsername(username string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("username = ?", username).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id uint) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// UserCount returns number of users.
func (s *GormStore) UserCount() (int, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// CreateProfile inserts the profile row for a user.
func (s *GormStore) CreateProfile(userID uint) (domain.UserProfile, error) {
	model := UserProfileModel{UserID: userID}
	if err := s.db.Omit("User").Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.UserProfile{}, ErrDuplicateProfile
		}
		return domain.UserProfile{}, err
	}
	return profileFromModel(model), nil
}

// GetProfile returns the profile of a user.
func (s *GormStore) GetProfile(userID uint) (domain.UserProfile, bool, error) {
	var model UserProfileModel
	if err := s.db.First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.UserProfile{}, false, nil
		}
		return domain.UserProfile{}, false, err
	}
	return profileFromModel(model), true, nil
}

// CreateCategory inserts a category; names are unique.
func (s *GormStore) CreateCategory(c *domain.Category) error {
	model := CategoryModel{Name: c.Name}
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateCategory
		}
		return err
	}
	*c = categoryFromModel(model)
	return nil
}

// ListCategories returns all categories ordered by name.
func (s *GormStore) ListCategories() ([]domain.Category, error) {
	var models []CategoryModel
	if err := s.db.Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Category, 0, len(models))
	for _, m := range models {
		res = append(res, categoryFromModel(m))
	}
	return res, nil
}

// CreateBook inserts a book together with its category links.
func (s *GormStore) CreateBook(b *domain.Book) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		categories, err := loadCategories(tx, b.Categories)
		if err != nil {
			return err
		}
		model := bookToModel(*b)
		model.Categories = categories
		if err := tx.Omit("Owner", "Categories.*").Create(&model).Error; err != nil {
			return err
		}
		*b = bookFromModel(model)
		return nil
	})
}

// SaveBook updates book columns and replaces its categories.
func (s *GormStore) SaveBook(b domain.Book) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		categories, err := loadCategories(tx, b.Categories)
		if err != nil {
			return err
		}
		res := tx.Model(&BookModel{}).
			Where("id = ?", b.ID).
			Updates(map[string]any{
				"title":       b.Title,
				"author":      b.Author,
				"description": b.Description,
				"cover_key":   b.CoverKey,
				"owner_id":    b.OwnerID,
				"owner_email": b.OwnerEmail,
				"updated_at":  time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Model(&BookModel{ID: b.ID}).Omit("Categories.*").Association("Categories").Replace(categories)
	})
}

func loadCategories(tx *gorm.DB, categories []domain.Category) ([]CategoryModel, error) {
	if len(categories) == 0 {
		return []CategoryModel{}, nil
	}
	ids := make([]uint, 0, len(categories))
	for _, c := range categories {
		ids = append(ids, c.ID)
	}
	var models []CategoryModel
	if err := tx.Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	if len(models) != len(uniqueIDs(ids)) {
		return nil, fmt.Errorf("unknown category: %w", ErrNotFound)
	}
	return models, nil
}

// GetBook retrieves a book with its categories and owner.
func (s *GormStore) GetBook(id uint) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.Preload("Categories", orderByName).Preload("Owner").First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooks returns one page of books plus the total number of matches.
// The category filter is a subquery so the many-to-many join never yields
// duplicate rows.
func (s *GormStore) ListBooks(q BookQuery) ([]domain.Book, int, error) {
	filter := func(db *gorm.DB) *gorm.DB {
		if search := strings.TrimSpace(q.Search); search != "" {
			like := "%" + escapeLike(search) + "%"
			db = db.Where("title ILIKE ? OR author ILIKE ?", like, like)
		}
		if author := strings.TrimSpace(q.Author); author != "" {
			db = db.Where("author = ?", author)
		}
		if q.CategoryID != 0 {
			db = db.Where("id IN (?)", s.db.Table("book_categories").
				Select("book_model_id").
				Where("category_model_id = ?", q.CategoryID))
		}
		return db
	}
	var total int64
	if err := s.db.Model(&BookModel{}).Scopes(filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query := s.db.Model(&BookModel{}).Scopes(filter).
		Preload("Categories", orderByName).
		Preload("Owner").
		Order("id ASC").
		Offset(q.Offset)
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	var models []BookModel
	if err := query.Find(&models).Error; err != nil {
		return nil, 0, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, int(total), nil
}

// DeleteBook removes a book, its category links and its reviews.
func (s *GormStore) DeleteBook(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&BookModel{ID: id}).Association("Categories").Clear(); err != nil {
			return err
		}
		if err := tx.Delete(&ReviewModel{}, "book_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&BookModel{}, "id = ?", id).Error
	})
}

// AverageRating returns AVG(rating) for a book; ok is false without reviews.
func (s *GormStore) AverageRating(bookID uint) (float64, bool, error) {
	var avg sql.NullFloat64
	row := s.db.Model(&ReviewModel{}).Select("AVG(rating)").Where("book_id = ?", bookID).Row()
	if err := row.Scan(&avg); err != nil {
		return 0, false, err
	}
	if !avg.Valid {
		return 0, false, nil
	}
	return avg.Float64, true, nil
}

// CreateReview inserts a review. A second review by the same user on the
// same book is rejected by the unique index and reported as ErrDuplicateReview.
func (s *GormStore) CreateReview(r *domain.Review) error {
	model := reviewToModel(*r)
	if err := s.db.Omit("Book", "User").Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateReview
		}
		return err
	}
	username, title := r.Username, r.BookTitle
	*r = reviewFromModel(model)
	r.Username, r.BookTitle = username, title
	return nil
}

// SaveReview updates rating and comment.
func (s *GormStore) SaveReview(r domain.Review) error {
	res := s.db.Model(&ReviewModel{}).
		Where("id = ?", r.ID).
		Updates(map[string]any{
			"rating":     r.Rating,
			"comment":    r.Comment,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetReview returns a review with reviewer and book title resolved.
func (s *GormStore) GetReview(id uint) (domain.Review, bool, error) {
	var model ReviewModel
	if err := s.db.Preload("User").Preload("Book").First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Review{}, false, nil
		}
		return domain.Review{}, false, err
	}
	return reviewFromModel(model), true, nil
}

// DeleteReview removes a review.
func (s *GormStore) DeleteReview(id uint) error {
	return s.db.Delete(&ReviewModel{}, "id = ?", id).Error
}

// HasReview reports whether the user already reviewed the book.
func (s *GormStore) HasReview(bookID, userID uint) (bool, error) {
	var count int64
	if err := s.db.Model(&ReviewModel{}).Where("book_id = ? AND user_id = ?", bookID, userID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListReviewsByBook returns the reviews of a book, newest first.
func (s *GormStore) ListReviewsByBook(bookID uint) ([]domain.Review, error) {
	var models []ReviewModel
	if err := s.db.Preload("User").
		Where("book_id = ?", bookID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Review, 0, len(models))
	for _, m := range models {
		res = append(res, reviewFromModel(m))
	}
	return res, nil
}

// ListReviews returns reviews across books for the back-office, newest first.
func (s *GormStore) ListReviews(q ReviewQuery) ([]domain.Review, error) {
	query := s.db.Model(&ReviewModel{}).Joins("Book").Joins("User")
	if search := strings.TrimSpace(q.Search); search != "" {
		like := "%" + escapeLike(search) + "%"
		query = query.Where(`"Book"."title" ILIKE ? OR "User"."username" ILIKE ?`, like, like)
	}
	if q.Rating != 0 {
		query = query.Where("review_models.rating = ?", q.Rating)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	var models []ReviewModel
	if err := query.Order("review_models.created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Review, 0, len(models))
	for _, m := range models {
		res = append(res, reviewFromModel(m))
	}
	return res, nil
}

func orderByName(db *gorm.DB) *gorm.DB {
	return db.Order("name ASC")
}

func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		Status:       string(u.Status),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	status := domain.UserStatus(m.Status)
	if status == "" {
		status = domain.StatusActive
	}
	role := domain.UserRole(m.Role)
	if role == "" {
		role = domain.RoleUser
	}
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         role,
		Status:       status,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func profileFromModel(m UserProfileModel) domain.UserProfile {
	return domain.UserProfile{ID: m.ID, UserID: m.UserID, Bio: m.Bio}
}

func categoryFromModel(m CategoryModel) domain.Category {
	return domain.Category{ID: m.ID, Name: m.Name}
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:          b.ID,
		Title:       b.Title,
		Author:      b.Author,
		Description: b.Description,
		CoverKey:    b.CoverKey,
		OwnerID:     b.OwnerID,
		OwnerEmail:  b.OwnerEmail,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	categories := make([]domain.Category, 0, len(m.Categories))
	for _, c := range m.Categories {
		categories = append(categories, categoryFromModel(c))
	}
	b := domain.Book{
		ID:          m.ID,
		Title:       m.Title,
		Author:      m.Author,
		Description: m.Description,
		CoverKey:    m.CoverKey,
		Categories:  categories,
		OwnerID:     m.OwnerID,
		OwnerEmail:  m.OwnerEmail,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.Owner != nil {
		owner := userFromModel(*m.Owner)
		b.Owner = &owner
	}
	return b
}

func reviewToModel(r domain.Review) ReviewModel {
	return ReviewModel{
		ID:        r.ID,
		BookID:    r.BookID,
		UserID:    r.UserID,
		Rating:    r.Rating,
		Comment:   r.Comment,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func reviewFromModel(m ReviewModel) domain.Review {
	return domain.Review{
		ID:        m.ID,
		BookID:    m.BookID,
		UserID:    m.UserID,
		Username:  m.User.Username,
		BookTitle: m.Book.Title,
		Rating:    m.Rating,
		Comment:   m.Comment,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
