package store

import "time"

// GORM models used for persistence.
type UserModel struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"size:150;uniqueIndex;not null"`
	Email        string `gorm:"size:254"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"not null"`
	Status       string
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type UserProfileModel struct {
	ID     uint      `gorm:"primaryKey"`
	UserID uint      `gorm:"uniqueIndex;not null"`
	User   UserModel `gorm:"constraint:OnDelete:CASCADE"`
	Bio    *string   `gorm:"type:text"`
}

type CategoryModel struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"size:100;uniqueIndex;not null"`
}

type BookModel struct {
	ID          uint            `gorm:"primaryKey"`
	Title       string          `gorm:"size:255;not null"`
	Author      string          `gorm:"size:255;not null;index"`
	Description string          `gorm:"type:text"`
	CoverKey    string          `gorm:"size:512"`
	OwnerID     *uint           `gorm:"index"`
	Owner       *UserModel      `gorm:"constraint:OnDelete:SET NULL"`
	OwnerEmail  string          `gorm:"size:254"`
	Categories  []CategoryModel `gorm:"many2many:book_categories"`
	CreatedAt   time.Time       `gorm:"not null"`
	UpdatedAt   time.Time       `gorm:"not null"`
}

type ReviewModel struct {
	ID        uint      `gorm:"primaryKey"`
	BookID    uint      `gorm:"not null;uniqueIndex:idx_review_book_user"`
	Book      BookModel `gorm:"constraint:OnDelete:CASCADE"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_review_book_user;index"`
	User      UserModel `gorm:"constraint:OnDelete:CASCADE"`
	Rating    int       `gorm:"not null;check:chk_review_rating,rating >= 1 AND rating <= 5"`
	Comment   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`
}
