package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"bookreview/internal/util"
	"bookreview/pkg/domain"
	"bookreview/pkg/storage"
	"bookreview/pkg/store"
	"bookreview/services/web/internal/forms"
)

// AdminBookFilter mirrors the back-office search box and sidebar filters.
type AdminBookFilter struct {
	Search     string
	Author     string
	CategoryID uint
}

// AdminListCategories returns every category.
func (a *App) AdminListCategories(ctx context.Context, actor *domain.User) ([]domain.Category, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	return a.store.ListCategories()
}

// AdminCreateCategory adds a category with a unique name.
func (a *App) AdminCreateCategory(ctx context.Context, actor *domain.User, form forms.CategoryForm) (domain.Category, error) {
	if err := requireStaff(actor); err != nil {
		return domain.Category{}, err
	}
	if err := form.Validate(); err != nil {
		return domain.Category{}, err
	}
	c := domain.Category{Name: form.Name}
	if err := a.store.CreateCategory(&c); err != nil {
		if errors.Is(err, store.ErrDuplicateCategory) {
			ve := forms.NewValidationError()
			ve.Add("name", forms.MsgCategoryExists)
			return domain.Category{}, ve
		}
		return domain.Category{}, fmt.Errorf("create category: %w", err)
	}
	return c, nil
}

// AdminListBooks lists books matching the filter.
func (a *App) AdminListBooks(ctx context.Context, actor *domain.User, f AdminBookFilter) ([]domain.Book, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	books, _, err := a.store.ListBooks(store.BookQuery{Search: f.Search, Author: f.Author, CategoryID: f.CategoryID})
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// AdminGetBook returns one book.
func (a *App) AdminGetBook(ctx context.Context, actor *domain.User, id uint) (domain.Book, error) {
	if err := requireStaff(actor); err != nil {
		return domain.Book{}, err
	}
	return a.Book(ctx, id)
}

// AdminCreateBook adds a book.
func (a *App) AdminCreateBook(ctx context.Context, actor *domain.User, form forms.BookForm) (domain.Book, error) {
	if err := requireStaff(actor); err != nil {
		return domain.Book{}, err
	}
	if err := form.Validate(true); err != nil {
		return domain.Book{}, err
	}
	var book domain.Book
	if err := a.applyBookForm(&book, form); err != nil {
		return domain.Book{}, err
	}
	if err := a.store.CreateBook(&book); err != nil {
		return domain.Book{}, bookWriteError(err)
	}
	return a.Book(ctx, book.ID)
}

// AdminUpdateBook applies the fields present in form.
func (a *App) AdminUpdateBook(ctx context.Context, actor *domain.User, id uint, form forms.BookForm) (domain.Book, error) {
	if err := requireStaff(actor); err != nil {
		return domain.Book{}, err
	}
	if err := form.Validate(false); err != nil {
		return domain.Book{}, err
	}
	book, err := a.Book(ctx, id)
	if err != nil {
		return domain.Book{}, err
	}
	if err := a.applyBookForm(&book, form); err != nil {
		return domain.Book{}, err
	}
	if err := a.store.SaveBook(book); err != nil {
		return domain.Book{}, bookWriteError(err)
	}
	return a.Book(ctx, id)
}

func (a *App) applyBookForm(book *domain.Book, form forms.BookForm) error {
	if form.Title != nil {
		book.Title = *form.Title
	}
	if form.Author != nil {
		book.Author = *form.Author
	}
	if form.Description != nil {
		book.Description = *form.Description
	}
	if form.OwnerEmail != nil {
		book.OwnerEmail = *form.OwnerEmail
	}
	if form.CategoryIDs != nil {
		book.Categories = make([]domain.Category, 0, len(*form.CategoryIDs))
		for _, id := range *form.CategoryIDs {
			book.Categories = append(book.Categories, domain.Category{ID: id})
		}
	}
	if form.OwnerID != nil {
		if *form.OwnerID == 0 {
			book.OwnerID = nil
			book.Owner = nil
			return nil
		}
		owner, ok, err := a.store.GetUserByID(*form.OwnerID)
		if err != nil {
			return fmt.Errorf("get owner: %w", err)
		}
		if !ok {
			ve := forms.NewValidationError()
			ve.Add("ownerId", "Select a valid choice. That choice is not one of the available choices.")
			return ve
		}
		book.OwnerID = &owner.ID
		book.Owner = &owner
	}
	return nil
}

func bookWriteError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		ve := forms.NewValidationError()
		ve.Add("categoryIds", "Select a valid choice. That choice is not one of the available choices.")
		return ve
	}
	return fmt.Errorf("save book: %w", err)
}

// AdminDeleteBook removes a book, its reviews and its cover.
func (a *App) AdminDeleteBook(ctx context.Context, actor *domain.User, id uint) error {
	if err := requireStaff(actor); err != nil {
		return err
	}
	book, err := a.Book(ctx, id)
	if err != nil {
		return err
	}
	if err := a.store.DeleteBook(id); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	a.dropCover(ctx, book.CoverKey)
	return nil
}

// AdminSetCover uploads a new cover image and replaces the old one.
func (a *App) AdminSetCover(ctx context.Context, actor *domain.User, id uint, r io.Reader, size int64, contentType string) (domain.Book, error) {
	if err := requireStaff(actor); err != nil {
		return domain.Book{}, err
	}
	if a.covers == nil {
		return domain.Book{}, ErrCoversDisabled
	}
	book, err := a.Book(ctx, id)
	if err != nil {
		return domain.Book{}, err
	}
	key, err := storage.CoverKey(book.ID, contentType)
	if err != nil {
		ve := forms.NewValidationError()
		ve.Add("file", "Upload a valid image. The file you uploaded was either not an image or a corrupted image.")
		return domain.Book{}, ve
	}
	if err := a.covers.Put(ctx, key, r, size, contentType); err != nil {
		return domain.Book{}, fmt.Errorf("upload cover: %w", err)
	}
	old := book.CoverKey
	book.CoverKey = key
	if err := a.store.SaveBook(book); err != nil {
		a.dropCover(ctx, key)
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	a.dropCover(ctx, old)
	return book, nil
}

func (a *App) dropCover(ctx context.Context, key string) {
	if a.covers == nil || key == "" {
		return
	}
	if err := a.covers.Delete(ctx, key); err != nil {
		util.LoggerFromContext(ctx).Warn("cover delete failed", "key", key, "err", err)
	}
}

// CoverURL presigns the cover of a book, or returns "" without one.
func (a *App) CoverURL(ctx context.Context, book domain.Book) string {
	return a.coverURL(ctx, book)
}

// AdminListReviews lists reviews matching the search box and rating filter.
func (a *App) AdminListReviews(ctx context.Context, actor *domain.User, search string, rating int) ([]domain.Review, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	reviews, err := a.store.ListReviews(store.ReviewQuery{Search: search, Rating: rating})
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	return reviews, nil
}
