package app

import (
	"context"
	"errors"
	"fmt"

	"bookreview/pkg/domain"
	"bookreview/pkg/store"
	"bookreview/services/web/internal/forms"
)

// CreateReview stores the actor's review of a book and emits ReviewSaved.
// A second review of the same book by the same user is a validation error.
func (a *App) CreateReview(ctx context.Context, actor *domain.User, bookID uint, form forms.ReviewForm) (domain.Review, error) {
	if err := requireUser(actor); err != nil {
		return domain.Review{}, err
	}
	book, err := a.Book(ctx, bookID)
	if err != nil {
		return domain.Review{}, err
	}
	exists, err := a.store.HasReview(book.ID, actor.ID)
	if err != nil {
		return domain.Review{}, fmt.Errorf("check review: %w", err)
	}
	if exists {
		return domain.Review{}, duplicateReview()
	}

	review := domain.Review{
		BookID:  book.ID,
		UserID:  actor.ID,
		Rating:  form.Rating,
		Comment: form.Comment,
	}
	if err := a.store.CreateReview(&review); err != nil {
		// lost a race with a concurrent submission
		if errors.Is(err, store.ErrDuplicateReview) {
			return domain.Review{}, duplicateReview()
		}
		return domain.Review{}, fmt.Errorf("create review: %w", err)
	}
	review.Username = actor.Username
	review.BookTitle = book.Title

	a.events.ReviewSaved(ctx, domain.ReviewSaved{Review: review, Book: book, Author: *actor, Created: true})
	return review, nil
}

func duplicateReview() error {
	ve := forms.NewValidationError()
	ve.Add(forms.NonField, forms.MsgDuplicateReview)
	return ve
}

// ReviewForEdit returns a review the actor may edit (only its author).
func (a *App) ReviewForEdit(ctx context.Context, actor *domain.User, id uint) (domain.Review, error) {
	if err := requireUser(actor); err != nil {
		return domain.Review{}, err
	}
	review, err := a.review(id)
	if err != nil {
		return domain.Review{}, err
	}
	if review.UserID != actor.ID {
		return domain.Review{}, ErrForbidden
	}
	return review, nil
}

// UpdateReview changes rating and comment of the actor's own review.
func (a *App) UpdateReview(ctx context.Context, actor *domain.User, id uint, form forms.ReviewForm) (domain.Review, error) {
	review, err := a.ReviewForEdit(ctx, actor, id)
	if err != nil {
		return domain.Review{}, err
	}
	review.Rating = form.Rating
	review.Comment = form.Comment
	if err := a.store.SaveReview(review); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Review{}, ErrNotFound
		}
		return domain.Review{}, fmt.Errorf("save review: %w", err)
	}
	book, err := a.Book(ctx, review.BookID)
	if err != nil {
		return domain.Review{}, err
	}
	a.events.ReviewSaved(ctx, domain.ReviewSaved{Review: review, Book: book, Author: *actor})
	return review, nil
}

// ReviewForDelete returns a review the actor may delete (its author or staff).
func (a *App) ReviewForDelete(ctx context.Context, actor *domain.User, id uint) (domain.Review, error) {
	if err := requireUser(actor); err != nil {
		return domain.Review{}, err
	}
	review, err := a.review(id)
	if err != nil {
		return domain.Review{}, err
	}
	if review.UserID != actor.ID && !actor.IsStaff() {
		return domain.Review{}, ErrForbidden
	}
	return review, nil
}

// DeleteReview removes a review after the same check as ReviewForDelete.
func (a *App) DeleteReview(ctx context.Context, actor *domain.User, id uint) (domain.Review, error) {
	review, err := a.ReviewForDelete(ctx, actor, id)
	if err != nil {
		return domain.Review{}, err
	}
	if err := a.store.DeleteReview(review.ID); err != nil {
		return domain.Review{}, fmt.Errorf("delete review: %w", err)
	}
	return review, nil
}

func (a *App) review(id uint) (domain.Review, error) {
	review, ok, err := a.store.GetReview(id)
	if err != nil {
		return domain.Review{}, fmt.Errorf("get review: %w", err)
	}
	if !ok {
		return domain.Review{}, ErrNotFound
	}
	return review, nil
}
