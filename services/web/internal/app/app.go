package app

import (
	"context"
	"errors"
	"time"

	"bookreview/pkg/domain"
	"bookreview/pkg/storage"
	"bookreview/pkg/store"
	"bookreview/services/web/internal/notify"
)

const (
	defaultPageSize    = 3
	defaultCoverURLTTL = 15 * time.Minute
	featuredCount      = 3
)

// EventSink receives domain events after the write that produced them has
// succeeded. Implementations must not fail the caller.
type EventSink interface {
	UserSaved(ctx context.Context, ev domain.UserSaved) notify.WelcomeOutcome
	ReviewSaved(ctx context.Context, ev domain.ReviewSaved)
}

// Config holds the collaborators of the application core.
type Config struct {
	Store    store.Store
	Sessions store.SessionStore
	Events   EventSink
	// Covers is optional; without it books have no cover images.
	Covers      storage.CoverStore
	PageSize    int
	CoverURLTTL time.Duration
}

// App implements the catalog, review, account and back-office use cases.
type App struct {
	store       store.Store
	sessions    store.SessionStore
	events      EventSink
	covers      storage.CoverStore
	pageSize    int
	coverURLTTL time.Duration
}

// New constructs the application core.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store required")
	}
	if cfg.Events == nil {
		return nil, errors.New("event sink required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.CoverURLTTL <= 0 {
		cfg.CoverURLTTL = defaultCoverURLTTL
	}
	return &App{
		store:       cfg.Store,
		sessions:    cfg.Sessions,
		events:      cfg.Events,
		covers:      cfg.Covers,
		pageSize:    cfg.PageSize,
		coverURLTTL: cfg.CoverURLTTL,
	}, nil
}

// PageSize returns the number of books per listing page.
func (a *App) PageSize() int {
	return a.pageSize
}

func requireUser(actor *domain.User) error {
	if actor == nil || actor.ID == 0 {
		return ErrUnauthenticated
	}
	return nil
}

func requireStaff(actor *domain.User) error {
	if err := requireUser(actor); err != nil {
		return err
	}
	if !actor.IsStaff() {
		return ErrForbidden
	}
	return nil
}
