package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bookreview/pkg/auth"
	"bookreview/pkg/domain"
	"bookreview/pkg/store"
	"bookreview/services/web/internal/forms"
	"bookreview/services/web/internal/notify"
)

// SignUp creates a regular account and emits UserSaved. The returned outcome
// reports what happened to the welcome email.
func (a *App) SignUp(ctx context.Context, form forms.SignupForm) (domain.User, notify.WelcomeOutcome, error) {
	user, err := a.createUser(form.Username, form.Email, form.Password1, domain.RoleUser)
	if err != nil {
		return domain.User{}, "", err
	}
	outcome := a.events.UserSaved(ctx, domain.UserSaved{User: user, Created: true})
	return user, outcome, nil
}

// CreateSuperuser creates a staff account from the command line.
func (a *App) CreateSuperuser(ctx context.Context, username, email, password string) (domain.User, error) {
	form := forms.SuperuserForm{Username: username, Email: email, Password: password}
	if err := form.Validate(); err != nil {
		return domain.User{}, err
	}
	user, err := a.createUser(form.Username, form.Email, form.Password, domain.RoleStaff)
	if err != nil {
		return domain.User{}, err
	}
	a.events.UserSaved(ctx, domain.UserSaved{User: user, Created: true})
	return user, nil
}

func (a *App) createUser(username, email, password string, role domain.UserRole) (domain.User, error) {
	taken, err := a.store.HasUsername(username)
	if err != nil {
		return domain.User{}, fmt.Errorf("check username: %w", err)
	}
	if taken {
		return domain.User{}, usernameTaken()
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Status:       domain.StatusActive,
	}
	if err := a.store.CreateUser(&user); err != nil {
		if errors.Is(err, store.ErrDuplicateUsername) {
			return domain.User{}, usernameTaken()
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func usernameTaken() error {
	ve := forms.NewValidationError()
	ve.Add("username", forms.MsgUsernameTaken)
	return ve
}

// Login checks credentials and issues a session token.
func (a *App) Login(ctx context.Context, username, password string) (domain.User, string, error) {
	user, ok, err := a.store.GetUserByUsername(strings.TrimSpace(username))
	if err != nil {
		return domain.User{}, "", fmt.Errorf("get user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if user.Status == domain.StatusDisabled {
		return domain.User{}, "", ErrUserDisabled
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("new session: %w", err)
	}
	return user, token, nil
}

// Logout revokes a session token.
func (a *App) Logout(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	return a.sessions.DeleteSession(token)
}

// UserBySession resolves the active user of a session token.
func (a *App) UserBySession(ctx context.Context, token string) (domain.User, bool, error) {
	if strings.TrimSpace(token) == "" {
		return domain.User{}, false, nil
	}
	id, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false, err
	}
	user, ok, err := a.store.GetUserByID(id)
	if err != nil || !ok {
		return domain.User{}, false, err
	}
	if user.Status == domain.StatusDisabled {
		return domain.User{}, false, nil
	}
	return user, true, nil
}
