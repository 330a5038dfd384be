package app

import "errors"

var (
	// ErrNotFound maps to a 404 page.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the actor may not touch the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthenticated is returned when an operation needs a signed-in user.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrInvalidCredentials is shown on the login form. It does not reveal
	// whether the username exists.
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserDisabled       = errors.New("user disabled")

	// ErrInvalidPage is returned for malformed or out of range page numbers.
	ErrInvalidPage = errors.New("invalid page")

	ErrCoversDisabled = errors.New("cover storage not configured")
)
