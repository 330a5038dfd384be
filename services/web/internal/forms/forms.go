package forms

import (
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"bookreview/pkg/auth"
)

const maxSearchLen = 255

// Messages shared with the app layer.
const (
	MsgUsernameTaken   = "A user with that username already exists."
	MsgDuplicateReview = "Review with this Book and User already exists."
	MsgBadCredentials  = "Please enter a correct username and password. Note that both fields may be case-sensitive."
	MsgWholeNumber     = "Enter a whole number."
	MsgCategoryExists  = "Category with this Name already exists."
)

// SearchForm is the optional book search box.
type SearchForm struct {
	Q string `form:"q" validate:"max=255"`
}

// BindSearch reads the search form from a query string. Search never fails;
// an over-long query is truncated on a character boundary and invalid UTF-8
// is dropped.
func BindSearch(v url.Values) SearchForm {
	q := strings.ToValidUTF8(strings.TrimSpace(v.Get("q")), "")
	if len(q) > maxSearchLen {
		cut := maxSearchLen
		for cut > 0 && !utf8.RuneStart(q[cut]) {
			cut--
		}
		q = q[:cut]
	}
	return SearchForm{Q: q}
}

// ReviewForm holds the rating and comment of a review.
type ReviewForm struct {
	Rating  int    `form:"rating" validate:"gte=1,lte=5"`
	Comment string `form:"comment" validate:"required,max=5000"`
}

// BindReview parses and validates a submitted review. The comment is kept as
// typed apart from surrounding whitespace; pages escape it on output.
func BindReview(v url.Values) (ReviewForm, error) {
	ve := NewValidationError()
	f := ReviewForm{Comment: strings.TrimSpace(v.Get("comment"))}
	raw := strings.TrimSpace(v.Get("rating"))
	if raw == "" {
		ve.Add("rating", "This field is required.")
	} else if n, err := strconv.Atoi(raw); err != nil {
		ve.Add("rating", MsgWholeNumber)
	} else {
		f.Rating = n
	}
	check(f, ve)
	return f, ve.orNil()
}

// SignupForm is the account creation form.
type SignupForm struct {
	Username  string `form:"username" validate:"required,max=150,username"`
	Email     string `form:"email" validate:"required,email,max=254"`
	Password1 string `form:"password1" validate:"required"`
	Password2 string `form:"password2" validate:"required,eqfield=Password1"`
}

// BindSignup parses and validates the signup form except for username
// uniqueness, which needs the store.
func BindSignup(v url.Values) (SignupForm, error) {
	ve := NewValidationError()
	f := SignupForm{
		Username:  strings.TrimSpace(v.Get("username")),
		Email:     strings.TrimSpace(v.Get("email")),
		Password1: v.Get("password1"),
		Password2: v.Get("password2"),
	}
	check(f, ve)
	if len(ve.Field("password2")) == 0 && f.Password1 != "" {
		if err := auth.ValidatePassword(f.Password1, f.Username); err != nil {
			ve.Add("password2", passwordMessage(err))
		}
	}
	return f, ve.orNil()
}

func passwordMessage(err error) string {
	switch err {
	case auth.ErrPasswordTooShort:
		return "This password is too short. It must contain at least 8 characters."
	case auth.ErrPasswordTooLong:
		return "This password is too long."
	case auth.ErrPasswordNumeric:
		return "This password is entirely numeric."
	case auth.ErrPasswordCommon:
		return "This password is too common."
	case auth.ErrPasswordLikeUsername:
		return "The password is too similar to the username."
	default:
		return err.Error()
	}
}

// SuperuserForm is the staff account created by the createsuperuser command.
// Email is optional there.
type SuperuserForm struct {
	Username string `form:"username" validate:"required,max=150,username"`
	Email    string `form:"email" validate:"omitempty,email,max=254"`
	Password string `form:"password" validate:"required"`
}

// Validate trims and checks the form, including the password policy.
func (f *SuperuserForm) Validate() error {
	ve := NewValidationError()
	f.Username = strings.TrimSpace(f.Username)
	f.Email = strings.TrimSpace(f.Email)
	check(*f, ve)
	if len(ve.Field("password")) == 0 {
		if err := auth.ValidatePassword(f.Password, f.Username); err != nil {
			ve.Add("password", passwordMessage(err))
		}
	}
	return ve.orNil()
}

// LoginForm is the sign-in form.
type LoginForm struct {
	Username string `form:"username" validate:"required"`
	Password string `form:"password" validate:"required"`
}

// BindLogin parses and validates the login form.
func BindLogin(v url.Values) (LoginForm, error) {
	ve := NewValidationError()
	f := LoginForm{
		Username: strings.TrimSpace(v.Get("username")),
		Password: v.Get("password"),
	}
	check(f, ve)
	return f, ve.orNil()
}

// CategoryForm creates a category from the back office.
type CategoryForm struct {
	Name string `form:"name" json:"name" validate:"required,max=100"`
}

// Validate trims and checks the form.
func (f *CategoryForm) Validate() error {
	ve := NewValidationError()
	f.Name = strings.TrimSpace(f.Name)
	check(*f, ve)
	return ve.orNil()
}

// BookForm creates or edits a book from the back office. Pointer fields
// are optional on PATCH.
type BookForm struct {
	Title       *string `form:"title" json:"title" validate:"omitnil,required,max=255"`
	Author      *string `form:"author" json:"author" validate:"omitnil,required,max=255"`
	Description *string `form:"description" json:"description" validate:"omitnil,max=10000"`
	CategoryIDs *[]uint `form:"categoryIds" json:"categoryIds"`
	OwnerID     *uint   `form:"ownerId" json:"ownerId"`
	OwnerEmail  *string `form:"ownerEmail" json:"ownerEmail" validate:"omitnil,omitempty,email"`
}

// Validate trims and checks the form. When creating, title and author are required.
func (f *BookForm) Validate(creating bool) error {
	ve := NewValidationError()
	for _, s := range []*string{f.Title, f.Author, f.Description, f.OwnerEmail} {
		if s != nil {
			*s = strings.TrimSpace(*s)
		}
	}
	if creating {
		if f.Title == nil {
			ve.Add("title", "This field is required.")
		}
		if f.Author == nil {
			ve.Add("author", "This field is required.")
		}
	}
	check(*f, ve)
	return ve.orNil()
}
