// Package forms binds submitted values into typed forms and validates them.
package forms

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// NonField is the key for errors that belong to the form as a whole.
const NonField = "__all__"

var usernamePattern = regexp.MustCompile(`^[\p{L}\p{N}_.@+-]+$`)

// ValidationError maps field names to messages. The server re-renders the
// originating form with it.
type ValidationError struct {
	Fields map[string][]string
}

// NewValidationError returns an empty error ready for Add.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string][]string)}
}

// Add records a message for field; use NonField for form-level errors.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// Has reports whether any field has errors.
func (e *ValidationError) Has() bool {
	return e != nil && len(e.Fields) > 0
}

// Field returns the messages for one field.
func (e *ValidationError) Field(name string) []string {
	if e == nil {
		return nil
	}
	return e.Fields[name]
}

// NonFieldErrors returns the form-level messages.
func (e *ValidationError) NonFieldErrors() []string {
	return e.Field(NonField)
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], " "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// orNil returns nil for an empty error so callers can `return ve.orNil()`.
func (e *ValidationError) orNil() error {
	if !e.Has() {
		return nil
	}
	return e
}

// AsValidation unwraps a *ValidationError from err.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("form"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return v
}

// check runs struct validation and merges the results into ve.
func check(form any, ve *ValidationError) {
	err := validate.Struct(form)
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		ve.Add(NonField, err.Error())
		return
	}
	for _, fe := range fieldErrs {
		if len(ve.Field(fe.Field())) > 0 {
			continue
		}
		ve.Add(fe.Field(), friendlyMessage(fe))
	}
}

func friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "max":
		return fmt.Sprintf("Ensure this value has at most %s characters.", e.Param())
	case "gte", "min":
		return "Ensure this value is greater than or equal to " + e.Param() + "."
	case "lte":
		return "Ensure this value is less than or equal to " + e.Param() + "."
	case "username":
		return "Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters."
	case "eqfield":
		return "The two password fields didn't match."
	default:
		return "Enter a valid value."
	}
}
