package auth

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	// bcrypt ignores everything past 72 bytes.
	maxPasswordLength = 72
)

var (
	ErrPasswordTooShort     = errors.New("password too short")
	ErrPasswordTooLong      = errors.New("password too long")
	ErrPasswordNumeric      = errors.New("password entirely numeric")
	ErrPasswordCommon       = errors.New("password too common")
	ErrPasswordLikeUsername = errors.New("password matches username")
)

var commonPasswords = map[string]struct{}{
	"password":   {},
	"password1":  {},
	"12345678":   {},
	"123456789":  {},
	"1234567890": {},
	"qwertyuiop": {},
	"iloveyou":   {},
	"sunshine":   {},
	"princess":   {},
	"football":   {},
	"baseball":   {},
	"welcome1":   {},
	"abc12345":   {},
	"letmein1":   {},
	"trustno1":   {},
	"passw0rd":   {},
	"bookreview": {},
}

// HashPassword returns a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword validates a password against a bcrypt hash.
func CheckPassword(password, stored string) bool {
	if stored == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

// ValidatePassword enforces the signup password policy. username may be empty.
func ValidatePassword(password, username string) error {
	if len(password) < minPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > maxPasswordLength {
		return ErrPasswordTooLong
	}
	if isNumeric(password) {
		return ErrPasswordNumeric
	}
	if _, ok := commonPasswords[strings.ToLower(password)]; ok {
		return ErrPasswordCommon
	}
	username = strings.TrimSpace(username)
	if username != "" && strings.EqualFold(password, username) {
		return ErrPasswordLikeUsername
	}
	return nil
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
