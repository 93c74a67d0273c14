package domain

import (
	"net/mail"
	"strings"
	"time"
)

type Account struct {
	ID           string
	Email        string
	PasswordHash string
	AuthToken    string // empty until the first token is issued
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (a Account) HasToken() bool {
	return a.AuthToken != ""
}

// NormalizeEmail lower-cases and trims an address so uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeToken folds a token for case-insensitive uniqueness checks.
func NormalizeToken(token string) string {
	return strings.ToLower(token)
}

type Registration struct {
	Email                string
	Password             string
	PasswordConfirmation string
}

func (r Registration) Validate() error {
	verr := NewValidationError()

	email := strings.TrimSpace(r.Email)
	if email == "" {
		verr.Add("email", "can't be blank")
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email || !strings.Contains(email, ".") {
		verr.Add("email", "is invalid")
	}

	if r.Password == "" {
		verr.Add("password", "can't be blank")
	}
	if r.Password != r.PasswordConfirmation {
		verr.Add("password_confirmation", "doesn't match Password")
	}

	return verr.OrNil()
}
