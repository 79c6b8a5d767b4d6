package models

import (
	"errors"
	"net/mail"
	"strings"
	"unicode/utf8"
)

var (
	ErrUsernameRequired = errors.New("username is required")
	ErrUsernameShort    = errors.New("name must be at least 2 characters")
	ErrEmailRequired    = errors.New("email is required")
	ErrEmailInvalid     = errors.New("invalid email address")
	ErrPasswordRequired = errors.New("password is required")
	ErrPasswordShort    = errors.New("password must be at least 6 characters")
	ErrPasswordMismatch = errors.New("passwords must match")
)

func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Username) == "" {
		return ErrUsernameRequired
	}
	if c.Password == "" {
		return ErrPasswordRequired
	}
	return nil
}

func (r Registration) Validate() error {
	name := strings.TrimSpace(r.Username)
	if name == "" {
		return ErrUsernameRequired
	}
	if utf8.RuneCountInString(name) < 2 {
		return ErrUsernameShort
	}
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	if r.Password == "" {
		return ErrPasswordRequired
	}
	if len(r.Password) < 6 {
		return ErrPasswordShort
	}
	if r.ConfirmPassword != r.Password {
		return ErrPasswordMismatch
	}
	return nil
}

func (p ProfileUpdate) Validate() error {
	if p.Username != "" && utf8.RuneCountInString(strings.TrimSpace(p.Username)) < 2 {
		return ErrUsernameShort
	}
	if p.Email != "" {
		return validateEmail(p.Email)
	}
	return nil
}

func validateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return ErrEmailRequired
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrEmailInvalid
	}
	return nil
}
