package identity

import (
	"net/mail"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	minHandleLength = 3
	maxHandleLength = 32
	maxNameLength   = 64
	maxEmailLength  = 254
)

func validationError(msg string) *Error {
	return newError(ErrValidation, msg)
}

func normalizeName(name string) (string, *Error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", validationError("please tell us your name")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", validationError("name must have at most 64 characters")
	}
	return name, nil
}

func normalizeHandle(handle string) (string, *Error) {
	handle = strings.ToLower(strings.TrimSpace(handle))
	if handle == "" {
		return "", validationError("please provide a username")
	}
	if len(handle) < minHandleLength || len(handle) > maxHandleLength {
		return "", validationError("username must have between 3 and 32 characters")
	}
	for _, r := range handle {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
		default:
			return "", validationError("username may only contain letters, digits, '.', '_' and '-'")
		}
	}
	return handle, nil
}

func normalizeEmail(email string) (string, *Error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", validationError("please provide your email")
	}
	if len(email) > maxEmailLength {
		return "", validationError("please provide a valid email")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndexByte(email, '@')+1:], ".") {
		return "", validationError("please provide a valid email")
	}
	return email, nil
}

func (e *Engine) validateNewPassword(password, confirm string) *Error {
	if password == "" {
		return validationError("please provide a password")
	}
	if len(password) < e.config.Password.MinLength {
		return validationError("password must have at least " + strconv.Itoa(e.config.Password.MinLength) + " characters")
	}
	if len(password) > e.config.Password.MaxLength {
		return validationError("password must have at most " + strconv.Itoa(e.config.Password.MaxLength) + " characters")
	}
	if password != confirm {
		return validationError("passwords are not the same")
	}
	return nil
}
