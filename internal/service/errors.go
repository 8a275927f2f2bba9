package service

import "errors"

var (
	ErrMissingFields      = errors.New("username, email and password are required")
	ErrInvalidEmail       = errors.New("email is not valid")
	ErrPasswordTooShort   = errors.New("password must be at least 6 characters")
	ErrPasswordTooLong    = errors.New("password must be at most 72 bytes")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrTooManyAttempts    = errors.New("too many attempts, try again later")
	ErrResetTokenRequired = errors.New("reset token and new password are required")
	ErrInvalidResetToken  = errors.New("reset token is invalid or expired")
	ErrTitleRequired      = errors.New("title is required")
)
