package domain

import (
	"strings"
	"time"
)

// Password length rules for registration and resets. The upper bound is in bytes, not characters.
const (
	MinPasswordLen   = 6
	MaxPasswordBytes = 72
)

// User is an account. Username and Email are each unique; Email is stored lower-cased.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// NormalizeEmail trims and lower-cases an address so lookups match what Register stored.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// PlausibleEmail is the only shape check made on addresses: a non-empty local part and domain.
func PlausibleEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	return at > 0 && at < len(email)-1
}
