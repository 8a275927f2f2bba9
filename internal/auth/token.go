package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dom "taskboard/internal/domain"
)

// Audiences keep access and reset tokens from being accepted in place of each other.
const (
	audienceAccess = "access"
	audienceReset  = "password_reset"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// AccessClaims is the payload of a bearer token.
type AccessClaims struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// ResetClaims is the payload of a password reset token. ID (jti) makes each token single-use.
type ResetClaims struct {
	UserID int64  `json:"uid"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 tokens signed with a process-wide secret.
type Tokens struct {
	secret    []byte
	accessTTL time.Duration
	resetTTL  time.Duration
	now       func() time.Time
}

func NewTokens(secret string, accessTTL, resetTTL time.Duration) *Tokens {
	return &Tokens{
		secret:    []byte(secret),
		accessTTL: accessTTL,
		resetTTL:  resetTTL,
		now:       time.Now,
	}
}

// ResetTTL is how long a reset token stays valid.
func (t *Tokens) ResetTTL() time.Duration { return t.resetTTL }

// IssueAccess signs a bearer token for u.
func (t *Tokens) IssueAccess(u dom.User) (string, error) {
	now := t.now()
	claims := AccessClaims{
		UserID:   u.ID,
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			Audience:  jwt.ClaimStrings{audienceAccess},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.accessTTL)),
		},
	}
	return t.sign(claims)
}

// VerifyAccess checks signature, audience and expiry of a bearer token.
func (t *Tokens) VerifyAccess(token string) (AccessClaims, error) {
	var claims AccessClaims
	if err := t.parse(token, &claims, audienceAccess); err != nil {
		return AccessClaims{}, err
	}
	if claims.UserID <= 0 {
		return AccessClaims{}, ErrInvalidToken
	}
	return claims, nil
}

// IssueReset signs a short-lived password reset token for u.
func (t *Tokens) IssueReset(u dom.User) (string, error) {
	now := t.now()
	claims := ResetClaims{
		UserID: u.ID,
		Email:  u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(u.ID, 10),
			Audience:  jwt.ClaimStrings{audienceReset},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.resetTTL)),
		},
	}
	return t.sign(claims)
}

// VerifyReset checks a reset token. It does not check single use; see ResetLedger.
func (t *Tokens) VerifyReset(token string) (ResetClaims, error) {
	var claims ResetClaims
	if err := t.parse(token, &claims, audienceReset); err != nil {
		return ResetClaims{}, err
	}
	if claims.ID == "" || claims.UserID <= 0 || claims.Email == "" {
		return ResetClaims{}, ErrInvalidToken
	}
	return claims, nil
}

// Remaining is the time left before claims expire, never negative.
func (t *Tokens) Remaining(claims jwt.RegisteredClaims) time.Duration {
	if claims.ExpiresAt == nil {
		return 0
	}
	d := claims.ExpiresAt.Time.Sub(t.now())
	if d < 0 {
		return 0
	}
	return d
}

func (t *Tokens) sign(claims jwt.Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (t *Tokens) parse(token string, claims jwt.Claims, audience string) error {
	if token == "" {
		return ErrInvalidToken
	}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	return mapJWTError(err)
}

// mapJWTError collapses jwt library errors into ErrExpiredToken or ErrInvalidToken.
func mapJWTError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrExpiredToken
	}
	return ErrInvalidToken
}
