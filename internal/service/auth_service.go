package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"taskboard/internal/auth"
	dom "taskboard/internal/domain"
	"taskboard/internal/mail"
	"taskboard/internal/repo"
	"taskboard/internal/utils"

	"golang.org/x/crypto/bcrypt"
)

// ForgotPasswordMessage is returned by RequestPasswordReset no matter what happened.
const ForgotPasswordMessage = "If that email is registered, a reset link has been sent."

// resetMailTimeout bounds the background lookup and delivery started by RequestPasswordReset.
const resetMailTimeout = 30 * time.Second

// ResetLedger marks reset tokens as used.
type ResetLedger interface {
	Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, jti string) error
}

// Limiter counts every attempt per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// FailureLimiter counts only failed attempts per key.
type FailureLimiter interface {
	Exceeded(ctx context.Context, key string) (bool, error)
	Hit(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

// AuthDeps bundles AuthService collaborators.
type AuthDeps struct {
	Users       repo.UserRepo
	Tokens      *auth.Tokens
	Ledger      ResetLedger
	Mailer      mail.Sender
	LoginLimit  FailureLimiter
	ResetLimit  Limiter
	FrontendURL string
	BcryptCost  int
	Log         *slog.Logger
}

// AuthService registers users, checks credentials and runs the password reset flow.
type AuthService struct {
	users       repo.UserRepo
	tokens      *auth.Tokens
	ledger      ResetLedger
	mailer      mail.Sender
	loginLimit  FailureLimiter
	resetLimit  Limiter
	frontendURL string
	cost        int
	log         *slog.Logger

	// background reset mails
	wg sync.WaitGroup
}

func NewAuthService(d AuthDeps) *AuthService {
	cost := d.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	lg := d.Log
	if lg == nil {
		lg = slog.Default()
	}
	return &AuthService{
		users:       d.Users,
		tokens:      d.Tokens,
		ledger:      d.Ledger,
		mailer:      d.Mailer,
		loginLimit:  d.LoginLimit,
		resetLimit:  d.ResetLimit,
		frontendURL: d.FrontendURL,
		cost:        cost,
		log:         lg,
	}
}

// Register creates a new user with hashed password.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (dom.User, error) {
	username = strings.TrimSpace(username)
	email = dom.NormalizeEmail(email)
	if username == "" || email == "" || password == "" {
		return dom.User{}, ErrMissingFields
	}
	if !dom.PlausibleEmail(email) {
		return dom.User{}, ErrInvalidEmail
	}
	if err := checkPassword(password); err != nil {
		return dom.User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return dom.User{}, err
	}
	u, err := s.users.Create(ctx, username, email, string(hash))
	if err != nil {
		if constraint, ok := utils.PGUniqueConstraint(err); ok {
			if constraint == repo.ConstraintUsersEmail {
				return dom.User{}, ErrEmailTaken
			}
			return dom.User{}, ErrUsernameTaken
		}
		return dom.User{}, err
	}
	return u, nil
}

// Login looks the user up by username or email and returns a signed bearer token. Only failed
// attempts count toward the throttle; a successful login clears them.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (string, dom.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return "", dom.User{}, ErrInvalidCredentials
	}
	if s.loginLimit != nil {
		over, err := s.loginLimit.Exceeded(ctx, identifier)
		if err != nil {
			return "", dom.User{}, fmt.Errorf("throttle: %w", err)
		}
		if over {
			return "", dom.User{}, ErrTooManyAttempts
		}
	}
	u, err := s.users.GetByLogin(ctx, identifier)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.loginFailed(ctx, identifier)
			return "", dom.User{}, ErrUserNotFound
		}
		return "", dom.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		s.loginFailed(ctx, identifier)
		return "", dom.User{}, ErrInvalidCredentials
	}
	token, err := s.tokens.IssueAccess(u)
	if err != nil {
		return "", dom.User{}, err
	}
	if s.loginLimit != nil {
		if err := s.loginLimit.Reset(ctx, identifier); err != nil {
			s.log.WarnContext(ctx, "login throttle reset", slog.String("error", err.Error()))
		}
	}
	return token, u, nil
}

func (s *AuthService) loginFailed(ctx context.Context, identifier string) {
	if s.loginLimit == nil {
		return
	}
	if err := s.loginLimit.Hit(ctx, identifier); err != nil {
		s.log.WarnContext(ctx, "login throttle hit", slog.String("error", err.Error()))
	}
}

// RequestPasswordReset mails a reset link when email belongs to a user. The lookup and delivery run
// in the background so the reply takes the same time either way; the caller always gets
// ForgotPasswordMessage and failures are only logged.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) string {
	email = dom.NormalizeEmail(email)
	if email == "" {
		return ForgotPasswordMessage
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resetMailTimeout)
		defer cancel()
		if err := s.allow(ctx, s.resetLimit, email); err != nil {
			s.log.WarnContext(ctx, "password reset throttled", slog.String("error", err.Error()))
			return
		}
		if err := s.sendReset(ctx, email); err != nil {
			s.log.ErrorContext(ctx, "password reset mail", slog.String("error", err.Error()))
		}
	}()
	return ForgotPasswordMessage
}

// Wait blocks until every reset mail started by RequestPasswordReset has finished.
func (s *AuthService) Wait() {
	s.wg.Wait()
}

func (s *AuthService) sendReset(ctx context.Context, email string) error {
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup: %w", err)
	}
	token, err := s.tokens.IssueReset(u)
	if err != nil {
		return err
	}
	msg, err := mail.ResetPasswordMessage(u.Email, mail.ResetLink(s.frontendURL, token), s.tokens.ResetTTL())
	if err != nil {
		return err
	}
	return s.mailer.Send(ctx, msg)
}

// CompletePasswordReset verifies a reset token, burns it, and stores the new password hash.
// If the password cannot be stored the token is released so the same link can be retried.
func (s *AuthService) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" || newPassword == "" {
		return ErrResetTokenRequired
	}
	if err := checkPassword(newPassword); err != nil {
		return err
	}
	claims, err := s.tokens.VerifyReset(token)
	if err != nil {
		return ErrInvalidResetToken
	}
	u, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrInvalidResetToken
		}
		return err
	}
	if u.Email != claims.Email {
		return ErrInvalidResetToken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return err
	}
	first, err := s.ledger.Consume(ctx, claims.ID, s.tokens.Remaining(claims.RegisteredClaims))
	if err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}
	if !first {
		return ErrInvalidResetToken
	}
	if err := s.users.UpdatePasswordHash(ctx, u.ID, string(hash)); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrInvalidResetToken
		}
		if rerr := s.ledger.Release(context.WithoutCancel(ctx), claims.ID); rerr != nil {
			s.log.ErrorContext(ctx, "release reset token", slog.String("error", rerr.Error()))
		}
		return err
	}
	return nil
}

func (s *AuthService) allow(ctx context.Context, l Limiter, key string) error {
	if l == nil {
		return nil
	}
	ok, err := l.Allow(ctx, key)
	if err != nil {
		return fmt.Errorf("throttle: %w", err)
	}
	if !ok {
		return ErrTooManyAttempts
	}
	return nil
}

// checkPassword enforces the length rules; bcrypt reads at most MaxPasswordBytes.
func checkPassword(password string) error {
	if len(password) < dom.MinPasswordLen {
		return ErrPasswordTooShort
	}
	if len(password) > dom.MaxPasswordBytes {
		return ErrPasswordTooLong
	}
	return nil
}
