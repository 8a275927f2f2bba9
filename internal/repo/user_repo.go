package repo

import (
	"context"
	"fmt"

	dom "taskboard/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepo provides user persistence.
type UserRepo interface {
	Create(ctx context.Context, username, email, passwordHash string) (dom.User, error)
	GetByID(ctx context.Context, id int64) (dom.User, error)
	// GetByLogin matches identifier against username first, then email.
	GetByLogin(ctx context.Context, identifier string) (dom.User, error)
	GetByEmail(ctx context.Context, email string) (dom.User, error)
	UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error
}

// Unique constraint names from the users migration.
const (
	ConstraintUsersUsername = "users_username_key"
	ConstraintUsersEmail    = "users_email_key"
)

const userColumns = `id, username, email, password_hash, created_at`

// PGUserRepo implements UserRepo with Postgres.
type PGUserRepo struct {
	db *pgxpool.Pool
}

// NewPGUserRepo returns a new PGUserRepo.
func NewPGUserRepo(db *pgxpool.Pool) *PGUserRepo {
	return &PGUserRepo{db: db}
}

// Create inserts a new user and returns it. Unique violations are returned unwrapped by type
// (*pgconn.PgError) so callers can tell username from email collisions.
func (r *PGUserRepo) Create(ctx context.Context, username, email, passwordHash string) (dom.User, error) {
	query := `
		INSERT INTO users (username, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING ` + userColumns
	var u dom.User
	err := r.db.QueryRow(ctx, query, username, email, passwordHash).Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt,
	)
	if err != nil {
		return dom.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (r *PGUserRepo) GetByID(ctx context.Context, id int64) (dom.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *PGUserRepo) GetByLogin(ctx context.Context, identifier string) (dom.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE username = $1 OR email = LOWER($1)
		ORDER BY (username = $1) DESC
		LIMIT 1`
	return r.getOne(ctx, query, identifier)
}

func (r *PGUserRepo) GetByEmail(ctx context.Context, email string) (dom.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *PGUserRepo) UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGUserRepo) getOne(ctx context.Context, query string, args ...any) (dom.User, error) {
	var u dom.User
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt,
	)
	if err != nil {
		return dom.User{}, notFound(err)
	}
	return u, nil
}
