package repo

import (
	"context"
	"fmt"

	dom "taskboard/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CategoryRepo provides category persistence.
type CategoryRepo interface {
	GetOrCreate(ctx context.Context, userID int64, name string) (int64, error)
	ListByUser(ctx context.Context, userID int64) ([]dom.Category, error)
	DeleteOrphans(ctx context.Context) (int64, error)
}

// PGCategoryRepo implements CategoryRepo with Postgres.
type PGCategoryRepo struct {
	db *pgxpool.Pool
}

func NewPGCategoryRepo(db *pgxpool.Pool) *PGCategoryRepo {
	return &PGCategoryRepo{db: db}
}

func (r *PGCategoryRepo) GetOrCreate(ctx context.Context, userID int64, name string) (int64, error) {
	return upsertCategory(ctx, r.db, userID, name)
}

func (r *PGCategoryRepo) ListByUser(ctx context.Context, userID int64) ([]dom.Category, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, user_id FROM categories WHERE user_id = $1 ORDER BY name ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()
	list := []dom.Category{}
	for rows.Next() {
		var c dom.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.UserID); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// DeleteOrphans removes categories that no task references.
func (r *PGCategoryRepo) DeleteOrphans(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM categories c
		WHERE NOT EXISTS (SELECT 1 FROM tasks t WHERE t.category_id = c.id)`)
	if err != nil {
		return 0, fmt.Errorf("delete orphan categories: %w", err)
	}
	return tag.RowsAffected(), nil
}

// upsertCategory is get-or-create keyed on (name, user_id). The no-op update makes RETURNING
// yield the existing id on conflict, so concurrent callers converge on one row.
func upsertCategory(ctx context.Context, q querier, userID int64, name string) (int64, error) {
	query := `
		INSERT INTO categories (name, user_id)
		VALUES ($1, $2)
		ON CONFLICT (name, user_id) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`
	var id int64
	if err := q.QueryRow(ctx, query, name, userID).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert category: %w", err)
	}
	return id, nil
}
