package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	dom "taskboard/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TaskRepo provides task persistence. Every method is scoped to the owner; rows owned by
// someone else are never read or written.
type TaskRepo interface {
	List(ctx context.Context, ownerID int64, f dom.TaskFilter) ([]dom.Task, error)
	Create(ctx context.Context, ownerID int64, in dom.TaskInput) (int64, error)
	// Update reports false when the task does not exist or is not owned by ownerID.
	Update(ctx context.Context, ownerID, id int64, in dom.TaskInput) (bool, error)
	Delete(ctx context.Context, ownerID, id int64) (bool, error)
	DeleteByStatus(ctx context.Context, ownerID int64, status string) (int64, error)
}

var errNotOwned = errors.New("task not owned")

type PGTaskRepo struct {
	db *pgxpool.Pool
}

func NewPGTaskRepo(db *pgxpool.Pool) *PGTaskRepo {
	return &PGTaskRepo{db: db}
}

func (r *PGTaskRepo) List(ctx context.Context, ownerID int64, f dom.TaskFilter) ([]dom.Task, error) {
	query := `
		SELECT t.id, t.title, t.status, t.due_date, t.category_id, c.name, t.owner_id, o.username,
		       COALESCE(ARRAY_AGG(DISTINCT a.username ORDER BY a.username)
		                FILTER (WHERE a.username IS NOT NULL), '{}') AS assignees,
		       t.created_at, t.updated_at
		FROM tasks t
		JOIN users o ON o.id = t.owner_id
		LEFT JOIN categories c ON c.id = t.category_id
		LEFT JOIN task_assignees ta ON ta.task_id = t.id
		LEFT JOIN users a ON a.id = ta.user_id
		WHERE t.owner_id = $1
		  AND ($2::text = '' OR t.status = $2::text)
		  AND ($3::text = '' OR c.name = $3::text)
		  AND ($4::text = '' OR t.title ILIKE '%' || $4::text || '%')
		GROUP BY t.id, c.name, o.username
		ORDER BY t.created_at DESC, t.id DESC`
	rows, err := r.db.Query(ctx, query, ownerID, f.Status, f.Category, escapeLike(f.Query))
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	list := []dom.Task{}
	for rows.Next() {
		var t dom.Task
		if err := rows.Scan(&t.ID, &t.Title, &t.Status, &t.DueDate, &t.CategoryID, &t.Category,
			&t.OwnerID, &t.OwnerName, &t.Assignees, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// Create inserts the task, resolving its category and assignees in the same transaction.
func (r *PGTaskRepo) Create(ctx context.Context, ownerID int64, in dom.TaskInput) (int64, error) {
	var id int64
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		categoryID, err := resolveCategory(ctx, tx, ownerID, in.Category)
		if err != nil {
			return err
		}
		query := `
			INSERT INTO tasks (title, status, due_date, owner_id, category_id)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`
		if err := tx.QueryRow(ctx, query, in.Title, in.Status, in.DueDate, ownerID, categoryID).Scan(&id); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return replaceAssignees(ctx, tx, id, in.Assignees)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Update overwrites title, status, due date and category. Nothing is written, not even a new
// category, when the task is not owned by ownerID.
func (r *PGTaskRepo) Update(ctx context.Context, ownerID, id int64, in dom.TaskInput) (bool, error) {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var locked int64
		err := tx.QueryRow(ctx,
			`SELECT id FROM tasks WHERE id = $1 AND owner_id = $2 FOR UPDATE`, id, ownerID,
		).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return errNotOwned
		}
		if err != nil {
			return fmt.Errorf("lock task: %w", err)
		}

		categoryID, err := resolveCategory(ctx, tx, ownerID, in.Category)
		if err != nil {
			return err
		}
		query := `
			UPDATE tasks
			SET title = $3, status = $4, due_date = $5, category_id = $6, updated_at = NOW()
			WHERE id = $1 AND owner_id = $2`
		if _, err := tx.Exec(ctx, query, id, ownerID, in.Title, in.Status, in.DueDate, categoryID); err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		return replaceAssignees(ctx, tx, id, in.Assignees)
	})
	if errors.Is(err, errNotOwned) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *PGTaskRepo) Delete(ctx context.Context, ownerID, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM tasks WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PGTaskRepo) DeleteByStatus(ctx context.Context, ownerID int64, status string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM tasks WHERE owner_id = $1 AND status = $2`, ownerID, status)
	if err != nil {
		return 0, fmt.Errorf("delete tasks by status: %w", err)
	}
	return tag.RowsAffected(), nil
}

// resolveCategory returns nil for an empty name, otherwise the get-or-create id.
func resolveCategory(ctx context.Context, q querier, ownerID int64, name string) (*int64, error) {
	if name == "" {
		return nil, nil
	}
	id, err := upsertCategory(ctx, q, ownerID, name)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// replaceAssignees swaps the task's assignment set for the users named in usernames.
// nil leaves the set untouched; unknown usernames are dropped.
func replaceAssignees(ctx context.Context, q querier, taskID int64, usernames []string) error {
	if usernames == nil {
		return nil
	}
	if _, err := q.Exec(ctx, `DELETE FROM task_assignees WHERE task_id = $1`, taskID); err != nil {
		return fmt.Errorf("clear assignees: %w", err)
	}
	if len(usernames) == 0 {
		return nil
	}
	query := `
		INSERT INTO task_assignees (task_id, user_id)
		SELECT $1, id FROM users WHERE username = ANY($2::text[])
		ON CONFLICT DO NOTHING`
	if _, err := q.Exec(ctx, query, taskID, usernames); err != nil {
		return fmt.Errorf("insert assignees: %w", err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
