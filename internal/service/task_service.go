package service

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"taskboard/internal/cache"
	dom "taskboard/internal/domain"
	"taskboard/internal/repo"

	"golang.org/x/sync/singleflight"
)

// TaskService enforces task validation and ownership on top of the repositories.
type TaskService struct {
	repo       repo.TaskRepo
	categories repo.CategoryRepo
	cache      *cache.TaskCache
	sf         singleflight.Group
	log        *slog.Logger
}

// NewTaskService creates a TaskService. If c is nil, caching is disabled.
func NewTaskService(r repo.TaskRepo, categories repo.CategoryRepo, c *cache.TaskCache, log *slog.Logger) *TaskService {
	if log == nil {
		log = slog.Default()
	}
	return &TaskService{repo: r, categories: categories, cache: c, log: log}
}

// List returns the caller's own tasks, newest first.
func (s *TaskService) List(ctx context.Context, ownerID int64, f dom.TaskFilter) ([]dom.Task, error) {
	f = normalizeFilter(f)
	if s.cache == nil {
		return s.repo.List(ctx, ownerID, f)
	}
	ver, err := s.cache.Version(ctx, ownerID)
	if err != nil {
		s.log.WarnContext(ctx, "task cache version", slog.String("error", err.Error()))
		return s.repo.List(ctx, ownerID, f)
	}
	key := "list:" + strconv.FormatInt(ownerID, 10) + ":" + strconv.FormatInt(ver, 10) + ":" +
		f.Status + "\x00" + f.Category + "\x00" + strings.ToLower(f.Query)
	v, err, _ := s.sf.Do(key, func() (interface{}, error) {
		if list, err := s.cache.GetList(ctx, ownerID, ver, f); err == nil && list != nil {
			return list, nil
		}
		list, err := s.repo.List(ctx, ownerID, f)
		if err != nil {
			return nil, err
		}
		if err := s.cache.SetList(ctx, ownerID, ver, f, list); err != nil {
			s.log.WarnContext(ctx, "task cache set", slog.String("error", err.Error()))
		}
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]dom.Task), nil
}

// Create validates and stores a new task owned by ownerID.
func (s *TaskService) Create(ctx context.Context, ownerID int64, in dom.TaskInput) (int64, error) {
	in, err := normalizeInput(in)
	if err != nil {
		return 0, err
	}
	id, err := s.repo.Create(ctx, ownerID, in)
	if err != nil {
		return 0, err
	}
	s.invalidateCache(ctx, ownerID)
	return id, nil
}

// Update replaces the writable fields of a task. A task the caller does not own is left
// untouched and no error is returned, so existence is not revealed.
func (s *TaskService) Update(ctx context.Context, ownerID, id int64, in dom.TaskInput) error {
	in, err := normalizeInput(in)
	if err != nil {
		return err
	}
	updated, err := s.repo.Update(ctx, ownerID, id, in)
	if err != nil {
		return err
	}
	if updated {
		s.invalidateCache(ctx, ownerID)
	}
	return nil
}

// Delete removes a task the caller owns; otherwise it is a silent no-op.
func (s *TaskService) Delete(ctx context.Context, ownerID, id int64) error {
	deleted, err := s.repo.Delete(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if deleted {
		s.invalidateCache(ctx, ownerID)
	}
	return nil
}

// ClearCompleted deletes the caller's tasks whose status is exactly "Completed".
func (s *TaskService) ClearCompleted(ctx context.Context, ownerID int64) (int64, error) {
	n, err := s.repo.DeleteByStatus(ctx, ownerID, dom.StatusCompleted)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidateCache(ctx, ownerID)
	}
	return n, nil
}

// Categories lists the caller's categories by name.
func (s *TaskService) Categories(ctx context.Context, ownerID int64) ([]dom.Category, error) {
	return s.categories.ListByUser(ctx, ownerID)
}

func (s *TaskService) invalidateCache(ctx context.Context, ownerID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateOwner(ctx, ownerID); err != nil {
		s.log.WarnContext(ctx, "task cache invalidate", slog.Int64("owner_id", ownerID), slog.String("error", err.Error()))
	}
}

func normalizeInput(in dom.TaskInput) (dom.TaskInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return dom.TaskInput{}, ErrTitleRequired
	}
	in.Status = strings.TrimSpace(in.Status)
	if in.Status == "" {
		in.Status = dom.StatusPending
	}
	in.Category = strings.TrimSpace(in.Category)
	return in, nil
}

func normalizeFilter(f dom.TaskFilter) dom.TaskFilter {
	f.Status = strings.TrimSpace(f.Status)
	if strings.EqualFold(f.Status, "all") {
		f.Status = ""
	}
	f.Category = strings.TrimSpace(f.Category)
	f.Query = strings.TrimSpace(f.Query)
	return f
}
