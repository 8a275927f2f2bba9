// Package repofakes provides in-memory implementations of the repo interfaces for tests.
package repofakes

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	dom "taskboard/internal/domain"
	"taskboard/internal/mail"
	"taskboard/internal/repo"
)

// Store is an in-memory database shared by the fake repos, so tasks can resolve usernames.
type Store struct {
	mu         sync.Mutex
	now        func() time.Time
	nextID     int64
	users      map[int64]dom.User
	categories map[int64]dom.Category
	tasks      map[int64]dom.Task
	assignees  map[int64]map[int64]struct{}

	// Fail, when set, is returned by every task write.
	Fail error
	// FailPasswordUpdate, when set, is returned by UserRepo.UpdatePasswordHash.
	FailPasswordUpdate error
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		now:        time.Now,
		users:      make(map[int64]dom.User),
		categories: make(map[int64]dom.Category),
		tasks:      make(map[int64]dom.Task),
		assignees:  make(map[int64]map[int64]struct{}),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// Users returns a UserRepo backed by s.
func (s *Store) Users() *UserRepo { return &UserRepo{s: s} }

// Tasks returns a TaskRepo backed by s.
func (s *Store) Tasks() *TaskRepo { return &TaskRepo{s: s} }

// Categories returns a CategoryRepo backed by s.
func (s *Store) Categories() *CategoryRepo { return &CategoryRepo{s: s} }

// TaskCount returns the number of stored tasks across all owners.
func (s *Store) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// UserRepo is an in-memory repo.UserRepo. Collisions return the same *pgconn.PgError
// Postgres would, naming the violated constraint.
type UserRepo struct{ s *Store }

func (r *UserRepo) Create(_ context.Context, username, email, passwordHash string) (dom.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Username == username {
			return dom.User{}, &pgconn.PgError{Code: "23505", ConstraintName: repo.ConstraintUsersUsername}
		}
		if u.Email == email {
			return dom.User{}, &pgconn.PgError{Code: "23505", ConstraintName: repo.ConstraintUsersEmail}
		}
	}
	u := dom.User{ID: r.s.id(), Username: username, Email: email, PasswordHash: passwordHash, CreatedAt: r.s.now()}
	r.s.users[u.ID] = u
	return u, nil
}

func (r *UserRepo) GetByID(_ context.Context, id int64) (dom.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return dom.User{}, repo.ErrNotFound
	}
	return u, nil
}

func (r *UserRepo) GetByLogin(_ context.Context, identifier string) (dom.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Username == identifier {
			return u, nil
		}
	}
	for _, u := range r.s.users {
		if u.Email == strings.ToLower(identifier) {
			return u, nil
		}
	}
	return dom.User{}, repo.ErrNotFound
}

func (r *UserRepo) GetByEmail(_ context.Context, email string) (dom.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return dom.User{}, repo.ErrNotFound
}

func (r *UserRepo) UpdatePasswordHash(_ context.Context, id int64, passwordHash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailPasswordUpdate != nil {
		return r.s.FailPasswordUpdate
	}
	u, ok := r.s.users[id]
	if !ok {
		return repo.ErrNotFound
	}
	u.PasswordHash = passwordHash
	r.s.users[id] = u
	return nil
}

// CategoryRepo is an in-memory repo.CategoryRepo.
type CategoryRepo struct{ s *Store }

func (r *CategoryRepo) GetOrCreate(_ context.Context, userID int64, name string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.getOrCreateCategory(userID, name), nil
}

func (r *CategoryRepo) ListByUser(_ context.Context, userID int64) ([]dom.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []dom.Category{}
	for _, c := range r.s.categories {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *CategoryRepo) DeleteOrphans(_ context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	used := make(map[int64]bool)
	for _, t := range r.s.tasks {
		if t.CategoryID != nil {
			used[*t.CategoryID] = true
		}
	}
	var n int64
	for id := range r.s.categories {
		if !used[id] {
			delete(r.s.categories, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) getOrCreateCategory(userID int64, name string) int64 {
	for _, c := range s.categories {
		if c.UserID == userID && c.Name == name {
			return c.ID
		}
	}
	c := dom.Category{ID: s.id(), Name: name, UserID: userID}
	s.categories[c.ID] = c
	return c.ID
}

// TaskRepo is an in-memory repo.TaskRepo with the same owner scoping as the Postgres one.
type TaskRepo struct{ s *Store }

func (r *TaskRepo) List(_ context.Context, ownerID int64, f dom.TaskFilter) ([]dom.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []dom.Task{}
	for _, t := range r.s.tasks {
		if t.OwnerID != ownerID {
			continue
		}
		t = r.s.hydrate(t)
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Category != "" && (t.Category == nil || *t.Category != f.Category) {
			continue
		}
		if f.Query != "" && !strings.Contains(strings.ToLower(t.Title), strings.ToLower(f.Query)) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *TaskRepo) Create(_ context.Context, ownerID int64, in dom.TaskInput) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Fail != nil {
		return 0, r.s.Fail
	}
	now := r.s.now()
	t := dom.Task{ID: r.s.id(), OwnerID: ownerID, CreatedAt: now}
	r.s.apply(&t, in, now)
	r.s.tasks[t.ID] = t
	r.s.replaceAssignees(t.ID, in.Assignees)
	return t.ID, nil
}

func (r *TaskRepo) Update(_ context.Context, ownerID, id int64, in dom.TaskInput) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Fail != nil {
		return false, r.s.Fail
	}
	t, ok := r.s.tasks[id]
	if !ok || t.OwnerID != ownerID {
		return false, nil
	}
	r.s.apply(&t, in, r.s.now())
	r.s.tasks[id] = t
	r.s.replaceAssignees(id, in.Assignees)
	return true, nil
}

func (r *TaskRepo) Delete(_ context.Context, ownerID, id int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Fail != nil {
		return false, r.s.Fail
	}
	t, ok := r.s.tasks[id]
	if !ok || t.OwnerID != ownerID {
		return false, nil
	}
	delete(r.s.tasks, id)
	delete(r.s.assignees, id)
	return true, nil
}

func (r *TaskRepo) DeleteByStatus(_ context.Context, ownerID int64, status string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Fail != nil {
		return 0, r.s.Fail
	}
	var n int64
	for id, t := range r.s.tasks {
		if t.OwnerID == ownerID && t.Status == status {
			delete(r.s.tasks, id)
			delete(r.s.assignees, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) apply(t *dom.Task, in dom.TaskInput, now time.Time) {
	t.Title = in.Title
	t.Status = in.Status
	t.DueDate = in.DueDate
	t.CategoryID = nil
	if in.Category != "" {
		id := s.getOrCreateCategory(t.OwnerID, in.Category)
		t.CategoryID = &id
	}
	t.UpdatedAt = now
}

func (s *Store) replaceAssignees(taskID int64, usernames []string) {
	if usernames == nil {
		return
	}
	set := make(map[int64]struct{})
	for _, name := range usernames {
		for _, u := range s.users {
			if u.Username == name {
				set[u.ID] = struct{}{}
			}
		}
	}
	s.assignees[taskID] = set
}

// hydrate fills the joined columns the Postgres listing returns.
func (s *Store) hydrate(t dom.Task) dom.Task {
	t.OwnerName = s.users[t.OwnerID].Username
	t.Category = nil
	if t.CategoryID != nil {
		if c, ok := s.categories[*t.CategoryID]; ok {
			name := c.Name
			t.Category = &name
		}
	}
	names := []string{}
	for uid := range s.assignees[t.ID] {
		names = append(names, s.users[uid].Username)
	}
	sort.Strings(names)
	t.Assignees = names
	return t
}

// Ledger is an in-memory single-use token ledger.
type Ledger struct {
	mu   sync.Mutex
	used map[string]bool
}

func NewLedger() *Ledger { return &Ledger{used: make(map[string]bool)} }

func (l *Ledger) Consume(_ context.Context, jti string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ttl <= 0 || l.used[jti] {
		return false, nil
	}
	l.used[jti] = true
	return true, nil
}

func (l *Ledger) Release(_ context.Context, jti string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.used, jti)
	return nil
}

// Limiter allows Limit attempts per key; Limit 0 allows everything. Keys are compared as given.
type Limiter struct {
	mu     sync.Mutex
	Limit  int
	counts map[string]int
}

func (l *Limiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Limit <= 0 {
		return true, nil
	}
	l.hit(key)
	return l.counts[key] <= l.Limit, nil
}

func (l *Limiter) Exceeded(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Limit > 0 && l.counts[key] >= l.Limit, nil
}

func (l *Limiter) Hit(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hit(key)
	return nil
}

func (l *Limiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counts, key)
	return nil
}

func (l *Limiter) hit(key string) {
	if l.counts == nil {
		l.counts = make(map[string]int)
	}
	l.counts[key]++
}

// Mailer records sent messages and returns Err from Send when set. When Block is set, Send
// waits for it to be closed first.
type Mailer struct {
	mu    sync.Mutex
	Sent  []mail.Message
	Err   error
	Block chan struct{}
}

func (m *Mailer) Send(ctx context.Context, msg mail.Message) error {
	if m.Block != nil {
		select {
		case <-m.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, msg)
	return nil
}

// Messages returns a copy of the sent messages.
func (m *Mailer) Messages() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.Sent...)
}
