package service

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskboard/internal/cache"
	dom "taskboard/internal/domain"
	"taskboard/internal/testkit/repofakes"
)

type taskFixture struct {
	svc   *TaskService
	store *repofakes.Store
	ids   map[string]int64
}

func newTaskFixture(t *testing.T, c *cache.TaskCache, usernames ...string) taskFixture {
	t.Helper()
	store := repofakes.NewStore()
	ids := make(map[string]int64)
	for _, name := range usernames {
		u, err := store.Users().Create(context.Background(), name, name+"@x.com", "hash")
		if err != nil {
			t.Fatal(err)
		}
		ids[name] = u.ID
	}
	return taskFixture{
		svc:   NewTaskService(store.Tasks(), store.Categories(), c, nil),
		store: store,
		ids:   ids,
	}
}

func (f taskFixture) list(t *testing.T, owner string) []dom.Task {
	t.Helper()
	list, err := f.svc.List(context.Background(), f.ids[owner], dom.TaskFilter{})
	if err != nil {
		t.Fatal(err)
	}
	return list
}

func TestCreate_DefaultsAndProjection(t *testing.T) {
	f := newTaskFixture(t, nil, "alice")
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, f.ids["alice"], dom.TaskInput{Title: "Write spec"}); err != nil {
		t.Fatal(err)
	}
	list := f.list(t, "alice")
	if len(list) != 1 {
		t.Fatalf("got %d tasks", len(list))
	}
	got := list[0]
	if got.Title != "Write spec" || got.Status != dom.StatusPending || got.OwnerName != "alice" {
		t.Fatalf("task = %+v", got)
	}
	if got.Category != nil || got.DueDate != nil || len(got.Assignees) != 0 {
		t.Fatalf("optional fields should be empty: %+v", got)
	}
}

func TestCreate_EmptyTitleRejectedNothingStored(t *testing.T) {
	f := newTaskFixture(t, nil, "alice")
	for _, title := range []string{"", "   "} {
		_, err := f.svc.Create(context.Background(), f.ids["alice"], dom.TaskInput{Title: title, Category: "Work"})
		if !errors.Is(err, ErrTitleRequired) {
			t.Fatalf("title %q: %v", title, err)
		}
	}
	if f.store.TaskCount() != 0 {
		t.Fatal("a task was persisted")
	}
	cats, _ := f.svc.Categories(context.Background(), f.ids["alice"])
	if len(cats) != 0 {
		t.Fatalf("category created for rejected task: %+v", cats)
	}
}

func TestCreate_CategoryAndAssignees(t *testing.T) {
	f := newTaskFixture(t, nil, "alice", "bob", "carol")
	ctx := context.Background()
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := f.svc.Create(ctx, f.ids["alice"], dom.TaskInput{
		Title: "Ship", Category: " Work ", DueDate: &due, Assignees: []string{"carol", "ghost", "bob"},
	})
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.svc.Create(ctx, f.ids["alice"], dom.TaskInput{Title: "Ship 2", Category: "Work"})

	list := f.list(t, "alice")
	for _, task := range list {
		if task.Category == nil || *task.Category != "Work" {
			t.Fatalf("category = %v", task.Category)
		}
	}
	cats, _ := f.svc.Categories(ctx, f.ids["alice"])
	if len(cats) != 1 {
		t.Fatalf("get-or-create made %d categories", len(cats))
	}
	ship := list[len(list)-1]
	if !reflect.DeepEqual(ship.Assignees, []string{"bob", "carol"}) {
		t.Fatalf("assignees = %v", ship.Assignees)
	}
	if s := ship.DueDateString(); s == nil || *s != "2026-03-01" {
		t.Fatalf("due = %v", s)
	}
}

func TestUpdate_AssigneesReplaced(t *testing.T) {
	f := newTaskFixture(t, nil, "owner", "a", "b")
	ctx := context.Background()
	owner := f.ids["owner"]

	id, err := f.svc.Create(ctx, owner, dom.TaskInput{Title: "t"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Update(ctx, owner, id, dom.TaskInput{Title: "t", Assignees: []string{"a"}}); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Update(ctx, owner, id, dom.TaskInput{Title: "t", Assignees: []string{"b"}}); err != nil {
		t.Fatal(err)
	}
	if got := f.list(t, "owner")[0].Assignees; !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("assignees = %v, want [b]", got)
	}

	if err := f.svc.Update(ctx, owner, id, dom.TaskInput{Title: "t", Status: dom.StatusInProgress}); err != nil {
		t.Fatal(err)
	}
	got := f.list(t, "owner")[0]
	if !reflect.DeepEqual(got.Assignees, []string{"b"}) || got.Status != dom.StatusInProgress {
		t.Fatalf("absent assignees should keep [b]: %+v", got)
	}

	if err := f.svc.Update(ctx, owner, id, dom.TaskInput{Title: "t", Assignees: []string{}}); err != nil {
		t.Fatal(err)
	}
	if got := f.list(t, "owner")[0].Assignees; len(got) != 0 {
		t.Fatalf("explicit empty should clear: %v", got)
	}

	if err := f.svc.Update(ctx, owner, id, dom.TaskInput{Title: " "}); !errors.Is(err, ErrTitleRequired) {
		t.Fatalf("blank title on update: %v", err)
	}
}

func TestNonOwnerWritesAreNoops(t *testing.T) {
	f := newTaskFixture(t, nil, "alice", "mallory")
	ctx := context.Background()

	id, _ := f.svc.Create(ctx, f.ids["alice"], dom.TaskInput{Title: "mine", Status: dom.StatusCompleted})

	if err := f.svc.Update(ctx, f.ids["mallory"], id, dom.TaskInput{Title: "pwned"}); err != nil {
		t.Fatalf("update by non-owner returned %v", err)
	}
	if err := f.svc.Delete(ctx, f.ids["mallory"], id); err != nil {
		t.Fatalf("delete by non-owner returned %v", err)
	}
	if err := f.svc.Delete(ctx, f.ids["mallory"], 999); err != nil {
		t.Fatalf("delete of missing id returned %v", err)
	}
	if n, err := f.svc.ClearCompleted(ctx, f.ids["mallory"]); err != nil || n != 0 {
		t.Fatalf("clear by non-owner: %d %v", n, err)
	}

	list := f.list(t, "alice")
	if len(list) != 1 || list[0].Title != "mine" {
		t.Fatalf("alice's task changed: %+v", list)
	}
	if len(f.list(t, "mallory")) != 0 {
		t.Fatal("mallory sees alice's task")
	}
}

func TestClearCompleted(t *testing.T) {
	f := newTaskFixture(t, nil, "alice", "bob")
	ctx := context.Background()

	for _, in := range []dom.TaskInput{
		{Title: "1", Status: dom.StatusCompleted},
		{Title: "2", Status: dom.StatusCompleted},
		{Title: "3", Status: dom.StatusInProgress},
		{Title: "4", Status: "completed"},
	} {
		if _, err := f.svc.Create(ctx, f.ids["alice"], in); err != nil {
			t.Fatal(err)
		}
	}
	_, _ = f.svc.Create(ctx, f.ids["bob"], dom.TaskInput{Title: "b", Status: dom.StatusCompleted})

	n, err := f.svc.ClearCompleted(ctx, f.ids["alice"])
	if err != nil || n != 2 {
		t.Fatalf("cleared %d, %v", n, err)
	}
	left := f.list(t, "alice")
	if len(left) != 2 {
		t.Fatalf("alice has %d tasks left", len(left))
	}
	for _, task := range left {
		if task.Status == dom.StatusCompleted {
			t.Fatalf("completed task survived: %+v", task)
		}
	}
	if len(f.list(t, "bob")) != 1 {
		t.Fatal("bob's completed task was deleted")
	}
}

func TestList_Filters(t *testing.T) {
	f := newTaskFixture(t, nil, "alice")
	ctx := context.Background()
	owner := f.ids["alice"]
	_, _ = f.svc.Create(ctx, owner, dom.TaskInput{Title: "Write spec", Category: "Work"})
	_, _ = f.svc.Create(ctx, owner, dom.TaskInput{Title: "Buy milk", Category: "Home", Status: dom.StatusCompleted})

	cases := []struct {
		filter dom.TaskFilter
		want   int
	}{
		{dom.TaskFilter{}, 2},
		{dom.TaskFilter{Status: "All"}, 2},
		{dom.TaskFilter{Status: dom.StatusCompleted}, 1},
		{dom.TaskFilter{Category: " Work "}, 1},
		{dom.TaskFilter{Query: "SPEC"}, 1},
		{dom.TaskFilter{Query: "nothing"}, 0},
	}
	for _, c := range cases {
		list, err := f.svc.List(ctx, owner, c.filter)
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != c.want {
			t.Fatalf("filter %+v: got %d, want %d", c.filter, len(list), c.want)
		}
	}
}

func TestList_CacheInvalidatedOnWrite(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	f := newTaskFixture(t, cache.NewTaskCache(rdb, time.Minute), "alice")
	ctx := context.Background()
	owner := f.ids["alice"]

	if got := f.list(t, "alice"); len(got) != 0 {
		t.Fatalf("got %d", len(got))
	}
	if len(mr.Keys()) != 1 {
		t.Fatalf("listing not cached: %v", mr.Keys())
	}

	id, err := f.svc.Create(ctx, owner, dom.TaskInput{Title: "fresh"})
	if err != nil {
		t.Fatal(err)
	}
	if got := f.list(t, "alice"); len(got) != 1 {
		t.Fatalf("stale cache after create: %d tasks", len(got))
	}

	if err := f.svc.Update(ctx, owner, id, dom.TaskInput{Title: "renamed"}); err != nil {
		t.Fatal(err)
	}
	if got := f.list(t, "alice"); got[0].Title != "renamed" {
		t.Fatalf("stale cache after update: %+v", got[0])
	}

	if err := f.svc.Delete(ctx, owner, id); err != nil {
		t.Fatal(err)
	}
	if got := f.list(t, "alice"); len(got) != 0 {
		t.Fatalf("stale cache after delete: %d tasks", len(got))
	}
}

func TestList_IgnoresSnapshotStoredAfterWrite(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	tc := cache.NewTaskCache(rdb, time.Minute)
	f := newTaskFixture(t, tc, "alice")
	ctx := context.Background()
	owner := f.ids["alice"]

	before, err := tc.Version(ctx, owner)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Create(ctx, owner, dom.TaskInput{Title: "fresh"}); err != nil {
		t.Fatal(err)
	}
	// a List that read the database before the create finishes last
	if err := tc.SetList(ctx, owner, before, dom.TaskFilter{}, []dom.Task{}); err != nil {
		t.Fatal(err)
	}

	if got := f.list(t, "alice"); len(got) != 1 {
		t.Fatalf("served stale listing: %d tasks", len(got))
	}
}

func TestCreate_RepoErrorPropagates(t *testing.T) {
	f := newTaskFixture(t, nil, "alice")
	boom := errors.New("db down")
	f.store.Fail = boom
	if _, err := f.svc.Create(context.Background(), f.ids["alice"], dom.TaskInput{Title: "x"}); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
}
