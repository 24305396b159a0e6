package repos

import (
	"context"
	"testing"
	"time"

	"github.com/yungbote/loom-backend/internal/kv"
	"github.com/yungbote/loom-backend/internal/logger"
	"github.com/yungbote/loom-backend/internal/types"
)

func TestOutlineRepoSortedAndStatusDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewOutlineRepo(kv.NewMemStore(), logger.NewNop())

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	outlines := []*types.Outline{
		{ID: "b", Title: "Second", Status: types.StatusSuggested, CreatedAt: base.Add(time.Hour)},
		{ID: "a", Title: "First", Status: types.StatusSaved, CreatedAt: base},
		{ID: "c", Title: "Third", Status: types.StatusSuggested, CreatedAt: base.Add(2 * time.Hour)},
	}
	if err := repo.PutAll(ctx, outlines); err != nil {
		t.Fatalf("PutAll: %v", err)
	}

	all, err := repo.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 3 || all[0].ID != "a" || all[1].ID != "b" || all[2].ID != "c" {
		t.Fatalf("GetAll order wrong: %v", ids(all))
	}

	removed, err := repo.DeleteWhereStatus(ctx, types.StatusSuggested)
	if err != nil {
		t.Fatalf("DeleteWhereStatus: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	all, _ = repo.GetAll(ctx)
	if len(all) != 1 || all[0].ID != "a" {
		t.Errorf("remaining = %v, want [a]", ids(all))
	}

	missing, err := repo.GetByID(ctx, "b")
	if err != nil || missing != nil {
		t.Errorf("GetByID on deleted = %v, %v, want nil, nil", missing, err)
	}
}

func ids(outlines []*types.Outline) []string {
	out := make([]string, 0, len(outlines))
	for _, o := range outlines {
		out = append(out, o.ID)
	}
	return out
}

func TestCourseRepoModuleProgress(t *testing.T) {
	ctx := context.Background()
	repo := NewCourseRepo(kv.NewMemStore(), logger.NewNop())

	course := &types.Course{
		ID:     "c1",
		Title:  "Networking",
		Status: types.StatusStarted,
		Modules: []types.CourseModule{
			{ID: "m1", Title: "Sockets", Content: "..."},
		},
		ProgressByModule: map[string]types.ModuleProgress{"m1": types.ProgressNotStarted},
	}
	if err := repo.Put(ctx, course); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := repo.SetModuleProgress(ctx, "c1", "m1", types.ProgressDone); err != nil {
		t.Fatalf("SetModuleProgress: %v", err)
	}
	got, err := repo.GetByID(ctx, "c1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.ProgressByModule["m1"] != types.ProgressDone {
		t.Errorf("progress = %q, want done", got.ProgressByModule["m1"])
	}

	if err := repo.SetModuleProgress(ctx, "missing", "m1", types.ProgressDone); err == nil {
		t.Error("SetModuleProgress on missing course succeeded")
	}

	if err := repo.Delete(ctx, "c1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, _ = repo.GetByID(ctx, "c1")
	if got != nil {
		t.Errorf("course survived delete: %+v", got)
	}
}

func TestPendingRepoSetSemantics(t *testing.T) {
	ctx := context.Background()
	repo := NewPendingRepo(kv.NewMemStore(), logger.NewNop())

	for _, id := range []string{"c1", "c2", "c1"} {
		if err := repo.Add(ctx, id); err != nil {
			t.Fatalf("Add(%s): %v", id, err)
		}
	}
	got, err := repo.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 2 || got[0] != "c1" || got[1] != "c2" {
		t.Fatalf("pending = %v, want [c1 c2]", got)
	}

	if err := repo.Remove(ctx, "c1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	got, _ = repo.Get(ctx)
	if len(got) != 1 || got[0] != "c2" {
		t.Errorf("pending after remove = %v, want [c2]", got)
	}

	if err := repo.ReplaceAll(ctx, nil); err != nil {
		t.Fatalf("ReplaceAll(nil): %v", err)
	}
	got, _ = repo.Get(ctx)
	if len(got) != 0 {
		t.Errorf("pending after replace = %v, want empty", got)
	}
}

func TestGoalRepoReplaceAll(t *testing.T) {
	ctx := context.Background()
	repo := NewGoalRepo(kv.NewMemStore(), logger.NewNop())

	goals := []*types.Goal{
		{ID: "g2", Label: "Storage", CompletedCourseIDs: []string{"c3", "c4"}},
		{ID: "g1", Label: "Networking", CompletedCourseIDs: []string{"c1", "c2"}},
	}
	if err := repo.ReplaceAll(ctx, goals); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}
	got, err := repo.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(got) != 2 || got[0].ID != "g1" {
		t.Fatalf("goals not sorted by id: %+v", got)
	}

	if err := repo.ReplaceAll(ctx, nil); err != nil {
		t.Fatalf("ReplaceAll(nil): %v", err)
	}
	got, _ = repo.GetAll(ctx)
	if len(got) != 0 {
		t.Errorf("goals after clear = %+v, want empty", got)
	}
}

func TestPrefetchRepoConsume(t *testing.T) {
	ctx := context.Background()
	repo := NewPrefetchRepo(kv.NewMemStore(), logger.NewNop())

	draft := &types.Course{ID: "c1", Title: "Draft", Status: types.StatusPrefetched}
	if err := repo.Put(ctx, draft); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := repo.Get(ctx, "c1")
	if err != nil || got == nil || got.Status != types.StatusPrefetched {
		t.Fatalf("Get = %+v, %v", got, err)
	}
	if err := repo.Delete(ctx, "c1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, _ = repo.Get(ctx, "c1")
	if got != nil {
		t.Errorf("draft survived delete")
	}
}
