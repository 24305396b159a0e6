package services

import (
	"context"
	"testing"

	"github.com/yungbote/loom-backend/internal/types"
)

func TestReconcilerMirrorsOutlineStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := env.reconcilerService()

	env.seedOutline(t, "c1", types.StatusSaved)
	env.seedCourse(t, "c1", types.StatusStarted, true)

	report, err := svc.ValidateAndRepair(ctx)
	if err != nil {
		t.Fatalf("ValidateAndRepair: %v", err)
	}
	if !report.Repaired || report.OutlinesChanged != 1 {
		t.Fatalf("report = %+v, want one outline repaired", report)
	}
	outline, _ := env.outlines.GetByID(ctx, "c1")
	if outline.Status != types.StatusStarted {
		t.Errorf("outline status = %s, want started", outline.Status)
	}
}

func TestReconcilerSynthesizesOrphanOutline(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := env.reconcilerService()

	env.seedCourse(t, "c1", types.StatusStarted, true)

	report, err := svc.ValidateAndRepair(ctx)
	if err != nil {
		t.Fatalf("ValidateAndRepair: %v", err)
	}
	if report.OutlinesChanged != 1 {
		t.Fatalf("report = %+v, want synthesized outline", report)
	}
	outline, _ := env.outlines.GetByID(ctx, "c1")
	if outline == nil {
		t.Fatal("orphan course still has no outline")
	}
	if outline.Status != types.StatusStarted || outline.Title != "Topic c1" {
		t.Errorf("synthesized outline = %+v", outline)
	}
}

func TestReconcilerRecomputesPending(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := env.reconcilerService()

	// c1: completed and grouped, wrongly in pending.
	env.seedOutline(t, "c1", types.StatusCompleted)
	env.seedCourse(t, "c1", types.StatusCompleted, true)
	// c2: completed and ungrouped, missing from pending.
	env.seedOutline(t, "c2", types.StatusCompleted)
	env.seedCourse(t, "c2", types.StatusCompleted, true)
	// c3: grouped with c1.
	env.seedOutline(t, "c3", types.StatusCompleted)
	env.seedCourse(t, "c3", types.StatusCompleted, true)

	if err := env.goals.ReplaceAll(ctx, []*types.Goal{
		{ID: "g1", Label: "Systems", CompletedCourseIDs: []string{"c1", "c3"}},
	}); err != nil {
		t.Fatalf("seed goals: %v", err)
	}
	// "ghost" has no course at all and must be dropped.
	if err := env.pending.ReplaceAll(ctx, []string{"c1", "ghost"}); err != nil {
		t.Fatalf("seed pending: %v", err)
	}

	report, err := svc.ValidateAndRepair(ctx)
	if err != nil {
		t.Fatalf("ValidateAndRepair: %v", err)
	}
	if !report.PendingChanged {
		t.Fatalf("report = %+v, want pending changed", report)
	}
	pending, _ := env.pending.Get(ctx)
	if len(pending) != 1 || pending[0] != "c2" {
		t.Errorf("pending = %v, want [c2]", pending)
	}
}

func TestReconcilerIdempotentOnCleanState(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := env.reconcilerService()

	env.seedOutline(t, "c1", types.StatusStarted)
	env.seedCourse(t, "c1", types.StatusStarted, true)

	if _, err := svc.ValidateAndRepair(ctx); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	report, err := svc.ValidateAndRepair(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if report.Repaired {
		t.Errorf("second sweep repaired a clean state: %+v", report)
	}
}
