package services

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/yungbote/loom-backend/internal/logger"
	"github.com/yungbote/loom-backend/internal/repos"
	"github.com/yungbote/loom-backend/internal/sse"
	"github.com/yungbote/loom-backend/internal/types"
)

// Report says what a sweep changed, so callers can decide whether to re-read
// into UI state.
type Report struct {
	Repaired        bool `json:"repaired"`
	OutlinesChanged int  `json:"outlines_changed"`
	PendingChanged  bool `json:"pending_changed"`
}

// ReconcilerService restores the cross-collection invariants after partial
// failures or races. The sweep is a pure function of persisted state and safe
// to run any number of times.
type ReconcilerService interface {
	ValidateAndRepair(ctx context.Context) (*Report, error)
	Run(ctx context.Context) error
}

type reconcilerService struct {
	mu  *sync.Mutex
	log *logger.Logger

	outlineRepo repos.OutlineRepo
	courseRepo  repos.CourseRepo
	goalRepo    repos.GoalRepo
	pendingRepo repos.PendingRepo

	hub      *sse.Hub
	interval time.Duration
}

func NewReconcilerService(
	mu *sync.Mutex,
	baseLog *logger.Logger,
	outlineRepo repos.OutlineRepo,
	courseRepo repos.CourseRepo,
	goalRepo repos.GoalRepo,
	pendingRepo repos.PendingRepo,
	hub *sse.Hub,
	interval time.Duration,
) ReconcilerService {
	return &reconcilerService{
		mu:          mu,
		log:         baseLog.With("service", "ReconcilerService"),
		outlineRepo: outlineRepo,
		courseRepo:  courseRepo,
		goalRepo:    goalRepo,
		pendingRepo: pendingRepo,
		hub:         hub,
		interval:    interval,
	}
}

func (s *reconcilerService) ValidateAndRepair(ctx context.Context) (*Report, error) {
	tracer := otel.Tracer("loom/reconciler")
	ctx, span := tracer.Start(ctx, "reconciler.ValidateAndRepair")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	outlines, err := s.outlineRepo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	courses, err := s.courseRepo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	goals, err := s.goalRepo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := s.pendingRepo.Get(ctx)
	if err != nil {
		return nil, err
	}

	outlineByID := make(map[string]*types.Outline, len(outlines))
	for _, o := range outlines {
		outlineByID[o.ID] = o
	}
	courseByID := make(map[string]*types.Course, len(courses))
	for _, c := range courses {
		courseByID[c.ID] = c
	}

	var changedOutlines []*types.Outline

	// 1. Outline.status mirrors Course.status whenever a course exists.
	for _, course := range courses {
		outline, ok := outlineByID[course.ID]
		if !ok {
			continue
		}
		if outline.Status != course.Status {
			outline.Status = course.Status
			changedOutlines = append(changedOutlines, outline)
		}
	}

	// 2. Synthesize outlines for orphan courses.
	for _, course := range courses {
		if _, ok := outlineByID[course.ID]; ok {
			continue
		}
		outline := minimalOutlineFor(course)
		outlineByID[course.ID] = outline
		changedOutlines = append(changedOutlines, outline)
	}

	// 3. Pending = completed courses not in any canonical goal.
	grouped := make(map[string]bool)
	for _, g := range goals {
		if !g.Canonical() {
			continue
		}
		for _, id := range g.CompletedCourseIDs {
			grouped[id] = true
		}
	}

	inPending := make(map[string]bool, len(pending))
	for _, id := range pending {
		inPending[id] = true
	}

	newPending := make([]string, 0, len(pending))
	pendingChanged := false
	for _, id := range pending {
		course := courseByID[id]
		if grouped[id] || course == nil || course.Status != types.StatusCompleted {
			pendingChanged = true
			continue
		}
		newPending = append(newPending, id)
	}
	for _, course := range courses {
		if course.Status != types.StatusCompleted || grouped[course.ID] || inPending[course.ID] {
			continue
		}
		newPending = append(newPending, course.ID)
		pendingChanged = true
	}

	// Persist only what actually changed.
	if len(changedOutlines) > 0 {
		if err := s.outlineRepo.PutAll(ctx, changedOutlines); err != nil {
			return nil, err
		}
	}
	if pendingChanged {
		if err := s.pendingRepo.ReplaceAll(ctx, newPending); err != nil {
			return nil, err
		}
	}

	report := &Report{
		Repaired:        len(changedOutlines) > 0 || pendingChanged,
		OutlinesChanged: len(changedOutlines),
		PendingChanged:  pendingChanged,
	}
	if report.Repaired {
		s.log.Info("state repaired", "outlines_changed", report.OutlinesChanged, "pending_changed", report.PendingChanged)
		s.hub.Broadcast(sse.Message{Event: sse.EventLearnStateRepaired, Data: report})
	}
	return report, nil
}

// Run sweeps once at startup and then on a fixed interval, as the
// eventual-consistency backstop against races between the generation
// coordinator and direct UI mutations.
func (s *reconcilerService) Run(ctx context.Context) error {
	if _, err := s.ValidateAndRepair(ctx); err != nil {
		s.log.Error("startup sweep failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.ValidateAndRepair(ctx); err != nil {
				s.log.Error("periodic sweep failed", "error", err)
			}
		}
	}
}
