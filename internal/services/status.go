package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yungbote/loom-backend/internal/logger"
	"github.com/yungbote/loom-backend/internal/repos"
	"github.com/yungbote/loom-backend/internal/sse"
	"github.com/yungbote/loom-backend/internal/types"
)

// StatusService is the only sanctioned way to change a topic's status. Every
// transition writes the Course (when one exists) and then immediately mirrors
// the Outline, so the two collections never diverge for longer than a single
// crash window, which the reconciler covers.
type StatusService interface {
	UpdateStatus(ctx context.Context, id string, to types.Status) error
	CompleteCourse(ctx context.Context, id string, via types.CompletedVia) error
	SetModuleDone(ctx context.Context, courseID, moduleID string) error

	// OnCompleted registers a hook fired after a course transitions into
	// completed. Wiring uses it to kick the auto-regroup policy.
	OnCompleted(fn func(courseID string))
}

type statusService struct {
	mu  *sync.Mutex
	log *logger.Logger

	outlineRepo repos.OutlineRepo
	courseRepo  repos.CourseRepo
	goalRepo    repos.GoalRepo
	pendingRepo repos.PendingRepo

	hub *sse.Hub

	onCompleted func(courseID string)
}

func NewStatusService(
	mu *sync.Mutex,
	baseLog *logger.Logger,
	outlineRepo repos.OutlineRepo,
	courseRepo repos.CourseRepo,
	goalRepo repos.GoalRepo,
	pendingRepo repos.PendingRepo,
	hub *sse.Hub,
) StatusService {
	return &statusService{
		mu:          mu,
		log:         baseLog.With("service", "StatusService"),
		outlineRepo: outlineRepo,
		courseRepo:  courseRepo,
		goalRepo:    goalRepo,
		pendingRepo: pendingRepo,
		hub:         hub,
	}
}

func (s *statusService) OnCompleted(fn func(courseID string)) {
	s.onCompleted = fn
}

func (s *statusService) UpdateStatus(ctx context.Context, id string, to types.Status) error {
	return s.transition(ctx, id, to, "")
}

func (s *statusService) CompleteCourse(ctx context.Context, id string, via types.CompletedVia) error {
	return s.transition(ctx, id, types.StatusCompleted, via)
}

func (s *statusService) transition(ctx context.Context, id string, to types.Status, via types.CompletedVia) error {
	completed := false
	err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		course, err := s.courseRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		outline, err := s.outlineRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if course == nil && outline == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}

		from := types.Status("")
		if course != nil {
			from = course.Status
		} else {
			from = outline.Status
		}
		if from == to {
			// Idempotent: repeating the current status is a no-op, not an error.
			return nil
		}
		if !types.CanTransition(from, to) {
			return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
		}
		if from == types.StatusStarted && to == types.StatusDismissed && course != nil {
			// Dismissing a started course is only legal for a shell: no module
			// progress and no generated content. Anything else would silently
			// throw away consumed work.
			if course.HasProgress() || course.HasFullContent() {
				return fmt.Errorf("%w: course %s has progress or content", ErrInvalidTransition, id)
			}
		}

		now := time.Now()
		if course != nil {
			if to == types.StatusDismissed {
				// A Course only ever holds started or completed; a dismissed
				// shell is removed and survives as its dismissed Outline.
				if err := s.courseRepo.Delete(ctx, id); err != nil {
					return err
				}
			} else {
				course.Status = to
				if to == types.StatusCompleted {
					course.CompletedAt = &now
					if via != "" {
						course.CompletedVia = via
					} else if course.CompletedVia == "" {
						course.CompletedVia = types.CompletedViaSelfReport
					}
				}
				if err := s.courseRepo.Put(ctx, course); err != nil {
					return err
				}
			}
		} else if to == types.StatusCompleted {
			// Self-reporting a topic that was never generated. Persist a shell
			// Course so the completion has a record the reconciler and the
			// regroup briefs can see; otherwise the pending entry would be
			// swept away on the next pass.
			shellVia := via
			if shellVia == "" {
				shellVia = types.CompletedViaSelfReport
			}
			course = &types.Course{
				ID:           id,
				Title:        outline.Title,
				Goal:         outline.Goal,
				Status:       types.StatusCompleted,
				CompletedVia: shellVia,
				CreatedAt:    now,
				CompletedAt:  &now,
			}
			if err := s.courseRepo.Put(ctx, course); err != nil {
				return err
			}
		}

		if outline == nil {
			outline = minimalOutlineFor(course)
		}
		outline.Status = to
		if err := s.outlineRepo.Put(ctx, outline); err != nil {
			return err
		}

		if to == types.StatusCompleted {
			grouped, err := s.inCanonicalGoal(ctx, id)
			if err != nil {
				return err
			}
			if !grouped {
				if err := s.pendingRepo.Add(ctx, id); err != nil {
					return err
				}
			}
			completed = true
		}
		return nil
	}()
	if err != nil {
		return err
	}

	s.hub.Broadcast(sse.Message{Event: sse.EventStatusChanged, Data: map[string]any{"id": id, "status": to}})
	if completed && s.onCompleted != nil {
		s.onCompleted(id)
	}
	return nil
}

func (s *statusService) SetModuleDone(ctx context.Context, courseID, moduleID string) error {
	fullCompletion := false
	err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		course, err := s.courseRepo.GetByID(ctx, courseID)
		if err != nil {
			return err
		}
		if course == nil {
			return fmt.Errorf("%w: course %s", ErrNotFound, courseID)
		}
		if err := s.courseRepo.SetModuleProgress(ctx, courseID, moduleID, types.ProgressDone); err != nil {
			return err
		}

		course, err = s.courseRepo.GetByID(ctx, courseID)
		if err != nil {
			return err
		}
		fullCompletion = course != nil && course.Status == types.StatusStarted && course.AllModulesDone()
		return nil
	}()
	if err != nil {
		return err
	}

	if fullCompletion {
		return s.CompleteCourse(ctx, courseID, types.CompletedViaFullCompletion)
	}
	s.hub.Broadcast(sse.Message{Event: sse.EventStatusChanged, Data: map[string]any{"id": courseID, "module_id": moduleID}})
	return nil
}

func (s *statusService) inCanonicalGoal(ctx context.Context, courseID string) (bool, error) {
	goals, err := s.goalRepo.GetAll(ctx)
	if err != nil {
		return false, err
	}
	for _, g := range goals {
		if g.Canonical() && g.HasMember(courseID) {
			return true, nil
		}
	}
	return false, nil
}

// minimalOutlineFor synthesizes the outline shadow of an orphan course so the
// UI never has to special-case a course without one.
func minimalOutlineFor(course *types.Course) *types.Outline {
	return &types.Outline{
		ID:            course.ID,
		Title:         course.Title,
		Goal:          course.Goal,
		ModuleSummary: course.ModuleTitles(len(course.Modules)),
		Status:        course.Status,
		CreatedAt:     course.CreatedAt,
	}
}
