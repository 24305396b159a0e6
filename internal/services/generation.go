package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/loom-backend/internal/chat"
	"github.com/yungbote/loom-backend/internal/lease"
	"github.com/yungbote/loom-backend/internal/llm"
	"github.com/yungbote/loom-backend/internal/logger"
	"github.com/yungbote/loom-backend/internal/prompts"
	"github.com/yungbote/loom-backend/internal/repos"
	"github.com/yungbote/loom-backend/internal/sse"
	"github.com/yungbote/loom-backend/internal/tasks"
	"github.com/yungbote/loom-backend/internal/types"
)

// StartResult is the outcome of AtomicStartCourse. Exactly one of the flags
// is set.
type StartResult struct {
	Existing        bool          `json:"existing"`
	Adopted         bool          `json:"adopted"`
	NeedsGeneration bool          `json:"needs_generation"`
	Generating      bool          `json:"generating"`
	Course          *types.Course `json:"course,omitempty"`
}

// GenerationService mediates who is generating which course: the per-id lease
// with TTL, the prefetch cache, and atomic start-course adoption.
type GenerationService interface {
	IsGenerating(ctx context.Context, courseID string) bool
	PrefetchCourseContent(ctx context.Context, outlineID string) (*types.Course, error)
	AtomicStartCourse(ctx context.Context, outlineID string) (*StartResult, error)
	GenerateFullCourse(ctx context.Context, outlineID string) (*types.Course, error)

	// SpawnGeneration runs GenerateFullCourse on the app-owned task group, so
	// closing the surface that asked for it does not cancel the model call.
	SpawnGeneration(outlineID string)
	SpawnPrefetch(outlineID string)
}

type generationService struct {
	mu  *sync.Mutex
	log *logger.Logger

	outlineRepo  repos.OutlineRepo
	courseRepo   repos.CourseRepo
	prefetchRepo repos.PrefetchRepo

	leaser lease.Leaser
	ai     llm.Client
	convs  chat.Source
	group  *tasks.Group
	hub    *sse.Hub
}

func NewGenerationService(
	mu *sync.Mutex,
	baseLog *logger.Logger,
	outlineRepo repos.OutlineRepo,
	courseRepo repos.CourseRepo,
	prefetchRepo repos.PrefetchRepo,
	leaser lease.Leaser,
	ai llm.Client,
	convs chat.Source,
	group *tasks.Group,
	hub *sse.Hub,
) GenerationService {
	return &generationService{
		mu:           mu,
		log:          baseLog.With("service", "GenerationService"),
		outlineRepo:  outlineRepo,
		courseRepo:   courseRepo,
		prefetchRepo: prefetchRepo,
		leaser:       leaser,
		ai:           ai,
		convs:        convs,
		group:        group,
		hub:          hub,
	}
}

func (s *generationService) IsGenerating(ctx context.Context, courseID string) bool {
	held, err := s.leaser.Held(ctx, courseID)
	if err != nil {
		s.log.Warn("lease check failed", "course_id", courseID, "error", err)
		return false
	}
	return held
}

// PrefetchCourseContent speculatively generates course content before the
// user commits to starting. It yields to any in-flight generation (user
// intent beats speculation) and never touches the Outline or pending set.
// Returns nil, nil when it yielded.
func (s *generationService) PrefetchCourseContent(ctx context.Context, outlineID string) (*types.Course, error) {
	s.mu.Lock()
	existing, err := s.courseRepo.GetByID(ctx, outlineID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	tok, err := s.leaser.Acquire(ctx, outlineID)
	if errors.Is(err, lease.ErrBusy) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if relErr := s.leaser.Release(context.WithoutCancel(ctx), tok); relErr != nil {
			s.log.Warn("lease release failed", "course_id", outlineID, "error", relErr)
		}
	}()

	outline, err := s.outlineRepo.GetByID(ctx, outlineID)
	if err != nil {
		return nil, err
	}
	if outline == nil {
		return nil, fmt.Errorf("%w: outline %s", ErrNotFound, outlineID)
	}

	draft, err := s.callForDraft(ctx, outline)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A full course may have landed while the model call was in flight; the
	// committed course always wins over the speculative draft.
	existing, err = s.courseRepo.GetByID(ctx, outlineID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	course := buildCourse(outline, draft, types.StatusPrefetched)
	if err := s.prefetchRepo.Put(ctx, course); err != nil {
		return nil, err
	}
	s.hub.Broadcast(sse.Message{Event: sse.EventCoursePrefetched, Data: map[string]any{"id": outlineID}})
	return course, nil
}

// AtomicStartCourse is the "user pressed Start" path. Safe to call any number
// of times for the same id: only the first meaningful transition has side
// effects. It takes the same lease prefetch and full generation use, so a
// prefetch finishing mid-start cannot interleave with the adoption write.
func (s *generationService) AtomicStartCourse(ctx context.Context, outlineID string) (*StartResult, error) {
	tok, err := s.leaser.Acquire(ctx, outlineID)
	if errors.Is(err, lease.ErrBusy) {
		// Someone is generating this id right now. Mark intent and let the
		// caller observe completion through the stores.
		if err := s.markOutlineStarted(ctx, outlineID); err != nil {
			return nil, err
		}
		return &StartResult{Generating: true}, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if relErr := s.leaser.Release(context.WithoutCancel(ctx), tok); relErr != nil {
			s.log.Warn("lease release failed", "course_id", outlineID, "error", relErr)
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	course, err := s.courseRepo.GetByID(ctx, outlineID)
	if err != nil {
		return nil, err
	}
	if course != nil {
		if course.Status != types.StatusStarted && types.CanTransition(course.Status, types.StatusStarted) {
			course.Status = types.StatusStarted
			if err := s.courseRepo.Put(ctx, course); err != nil {
				return nil, err
			}
			if err := s.mirrorOutline(ctx, course); err != nil {
				return nil, err
			}
		}
		return &StartResult{Existing: true, Course: course}, nil
	}

	draft, err := s.prefetchRepo.Get(ctx, outlineID)
	if err != nil {
		return nil, err
	}
	if draft != nil {
		adopted := *draft
		adopted.Status = types.StatusStarted
		if adopted.ProgressByModule == nil {
			adopted.ProgressByModule = make(map[string]types.ModuleProgress)
		}
		if adopted.CreatedAt.IsZero() {
			adopted.CreatedAt = time.Now()
		}
		if err := s.courseRepo.Put(ctx, &adopted); err != nil {
			return nil, err
		}
		if err := s.prefetchRepo.Delete(ctx, outlineID); err != nil {
			return nil, err
		}
		if err := s.mirrorOutline(ctx, &adopted); err != nil {
			return nil, err
		}
		return &StartResult{Adopted: true, Course: &adopted}, nil
	}

	if err := s.markOutlineStartedLocked(ctx, outlineID); err != nil {
		return nil, err
	}
	return &StartResult{NeedsGeneration: true}, nil
}

// GenerateFullCourse produces and persists the committed course content.
// Returns lease.ErrBusy when another generation holds the id.
func (s *generationService) GenerateFullCourse(ctx context.Context, outlineID string) (*types.Course, error) {
	tok, err := s.leaser.Acquire(ctx, outlineID)
	if err != nil {
		return nil, err
	}
	defer func() {
		// The flag must clear on every path; a leaked flag is only
		// recoverable through the TTL.
		if relErr := s.leaser.Release(context.WithoutCancel(ctx), tok); relErr != nil {
			s.log.Warn("lease release failed", "course_id", outlineID, "error", relErr)
		}
	}()

	s.mu.Lock()
	existing, err := s.courseRepo.GetByID(ctx, outlineID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if existing != nil {
		// A racing generation beat us here; adopt its result.
		s.mu.Unlock()
		return existing, nil
	}
	outline, err := s.outlineRepo.GetByID(ctx, outlineID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if outline == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: outline %s", ErrNotFound, outlineID)
	}
	s.mu.Unlock()

	return s.generateAndPersist(ctx, outline)
}

func (s *generationService) generateAndPersist(ctx context.Context, outline *types.Outline) (*types.Course, error) {
	draft, err := s.callForDraft(ctx, outline)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check after the suspension point: the user may have dismissed the
	// suggestion mid-call. Persisting now would resurrect it.
	fresh, err := s.outlineRepo.GetByID(ctx, outline.ID)
	if err != nil {
		return nil, err
	}
	if fresh != nil && fresh.Status == types.StatusDismissed {
		s.log.Info("outline dismissed during generation, dropping result", "outline_id", outline.ID)
		return nil, nil
	}
	existing, err := s.courseRepo.GetByID(ctx, outline.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	course := buildCourse(outline, draft, types.StatusStarted)
	if err := s.courseRepo.Put(ctx, course); err != nil {
		return nil, err
	}
	if err := s.mirrorOutline(ctx, course); err != nil {
		return nil, err
	}

	// Write-then-read-back: course persistence is the single most
	// failure-prone write, and a silent loss here strands the user.
	verify, err := s.courseRepo.GetByID(ctx, course.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	if verify == nil || len(verify.Modules) != len(course.Modules) {
		return nil, ErrVerification
	}

	s.hub.Broadcast(sse.Message{Event: sse.EventCourseGenerated, Data: map[string]any{"id": course.ID}})
	return course, nil
}

func (s *generationService) SpawnGeneration(outlineID string) {
	s.group.Spawn("generate-course", func(ctx context.Context) {
		if _, err := s.GenerateFullCourse(ctx, outlineID); err != nil && !errors.Is(err, lease.ErrBusy) {
			s.log.Error("background generation failed", "outline_id", outlineID, "error", err)
		}
	})
}

func (s *generationService) SpawnPrefetch(outlineID string) {
	s.group.Spawn("prefetch-course", func(ctx context.Context) {
		if _, err := s.PrefetchCourseContent(ctx, outlineID); err != nil {
			s.log.Warn("prefetch failed", "outline_id", outlineID, "error", err)
		}
	})
}

func (s *generationService) callForDraft(ctx context.Context, outline *types.Outline) (*llm.CourseDraft, error) {
	outlineJSON, err := json.Marshal(outline)
	if err != nil {
		return nil, err
	}
	excerpts, err := s.sourceExcerpts(ctx, outline)
	if err != nil {
		s.log.Warn("conversation excerpts unavailable, generating from outline only", "outline_id", outline.ID, "error", err)
		excerpts = ""
	}

	completion, err := s.ai.Call(ctx, []llm.Message{
		{Role: "user", Content: prompts.CourseGeneration(string(outlineJSON), excerpts)},
	})
	if err != nil {
		return nil, fmt.Errorf("course generation call: %w", err)
	}
	return llm.DecodeCourseDraft(completion.Text)
}

const perConversationExcerpt = 1500

func (s *generationService) sourceExcerpts(ctx context.Context, outline *types.Outline) (string, error) {
	if len(outline.SourceChatIDs) == 0 {
		return "", nil
	}
	convs, err := s.convs.List(ctx)
	if err != nil {
		return "", err
	}
	wanted := make(map[string]bool, len(outline.SourceChatIDs))
	for _, id := range outline.SourceChatIDs {
		wanted[id] = true
	}
	var out string
	for _, conv := range convs {
		if !wanted[conv.ID] {
			continue
		}
		if out != "" {
			out += "\n---\n"
		}
		out += chat.RenderMessages(conv.Messages, perConversationExcerpt)
	}
	return out, nil
}

func (s *generationService) markOutlineStarted(ctx context.Context, outlineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markOutlineStartedLocked(ctx, outlineID)
}

func (s *generationService) markOutlineStartedLocked(ctx context.Context, outlineID string) error {
	outline, err := s.outlineRepo.GetByID(ctx, outlineID)
	if err != nil {
		return err
	}
	if outline == nil {
		return fmt.Errorf("%w: outline %s", ErrNotFound, outlineID)
	}
	if outline.Status == types.StatusStarted {
		return nil
	}
	if !types.CanTransition(outline.Status, types.StatusStarted) {
		return fmt.Errorf("%w: %s → started", ErrInvalidTransition, outline.Status)
	}
	outline.Status = types.StatusStarted
	return s.outlineRepo.Put(ctx, outline)
}

func (s *generationService) mirrorOutline(ctx context.Context, course *types.Course) error {
	outline, err := s.outlineRepo.GetByID(ctx, course.ID)
	if err != nil {
		return err
	}
	if outline == nil {
		outline = minimalOutlineFor(course)
	}
	outline.Status = course.Status
	return s.outlineRepo.Put(ctx, outline)
}

func buildCourse(outline *types.Outline, draft *llm.CourseDraft, status types.Status) *types.Course {
	modules := make([]types.CourseModule, 0, len(draft.Modules))
	progress := make(map[string]types.ModuleProgress, len(draft.Modules))
	for _, m := range draft.Modules {
		id := uuid.New().String()
		modules = append(modules, types.CourseModule{
			ID:      id,
			Title:   m.Title,
			Content: m.Content,
			Quiz:    m.Quiz,
		})
		progress[id] = types.ProgressNotStarted
	}
	title := draft.Title
	if title == "" {
		title = outline.Title
	}
	goal := draft.Goal
	if goal == "" {
		goal = outline.Goal
	}
	return &types.Course{
		ID:               outline.ID,
		Title:            title,
		Goal:             goal,
		Modules:          modules,
		ProgressByModule: progress,
		Status:           status,
		CreatedAt:        time.Now(),
	}
}
