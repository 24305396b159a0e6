package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/loom-backend/internal/chat"
	"github.com/yungbote/loom-backend/internal/kv"
	"github.com/yungbote/loom-backend/internal/lease"
	"github.com/yungbote/loom-backend/internal/llm"
	"github.com/yungbote/loom-backend/internal/logger"
	"github.com/yungbote/loom-backend/internal/repos"
	"github.com/yungbote/loom-backend/internal/sse"
	"github.com/yungbote/loom-backend/internal/tasks"
	"github.com/yungbote/loom-backend/internal/types"
)

// fakeAI scripts model responses. Respond, when set, wins; otherwise responses
// are returned in order.
type fakeAI struct {
	mu        sync.Mutex
	calls     int
	responses []string
	err       error
	Respond   func(ctx context.Context, messages []llm.Message) (*llm.Completion, error)
}

func (f *fakeAI) Call(ctx context.Context, messages []llm.Message) (*llm.Completion, error) {
	f.mu.Lock()
	f.calls++
	respond := f.Respond
	err := f.err
	var text string
	if len(f.responses) > 0 {
		text = f.responses[0]
		if len(f.responses) > 1 {
			f.responses = f.responses[1:]
		}
	}
	f.mu.Unlock()

	if respond != nil {
		return respond(ctx, messages)
	}
	if err != nil {
		return nil, err
	}
	if text == "" {
		text = "{}"
	}
	return &llm.Completion{Text: text, ModelUsed: "fake"}, nil
}

func (f *fakeAI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeConvSource struct {
	convs []chat.Conversation
}

func (f *fakeConvSource) List(context.Context) ([]chat.Conversation, error) {
	return f.convs, nil
}

type testEnv struct {
	mu    *sync.Mutex
	store *kv.MemStore

	outlines repos.OutlineRepo
	courses  repos.CourseRepo
	goals    repos.GoalRepo
	pending  repos.PendingRepo
	prefetch repos.PrefetchRepo

	leaser *lease.FlagLeaser
	ai     *fakeAI
	convs  *fakeConvSource
	hub    *sse.Hub
	group  *tasks.Group
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.NewNop()
	store := kv.NewMemStore()
	env := &testEnv{
		mu:       &sync.Mutex{},
		store:    store,
		outlines: repos.NewOutlineRepo(store, log),
		courses:  repos.NewCourseRepo(store, log),
		goals:    repos.NewGoalRepo(store, log),
		pending:  repos.NewPendingRepo(store, log),
		prefetch: repos.NewPrefetchRepo(store, log),
		leaser:   lease.NewFlagLeaser(store, log, 10*time.Minute),
		ai:       &fakeAI{},
		convs:    &fakeConvSource{},
		hub:      sse.NewHub(log),
		group:    tasks.NewGroup(log),
	}
	t.Cleanup(func() { env.group.Shutdown(time.Second) })
	return env
}

func (env *testEnv) statusService() StatusService {
	return NewStatusService(env.mu, logger.NewNop(), env.outlines, env.courses, env.goals, env.pending, env.hub)
}

func (env *testEnv) generationService() GenerationService {
	return NewGenerationService(env.mu, logger.NewNop(), env.outlines, env.courses, env.prefetch, env.leaser, env.ai, env.convs, env.group, env.hub)
}

func (env *testEnv) reconcilerService() ReconcilerService {
	return NewReconcilerService(env.mu, logger.NewNop(), env.outlines, env.courses, env.goals, env.pending, env.hub, time.Minute)
}

func (env *testEnv) regroupService() RegroupService {
	return NewRegroupService(env.mu, logger.NewNop(), env.outlines, env.courses, env.goals, env.pending, env.ai, env.hub)
}

func (env *testEnv) triggerService(surface SurfaceState) TriggerService {
	summarizer := chat.NewSummarizer(env.ai, logger.NewNop())
	proposals := NewProposalService(env.mu, logger.NewNop(), env.outlines, env.courses, env.convs, summarizer, env.ai)
	regroup := env.regroupService()
	return NewTriggerService(env.mu, logger.NewNop(), env.outlines, env.pending, env.convs, proposals, regroup, surface, env.hub)
}

func (env *testEnv) seedOutline(t *testing.T, id string, status types.Status) *types.Outline {
	t.Helper()
	outline := &types.Outline{
		ID:        id,
		Title:     "Topic " + id,
		Goal:      "learn " + id,
		Status:    status,
		CreatedAt: time.Now(),
	}
	if err := env.outlines.Put(context.Background(), outline); err != nil {
		t.Fatalf("seed outline %s: %v", id, err)
	}
	return outline
}

func (env *testEnv) seedCourse(t *testing.T, id string, status types.Status, withContent bool) *types.Course {
	t.Helper()
	course := &types.Course{
		ID:        id,
		Title:     "Topic " + id,
		Goal:      "learn " + id,
		Status:    status,
		CreatedAt: time.Now(),
	}
	if withContent {
		course.Modules = []types.CourseModule{
			{ID: id + "-m1", Title: "Part 1", Content: "content"},
			{ID: id + "-m2", Title: "Part 2", Content: "content"},
		}
		course.ProgressByModule = map[string]types.ModuleProgress{
			id + "-m1": types.ProgressNotStarted,
			id + "-m2": types.ProgressNotStarted,
		}
	}
	if err := env.courses.Put(context.Background(), course); err != nil {
		t.Fatalf("seed course %s: %v", id, err)
	}
	return course
}

const draftJSON = `{"title":"Generated Title","goal":"generated goal","modules":[` +
	`{"title":"Module One","content":"body one","quiz":"q1"},` +
	`{"title":"Module Two","content":"body two"}]}`
