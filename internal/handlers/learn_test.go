package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/loom-backend/internal/chat"
	"github.com/yungbote/loom-backend/internal/kv"
	"github.com/yungbote/loom-backend/internal/lease"
	"github.com/yungbote/loom-backend/internal/llm"
	"github.com/yungbote/loom-backend/internal/logger"
	"github.com/yungbote/loom-backend/internal/repos"
	"github.com/yungbote/loom-backend/internal/services"
	"github.com/yungbote/loom-backend/internal/sse"
	"github.com/yungbote/loom-backend/internal/tasks"
	"github.com/yungbote/loom-backend/internal/types"
)

type stubAI struct {
	mu   sync.Mutex
	text string
	err  error
}

func (s *stubAI) Call(context.Context, []llm.Message) (*llm.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Completion{Text: s.text, ModelUsed: "stub"}, nil
}

type harness struct {
	router   *gin.Engine
	outlines repos.OutlineRepo
	courses  repos.CourseRepo
	ai       *stubAI
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NewNop()
	store := kv.NewMemStore()
	ai := &stubAI{text: "{}"}
	mu := &sync.Mutex{}

	outlines := repos.NewOutlineRepo(store, log)
	courses := repos.NewCourseRepo(store, log)
	goals := repos.NewGoalRepo(store, log)
	pending := repos.NewPendingRepo(store, log)
	prefetch := repos.NewPrefetchRepo(store, log)
	leaser := lease.NewFlagLeaser(store, log, 10*time.Minute)

	convs := chat.NewKVSource(store, log)
	summarizer := chat.NewSummarizer(ai, log)
	hub := sse.NewHub(log)
	group := tasks.NewGroup(log)
	t.Cleanup(func() { group.Shutdown(2 * time.Second) })
	surface := services.NewSurfaceTracker()

	status := services.NewStatusService(mu, log, outlines, courses, goals, pending, hub)
	generation := services.NewGenerationService(mu, log, outlines, courses, prefetch, leaser, ai, convs, group, hub)
	reconciler := services.NewReconcilerService(mu, log, outlines, courses, goals, pending, hub, time.Minute)
	regroup := services.NewRegroupService(mu, log, outlines, courses, goals, pending, ai, hub)
	proposals := services.NewProposalService(mu, log, outlines, courses, convs, summarizer, ai)
	trigger := services.NewTriggerService(mu, log, outlines, pending, convs, proposals, regroup, surface, hub)

	learn := NewLearnHandler(log, outlines, courses, goals, pending, status, generation, regroup, trigger, reconciler, surface, group)

	r := gin.New()
	api := r.Group("/api/learn")
	api.GET("/state", learn.GetState)
	api.POST("/courses/:id/start", learn.StartCourse)
	api.POST("/courses/:id/prefetch", learn.PrefetchCourse)
	api.POST("/courses/:id/modules/:moduleId/done", learn.SetModuleDone)
	api.POST("/outlines/:id/status", learn.UpdateOutlineStatus)
	api.POST("/regroup", learn.Regroup)
	api.POST("/refresh", learn.RefreshSuggestions)
	api.POST("/reconcile", learn.Reconcile)
	api.POST("/surface", learn.SetSurfaceVisibility)

	return &harness{router: r, outlines: outlines, courses: courses, ai: ai}
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func seedOutline(t *testing.T, h *harness, id string, status types.Status) {
	t.Helper()
	if err := h.outlines.Put(context.Background(), &types.Outline{
		ID: id, Title: "Topic " + id, Status: status, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("seed outline: %v", err)
	}
}

func TestGetState(t *testing.T) {
	h := newHarness(t)
	seedOutline(t, h, "o1", types.StatusSuggested)

	w := h.do(t, http.MethodGet, "/api/learn/state", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Outlines []types.Outline `json:"outlines"`
		Pending  []string        `json:"pending_course_ids"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Outlines) != 1 || resp.Outlines[0].ID != "o1" {
		t.Errorf("outlines = %+v", resp.Outlines)
	}
}

func TestStartCourseGeneratesInBackground(t *testing.T) {
	h := newHarness(t)
	h.ai.text = `{"title":"Gen","goal":"g","modules":[{"title":"M1","content":"body"}]}`
	seedOutline(t, h, "o1", types.StatusSuggested)

	w := h.do(t, http.MethodPost, "/api/learn/courses/o1/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var result struct {
		NeedsGeneration bool `json:"needs_generation"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.NeedsGeneration {
		t.Fatalf("result = %s, want needs_generation", w.Body.String())
	}

	// Generation was spawned in the background; the course shows up shortly.
	deadline := time.Now().Add(3 * time.Second)
	for {
		course, err := h.courses.GetByID(context.Background(), "o1")
		if err != nil {
			t.Fatalf("poll course: %v", err)
		}
		if course != nil {
			if course.Status != types.StatusStarted {
				t.Errorf("generated course status = %s", course.Status)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("course never materialized")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUpdateStatusErrorMapping(t *testing.T) {
	h := newHarness(t)
	seedOutline(t, h, "o1", types.StatusStarted)

	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown id", "/api/learn/outlines/ghost/status", `{"status":"saved"}`, http.StatusNotFound},
		{"illegal transition", "/api/learn/outlines/o1/status", `{"status":"saved"}`, http.StatusConflict},
		{"missing body", "/api/learn/outlines/o1/status", "", http.StatusBadRequest},
		{"legal transition", "/api/learn/outlines/o1/status", `{"status":"completed"}`, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := h.do(t, http.MethodPost, tc.path, tc.body)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tc.want, w.Body.String())
			}
			if tc.want >= 400 && tc.want != http.StatusBadRequest {
				var envelope ErrorEnvelope
				if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
					t.Fatalf("decode error envelope: %v", err)
				}
				if envelope.Error.Code == "" {
					t.Error("error envelope missing code")
				}
			}
		})
	}
}

func TestRegroupFailureIsSoft(t *testing.T) {
	h := newHarness(t)
	h.ai.err = errors.New("model down")

	ctx := context.Background()
	for _, id := range []string{"c1", "c2"} {
		seedOutline(t, h, id, types.StatusCompleted)
		if err := h.courses.Put(ctx, &types.Course{
			ID: id, Title: "T " + id, Status: types.StatusCompleted,
			Modules:   []types.CourseModule{{ID: id + "-m", Title: "m", Content: "c"}},
			CreatedAt: time.Now(),
		}); err != nil {
			t.Fatalf("seed course: %v", err)
		}
	}

	w := h.do(t, http.MethodPost, "/api/learn/regroup", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 soft failure", w.Code)
	}
	var resp struct {
		Applied bool   `json:"applied"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Applied || resp.Message == "" {
		t.Errorf("resp = %s, want applied=false with message", w.Body.String())
	}
}

func TestSurfaceVisibility(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/learn/surface", `{"visible":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	w = h.do(t, http.MethodPost, "/api/learn/surface", `{"bogus":1}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", w.Code)
	}
}

func TestReconcileEndpoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.courses.Put(ctx, &types.Course{ID: "c1", Title: "Orphan", Status: types.StatusStarted, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := h.do(t, http.MethodPost, "/api/learn/reconcile", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var report struct {
		Repaired bool `json:"repaired"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !report.Repaired {
		t.Errorf("report = %s, want repaired", w.Body.String())
	}
}
