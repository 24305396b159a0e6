package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/loom-backend/internal/logger"
	"github.com/yungbote/loom-backend/internal/repos"
	"github.com/yungbote/loom-backend/internal/services"
	"github.com/yungbote/loom-backend/internal/tasks"
	"github.com/yungbote/loom-backend/internal/types"
)

// LearnHandler exposes the learn-mode state machine over HTTP. Handlers stay
// thin: parse, delegate to a service, map service errors to status codes.
type LearnHandler struct {
	log *logger.Logger

	outlineRepo repos.OutlineRepo
	courseRepo  repos.CourseRepo
	goalRepo    repos.GoalRepo
	pendingRepo repos.PendingRepo

	status     services.StatusService
	generation services.GenerationService
	regroup    services.RegroupService
	trigger    services.TriggerService
	reconciler services.ReconcilerService
	surface    *services.SurfaceTracker
	group      *tasks.Group
}

func NewLearnHandler(
	baseLog *logger.Logger,
	outlineRepo repos.OutlineRepo,
	courseRepo repos.CourseRepo,
	goalRepo repos.GoalRepo,
	pendingRepo repos.PendingRepo,
	status services.StatusService,
	generation services.GenerationService,
	regroup services.RegroupService,
	trigger services.TriggerService,
	reconciler services.ReconcilerService,
	surface *services.SurfaceTracker,
	group *tasks.Group,
) *LearnHandler {
	return &LearnHandler{
		log:         baseLog.With("handler", "LearnHandler"),
		outlineRepo: outlineRepo,
		courseRepo:  courseRepo,
		goalRepo:    goalRepo,
		pendingRepo: pendingRepo,
		status:      status,
		generation:  generation,
		regroup:     regroup,
		trigger:     trigger,
		reconciler:  reconciler,
		surface:     surface,
		group:       group,
	}
}

func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, services.ErrInvalidTransition):
		RespondError(c, http.StatusConflict, "invalid_transition", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}

// GetState returns the full learn-mode snapshot the UI renders from.
func (h *LearnHandler) GetState(c *gin.Context) {
	ctx := c.Request.Context()

	outlines, err := h.outlineRepo.GetAll(ctx)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	courses, err := h.courseRepo.GetAll(ctx)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	goals, err := h.goalRepo.GetAll(ctx)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	pending, err := h.pendingRepo.Get(ctx)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	generating := make([]string, 0)
	for _, o := range outlines {
		if h.generation.IsGenerating(ctx, o.ID) {
			generating = append(generating, o.ID)
		}
	}

	RespondOK(c, gin.H{
		"outlines":           outlines,
		"courses":            courses,
		"goals":              goals,
		"pending_course_ids": pending,
		"generating_ids":     generating,
		"auto": gin.H{
			"refreshing": h.trigger.IsAutoRefreshing(),
			"regrouping": h.trigger.IsAutoRegrouping(),
		},
	})
}

// StartCourse is the "user pressed Start" entry point. When the service
// reports NeedsGeneration the model call runs in the background and the UI
// observes completion through the event stream.
func (h *LearnHandler) StartCourse(c *gin.Context) {
	id := c.Param("id")
	result, err := h.generation.AtomicStartCourse(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if result.NeedsGeneration {
		h.generation.SpawnGeneration(id)
	}
	RespondOK(c, result)
}

func (h *LearnHandler) PrefetchCourse(c *gin.Context) {
	id := c.Param("id")
	h.generation.SpawnPrefetch(id)
	c.JSON(http.StatusAccepted, gin.H{"queued": true, "id": id})
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Via    string `json:"via,omitempty"`
}

func (h *LearnHandler) UpdateOutlineStatus(c *gin.Context) {
	id := c.Param("id")
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}

	to := types.Status(strings.ToLower(strings.TrimSpace(req.Status)))
	var err error
	if to == types.StatusCompleted {
		err = h.status.CompleteCourse(c.Request.Context(), id, types.CompletedVia(req.Via))
	} else {
		err = h.status.UpdateStatus(c.Request.Context(), id, to)
	}
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"id": id, "status": to})
}

func (h *LearnHandler) SetModuleDone(c *gin.Context) {
	id := c.Param("id")
	moduleID := c.Param("moduleId")
	if err := h.status.SetModuleDone(c.Request.Context(), id, moduleID); err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"id": id, "module_id": moduleID, "progress": types.ProgressDone})
}

// Regroup runs the clustering pass synchronously. A model or parse failure
// leaves state untouched, so it comes back as a 200 with unchanged counts and
// a message rather than a 5xx.
func (h *LearnHandler) Regroup(c *gin.Context) {
	result, err := h.regroup.RegroupAllCompleted(c.Request.Context())
	if err != nil {
		if result == nil {
			respondServiceError(c, err)
			return
		}
		RespondOK(c, gin.H{"applied": false, "message": err.Error(), "result": result})
		return
	}
	RespondOK(c, gin.H{"applied": true, "result": result})
}

func (h *LearnHandler) RefreshSuggestions(c *gin.Context) {
	count, err := h.trigger.RefreshSuggestions(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"count": count})
}

func (h *LearnHandler) Reconcile(c *gin.Context) {
	report, err := h.reconciler.ValidateAndRepair(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, report)
}

type surfaceRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

// SetSurfaceVisibility records whether the learn surface is on screen.
// Auto-refresh checks this so it never swaps suggestions out from under the
// user.
func (h *LearnHandler) SetSurfaceVisibility(c *gin.Context) {
	var req surfaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	h.surface.SetVisible(*req.Visible)
	RespondOK(c, gin.H{"visible": *req.Visible})
}

// ChatUpdated is the hook the chat pipeline calls after new messages land.
// The refresh policy runs in the background; a dropped or failed run is
// invisible to the caller.
func (h *LearnHandler) ChatUpdated(c *gin.Context) {
	h.group.Spawn("auto-refresh-suggestions", h.trigger.AutoRefreshSuggestions)
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}
