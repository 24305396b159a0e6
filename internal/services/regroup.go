package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/loom-backend/internal/llm"
	"github.com/yungbote/loom-backend/internal/logger"
	"github.com/yungbote/loom-backend/internal/prompts"
	"github.com/yungbote/loom-backend/internal/repos"
	"github.com/yungbote/loom-backend/internal/sse"
	"github.com/yungbote/loom-backend/internal/types"
)

// Brief size caps keep the clustering prompt bounded regardless of how much
// the user has completed.
const (
	briefMaxQuestions      = 4
	briefMaxModuleTitles   = 6
	briefMaxMemberModules  = 4
	briefMaxMembers        = 12
	briefMaxPendingCourses = 30
)

type RegroupResult struct {
	Regrouped   int `json:"regrouped"`
	PendingLeft int `json:"pending_left"`
	GroupCount  int `json:"group_count"`
}

// RegroupService clusters completed-but-ungrouped courses into labeled goals.
// The model makes the clustering decision; applying it is deterministic and
// all-or-nothing, because a half-applied regroup would orphan completed
// courses from both pending and goals.
type RegroupService interface {
	RegroupAllCompleted(ctx context.Context) (*RegroupResult, error)
}

type regroupService struct {
	mu  *sync.Mutex
	log *logger.Logger

	outlineRepo repos.OutlineRepo
	courseRepo  repos.CourseRepo
	goalRepo    repos.GoalRepo
	pendingRepo repos.PendingRepo

	ai  llm.Client
	hub *sse.Hub
}

func NewRegroupService(
	mu *sync.Mutex,
	baseLog *logger.Logger,
	outlineRepo repos.OutlineRepo,
	courseRepo repos.CourseRepo,
	goalRepo repos.GoalRepo,
	pendingRepo repos.PendingRepo,
	ai llm.Client,
	hub *sse.Hub,
) RegroupService {
	return &regroupService{
		mu:          mu,
		log:         baseLog.With("service", "RegroupService"),
		outlineRepo: outlineRepo,
		courseRepo:  courseRepo,
		goalRepo:    goalRepo,
		pendingRepo: pendingRepo,
		ai:          ai,
		hub:         hub,
	}
}

type pendingBriefItem struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Tag          string   `json:"tag,omitempty"`
	Questions    []string `json:"questions,omitempty"`
	ModuleTitles []string `json:"module_titles,omitempty"`
}

type existingBriefMember struct {
	ID           string   `json:"id"`
	ModuleTitles []string `json:"module_titles,omitempty"`
}

type existingBriefItem struct {
	Label   string                `json:"label"`
	Members []existingBriefMember `json:"members"`
}

func (s *regroupService) RegroupAllCompleted(ctx context.Context) (*RegroupResult, error) {
	s.mu.Lock()
	pendingBrief, existingBrief, goals, err := s.buildBriefs(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	canonical := 0
	for _, g := range goals {
		if g.Canonical() {
			canonical++
		}
	}
	noop := &RegroupResult{Regrouped: 0, PendingLeft: len(pendingBrief), GroupCount: canonical}
	if len(pendingBrief) == 0 {
		return noop, nil
	}

	pendingJSON, err := json.Marshal(pendingBrief)
	if err != nil {
		return nil, err
	}
	existingJSON, err := json.Marshal(existingBrief)
	if err != nil {
		return nil, err
	}

	completion, err := s.ai.Call(ctx, []llm.Message{
		{Role: "user", Content: prompts.Clustering(string(pendingJSON), string(existingJSON))},
	})
	if err != nil {
		// No partial mutation on model failure: report unchanged counts.
		return noop, fmt.Errorf("clustering call: %w", err)
	}
	plan, err := llm.DecodeRegroupPlan(completion.Text)
	if err != nil {
		return noop, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Rebuild inputs under the lock; state may have moved during the call.
	pendingBrief, _, goals, err = s.buildBriefs(ctx)
	if err != nil {
		return nil, err
	}
	pendingIDs := make([]string, 0, len(pendingBrief))
	for _, item := range pendingBrief {
		pendingIDs = append(pendingIDs, item.ID)
	}

	newGoals, grouped := applyPlan(goals, plan, pendingIDs, s.log)

	newPending := make([]string, 0, len(pendingIDs))
	for _, id := range pendingIDs {
		if !grouped[id] {
			newPending = append(newPending, id)
		}
	}

	// Goals first, pending second: if the process dies in between, a course
	// sits in both and the reconciler strips it from pending.
	if err := s.goalRepo.ReplaceAll(ctx, newGoals); err != nil {
		return nil, err
	}
	if err := s.pendingRepo.ReplaceAll(ctx, newPending); err != nil {
		return nil, err
	}

	groupCount := 0
	for _, g := range newGoals {
		if g.Canonical() {
			groupCount++
		}
	}
	result := &RegroupResult{
		Regrouped:   len(pendingIDs) - len(newPending),
		PendingLeft: len(newPending),
		GroupCount:  groupCount,
	}
	s.hub.Broadcast(sse.Message{Event: sse.EventGoalsRegrouped, Data: result})
	return result, nil
}

// buildBriefs gathers the capped prompt inputs: completed courses outside any
// canonical goal, and the canonical goals themselves.
func (s *regroupService) buildBriefs(ctx context.Context) ([]pendingBriefItem, []existingBriefItem, []*types.Goal, error) {
	courses, err := s.courseRepo.GetAll(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	goals, err := s.goalRepo.GetAll(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	outlines, err := s.outlineRepo.GetAll(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	outlineByID := make(map[string]*types.Outline, len(outlines))
	for _, o := range outlines {
		outlineByID[o.ID] = o
	}
	courseByID := make(map[string]*types.Course, len(courses))
	for _, c := range courses {
		courseByID[c.ID] = c
	}

	grouped := make(map[string]bool)
	for _, g := range goals {
		if !g.Canonical() {
			continue
		}
		for _, id := range g.CompletedCourseIDs {
			grouped[id] = true
		}
	}

	var pendingBrief []pendingBriefItem
	for _, c := range courses {
		if c.Status != types.StatusCompleted || grouped[c.ID] {
			continue
		}
		if len(pendingBrief) >= briefMaxPendingCourses {
			break
		}
		item := pendingBriefItem{
			ID:           c.ID,
			Title:        c.Title,
			ModuleTitles: c.ModuleTitles(briefMaxModuleTitles),
		}
		if o := outlineByID[c.ID]; o != nil {
			item.Tag = string(o.SuggestKind)
			if len(o.Questions) > briefMaxQuestions {
				item.Questions = o.Questions[:briefMaxQuestions]
			} else {
				item.Questions = o.Questions
			}
		}
		pendingBrief = append(pendingBrief, item)
	}

	var existingBrief []existingBriefItem
	for _, g := range goals {
		if !g.Canonical() {
			continue
		}
		item := existingBriefItem{Label: g.Label}
		for _, id := range g.CompletedCourseIDs {
			if len(item.Members) >= briefMaxMembers {
				break
			}
			member := existingBriefMember{ID: id}
			if c := courseByID[id]; c != nil {
				member.ModuleTitles = c.ModuleTitles(briefMaxMemberModules)
			}
			item.Members = append(item.Members, member)
		}
		existingBrief = append(existingBrief, item)
	}

	return pendingBrief, existingBrief, goals, nil
}

// applyPlan applies the clustering decision deterministically: rename (with
// merge on label collision), add-to-existing, removals, new groups (≥2
// members, merge on collision), then the canonicality filter. Label
// uniqueness is a hard invariant throughout. Returns the new goal list and
// the set of pending ids that ended up grouped.
func applyPlan(goals []*types.Goal, plan *llm.RegroupPlan, pendingIDs []string, log *logger.Logger) ([]*types.Goal, map[string]bool) {
	pending := make(map[string]bool, len(pendingIDs))
	for _, id := range pendingIDs {
		pending[id] = true
	}

	// Work on copies; the plan must apply fully or not at all.
	working := make([]*types.Goal, 0, len(goals))
	for _, g := range goals {
		cp := *g
		cp.CompletedCourseIDs = append([]string(nil), g.CompletedCourseIDs...)
		working = append(working, &cp)
	}

	findByLabel := func(label string) *types.Goal {
		for _, g := range working {
			if g.Label == label {
				return g
			}
		}
		for _, g := range working {
			if strings.EqualFold(g.Label, label) {
				return g
			}
		}
		return nil
	}
	dropGoal := func(target *types.Goal) {
		kept := working[:0]
		for _, g := range working {
			if g != target {
				kept = append(kept, g)
			}
		}
		working = kept
	}
	mergeInto := func(dst, src *types.Goal) {
		for _, id := range src.CompletedCourseIDs {
			if !dst.HasMember(id) {
				dst.CompletedCourseIDs = append(dst.CompletedCourseIDs, id)
			}
		}
		dropGoal(src)
	}

	// 1. Renames. A rename onto an existing label is a merge; two goals with
	// the same label must never exist.
	for _, op := range plan.Rename {
		src := findByLabel(op.From)
		if src == nil {
			log.Debug("rename source not found", "from", op.From)
			continue
		}
		if dst := findByLabel(op.To); dst != nil && dst != src {
			mergeInto(dst, src)
			continue
		}
		src.Label = op.To
	}

	removed := make(map[*types.Goal]bool)
	for _, label := range plan.RemoveGroups {
		if g := findByLabel(label); g != nil {
			removed[g] = true
		}
	}

	// 2. Add-to-existing. Targets must exist post-rename and not be slated
	// for removal; only courses from the pending input may be claimed.
	claimed := make(map[string]bool)
	for _, op := range plan.AddToExisting {
		if !pending[op.CourseID] || claimed[op.CourseID] {
			continue
		}
		target := findByLabel(op.TargetLabel)
		if target == nil || removed[target] {
			log.Debug("add target missing or removed", "label", op.TargetLabel)
			continue
		}
		if !target.HasMember(op.CourseID) {
			target.CompletedCourseIDs = append(target.CompletedCourseIDs, op.CourseID)
		}
		claimed[op.CourseID] = true
	}

	for g := range removed {
		dropGoal(g)
	}

	// 3. New groups. Never create a singleton; a label collision merges into
	// the existing goal instead of duplicating it.
	for _, ng := range plan.NewGroups {
		members := make([]string, 0, len(ng.Members))
		for _, id := range ng.Members {
			if pending[id] && !claimed[id] {
				members = append(members, id)
			}
		}
		if len(members) < types.CanonicalGoalMinMembers {
			log.Debug("rejecting group with too few members", "label", ng.Label, "members", len(members))
			continue
		}
		if existing := findByLabel(ng.Label); existing != nil {
			for _, id := range members {
				if !existing.HasMember(id) {
					existing.CompletedCourseIDs = append(existing.CompletedCourseIDs, id)
				}
				claimed[id] = true
			}
			continue
		}
		working = append(working, &types.Goal{
			ID:                 uuid.New().String(),
			Label:              ng.Label,
			CompletedCourseIDs: members,
		})
		for _, id := range members {
			claimed[id] = true
		}
	}

	// 4. Canonicality is derived, not stored: drop anything that fell below
	// two members, demoting its members back to pending.
	final := working[:0]
	for _, g := range working {
		if g.Canonical() {
			final = append(final, g)
		}
	}

	grouped := make(map[string]bool)
	for _, g := range final {
		for _, id := range g.CompletedCourseIDs {
			grouped[id] = true
		}
	}
	return final, grouped
}
