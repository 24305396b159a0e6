package services

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/yungbote/loom-backend/internal/chat"
	"github.com/yungbote/loom-backend/internal/logger"
	"github.com/yungbote/loom-backend/internal/repos"
	"github.com/yungbote/loom-backend/internal/sse"
	"github.com/yungbote/loom-backend/internal/types"
)

// TriggerService wraps the background convenience operations in single-flight
// guards and context checks. A second concurrent call is dropped, not queued,
// and failures never surface to the user.
type TriggerService interface {
	AutoRefreshSuggestions(ctx context.Context)
	AutoRegroupPending(ctx context.Context)

	// RefreshSuggestions is the user-initiated variant: it skips the surface
	// check and reports its outcome.
	RefreshSuggestions(ctx context.Context) (int, error)

	IsAutoRefreshing() bool
	IsAutoRegrouping() bool
}

type triggerService struct {
	mu  *sync.Mutex
	log *logger.Logger

	outlineRepo repos.OutlineRepo
	pendingRepo repos.PendingRepo
	convs       chat.Source

	proposals ProposalService
	regroup   RegroupService
	surface   SurfaceState
	hub       *sse.Hub

	refreshing atomic.Bool
	regrouping atomic.Bool
}

func NewTriggerService(
	mu *sync.Mutex,
	baseLog *logger.Logger,
	outlineRepo repos.OutlineRepo,
	pendingRepo repos.PendingRepo,
	convs chat.Source,
	proposals ProposalService,
	regroup RegroupService,
	surface SurfaceState,
	hub *sse.Hub,
) TriggerService {
	return &triggerService{
		mu:          mu,
		log:         baseLog.With("service", "TriggerService"),
		outlineRepo: outlineRepo,
		pendingRepo: pendingRepo,
		convs:       convs,
		proposals:   proposals,
		regroup:     regroup,
		surface:     surface,
		hub:         hub,
	}
}

func (s *triggerService) IsAutoRefreshing() bool { return s.refreshing.Load() }
func (s *triggerService) IsAutoRegrouping() bool { return s.regrouping.Load() }

// AutoRefreshSuggestions runs after a new chat summary lands. All
// preconditions short-circuit with no side effect.
func (s *triggerService) AutoRefreshSuggestions(ctx context.Context) {
	if s.surface.Visible() {
		return
	}
	if !s.refreshing.CompareAndSwap(false, true) {
		return
	}
	defer s.refreshing.Store(false)

	if !s.hasAnyMessages(ctx) {
		return
	}
	if _, err := s.refreshLocked(ctx); err != nil {
		s.log.Warn("auto refresh failed", "error", err)
	}
}

func (s *triggerService) RefreshSuggestions(ctx context.Context) (int, error) {
	if !s.refreshing.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer s.refreshing.Store(false)
	return s.refreshLocked(ctx)
}

// refreshLocked replaces the suggested feed: clear outlines that are still
// only suggestions (saved/started/completed/dismissed are never touched),
// generate, batch-insert.
func (s *triggerService) refreshLocked(ctx context.Context) (int, error) {
	s.mu.Lock()
	if _, err := s.outlineRepo.DeleteWhereStatus(ctx, types.StatusSuggested); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	s.mu.Unlock()

	outlines, err := s.proposals.GenerateProposals(ctx)
	if err != nil {
		return 0, err
	}
	if len(outlines) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	err = s.outlineRepo.PutAll(ctx, outlines)
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}

	s.hub.Broadcast(sse.Message{Event: sse.EventSuggestionsRefreshed, Data: map[string]any{"count": len(outlines)}})
	return len(outlines), nil
}

// AutoRegroupPending runs when a course completes. Regrouping fewer than two
// pending courses is pointless and would itself create a singleton goal, so
// it bails early without touching the model.
func (s *triggerService) AutoRegroupPending(ctx context.Context) {
	pending, err := s.pendingRepo.Get(ctx)
	if err != nil {
		s.log.Warn("pending read failed", "error", err)
		return
	}
	if len(pending) < types.CanonicalGoalMinMembers {
		return
	}
	if !s.regrouping.CompareAndSwap(false, true) {
		return
	}
	defer s.regrouping.Store(false)

	if _, err := s.regroup.RegroupAllCompleted(ctx); err != nil {
		s.log.Warn("auto regroup failed", "error", err)
	}
}

func (s *triggerService) hasAnyMessages(ctx context.Context) bool {
	convs, err := s.convs.List(ctx)
	if err != nil {
		s.log.Warn("conversation read failed", "error", err)
		return false
	}
	for _, conv := range convs {
		if len(conv.Messages) > 0 {
			return true
		}
	}
	return false
}
