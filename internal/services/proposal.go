package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/loom-backend/internal/chat"
	"github.com/yungbote/loom-backend/internal/llm"
	"github.com/yungbote/loom-backend/internal/logger"
	"github.com/yungbote/loom-backend/internal/prompts"
	"github.com/yungbote/loom-backend/internal/repos"
	"github.com/yungbote/loom-backend/internal/types"
)

const proposalMaxConversations = 20

// ProposalService mines conversation history into suggested mini-course
// outlines.
type ProposalService interface {
	GenerateProposals(ctx context.Context) ([]*types.Outline, error)
}

type proposalService struct {
	mu  *sync.Mutex
	log *logger.Logger

	outlineRepo repos.OutlineRepo
	courseRepo  repos.CourseRepo
	convs       chat.Source
	summarizer  *chat.Summarizer
	ai          llm.Client
}

func NewProposalService(
	mu *sync.Mutex,
	baseLog *logger.Logger,
	outlineRepo repos.OutlineRepo,
	courseRepo repos.CourseRepo,
	convs chat.Source,
	summarizer *chat.Summarizer,
	ai llm.Client,
) ProposalService {
	return &proposalService{
		mu:          mu,
		log:         baseLog.With("service", "ProposalService"),
		outlineRepo: outlineRepo,
		courseRepo:  courseRepo,
		convs:       convs,
		summarizer:  summarizer,
		ai:          ai,
	}
}

type conversationBrief struct {
	ID      string `json:"id"`
	Title   string `json:"title,omitempty"`
	Summary string `json:"summary"`
}

type knownTopicBrief struct {
	Title  string `json:"title"`
	Status string `json:"status"`
}

func (s *proposalService) GenerateProposals(ctx context.Context) ([]*types.Outline, error) {
	convs, err := s.convs.List(ctx)
	if err != nil {
		return nil, err
	}

	briefs := make([]conversationBrief, 0, len(convs))
	for _, conv := range convs {
		if len(conv.Messages) == 0 {
			continue
		}
		if len(briefs) >= proposalMaxConversations {
			break
		}
		summary := s.summarizer.Summarize(ctx, conv)
		briefs = append(briefs, conversationBrief{ID: conv.ID, Title: summary.Title, Summary: summary.Summary})
	}
	if len(briefs) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	outlines, err := s.outlineRepo.GetAll(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	known := make([]knownTopicBrief, 0, len(outlines))
	for _, o := range outlines {
		if o.Status == types.StatusSuggested {
			continue
		}
		known = append(known, knownTopicBrief{Title: o.Title, Status: string(o.Status)})
	}

	briefsJSON, err := json.Marshal(briefs)
	if err != nil {
		return nil, err
	}
	knownJSON, err := json.Marshal(known)
	if err != nil {
		return nil, err
	}

	completion, err := s.ai.Call(ctx, []llm.Message{
		{Role: "user", Content: prompts.Proposal(string(briefsJSON), string(knownJSON))},
	})
	if err != nil {
		return nil, fmt.Errorf("proposal call: %w", err)
	}
	proposals, err := llm.DecodeProposals(completion.Text)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	results := make([]*types.Outline, 0, len(proposals))
	for _, p := range proposals {
		kind := types.SuggestKind(p.SuggestKind)
		if kind != types.SuggestExplore && kind != types.SuggestStrengthen {
			kind = types.SuggestExplore
		}
		results = append(results, &types.Outline{
			ID:            uuid.New().String(),
			Title:         p.Title,
			Goal:          p.Goal,
			Questions:     p.Questions,
			ModuleSummary: p.ModuleSummary,
			SourceChatIDs: p.SourceChatIDs,
			SuggestKind:   kind,
			Status:        types.StatusSuggested,
			CreatedAt:     now,
		})
	}
	return results, nil
}
