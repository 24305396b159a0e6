package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yungbote/loom-backend/internal/kv"
	"github.com/yungbote/loom-backend/internal/llm"
	"github.com/yungbote/loom-backend/internal/logger"
)

type scriptedAI struct {
	text string
	err  error
}

func (s *scriptedAI) Call(context.Context, []llm.Message) (*llm.Completion, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Completion{Text: s.text, ModelUsed: "fake"}, nil
}

func TestSummarizeUsesStoredSummary(t *testing.T) {
	ai := &scriptedAI{err: errors.New("must not be called")}
	s := NewSummarizer(ai, logger.NewNop())

	got := s.Summarize(context.Background(), Conversation{
		ID:      "conv1",
		Title:   "Stored",
		Summary: "already summarized",
	})
	if got.Summary != "already summarized" || got.Title != "Stored" {
		t.Errorf("Summarize = %+v", got)
	}
}

func TestSummarizeCallsModel(t *testing.T) {
	ai := &scriptedAI{text: `{"title":"Leak hunt","summary":"User chased a goroutine leak."}`}
	s := NewSummarizer(ai, logger.NewNop())

	got := s.Summarize(context.Background(), Conversation{
		ID:       "conv1",
		Messages: []Message{{Role: "user", Content: "my goroutines leak"}},
	})
	if got.Title != "Leak hunt" {
		t.Errorf("title = %q", got.Title)
	}
}

func TestSummarizeFallsBackToExcerpt(t *testing.T) {
	ai := &scriptedAI{err: errors.New("model down")}
	s := NewSummarizer(ai, logger.NewNop())

	got := s.Summarize(context.Background(), Conversation{
		ID:       "conv1",
		Title:    "Raw",
		Messages: []Message{{Role: "user", Content: "help with tls certs"}},
	})
	if !strings.Contains(got.Summary, "tls certs") {
		t.Errorf("fallback summary = %q, want raw excerpt", got.Summary)
	}
}

func TestRenderMessagesTruncates(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: strings.Repeat("x", 300)},
		{Role: "assistant", Content: "never reached"},
	}
	out := RenderMessages(messages, 100)
	if len(out) != 100 {
		t.Errorf("len = %d, want 100", len(out))
	}
	if !strings.HasPrefix(out, "user: ") {
		t.Errorf("out = %q, want role prefix", out[:10])
	}
}

func TestKVSourceList(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	blob := `{"b":{"title":"Second","messages":[]},"a":{"id":"a","title":"First","messages":[{"role":"user","content":"hi"}]}}`
	if err := store.Save(ctx, kv.CollectionConversations, []byte(blob)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	src := NewKVSource(store, logger.NewNop())
	convs, err := src.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(convs) != 2 || convs[0].ID != "a" || convs[1].ID != "b" {
		t.Fatalf("convs = %+v, want sorted by id with map key fallback", convs)
	}
	if len(convs[0].Messages) != 1 {
		t.Errorf("messages not decoded: %+v", convs[0])
	}
}
