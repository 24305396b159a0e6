// Package chat is the read-only collaborator supplying conversation text for
// learn prompts. This subsystem never mutates chat state.
package chat

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/yungbote/loom-backend/internal/kv"
	"github.com/yungbote/loom-backend/internal/logger"
)

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Conversation struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Summary  string    `json:"summary"`
	Messages []Message `json:"messages"`
}

type Source interface {
	List(ctx context.Context) ([]Conversation, error)
}

type kvSource struct {
	store kv.Store
	log   *logger.Logger
}

func NewKVSource(store kv.Store, baseLog *logger.Logger) Source {
	return &kvSource{store: store, log: baseLog.With("component", "chat.kvSource")}
}

func (s *kvSource) List(ctx context.Context) ([]Conversation, error) {
	raw, err := s.store.Load(ctx, kv.CollectionConversations)
	if err != nil {
		return nil, err
	}
	convs := make(map[string]Conversation)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &convs); err != nil {
			return nil, err
		}
	}
	results := make([]Conversation, 0, len(convs))
	for id, c := range convs {
		if c.ID == "" {
			c.ID = id
		}
		results = append(results, c)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results, nil
}
