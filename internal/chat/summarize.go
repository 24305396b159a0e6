package chat

import (
	"context"
	"strings"

	"github.com/yungbote/loom-backend/internal/llm"
	"github.com/yungbote/loom-backend/internal/logger"
	"github.com/yungbote/loom-backend/internal/prompts"
)

const excerptMaxChars = 1200

// Summarizer compresses a conversation to a title + 1-2 sentence summary for
// prompt inputs. On model or parse failure it falls back to truncating the
// raw messages; suggestion quality degrades but the pipeline keeps moving.
type Summarizer struct {
	ai  llm.Client
	log *logger.Logger
}

func NewSummarizer(ai llm.Client, baseLog *logger.Logger) *Summarizer {
	return &Summarizer{ai: ai, log: baseLog.With("component", "chat.Summarizer")}
}

func (s *Summarizer) Summarize(ctx context.Context, conv Conversation) llm.ChatSummary {
	if conv.Summary != "" {
		return llm.ChatSummary{Title: conv.Title, Summary: conv.Summary}
	}
	completion, err := s.ai.Call(ctx, []llm.Message{
		{Role: "user", Content: prompts.Summarize(RenderMessages(conv.Messages, excerptMaxChars))},
	})
	if err == nil {
		if summary, perr := llm.DecodeChatSummary(completion.Text); perr == nil {
			return *summary
		} else {
			s.log.Warn("chat summary unparseable, falling back to excerpt", "conversation_id", conv.ID, "error", perr)
		}
	} else {
		s.log.Warn("chat summarize call failed, falling back to excerpt", "conversation_id", conv.ID, "error", err)
	}
	return llm.ChatSummary{
		Title:   conv.Title,
		Summary: RenderMessages(conv.Messages, 240),
	}
}

// RenderMessages flattens messages into "role: content" lines, truncated to
// maxChars.
func RenderMessages(messages []Message, maxChars int) string {
	var b strings.Builder
	for _, m := range messages {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		if b.Len() >= maxChars {
			break
		}
	}
	out := b.String()
	if len(out) > maxChars {
		out = out[:maxChars]
	}
	return out
}
