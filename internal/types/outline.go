package types

import "time"

// Outline is the lightweight proposed/tracked topic record, the pre-content
// shadow of a Course. Outline.ID equals the Course ID once a course exists.
type Outline struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	Goal          string      `json:"goal"`
	Questions     []string    `json:"questions"`
	ModuleSummary []string    `json:"module_summary"`
	SourceChatIDs []string    `json:"source_chat_ids"`
	SuggestKind   SuggestKind `json:"suggest_kind"`
	Status        Status      `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
}
