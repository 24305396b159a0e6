package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParseError means the model returned non-JSON or schema-invalid content. No
// persisted state is touched on a parse error; the caller decides whether to
// retry or surface it.
type ParseError struct {
	Reason  string
	Snippet string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("llm parse error: %s (got: %q)", e.Reason, e.Snippet)
}

func newParseError(reason, text string) *ParseError {
	return &ParseError{Reason: reason, Snippet: truncate(strings.TrimSpace(text), 200)}
}

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)```")

// ExtractJSON pulls a JSON object out of model output: strip a markdown code
// fence if present, then fall back to scanning for the outermost braces.
func ExtractJSON(text string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, newParseError("empty response", text)
	}
	if m := fenceRe.FindStringSubmatch(trimmed); m != nil {
		trimmed = strings.TrimSpace(m[1])
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), nil
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		candidate := trimmed[start : end+1]
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}
	return nil, newParseError("could not extract JSON", text)
}

// CourseDraft is the decoded shape of a generated course before ids and
// status are assigned.
type CourseDraft struct {
	Title   string        `json:"title"`
	Goal    string        `json:"goal"`
	Modules []ModuleDraft `json:"modules"`
}

type ModuleDraft struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Quiz    string `json:"quiz,omitempty"`
}

func DecodeCourseDraft(text string) (*CourseDraft, error) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}
	var draft CourseDraft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return nil, newParseError("course draft is not valid JSON: "+err.Error(), text)
	}
	if strings.TrimSpace(draft.Title) == "" {
		return nil, newParseError("course draft missing title", text)
	}
	if len(draft.Modules) == 0 {
		return nil, newParseError("course draft has no modules", text)
	}
	for i, m := range draft.Modules {
		if strings.TrimSpace(m.Title) == "" || strings.TrimSpace(m.Content) == "" {
			return nil, newParseError(fmt.Sprintf("module %d missing title or content", i), text)
		}
	}
	return &draft, nil
}

// RegroupPlan is the clustering decision returned by the model. All lists may
// be empty; labels reference goals as they existed before the call.
type RegroupPlan struct {
	Rename        []RenameOp  `json:"rename"`
	AddToExisting []AddOp     `json:"add_to_existing"`
	NewGroups     []NewGroup  `json:"new_groups"`
	LeavePending  []string    `json:"leave_pending"`
	RemoveGroups  []string    `json:"remove_groups"`
}

type RenameOp struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type AddOp struct {
	CourseID    string `json:"course_id"`
	TargetLabel string `json:"target_label"`
}

type NewGroup struct {
	Label   string   `json:"label"`
	Members []string `json:"members"`
}

func DecodeRegroupPlan(text string) (*RegroupPlan, error) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}
	var plan RegroupPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, newParseError("regroup plan is not valid JSON: "+err.Error(), text)
	}
	return &plan, nil
}

// OutlineProposal is one suggested topic from the proposal generator.
type OutlineProposal struct {
	Title         string   `json:"title"`
	Goal          string   `json:"goal"`
	Questions     []string `json:"questions"`
	ModuleSummary []string `json:"module_summary"`
	SuggestKind   string   `json:"suggest_kind"`
	SourceChatIDs []string `json:"source_chat_ids"`
}

func DecodeProposals(text string) ([]OutlineProposal, error) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Suggestions []OutlineProposal `json:"suggestions"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, newParseError("proposals are not valid JSON: "+err.Error(), text)
	}
	kept := parsed.Suggestions[:0]
	for _, p := range parsed.Suggestions {
		if strings.TrimSpace(p.Title) != "" {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

// ChatSummary is the title + short summary shape used to compress a
// conversation before it goes into a prompt.
type ChatSummary struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

func DecodeChatSummary(text string) (*ChatSummary, error) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}
	var summary ChatSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, newParseError("chat summary is not valid JSON: "+err.Error(), text)
	}
	if strings.TrimSpace(summary.Summary) == "" {
		return nil, newParseError("chat summary missing summary", text)
	}
	return &summary, nil
}
