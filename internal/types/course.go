package types

import "time"

type Course struct {
	ID               string                    `json:"id"`
	Title            string                    `json:"title"`
	Goal             string                    `json:"goal"`
	QuestionIDs      []string                  `json:"question_ids"`
	Modules          []CourseModule            `json:"modules"`
	ProgressByModule map[string]ModuleProgress `json:"progress_by_module"`
	Status           Status                    `json:"status"`
	CompletedVia     CompletedVia              `json:"completed_via,omitempty"`
	CreatedAt        time.Time                 `json:"created_at"`
	CompletedAt      *time.Time                `json:"completed_at,omitempty"`
}

// CourseModule content is immutable once generated; progress is tracked by id
// in Course.ProgressByModule.
type CourseModule struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Quiz    string `json:"quiz,omitempty"`
}

// HasFullContent reports whether the course carries generated module content,
// as opposed to a shell created by save/self-report.
func (c *Course) HasFullContent() bool {
	for _, m := range c.Modules {
		if m.Content != "" {
			return true
		}
	}
	return false
}

// HasProgress reports whether any module has been marked done.
func (c *Course) HasProgress() bool {
	for _, p := range c.ProgressByModule {
		if p == ProgressDone {
			return true
		}
	}
	return false
}

// AllModulesDone reports whether every generated module is done. False for a
// course with no modules.
func (c *Course) AllModulesDone() bool {
	if len(c.Modules) == 0 {
		return false
	}
	for _, m := range c.Modules {
		if c.ProgressByModule[m.ID] != ProgressDone {
			return false
		}
	}
	return true
}

// ModuleTitles returns up to max module titles, for prompt briefs.
func (c *Course) ModuleTitles(max int) []string {
	titles := make([]string, 0, len(c.Modules))
	for _, m := range c.Modules {
		if len(titles) >= max {
			break
		}
		titles = append(titles, m.Title)
	}
	return titles
}
