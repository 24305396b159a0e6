// Package prompts holds the prompt templates for the learn subsystem. Inputs
// are pre-capped briefs serialized to JSON by the caller so prompt size stays
// bounded.
package prompts

import "fmt"

const proposalTemplate = `You mine a user's chat history to propose short personalized mini-courses.

Conversation summaries (each with an id):
%s

Topics already proposed, started or completed (do not repeat these):
%s

Suggest 3-6 new mini-course topics. Use "explore" for new adjacent areas and
"strengthen" for areas the user touched but did not go deep on.

Return JSON:
{
  "suggestions": [
    {
      "title": "Short Course Title",
      "goal": "One sentence on what the user will be able to do",
      "questions": ["question the user asked or could ask", "..."],
      "module_summary": ["Module 1 title", "Module 2 title"],
      "suggest_kind": "explore",
      "source_chat_ids": ["chat_id_1"]
    }
  ]
}`

const courseTemplate = `You generate a short mini-course from a proposed outline and the user's own conversations.

Outline:
%s

Relevant conversation excerpts:
%s

Write 3-5 modules. Each module is self-contained markdown a motivated reader
finishes in under ten minutes, and may include a short quiz.

Return JSON:
{
  "title": "Course Title",
  "goal": "One sentence goal",
  "modules": [
    { "title": "Module Title", "content": "Markdown body...", "quiz": "optional quiz JSON" }
  ]
}`

const clusteringTemplate = `You organize a user's completed mini-courses into named goals.

Completed courses not yet in any goal:
%s

Existing goals:
%s

Decide how to group. Rules:
- A goal needs at least 2 member courses; never propose a group with fewer.
- Prefer adding to an existing goal over creating a near-duplicate.
- Leave a course pending when nothing fits yet.

Return JSON with any of these keys (omit empty ones):
{
  "rename": [{ "from": "Old Label", "to": "New Label" }],
  "add_to_existing": [{ "course_id": "id", "target_label": "Existing Label" }],
  "new_groups": [{ "label": "New Label", "members": ["id1", "id2"] }],
  "leave_pending": ["id3"],
  "remove_groups": ["Label To Remove"]
}`

const summarizeTemplate = `Summarize this conversation in 1-2 concise sentences capturing the main question asked and key takeaway. Also generate a short title (3-6 words).

Conversation:
%s

Return JSON:
{ "title": "Short Title Here", "summary": "1-2 sentence summary of the conversation." }`

func Proposal(summariesJSON, knownTopicsJSON string) string {
	return fmt.Sprintf(proposalTemplate, summariesJSON, knownTopicsJSON)
}

func CourseGeneration(outlineJSON, excerpts string) string {
	return fmt.Sprintf(courseTemplate, outlineJSON, excerpts)
}

func Clustering(pendingBriefJSON, existingBriefJSON string) string {
	return fmt.Sprintf(clusteringTemplate, pendingBriefJSON, existingBriefJSON)
}

func Summarize(messages string) string {
	return fmt.Sprintf(summarizeTemplate, messages)
}
