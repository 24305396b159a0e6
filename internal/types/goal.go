package types

// Goal is a labeled cluster of completed courses. It is canonical, and shown
// to the user as a group, only with at least two members.
type Goal struct {
	ID                 string   `json:"id"`
	Label              string   `json:"label"`
	CompletedCourseIDs []string `json:"completed_course_ids"`
}

const CanonicalGoalMinMembers = 2

func (g *Goal) Canonical() bool {
	return len(g.CompletedCourseIDs) >= CanonicalGoalMinMembers
}

func (g *Goal) HasMember(courseID string) bool {
	for _, id := range g.CompletedCourseIDs {
		if id == courseID {
			return true
		}
	}
	return false
}
