package types

// Status is the lifecycle state of a learn topic. Before a Course is
// materialized only the Outline carries it; once a Course exists the Outline
// mirrors the Course.
type Status string

const (
	StatusSuggested Status = "suggested"
	StatusSaved     Status = "saved"
	StatusDismissed Status = "dismissed"
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"

	// StatusPrefetched only ever appears on drafts inside the prefetch cache,
	// never on a persisted Course.
	StatusPrefetched Status = "prefetched"
)

type CompletedVia string

const (
	CompletedViaSelfReport     CompletedVia = "self_report"
	CompletedViaFullCompletion CompletedVia = "full_completion"
)

type SuggestKind string

const (
	SuggestExplore    SuggestKind = "explore"
	SuggestStrengthen SuggestKind = "strengthen"
)

type ModuleProgress string

const (
	ProgressNotStarted ModuleProgress = "not_started"
	ProgressDone       ModuleProgress = "done"
)

var transitions = map[Status][]Status{
	StatusSuggested: {StatusSaved, StatusDismissed, StatusStarted},
	StatusSaved:     {StatusStarted, StatusDismissed},
	StatusStarted:   {StatusCompleted, StatusDismissed},
	// completed and dismissed are terminal; regrouping edits Course.Goal, not Status.
}

// CanTransition reports whether from→to is a legal status edge. It does not
// apply the started→dismissed content guard; that needs the Course and lives
// in the status service.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
