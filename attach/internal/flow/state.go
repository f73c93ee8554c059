package flow

// State is a stage of the per-file upload state machine.
type State string

const (
	StatePreflight        State = "PREFLIGHT"
	StateDiscoverEntry    State = "DISCOVER_ENTRY"
	StateTypeFormObtained State = "TYPE_FORM_OBTAINED"
	StatePreparePosted    State = "PREPARE_POSTED"
	StateUploadConfigured State = "UPLOAD_CONFIGURED"
	StateUploadInProgress State = "UPLOAD_IN_PROGRESS"
	StateSavePosted       State = "SAVE_POSTED"
	StateSaveSucceeded    State = "SAVE_SUCCEEDED"
	StateSaveFailed       State = "SAVE_FAILED"
	StateDuplicatePending State = "DUPLICATE_PENDING"
	StateTreeRefreshed    State = "TREE_REFRESHED"
	StateFallback         State = "FALLBACK"
	StateQueueDrained     State = "QUEUE_DRAINED"
)

// transitions lists the legal successors of each state. Stages only move
// forward; the duplicate side-branch always rejoins at TREE_REFRESHED.
var transitions = map[State][]State{
	StatePreflight:        {StateDiscoverEntry, StateFallback},
	StateDiscoverEntry:    {StateTypeFormObtained, StatePreparePosted, StateFallback},
	StateTypeFormObtained: {StatePreparePosted, StateFallback},
	StatePreparePosted:    {StateUploadConfigured, StateFallback},
	StateUploadConfigured: {StateUploadInProgress, StateFallback},
	StateUploadInProgress: {StateSavePosted, StateFallback},
	StateSavePosted:       {StateSaveSucceeded, StateSaveFailed, StateFallback},
	StateSaveSucceeded:    {StateDuplicatePending, StateTreeRefreshed},
	StateDuplicatePending: {StateTreeRefreshed},
	StateTreeRefreshed:    {StateDiscoverEntry, StateQueueDrained},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a file's run ends in s. TREE_REFRESHED ends the
// run of one file; the coordinator decides what comes next.
func (s State) Terminal() bool {
	switch s {
	case StateFallback, StateSaveFailed, StateTreeRefreshed, StateQueueDrained:
		return true
	}
	return false
}

// Succeeded reports whether s is the success terminal of a file.
func (s State) Succeeded() bool { return s == StateTreeRefreshed }
