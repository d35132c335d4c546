package domain

import "time"

// StageState is the per-login state of one pipeline stage. An abandoned
// login has no state: its row is deleted and lookups fail with
// stages.ErrAbandoned.
type StageState string

const (
	StageNotEntered StageState = "NOT_ENTERED"
	StageInProgress StageState = "IN_PROGRESS"
	StageCompleted  StageState = "COMPLETED"
	StageSkipped    StageState = "SKIPPED"
)

// Satisfied reports whether the pipeline may move past a stage in this state.
func (s StageState) Satisfied() bool {
	return s == StageCompleted || s == StageSkipped
}

// PendingLogin is a primary-authenticated login that still owes stages.
type PendingLogin struct {
	ID         string
	UserID     string
	RedirectTo string

	// Stages maps a stage key to its state. Missing keys are NOT_ENTERED.
	Stages map[string]StageState

	// Current is the key of the IN_PROGRESS stage, empty before the first resume.
	Current string

	// Attempts counts failed verifications against the current stage.
	Attempts int

	CreatedAt time.Time
	ExpiresAt time.Time
}

func (l PendingLogin) StateOf(key string) StageState {
	if s, ok := l.Stages[key]; ok {
		return s
	}
	return StageNotEntered
}

func (l PendingLogin) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
