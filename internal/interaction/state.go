package interaction

import "time"

// State is the user-facing interaction lifecycle. Exactly one value is active
// per session; transitions are the only way to mutate it.
type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateThinking   State = "thinking"
	StateResponding State = "responding"
)

func (s State) String() string { return string(s) }

// StateChangeEvent is the value object broadcast on every transition. Never
// mutated after creation.
type StateChangeEvent struct {
	State     State
	Message   string
	Timestamp time.Time
}
