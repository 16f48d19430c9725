package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sender identifies who produced a turn.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Turn is one exchanged message. Immutable once created; insertion order is
// the only ordering guarantee.
type Turn struct {
	Text          string    `json:"text"`
	Sender        Sender    `json:"sender"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
}

// NewTurn stamps a turn with the current time and a fresh correlation id.
func NewTurn(sender Sender, text string) Turn {
	return Turn{
		Text:          text,
		Sender:        sender,
		Timestamp:     time.Now().UTC(),
		CorrelationID: uuid.NewString(),
	}
}

// Log is the append-only record of exchanged turns for one session. Bounded
// retention is a rendering concern and not enforced here.
type Log struct {
	mu    sync.RWMutex
	turns []Turn
}

func NewLog() *Log { return &Log{} }

// Append records a turn. It never fails; callers enforce the one-answer-per-
// user-turn invariant via LastUnansweredUserTurn before inserting bot turns.
func (l *Log) Append(turn Turn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, turn)
}

// Turns returns a snapshot copy in insertion order.
func (l *Log) Turns() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// LastUnansweredUserTurn scans from the end and returns the most recent user
// turn with no later bot turn, or ok=false when every user turn is answered.
func (l *Log) LastUnansweredUserTurn() (Turn, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.turns) - 1; i >= 0; i-- {
		switch l.turns[i].Sender {
		case SenderBot:
			return Turn{}, false
		case SenderUser:
			return l.turns[i], true
		}
	}
	return Turn{}, false
}
