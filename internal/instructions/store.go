package instructions

import (
	"context"
	"encoding/json"
	"time"
)

// Element is the interactive page element shape produced by the page-context
// provider. The pipeline treats element lists as opaque; this type exists for
// the per-step selection records.
type Element struct {
	ID   string `json:"id"`
	Tag  string `json:"tag"`
	Text string `json:"text"`
}

// InstructionSet is one archived understanding result: the user prompt, the
// raw generated instruction text, and its parsed steps.
type InstructionSet struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Prompt       string    `json:"prompt"`
	Instructions string    `json:"instructions"`
	Steps        []string  `json:"steps"`
	CreatedAt    time.Time `json:"created_at"`
}

// ElementRecord ties a selected element to one step of an instruction set.
// Re-selecting a step replaces the previous record.
type ElementRecord struct {
	SetID      string          `json:"set_id"`
	StepNumber int             `json:"step_number"`
	StepText   string          `json:"step_text"`
	Element    json.RawMessage `json:"element"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Store archives instruction sets and per-step element selections.
type Store interface {
	SaveSet(ctx context.Context, set InstructionSet) (string, error)
	RecentSets(ctx context.Context, sessionID string, limit int) ([]InstructionSet, error)
	SaveElement(ctx context.Context, rec ElementRecord) error
	ElementsForSet(ctx context.Context, setID string) ([]ElementRecord, error)
	Close() error
}
