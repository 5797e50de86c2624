package usecase

import "scriptchat/internal/domain"

// Transcript is the ordered conversation history. It is owned by a single
// InferenceAdapter and is not safe for concurrent use.
type Transcript struct {
	turns []domain.Turn
}

// NewTranscript seeds a transcript, typically with the system prompt.
func NewTranscript(seed []domain.Turn) *Transcript {
	t := &Transcript{turns: make([]domain.Turn, 0, len(seed)+16)}
	t.turns = append(t.turns, seed...)
	return t
}

// Append adds a turn.
func (t *Transcript) Append(role domain.Role, text string) {
	t.turns = append(t.turns, domain.Turn{Role: role, Text: text})
}

// Turns returns a copy of the history.
func (t *Transcript) Turns() []domain.Turn {
	out := make([]domain.Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Len returns the number of turns.
func (t *Transcript) Len() int { return len(t.turns) }

// Last returns the most recent turn.
func (t *Transcript) Last() (domain.Turn, bool) {
	if len(t.turns) == 0 {
		return domain.Turn{}, false
	}
	return t.turns[len(t.turns)-1], true
}
