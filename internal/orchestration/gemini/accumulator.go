package gemini

import "strings"

// SessionState is a snapshot of what an Accumulator has folded so far.
type SessionState struct {
	Answer       string
	SessionID    string
	TotalCostUSD *float64
}

// Accumulator folds StreamEvents into the running answer, the last session
// id and the last reported cost. Events it does not recognise leave the
// state untouched. Not safe for concurrent use.
type Accumulator struct {
	answer    strings.Builder
	sessionID string
	cost      *float64
	events    int
}

// NewAccumulator creates an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Apply folds one event into the state.
func (a *Accumulator) Apply(ev StreamEvent) {
	a.events++
	switch ev.Type {
	case EventInit:
		if ev.SessionID != "" {
			a.sessionID = ev.SessionID
		}
	case EventMessage:
		// delta=false is appended like any other chunk.
		if ev.IsAssistantText() {
			a.answer.WriteString(ev.Content)
		}
	case EventResult:
		if ev.TotalCostUSD != nil {
			c := *ev.TotalCostUSD
			a.cost = &c
		}
	}
}

// Events returns how many events have been applied.
func (a *Accumulator) Events() int {
	return a.events
}

// State returns a snapshot of the folded state.
func (a *Accumulator) State() SessionState {
	s := SessionState{
		Answer:    a.answer.String(),
		SessionID: a.sessionID,
	}
	if a.cost != nil {
		c := *a.cost
		s.TotalCostUSD = &c
	}
	return s
}

// Outcome builds the TaskOutcome for a successful exit. When no assistant
// text was seen the raw stdout is returned instead.
func (a *Accumulator) Outcome(rawOutput string) TaskOutcome {
	s := a.State()
	result := s.Answer
	if result == "" {
		result = rawOutput
	}
	return TaskOutcome{
		Result:       result,
		SessionID:    s.SessionID,
		TotalCostUSD: s.TotalCostUSD,
	}
}
