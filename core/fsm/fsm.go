// Package fsm defines the onboarding lifecycle:
//
//	NEW -> WELCOME_VIDEO_SENT -> TTS_SENT -> DONE (absorbing)
//
// The package is pure; persisting state is up to the caller.
package fsm

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// State is a step of the onboarding lifecycle.
type State string

const (
	New              State = "NEW"
	WelcomeVideoSent State = "WELCOME_VIDEO_SENT"
	TTSSent          State = "TTS_SENT"
	Done             State = "DONE"
)

var successor = map[State]State{
	New:              WelcomeVideoSent,
	WelcomeVideoSent: TTSSent,
	TTSSent:          Done,
	Done:             Done,
}

var descriptions = map[State]string{
	New:              "New user - not started onboarding",
	WelcomeVideoSent: "Welcome video sent - awaiting TTS",
	TTSSent:          "TTS greeting sent - onboarding complete",
	Done:             "Onboarding complete",
}

// Normalize maps an empty or unknown state onto New.
func Normalize(s State) State {
	if _, ok := successor[s]; ok {
		return s
	}
	return New
}

// Next returns the state that follows s. Done is absorbing.
func Next(s State) State {
	return successor[Normalize(s)]
}

// IsValidTransition accepts the canonical successor of from, or a reset to New.
func IsValidTransition(from, to State) bool {
	return to == New || to == Next(from)
}

// IsTerminal reports whether s is the absorbing state.
func IsTerminal(s State) bool {
	return s == Done
}

// Describe returns a human readable description of s.
func Describe(s State) string {
	if d, ok := descriptions[s]; ok {
		return d
	}
	return "Unknown state"
}

// Entry records that a state was reached at a point in time.
type Entry struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// Progress is the ordered history of reached states.
type Progress []Entry

// Append returns a copy of p with a new entry; p is left untouched.
func (p Progress) Append(s State, at time.Time) Progress {
	out := make(Progress, len(p), len(p)+1)
	copy(out, p)
	return append(out, Entry{State: s, At: at.UTC()})
}

// Value encodes p as a JSON array text; nil encodes as [].
func (p Progress) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]Entry(p))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan decodes a JSON array produced by Value.
func (p *Progress) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*p = Progress{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("fsm: cannot scan %T into Progress", src)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("fsm: decode progress: %w", err)
	}
	*p = entries
	return nil
}
