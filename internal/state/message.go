package state

import (
	"encoding/json"
	"fmt"
)

// Singer message types relevant to state interception. STATE interception
// ignores RECORD, SCHEMA, and ACTIVATE_VERSION; of these, the Pipeline
// Runner rewrites only RECORDs that carry PII-marked fields.
const (
	MessageTypeState            = "STATE"
	MessageTypeRecord           = "RECORD"
	MessageTypeSchema           = "SCHEMA"
	MessageTypeActivateVersion  = "ACTIVATE_VERSION"
)

// envelope is the subset of a Singer message's shape needed to classify
// and, for STATE, extract it — decoded once per line on the hot path.
type envelope struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// ParseLine classifies a single newline-delimited Singer message. ok is
// false if line isn't a STATE message (callers pass every other line
// through unexamined).
func ParseLine(line []byte) (snap Snapshot, ok bool, err error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, false, fmt.Errorf("parsing singer message: %w", err)
	}
	if env.Type != MessageTypeState {
		return nil, false, nil
	}
	if len(env.Value) == 0 {
		return nil, false, fmt.Errorf("STATE message missing value")
	}
	if err := json.Unmarshal(env.Value, &snap); err != nil {
		return nil, false, fmt.Errorf("parsing STATE value: %w", err)
	}
	return snap, true, nil
}
