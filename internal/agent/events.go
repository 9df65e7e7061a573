// ABOUTME: Wire event model for the agent subprocess stdout stream.
// ABOUTME: Parses JSON-line events and buckets them into supervision kinds.

package agent

import (
	"encoding/json"
	"fmt"
)

// Wire event types emitted by the agent subprocess, one JSON object per
// stdout line. Anything else is carried through as-is and classified
// KindOther.
const (
	EventReady         = "ready"
	EventAgentStart    = "agent_start"
	EventToolcallStart = "toolcall_start"
	EventToolcallEnd   = "toolcall_end"
	EventAgentEnd      = "agent_end"
	EventError         = "error"
)

// Event is one parsed line from the agent's event stream.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Tool      string `json:"tool,omitempty"`
	Text      string `json:"text,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Kind buckets raw event types for supervision accounting. Unknown types
// map to KindOther rather than failing, so a newer agent binary can emit
// event types this gateway does not know about yet.
type Kind int

const (
	KindOther Kind = iota
	KindStart
	KindToolStart
	KindToolEnd
	KindCompletion
	KindError
)

// Kind classifies the event for the supervisor's counters and its
// completion/error detection.
func (e Event) Kind() Kind {
	switch e.Type {
	case EventAgentStart:
		return KindStart
	case EventToolcallStart:
		return KindToolStart
	case EventToolcallEnd:
		return KindToolEnd
	case EventAgentEnd:
		return KindCompletion
	case EventError:
		return KindError
	default:
		return KindOther
	}
}

// String returns the kind's name for log lines.
func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindToolStart:
		return "tool-call-start"
	case KindToolEnd:
		return "tool-call-end"
	case KindCompletion:
		return "completion"
	case KindError:
		return "error"
	default:
		return "other"
	}
}

// parseEvent decodes one stdout line into an Event.
func parseEvent(line []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, fmt.Errorf("decoding agent event: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("agent event missing type: %s", line)
	}
	return ev, nil
}

// promptFrame is the stdin frame that starts one agent turn.
type promptFrame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}
