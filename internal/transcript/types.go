// Package transcript stores conversation threads: the ordered, append-only
// turns exchanged between humans, agents and tools, plus per-thread flags.
package transcript

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleHuman Role = "human"
	RoleAgent Role = "agent"
	RoleTool  Role = "tool"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleHuman, RoleAgent, RoleTool:
		return true
	}
	return false
}

// ToolCall is a tool invocation requested by an agent turn.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Turn is one immutable entry in a thread.
type Turn struct {
	// Seq is assigned by the store on append, starting at 1.
	Seq        int        `json:"seq"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// HumanTurn builds a human turn.
func HumanTurn(content string) Turn {
	return Turn{Role: RoleHuman, Content: content}
}

// AgentTurn builds an agent turn, optionally requesting tool calls.
func AgentTurn(content string, calls ...ToolCall) Turn {
	return Turn{Role: RoleAgent, Content: content, ToolCalls: calls}
}

// ToolTurn builds the result turn for the tool call callID.
func ToolTurn(callID, content string) Turn {
	return Turn{Role: RoleTool, Content: content, ToolCallID: callID}
}

// Validate checks the role-specific shape of a turn.
func (t Turn) Validate() error {
	if !t.Role.Valid() {
		return invalidTurn("role", fmt.Sprintf("unknown role %q", t.Role))
	}
	if len(t.ToolCalls) > 0 && t.Role != RoleAgent {
		return invalidTurn("tool_calls", "only agent turns may carry tool calls")
	}
	for i, call := range t.ToolCalls {
		if call.ID == "" || call.Name == "" {
			return invalidTurn("tool_calls", fmt.Sprintf("tool call %d needs an id and a name", i))
		}
		if len(call.Args) > 0 && !json.Valid(call.Args) {
			return invalidTurn("tool_calls", fmt.Sprintf("tool call %d has malformed arguments", i))
		}
	}
	switch t.Role {
	case RoleTool:
		if t.ToolCallID == "" {
			return invalidTurn("tool_call_id", "tool turns must reference a tool call")
		}
	default:
		if t.ToolCallID != "" {
			return invalidTurn("tool_call_id", "only tool turns may reference a tool call")
		}
	}
	if t.Role == RoleHuman && t.Content == "" {
		return invalidTurn("content", "human turns cannot be empty")
	}
	return nil
}

// HasToolCalls reports whether the turn requests tools.
func (t Turn) HasToolCalls() bool {
	return len(t.ToolCalls) > 0
}

func (t Turn) clone() Turn {
	if t.ToolCalls != nil {
		calls := make([]ToolCall, len(t.ToolCalls))
		for i, c := range t.ToolCalls {
			calls[i] = ToolCall{ID: c.ID, Name: c.Name, Args: append(json.RawMessage(nil), c.Args...)}
		}
		t.ToolCalls = calls
	}
	return t
}

// Flags are per-thread booleans consulted by routing.
type Flags struct {
	// SecurityRisk is set by the input gate and never cleared.
	SecurityRisk bool `json:"security_risk"`
	// Proactive is true while the thread runs on behalf of an automated alert.
	Proactive bool `json:"proactive"`
}

// Thread is a conversation and its routing flags.
type Thread struct {
	ID        string    `json:"id"`
	Turns     []Turn    `json:"turns"`
	Flags     Flags     `json:"flags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (th *Thread) Clone() *Thread {
	if th == nil {
		return nil
	}
	out := *th
	out.Turns = make([]Turn, len(th.Turns))
	for i, t := range th.Turns {
		out.Turns[i] = t.clone()
	}
	return &out
}

// Last returns the most recent turn.
func (th *Thread) Last() (Turn, bool) {
	if len(th.Turns) == 0 {
		return Turn{}, false
	}
	return th.Turns[len(th.Turns)-1], true
}

// LastOfRole returns the most recent turn authored by role.
func (th *Thread) LastOfRole(role Role) (Turn, bool) {
	return LastOfRole(th.Turns, role)
}

// LastOfRole returns the most recent turn in turns authored by role.
func LastOfRole(turns []Turn, role Role) (Turn, bool) {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == role {
			return turns[i], true
		}
	}
	return Turn{}, false
}

const maxThreadIDLen = 128

var threadIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateThreadID checks that id is usable as a storage key.
func ValidateThreadID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidThreadID)
	}
	if len(id) > maxThreadIDLen {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidThreadID, maxThreadIDLen)
	}
	if !threadIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q must be alphanumeric, hyphen, underscore", ErrInvalidThreadID, id)
	}
	return nil
}

// appendTurns validates turns and appends them to th, assigning sequence
// numbers and timestamps. th is left untouched on error.
func appendTurns(th *Thread, now time.Time, turns []Turn) error {
	for i, t := range turns {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("turn %d: %w", i, err)
		}
	}
	next := len(th.Turns) + 1
	if n := len(th.Turns); n > 0 {
		next = th.Turns[n-1].Seq + 1
	}
	for _, t := range turns {
		t = t.clone()
		t.Seq = next
		next++
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		th.Turns = append(th.Turns, t)
	}
	th.UpdatedAt = now
	return nil
}

// validateThread checks a record decoded from a durable backend.
func validateThread(th *Thread) error {
	if err := ValidateThreadID(th.ID); err != nil {
		return err
	}
	prev := 0
	for i, t := range th.Turns {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("turn %d: %w", i, err)
		}
		if t.Seq <= prev {
			return fmt.Errorf("turn %d: %w", i, invalidTurn("seq", "sequence numbers must increase"))
		}
		prev = t.Seq
	}
	return nil
}
