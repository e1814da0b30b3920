package transcript

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurn_Validate(t *testing.T) {
	call := ToolCall{ID: "call_1", Name: "fetch_telematics_data", Args: json.RawMessage(`{"vehicle_id":"Vehicle-123"}`)}

	tests := []struct {
		name  string
		turn  Turn
		field string
	}{
		{name: "human", turn: HumanTurn("my car is overheating")},
		{name: "agent with tool call", turn: AgentTurn("", call)},
		{name: "tool result", turn: ToolTurn("call_1", `{"engine_temp":115}`)},
		{name: "unknown role", turn: Turn{Role: "system", Content: "x"}, field: "role"},
		{name: "empty human", turn: HumanTurn(""), field: "content"},
		{name: "human with tool calls", turn: Turn{Role: RoleHuman, Content: "x", ToolCalls: []ToolCall{call}}, field: "tool_calls"},
		{name: "tool without call id", turn: Turn{Role: RoleTool, Content: "x"}, field: "tool_call_id"},
		{name: "agent with call id", turn: Turn{Role: RoleAgent, Content: "x", ToolCallID: "call_1"}, field: "tool_call_id"},
		{name: "call without name", turn: AgentTurn("", ToolCall{ID: "c"}), field: "tool_calls"},
		{name: "malformed args", turn: AgentTurn("", ToolCall{ID: "c", Name: "n", Args: json.RawMessage(`{`)}), field: "tool_calls"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.turn.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidTurn)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestValidateThreadID(t *testing.T) {
	valid := []string{"thread-1", "alert_Vehicle-123_1718000000", "A_b-9"}
	for _, id := range valid {
		assert.NoError(t, ValidateThreadID(id), id)
	}

	invalid := []string{"", "has space", "dots.are.subjects", "slash/id", strings.Repeat("a", 129)}
	for _, id := range invalid {
		assert.ErrorIs(t, ValidateThreadID(id), ErrInvalidThreadID, id)
	}
}

func TestThread_CloneIsDeep(t *testing.T) {
	th := &Thread{ID: "t", Turns: []Turn{AgentTurn("", ToolCall{ID: "c", Name: "n", Args: json.RawMessage(`{"a":1}`)})}}

	cp := th.Clone()
	cp.Turns[0].Content = "changed"
	cp.Turns[0].ToolCalls[0].Name = "other"
	cp.Turns[0].ToolCalls[0].Args[1] = 'b'

	assert.Equal(t, "", th.Turns[0].Content)
	assert.Equal(t, "n", th.Turns[0].ToolCalls[0].Name)
	assert.JSONEq(t, `{"a":1}`, string(th.Turns[0].ToolCalls[0].Args))
}

func TestLastOfRole(t *testing.T) {
	turns := []Turn{HumanTurn("a"), AgentTurn("b"), ToolTurn("c", "d"), AgentTurn("e")}

	got, ok := LastOfRole(turns, RoleAgent)
	require.True(t, ok)
	assert.Equal(t, "e", got.Content)

	got, ok = LastOfRole(turns, RoleHuman)
	require.True(t, ok)
	assert.Equal(t, "a", got.Content)

	_, ok = LastOfRole(nil, RoleTool)
	assert.False(t, ok)
}
