package orchestrator

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/fleetd/internal/fleet"
	"github.com/fyrsmithlabs/fleetd/internal/transcript"
)

// Profile configures the worker for one node.
type Profile struct {
	Node Node `json:"node"`

	// Tools is the allow-list of tool names the worker may call.
	Tools []string `json:"tools"`

	// Instructions constrain the worker's behavior.
	Instructions string `json:"instructions"`
}

// Allows reports whether the profile permits tool name.
func (p Profile) Allows(name string) bool {
	for _, t := range p.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// DefaultProfiles returns the tool allow-lists and instructions of the five
// pipeline workers.
func DefaultProfiles() map[Node]Profile {
	return map[Node]Profile{
		NodeIntake: {
			Node:  NodeIntake,
			Tools: []string{fleet.ToolFetchTelematics, fleet.ToolWebSearch, fleet.ToolServiceForecast},
			Instructions: "You are a data retrieval worker. If a vehicle id is known, call " +
				fleet.ToolFetchTelematics + " before answering. For fleet-wide demand questions call " +
				fleet.ToolServiceForecast + ". Output a short data summary that repeats engine_temp and " +
				"error_code exactly as returned, then stop. Never ask a clarifying question.",
		},
		NodeDiagnosis: {
			Node: NodeDiagnosis,
			Tools: []string{
				fleet.ToolDiagnoseIssue, fleet.ToolUpdateStatus, fleet.ToolAlertMaintenance,
				fleet.ToolFetchTelematics, fleet.ToolWebSearch,
			},
			Instructions: "You are a strict technical system. Analyze the telemetry in the transcript " +
				"and call " + fleet.ToolDiagnoseIssue + " with its error_code and engine_temp. " +
				"If engine_temp is missing, output exactly 'Insufficient Data'. " +
				"Repeat the diagnosis verbatim. If it is CRITICAL you may update the vehicle status or " +
				"alert the maintenance team. Do not be polite and do not ask for ids.",
		},
		NodeQualityReview: {
			Node:  NodeQualityReview,
			Tools: []string{fleet.ToolRCAInsights},
			Instructions: "You are a quality engineer. Call " + fleet.ToolRCAInsights + " exactly once " +
				"with the diagnosis. Start your response with 'QUALITY CHECK COMPLETE' followed by the finding.",
		},
		NodeScheduling: {
			Node: NodeScheduling,
			Tools: []string{
				fleet.ToolCheckAvailability, fleet.ToolBookAppointment,
				fleet.ToolNotifyOwner, fleet.ToolUpdateStatus,
			},
			Instructions: "You are a scheduler. If the user gave a time, call " + fleet.ToolBookAppointment +
				" and repeat its result verbatim. If it returns 'Slot unavailable', output only " +
				"'Slot unavailable' and offer no alternatives. Otherwise call " + fleet.ToolCheckAvailability +
				" and list the result starting with 'Available slots'.",
		},
		NodeFeedback: {
			Node:         NodeFeedback,
			Tools:        []string{fleet.ToolLogFeedback},
			Instructions: "Call " + fleet.ToolLogFeedback + " with the customer's comment and rating, then say goodbye.",
		},
	}
}

// WorkerRequest is one worker invocation.
type WorkerRequest struct {
	ThreadID   string
	Node       Node
	Transcript []transcript.Turn
	Profile    Profile
}

// Worker is a reasoning and tool-use capability bound to a node. It returns
// zero or more tool call and tool result turns followed by exactly one
// final agent turn. Backend failures must wrap ErrWorkerUnavailable or be
// returned as-is; the executor wraps them in a WorkerError.
type Worker interface {
	Run(ctx context.Context, req WorkerRequest) ([]transcript.Turn, error)
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context, req WorkerRequest) ([]transcript.Turn, error)

// Run calls f.
func (f WorkerFunc) Run(ctx context.Context, req WorkerRequest) ([]transcript.Turn, error) {
	return f(ctx, req)
}

// ValidateWorkerOutput checks the worker output contract.
func ValidateWorkerOutput(turns []transcript.Turn) error {
	if len(turns) == 0 {
		return fmt.Errorf("%w: no turns", ErrMalformedWorkerOutput)
	}

	pending := make(map[string]bool)
	for i, t := range turns {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: turn %d: %w", ErrMalformedWorkerOutput, i, err)
		}
		final := i == len(turns)-1

		switch t.Role {
		case transcript.RoleAgent:
			if final {
				if t.HasToolCalls() {
					return fmt.Errorf("%w: final agent turn requests tool calls", ErrMalformedWorkerOutput)
				}
				continue
			}
			if !t.HasToolCalls() {
				return fmt.Errorf("%w: turn %d: agent turn before the final one has no tool calls", ErrMalformedWorkerOutput, i)
			}
			for _, c := range t.ToolCalls {
				pending[c.ID] = true
			}
		case transcript.RoleTool:
			if final {
				return fmt.Errorf("%w: output ends with a tool turn", ErrMalformedWorkerOutput)
			}
			if !pending[t.ToolCallID] {
				return fmt.Errorf("%w: turn %d answers unknown tool call %q", ErrMalformedWorkerOutput, i, t.ToolCallID)
			}
			delete(pending, t.ToolCallID)
		default:
			return fmt.Errorf("%w: turn %d has role %s", ErrMalformedWorkerOutput, i, t.Role)
		}
	}
	if len(pending) > 0 {
		return fmt.Errorf("%w: %d tool calls have no result", ErrMalformedWorkerOutput, len(pending))
	}
	return nil
}
