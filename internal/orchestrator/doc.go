// Package orchestrator drives a fleet-maintenance case through a fixed
// pipeline of workers.
//
// # Overview
//
// Every conversation is a thread with an append-only transcript. After each
// turn the engine decides which worker runs next or halts to wait for
// external input:
//
//	Intake → Diagnosis → QualityReview → Scheduling → Feedback
//
// # Key Components
//
// ## Security Gate
//
// Input gates inspect the newest human turn before any worker sees it.
// SecurityGate blocks denylisted content. On a block the executor appends a
// fixed refusal turn and sets the thread's SecurityRisk flag. Every
// evaluation is written to an AuditSink.
//
// ## Router
//
// Router.Route is a pure function of (turns, flags). It reads phase markers
// extracted from turn content (ExtractMarkers) and applies two ordered rule
// tables: one for a transcript that ends with an agent turn (should the
// pipeline chain to another worker) and one for a transcript that ends with
// new input (which phase should process it). First match wins.
//
// ## Executor
//
// Executor.Run is an explicit bounded loop: route, invoke the worker bound
// to the node, append its turns, repeat until the router returns
// NodeTerminal. Exceeding the step bound returns ErrRoutingExhausted with
// the transcript preserved.
//
// ## Workers
//
// Worker is the capability boundary. Each node has a Profile naming its tool
// allow-list and instructions. Output is validated: zero or more tool call
// and tool result turns followed by exactly one final agent turn.
//
// # Usage Example
//
//	gate, err := orchestrator.NewSecurityGate(nil, nil)
//	if err != nil {
//	    return err
//	}
//	exec := orchestrator.NewExecutor(store, workers, orchestrator.ExecutorOptions{
//	    Gates:    []orchestrator.InputGate{gate},
//	    Audit:    sink,
//	    MaxSteps: 20,
//	})
//	res, err := exec.SubmitTurn(ctx, "thread-1", "Check Vehicle-123")
package orchestrator
