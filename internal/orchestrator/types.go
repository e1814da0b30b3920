package orchestrator

import (
	"github.com/fyrsmithlabs/fleetd/internal/transcript"
)

// Node is a pipeline stage.
type Node string

const (
	// NodeIntake fetches vehicle telemetry and fleet data.
	NodeIntake Node = "intake"

	// NodeDiagnosis classifies the fault.
	NodeDiagnosis Node = "diagnosis"

	// NodeQualityReview checks manufacturing defect records.
	NodeQualityReview Node = "quality_review"

	// NodeScheduling offers and books workshop slots.
	NodeScheduling Node = "scheduling"

	// NodeFeedback logs customer satisfaction.
	NodeFeedback Node = "feedback"

	// NodeTerminal halts the run until new input arrives.
	NodeTerminal Node = "terminal"
)

// WorkerNodes returns the nodes that have a worker, in pipeline order.
func WorkerNodes() []Node {
	return []Node{NodeIntake, NodeDiagnosis, NodeQualityReview, NodeScheduling, NodeFeedback}
}

// Valid reports whether n is a known node.
func (n Node) Valid() bool {
	switch n {
	case NodeIntake, NodeDiagnosis, NodeQualityReview, NodeScheduling, NodeFeedback, NodeTerminal:
		return true
	}
	return false
}

// RunInput is one external invocation of the executor.
type RunInput struct {
	ThreadID  string
	Turns     []transcript.Turn
	Proactive bool
}

// RunResult summarizes an invocation.
type RunResult struct {
	ThreadID string `json:"thread_id"`

	// Response is the content of the last agent turn in the transcript.
	Response string `json:"response"`

	// Steps counts worker invocations in this run.
	Steps int `json:"steps"`

	// Visited lists the nodes run, in order.
	Visited []Node `json:"visited"`

	// Blocked is set when an input gate refused the new turn.
	Blocked bool `json:"blocked"`
}
