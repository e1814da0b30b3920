package orchestrator

import (
	"regexp"

	"github.com/fyrsmithlabs/fleetd/internal/transcript"
)

// RouteInput is the view of a transcript that routing rules evaluate.
type RouteInput struct {
	Turns []transcript.Turn
	Flags transcript.Flags

	// Last is the final turn; LastMarkers its markers.
	Last        transcript.Turn
	LastMarkers MarkerSet

	// Markers is the union over the whole transcript.
	Markers MarkerSet

	// Input is the content of the most recent human turn.
	Input string
}

// established reports whether the phase signalled by m, or any later
// phase, has completed.
func (in RouteInput) established(m Marker) bool {
	switch m {
	case MarkerTelemetry:
		return in.Markers.Has(MarkerTelemetry) || in.established(MarkerDiagnosisCritical)
	case MarkerDiagnosisCritical, MarkerDiagnosisNormal:
		return in.Markers.Any(MarkerDiagnosisCritical, MarkerDiagnosisNormal) || in.phaseCompleted()
	}
	return in.Markers.Has(m)
}

// phaseCompleted reports whether any marker past diagnosis is present.
func (in RouteInput) phaseCompleted() bool {
	return in.Markers.Any(MarkerQualityComplete, MarkerBookingComplete, MarkerFeedbackLogged)
}

// Rule maps a transcript condition to the next node.
type Rule struct {
	Name string
	When func(RouteInput) bool
	Next Node
}

// Decision is the result of routing.
type Decision struct {
	Node Node
	Rule string
}

// Rule names that are not part of a table.
const (
	RuleSecurityRisk    = "security-risk"
	RuleEmptyTranscript = "empty-transcript"
)

var (
	confirmPattern  = regexp.MustCompile(`(?i)\b(yes|proceed|fix it|do it)\b`)
	defectPattern   = regexp.MustCompile(`(?i)\b(manufactur\w*|defects?|rca|root cause|capa|recall)\b`)
	forecastPattern = regexp.MustCompile(`(?i)\b(forecast\w*|demand|predict\w*)\b`)
)

// agentRules decide whether to chain after a worker has spoken.
var agentRules = []Rule{
	{
		Name: "critical-to-quality",
		When: func(in RouteInput) bool {
			return in.LastMarkers.Has(MarkerDiagnosisCritical) && !in.Markers.Has(MarkerQualityComplete)
		},
		Next: NodeQualityReview,
	},
	{
		Name: "quality-to-scheduling",
		When: func(in RouteInput) bool {
			return in.LastMarkers.Has(MarkerQualityComplete) && !in.Markers.Has(MarkerSlotsPresented)
		},
		Next: NodeScheduling,
	},
	{
		Name: "booked-proactive",
		When: func(in RouteInput) bool {
			return in.LastMarkers.Has(MarkerBookingComplete) && in.Flags.Proactive
		},
		Next: NodeTerminal,
	},
	{
		Name: "booked-to-feedback",
		When: func(in RouteInput) bool { return in.LastMarkers.Has(MarkerBookingComplete) },
		Next: NodeFeedback,
	},
	{
		Name: "await-input",
		When: func(RouteInput) bool { return true },
		Next: NodeTerminal,
	},
}

// humanRules decide which phase handles new input.
var humanRules = []Rule{
	{
		Name: "confirmation",
		When: func(in RouteInput) bool {
			return confirmPattern.MatchString(in.Input) && !in.Markers.Has(MarkerSlotsPresented)
		},
		Next: NodeScheduling,
	},
	{
		Name: "defect-intent",
		When: func(in RouteInput) bool { return defectPattern.MatchString(in.Input) },
		Next: NodeQualityReview,
	},
	{
		Name: "forecast-intent",
		When: func(in RouteInput) bool {
			return forecastPattern.MatchString(in.Input) && !in.established(MarkerDiagnosisCritical)
		},
		Next: NodeIntake,
	},
	{
		Name: "need-telemetry",
		When: func(in RouteInput) bool { return !in.established(MarkerTelemetry) },
		Next: NodeIntake,
	},
	{
		Name: "need-diagnosis",
		When: func(in RouteInput) bool { return !in.established(MarkerDiagnosisCritical) },
		Next: NodeDiagnosis,
	},
	{
		Name: "need-quality",
		When: func(in RouteInput) bool {
			return in.Markers.Has(MarkerDiagnosisCritical) && !in.Markers.Has(MarkerQualityComplete)
		},
		Next: NodeQualityReview,
	},
	{
		Name: "need-booking",
		When: func(in RouteInput) bool {
			return in.Markers.Has(MarkerQualityComplete) && !in.Markers.Has(MarkerBookingComplete)
		},
		Next: NodeScheduling,
	},
	{
		Name: "need-feedback",
		When: func(in RouteInput) bool {
			return in.Markers.Has(MarkerBookingComplete) && !in.Markers.Has(MarkerFeedbackLogged)
		},
		Next: NodeFeedback,
	},
	{
		Name: "fallback",
		When: func(RouteInput) bool { return true },
		Next: NodeScheduling,
	},
}

// RouterOptions configures a Router.
type RouterOptions struct {
	// Extract replaces ExtractMarkers.
	Extract Extractor
}

// Router picks the next node from transcript state. It holds no mutable
// state and is safe for concurrent use.
type Router struct {
	extract Extractor
}

// NewRouter creates a router.
func NewRouter(opts RouterOptions) *Router {
	if opts.Extract == nil {
		opts.Extract = ExtractMarkers
	}
	return &Router{extract: opts.Extract}
}

var defaultRouter = NewRouter(RouterOptions{})

// Route returns the next node using the default router.
func Route(turns []transcript.Turn, flags transcript.Flags) Node {
	return defaultRouter.Route(turns, flags).Node
}

// Route evaluates the rule tables. Identical arguments always produce the
// identical decision.
func (r *Router) Route(turns []transcript.Turn, flags transcript.Flags) Decision {
	if flags.SecurityRisk {
		return Decision{Node: NodeTerminal, Rule: RuleSecurityRisk}
	}
	if len(turns) == 0 {
		return Decision{Node: NodeTerminal, Rule: RuleEmptyTranscript}
	}
	last := turns[len(turns)-1]

	in := RouteInput{
		Turns:       turns,
		Flags:       flags,
		Last:        last,
		LastMarkers: r.extract(last.Content),
		Markers:     scan(turns, r.extract),
	}
	if h, ok := transcript.LastOfRole(turns, transcript.RoleHuman); ok {
		in.Input = h.Content
	}

	rules := humanRules
	if last.Role == transcript.RoleAgent {
		rules = agentRules
	}
	for _, rule := range rules {
		if rule.When(in) {
			return Decision{Node: rule.Next, Rule: rule.Name}
		}
	}
	// Both tables end in a catch-all.
	return Decision{Node: NodeTerminal, Rule: "none"}
}
