package orchestrator

import (
	"strings"

	"github.com/fyrsmithlabs/fleetd/internal/transcript"
)

// Marker is a phase signal found in turn content.
type Marker uint16

const (
	MarkerTelemetry Marker = 1 << iota
	MarkerDiagnosisCritical
	MarkerDiagnosisNormal
	MarkerQualityComplete
	MarkerSlotsPresented
	MarkerBookingComplete
	MarkerFeedbackLogged
)

var markerNames = map[Marker]string{
	MarkerTelemetry:         "telemetry",
	MarkerDiagnosisCritical: "diagnosis-critical",
	MarkerDiagnosisNormal:   "diagnosis-normal",
	MarkerQualityComplete:   "quality-complete",
	MarkerSlotsPresented:    "slots-presented",
	MarkerBookingComplete:   "booking-complete",
	MarkerFeedbackLogged:    "feedback-logged",
}

func (m Marker) String() string {
	if name, ok := markerNames[m]; ok {
		return name
	}
	return "unknown"
}

// markerTokens are matched case-sensitively.
var markerTokens = []struct {
	marker Marker
	tokens []string
}{
	{MarkerTelemetry, []string{"Engine Temp", "error_code"}},
	{MarkerDiagnosisCritical, []string{"CRITICAL"}},
	{MarkerDiagnosisNormal, []string{"Status: Normal"}},
	{MarkerQualityComplete, []string{"QUALITY CHECK COMPLETE"}},
	{MarkerSlotsPresented, []string{"OPEN SLOTS", "Available slots", "Available Slots"}},
	{MarkerBookingComplete, []string{"BOOKING COMPLETE"}},
	{MarkerFeedbackLogged, []string{"Feedback saved"}},
}

// MarkerSet is a set of markers.
type MarkerSet uint16

// Has reports whether every marker in m is present.
func (s MarkerSet) Has(m Marker) bool {
	return s&MarkerSet(m) == MarkerSet(m)
}

// Any reports whether at least one of ms is present.
func (s MarkerSet) Any(ms ...Marker) bool {
	for _, m := range ms {
		if s.Has(m) {
			return true
		}
	}
	return false
}

// Add returns s with m added.
func (s MarkerSet) Add(m Marker) MarkerSet {
	return s | MarkerSet(m)
}

// Names lists the markers present in declaration order.
func (s MarkerSet) Names() []string {
	var out []string
	for _, mt := range markerTokens {
		if s.Has(mt.marker) {
			out = append(out, mt.marker.String())
		}
	}
	return out
}

// Extractor finds markers in one turn's content.
type Extractor func(content string) MarkerSet

// ExtractMarkers detects phase markers by literal token match. It is the
// only place that knows the token spelling.
func ExtractMarkers(content string) MarkerSet {
	var set MarkerSet
	for _, mt := range markerTokens {
		for _, tok := range mt.tokens {
			if strings.Contains(content, tok) {
				set = set.Add(mt.marker)
				break
			}
		}
	}
	return set
}

// scan unions the markers of every turn.
func scan(turns []transcript.Turn, extract Extractor) MarkerSet {
	var set MarkerSet
	for _, t := range turns {
		set |= extract(t.Content)
	}
	return set
}
