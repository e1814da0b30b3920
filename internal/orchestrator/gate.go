package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/fleetd/internal/transcript"
)

// RefusalMessage is the agent turn appended when a gate blocks input.
const RefusalMessage = "SECURITY ALERT: Blocked."

// DefaultDenylist is used when a SecurityGate is built without one.
var DefaultDenylist = []string{"drop table"}

// GateDecision is the outcome of one gate evaluation.
type GateDecision struct {
	Gate    string `json:"gate"`
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason"`
	Pattern string `json:"pattern,omitempty"`
}

// Decision values recorded in the audit log.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Decision returns DecisionAllow or DecisionBlock.
func (d GateDecision) Decision() string {
	if d.Blocked {
		return DecisionBlock
	}
	return DecisionAllow
}

// InputGate inspects the newest human turn before any worker runs.
type InputGate interface {
	// Name returns the gate identifier
	Name() string

	// Check evaluates the turn. It must be deterministic.
	Check(ctx context.Context, threadID string, turn transcript.Turn) (GateDecision, error)
}

// AuditRecord is written for every gate evaluation.
type AuditRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	ThreadID  string    `json:"thread_id"`
	Gate      string    `json:"gate"`
	Decision  string    `json:"decision"`
	Reason    string    `json:"reason"`
}

// AuditSink receives audit records. It is write-only from the engine's
// point of view.
type AuditSink interface {
	Record(ctx context.Context, rec AuditRecord) error
}

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc func(ctx context.Context, rec AuditRecord) error

// Record calls f.
func (f AuditSinkFunc) Record(ctx context.Context, rec AuditRecord) error {
	return f(ctx, rec)
}

// SecurityGate blocks input containing denylisted phrases or matching
// configured patterns. Matching is case-insensitive. Rules can be replaced
// at runtime with Reload; each Check sees one consistent rule set.
type SecurityGate struct {
	rules atomic.Pointer[gateRules]
}

type gateRules struct {
	denylist []string
	patterns []*regexp.Regexp
}

// NewSecurityGate compiles a gate. A nil denylist selects DefaultDenylist.
func NewSecurityGate(denylist, patterns []string) (*SecurityGate, error) {
	g := &SecurityGate{}
	if err := g.Reload(denylist, patterns); err != nil {
		return nil, err
	}
	return g, nil
}

// Reload compiles new rules and swaps them in. On error the current rules
// stay in effect.
func (g *SecurityGate) Reload(denylist, patterns []string) error {
	rules, err := compileGateRules(denylist, patterns)
	if err != nil {
		return err
	}
	g.rules.Store(rules)
	return nil
}

func compileGateRules(denylist, patterns []string) (*gateRules, error) {
	if denylist == nil {
		denylist = DefaultDenylist
	}
	r := &gateRules{}
	for _, phrase := range denylist {
		phrase = strings.ToLower(strings.TrimSpace(phrase))
		if phrase != "" {
			r.denylist = append(r.denylist, phrase)
		}
	}
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compiling security pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

// Name returns the gate identifier
func (g *SecurityGate) Name() string {
	return "security"
}

// Check validates the turn content against the denylist and patterns.
func (g *SecurityGate) Check(_ context.Context, _ string, turn transcript.Turn) (GateDecision, error) {
	rules := g.rules.Load()
	content := strings.ToLower(turn.Content)
	for _, phrase := range rules.denylist {
		if strings.Contains(content, phrase) {
			return GateDecision{
				Gate:    g.Name(),
				Blocked: true,
				Reason:  fmt.Sprintf("denylisted phrase %q", phrase),
				Pattern: phrase,
			}, nil
		}
	}
	for _, re := range rules.patterns {
		if re.MatchString(turn.Content) {
			return GateDecision{
				Gate:    g.Name(),
				Blocked: true,
				Reason:  "matched pattern " + re.String(),
				Pattern: re.String(),
			}, nil
		}
	}
	return GateDecision{Gate: g.Name(), Reason: "no match"}, nil
}
