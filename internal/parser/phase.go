package parser

import (
	"regexp"
	"strings"

	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

var (
	planToken  = regexp.MustCompile(`\bplan\b`)
	applyToken = regexp.MustCompile(`\bapply\b`)
)

// PhaseRules is the compiled, lower-cased form of a PhaseConfig
type PhaseRules struct {
	cliMarkers []string
	planStart  []string
	planEnd    []string
	applyStart []string
	applyEnd   []string
}

// NewPhaseRules compiles cfg
func NewPhaseRules(cfg PhaseConfig) *PhaseRules {
	return &PhaseRules{
		cliMarkers: lowerAll(cfg.CLIMarkers),
		planStart:  lowerAll(cfg.PlanStart),
		planEnd:    lowerAll(cfg.PlanEnd),
		applyStart: lowerAll(cfg.ApplyStart),
		applyEnd:   lowerAll(cfg.ApplyEnd),
	}
}

// Next returns the phase that follows current after a line carrying message.
// CLI argument lines are checked first, then start phrases, then end phrases.
func (r *PhaseRules) Next(current types.Phase, message string) types.Phase {
	msg := strings.ToLower(message)

	if containsAny(msg, r.cliMarkers) {
		if current != types.PhasePlan && planToken.MatchString(msg) {
			return types.PhasePlan
		}
		if current != types.PhaseApply && applyToken.MatchString(msg) {
			return types.PhaseApply
		}
	}

	if current != types.PhasePlan && containsAny(msg, r.planStart) {
		return types.PhasePlan
	}
	if current != types.PhaseApply && containsAny(msg, r.applyStart) {
		return types.PhaseApply
	}

	if current == types.PhasePlan && containsAny(msg, r.planEnd) {
		return types.PhaseNone
	}
	if current == types.PhaseApply && containsAny(msg, r.applyEnd) {
		return types.PhaseNone
	}
	return current
}

// PhaseTracker carries the current phase across the lines of one run.
// The zero value is not usable; create trackers with NewPhaseTracker.
type PhaseTracker struct {
	rules   *PhaseRules
	current types.Phase
}

// NewPhaseTracker creates a tracker in the none phase
func NewPhaseTracker(rules *PhaseRules) *PhaseTracker {
	return &PhaseTracker{rules: rules, current: types.PhaseNone}
}

// Current returns the active phase
func (t *PhaseTracker) Current() types.Phase {
	return t.current
}

// Observe advances the tracker by one line and returns the phase for that
// line together with the transition it caused.
func (t *PhaseTracker) Observe(message string) (types.Phase, types.Transition) {
	prev := t.current
	next := t.rules.Next(prev, message)
	t.current = next

	switch {
	case next != prev && next != types.PhaseNone:
		return next, types.TransitionEntered
	case next == types.PhaseNone && prev != types.PhaseNone:
		return next, types.TransitionExited
	default:
		return next, types.TransitionNone
	}
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if p != "" && strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
