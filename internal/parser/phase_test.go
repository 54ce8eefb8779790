package parser

import (
	"testing"

	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

func TestPhaseRulesNext(t *testing.T) {
	rules := NewPhaseRules(DefaultConfig().Phases)

	tests := []struct {
		name    string
		current types.Phase
		message string
		want    types.Phase
	}{
		{"cli plan", types.PhaseNone, "CLI args: []string{\"terraform\", \"plan\"}", types.PhasePlan},
		{"cli apply", types.PhaseNone, "CLI command args: apply -auto-approve", types.PhaseApply},
		{"cli apply while planning", types.PhasePlan, "cli args: apply", types.PhaseApply},
		{"cli without token", types.PhaseNone, "CLI args: init", types.PhaseNone},
		{"token needs word boundary", types.PhaseNone, "CLI args: planner", types.PhaseNone},
		{"plan start phrase", types.PhaseNone, "backend/local: starting Plan operation", types.PhasePlan},
		{"quoted plan", types.PhaseApply, `running "plan"`, types.PhasePlan},
		{"apply start phrase", types.PhasePlan, "Apply is starting", types.PhaseApply},
		{"unquoted word starts nothing", types.PhaseNone, "applying step 1", types.PhaseNone},
		{"plan end", types.PhasePlan, "Plan is complete", types.PhaseNone},
		{"plan end ignored outside plan", types.PhaseNone, "Plan is complete", types.PhaseNone},
		{"apply end", types.PhaseApply, "Apply finished", types.PhaseNone},
		{"apply end ignored while planning", types.PhasePlan, "apply finished", types.PhasePlan},
		{"start beats unrelated end", types.PhasePlan, "plan is complete; apply is starting", types.PhaseApply},
		{"same start does not restart", types.PhasePlan, "Plan is starting", types.PhasePlan},
		{"case insensitive", types.PhaseApply, "APPLY OPERATION COMPLETED", types.PhaseNone},
		{"unrelated", types.PhaseApply, "Still creating...", types.PhaseApply},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rules.Next(tt.current, tt.message)
			if got != tt.want {
				t.Errorf("Next(%s, %q) = %s, want %s", tt.current, tt.message, got, tt.want)
			}
		})
	}
}

func TestPhaseTrackerTransitions(t *testing.T) {
	tracker := NewPhaseTracker(NewPhaseRules(DefaultConfig().Phases))

	steps := []struct {
		message    string
		phase      types.Phase
		transition types.Transition
	}{
		{"init", types.PhaseNone, types.TransitionNone},
		{"Plan is starting", types.PhasePlan, types.TransitionEntered},
		{"reading state", types.PhasePlan, types.TransitionNone},
		{"Apply is starting", types.PhaseApply, types.TransitionEntered},
		{"apply operation finished", types.PhaseNone, types.TransitionExited},
		{"done", types.PhaseNone, types.TransitionNone},
	}

	for i, s := range steps {
		phase, transition := tracker.Observe(s.message)
		if phase != s.phase || transition != s.transition {
			t.Errorf("step %d (%q) = %s/%s, want %s/%s", i, s.message, phase, transition, s.phase, s.transition)
		}
	}
	if tracker.Current() != types.PhaseNone {
		t.Errorf("Current() = %s, want none", tracker.Current())
	}
}
