package main

import (
	"strings"
	"testing"

	"github.com/martinemde/conductor/config"
	"github.com/martinemde/conductor/expertloop"
)

func TestExpertsWithOverridesAppliesLimits(t *testing.T) {
	reg, err := expertsWithOverrides([]config.ExpertOverride{
		{ID: "planner", IterationLimit: 3, LoopThreshold: 5},
	})
	if err != nil {
		t.Fatalf("expertsWithOverrides: %v", err)
	}
	planner, ok := reg.Get("planner")
	if !ok {
		t.Fatal("planner missing after override")
	}
	if planner.IterationLimit != 3 {
		t.Errorf("IterationLimit = %d, want 3", planner.IterationLimit)
	}
	if planner.LoopThreshold != 5 {
		t.Errorf("LoopThreshold = %d, want 5", planner.LoopThreshold)
	}
}

func TestExpertsWithOverridesKeepsOthersUntouched(t *testing.T) {
	reg, err := expertsWithOverrides([]config.ExpertOverride{
		{ID: "planner", IterationLimit: 3},
	})
	if err != nil {
		t.Fatalf("expertsWithOverrides: %v", err)
	}
	reviewer, ok := reg.Get("code_reviewer")
	if !ok {
		t.Fatal("code_reviewer missing")
	}
	base, _ := expertloop.DefaultExperts().Get("code_reviewer")
	if reviewer.IterationLimit != base.IterationLimit {
		t.Errorf("IterationLimit = %d, want %d", reviewer.IterationLimit, base.IterationLimit)
	}
}

func TestExpertsWithOverridesRejectsUnknownExpert(t *testing.T) {
	_, err := expertsWithOverrides([]config.ExpertOverride{
		{ID: "does-not-exist", IterationLimit: 3},
	})
	if err == nil {
		t.Fatal("expected error for unknown expert id")
	}
	if !strings.Contains(err.Error(), "does-not-exist") {
		t.Errorf("err = %v, want it to name the unknown id", err)
	}
}

func TestExpertsWithOverridesEmpty(t *testing.T) {
	reg, err := expertsWithOverrides(nil)
	if err != nil {
		t.Fatalf("expertsWithOverrides: %v", err)
	}
	if reg.Default().ID == "" {
		t.Fatal("empty default expert")
	}
}
