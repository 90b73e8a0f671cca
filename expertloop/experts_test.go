package expertloop

import "testing"

func TestDefaultExpertsToolBoundaries(t *testing.T) {
	reg := DefaultExperts()

	planner, ok := reg.Get("planner")
	if !ok {
		t.Fatal("planner not registered")
	}
	if planner.Allows("write_file") || planner.Allows("execute_command") {
		t.Error("planner should be read-only")
	}
	if !planner.Allows("execute_safe_command") {
		t.Error("planner should have safe command access")
	}

	generator, ok := reg.Get("code_generator")
	if !ok {
		t.Fatal("code_generator not registered")
	}
	if !generator.Allows("write_file") || !generator.Allows("execute_command") {
		t.Error("code_generator missing mutation tools")
	}

	if reg.Default().ID != "code_generator" {
		t.Errorf("default = %s, want code_generator", reg.Default().ID)
	}
}

func TestNewExpertRegistryValidation(t *testing.T) {
	def := ExpertDefinition{ID: "a"}

	if _, err := NewExpertRegistry("a"); err == nil {
		t.Error("empty registry accepted")
	}
	if _, err := NewExpertRegistry("a", def, def); err == nil {
		t.Error("duplicate ids accepted")
	}
	if _, err := NewExpertRegistry("missing", def); err == nil {
		t.Error("unknown default accepted")
	}
	if _, err := NewExpertRegistry("a", ExpertDefinition{}); err == nil {
		t.Error("expert without id accepted")
	}
}

func TestIterationLimitFallback(t *testing.T) {
	def := ExpertDefinition{ID: "x"}
	if def.iterationLimit() != DefaultIterationLimit {
		t.Errorf("iterationLimit = %d, want default", def.iterationLimit())
	}
	def.IterationLimit = 3
	if def.iterationLimit() != 3 {
		t.Errorf("iterationLimit = %d, want 3", def.iterationLimit())
	}
}
