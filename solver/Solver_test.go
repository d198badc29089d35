package solver

import (
	"encoding/json"
	"testing"
)

// roundTrip marshals a solver to JSON and unmarshals it into a fresh
// Solver
func roundTrip(t *testing.T, s *Solver) *Solver {
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("could not marshal solver: %v", err)
	}

	var decoded Solver
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("could not unmarshal solver: %v", err)
	}
	return &decoded
}

func TestAdamJSONRoundTrip(t *testing.T) {
	s, err := NewAdam(0.001, 1e-8, 0.9, 0.999, 32)
	if err != nil {
		t.Fatalf("could not create solver: %v", err)
	}

	decoded := roundTrip(t, s)
	if decoded.Type != Adam {
		t.Errorf("expected type %v, got %v", Adam, decoded.Type)
	}
	if decoded.Solver == nil {
		t.Fatal("decoded solver holds no Gorgonia solver")
	}

	conf, ok := decoded.Config.(*AdamConfig)
	if !ok {
		t.Fatalf("expected *AdamConfig, got %T", decoded.Config)
	}
	expected := AdamConfig{
		StepSize: 0.001,
		Epsilon:  1e-8,
		Beta1:    0.9,
		Beta2:    0.999,
		Batch:    32,
	}
	if *conf != expected {
		t.Errorf("configuration changed by round trip: expected %v, "+
			"got %v", expected, *conf)
	}
}

func TestVanillaJSONRoundTrip(t *testing.T) {
	s, err := NewVanilla(0.1, 8)
	if err != nil {
		t.Fatalf("could not create solver: %v", err)
	}

	decoded := roundTrip(t, s)
	if decoded.Type != Vanilla {
		t.Errorf("expected type %v, got %v", Vanilla, decoded.Type)
	}
	if decoded.Solver == nil {
		t.Fatal("decoded solver holds no Gorgonia solver")
	}

	conf, ok := decoded.Config.(*VanillaConfig)
	if !ok {
		t.Fatalf("expected *VanillaConfig, got %T", decoded.Config)
	}
	expected := VanillaConfig{StepSize: 0.1, Batch: 8}
	if *conf != expected {
		t.Errorf("configuration changed by round trip: expected %v, "+
			"got %v", expected, *conf)
	}
}

func TestRMSPropJSONRoundTrip(t *testing.T) {
	s, err := NewRMSProp(0.001, 1e-8, 0.001, 0.999, 16, 5.0)
	if err != nil {
		t.Fatalf("could not create solver: %v", err)
	}

	decoded := roundTrip(t, s)
	if decoded.Type != RMSProp {
		t.Errorf("expected type %v, got %v", RMSProp, decoded.Type)
	}
	if decoded.Solver == nil {
		t.Fatal("decoded solver holds no Gorgonia solver")
	}

	conf, ok := decoded.Config.(*RMSPropConfig)
	if !ok {
		t.Fatalf("expected *RMSPropConfig, got %T", decoded.Config)
	}
	expected := RMSPropConfig{
		StepSize: 0.001,
		Epsilon:  1e-8,
		Eta:      0.001,
		Rho:      0.999,
		Batch:    16,
		Clip:     5.0,
	}
	if *conf != expected {
		t.Errorf("configuration changed by round trip: expected %v, "+
			"got %v", expected, *conf)
	}
}

func TestRMSPropRejectsUnsupportedEta(t *testing.T) {
	if _, err := NewRMSProp(0.001, 1e-8, 0.01, 0.999, 16, -1.0); err == nil {
		t.Error("expected error for unsupported η")
	}
}

func TestNewSolverRejectsMismatchedType(t *testing.T) {
	if _, err := newSolver(Adam, VanillaConfig{0.1, 8}); err == nil {
		t.Error("expected error for mismatched solver type and configuration")
	}
}
