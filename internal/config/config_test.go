package config

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/akmonengine/linkage/actor"
	"github.com/akmonengine/linkage/solver"
)

// ===== Defaults Tests =====

func TestDefaultScenario(t *testing.T) {
	sc := DefaultScenario()

	if sc.System.Dt <= 0 {
		t.Error("dt should be positive")
	}
	if sc.System.Duration <= 0 {
		t.Error("duration should be positive")
	}
	if sc.System.Gravity.Z() >= 0 {
		t.Errorf("expected downward gravity, got %v", sc.System.Gravity)
	}
	if err := sc.Validate(); err != nil {
		t.Errorf("default scenario should validate: %v", err)
	}
	if sc.Steps() != 500 {
		t.Errorf("expected 500 steps, got %d", sc.Steps())
	}
}

func TestSystemConfig_Settings(t *testing.T) {
	sys := DefaultSystem()
	sys.Solver = "bb"
	sys.Mode = "normal"
	sys.Tolerance = 1e-6

	settings, err := sys.Settings()
	if err != nil {
		t.Fatal(err)
	}
	if settings.Type != solver.BB || settings.Mode != solver.ModeNormal || settings.Tolerance != 1e-6 {
		t.Errorf("unexpected settings %+v", settings)
	}

	sys.Solver = "jacobi"
	if _, err := sys.Settings(); !errors.Is(err, solver.ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

// ===== Preset Tests =====

func TestGetPreset(t *testing.T) {
	sc := GetPreset("shaft-lock")
	if sc == nil {
		t.Fatal("expected preset, got nil")
	}
	if len(sc.Shafts) != 2 || len(sc.Links) != 1 {
		t.Errorf("expected 2 shafts and 1 link, got %d and %d", len(sc.Shafts), len(sc.Links))
	}

	sc.Shafts[0].Inertia = 99
	if GetPreset("shaft-lock").Shafts[0].Inertia == 99 {
		t.Error("presets must be returned as fresh copies")
	}
}

func TestGetPreset_NotFound(t *testing.T) {
	if GetPreset("nonexistent") != nil {
		t.Error("expected nil for nonexistent preset")
	}
}

func TestListPresets(t *testing.T) {
	names := ListPresets()
	expected := []string{"motor-ramp", "pendulum", "peri-block", "shaft-lock", "sphere-drop"}
	if len(names) != len(expected) {
		t.Fatalf("expected %d presets, got %v", len(expected), names)
	}
	for i := range expected {
		if names[i] != expected[i] {
			t.Errorf("preset %d: expected %s, got %s", i, expected[i], names[i])
		}
	}
}

func TestPresets_Build(t *testing.T) {
	tests := []struct {
		name   string
		bodies int
		shafts int
		links  int
		matter int
	}{
		{"shaft-lock", 0, 2, 1, 0},
		{"motor-ramp", 0, 3, 2, 0},
		{"pendulum", 2, 0, 1, 0},
		{"sphere-drop", 2, 0, 0, 0},
		{"peri-block", 0, 0, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scene, err := GetPreset(tt.name).BuildScene()
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			s := scene.System
			if len(s.Bodies) != tt.bodies || len(s.Shafts) != tt.shafts || len(s.Links) != tt.links || len(s.Matter) != tt.matter {
				t.Errorf("got %d bodies, %d shafts, %d links, %d matter",
					len(s.Bodies), len(s.Shafts), len(s.Links), len(s.Matter))
			}
			if err := s.Step(GetPreset(tt.name).System.Dt); err != nil {
				t.Errorf("first step: %v", err)
			}
		})
	}
}

func TestPresets_ShaftLockTorque(t *testing.T) {
	scene, err := GetPreset("shaft-lock").BuildScene()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		if err := scene.System.Step(0.01); err != nil {
			t.Fatal(err)
		}
	}

	a, b := scene.Shafts["a"], scene.Shafts["b"]
	// 10 N·m over a combined inertia of 5 for half a second.
	if math.Abs(a.Speed-1.0) > 1e-9 || math.Abs(b.Speed-1.0) > 1e-9 {
		t.Errorf("expected both shafts at 1 rad/s, got %v and %v", a.Speed, b.Speed)
	}
}

func TestPresets_PeriBlockAnchors(t *testing.T) {
	scene, err := GetPreset("peri-block").BuildScene()
	if err != nil {
		t.Fatal(err)
	}
	block := scene.Matter["block"]
	if block.NumNodes() != 27 {
		t.Errorf("expected 27 nodes, got %d", block.NumNodes())
	}
	if len(block.Anchors()) != 9 {
		t.Errorf("expected 9 anchors, got %d", len(block.Anchors()))
	}
}

// ===== Validate Tests =====

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(sc *Scenario)
	}{
		{"zero dt", func(sc *Scenario) { sc.System.Dt = 0 }},
		{"negative duration", func(sc *Scenario) { sc.System.Duration = -1 }},
		{"negative workers", func(sc *Scenario) { sc.System.Workers = -2 }},
		{"unknown mode", func(sc *Scenario) { sc.System.Mode = "rolling" }},
		{"bad cell size", func(sc *Scenario) { sc.System.Collision = &CollisionConfig{} }},
		{"duplicate name", func(sc *Scenario) { sc.Shafts[1].Name = "a" }},
		{"unnamed shaft", func(sc *Scenario) { sc.Shafts[0].Name = "" }},
		{"zero inertia", func(sc *Scenario) { sc.Shafts[0].Inertia = 0 }},
		{"unknown link type", func(sc *Scenario) { sc.Links[0].Type = "belt" }},
		{"missing link end", func(sc *Scenario) { sc.Links[0].B = "c" }},
		{"self link", func(sc *Scenario) { sc.Links[0].B = "a" }},
		{"zero gear ratio", func(sc *Scenario) {
			sc.Links[0].Type = LinkGear
			sc.Links[0].Ratio = 0
		}},
		{"mate on shafts", func(sc *Scenario) {
			sc.Links[0].Type = LinkMate
			sc.Links[0].Kind = "fix"
		}},
		{"body without shape", func(sc *Scenario) {
			sc.Bodies = append(sc.Bodies, BodyConfig{Name: "box", Density: 1})
		}},
		{"dynamic body without density", func(sc *Scenario) {
			sc.Bodies = append(sc.Bodies, BodyConfig{Name: "box", Shape: actor.ShapeArchive{Type: "box"}})
		}},
		{"matter without spacing", func(sc *Scenario) {
			sc.Matter = append(sc.Matter, MatterConfig{Name: "block"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := GetPreset("shaft-lock")
			tt.modify(sc)
			if err := sc.Validate(); !errors.Is(err, ErrInvalidScenario) {
				t.Errorf("expected ErrInvalidScenario, got %v", err)
			}
			if _, err := sc.Build(); err == nil {
				t.Error("expected Build to fail")
			}
		})
	}
}

// ===== Load and Save Tests =====

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	original := GetPreset("motor-ramp")

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Name != original.Name || loaded.System.Solver != "direct" {
		t.Errorf("header lost: %+v", loaded.System)
	}
	if len(loaded.Links) != 2 || loaded.Links[1].Ratio != 0.5 {
		t.Fatalf("links lost: %+v", loaded.Links)
	}
	if f := loaded.Links[0].Function; f == nil || f.Type != "ramp" || f.Slope != 1 {
		t.Errorf("motor function lost: %+v", f)
	}
	if !loaded.Shafts[1].Fixed {
		t.Error("fixed flag lost")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
name: flywheel
system:
  dt: 0.01
  duration: 1
  solver: direct
  mode: bilateral
shafts:
  - name: wheel
    inertia: 2
  - name: ground
    inertia: 1
    fixed: true
links:
  - type: motor
    a: wheel
    b: ground
    function:
      type: ramp
      slope: 3
`)
	sc, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sc.System.Gravity.Z() >= 0 {
		t.Error("omitted gravity should keep the default")
	}
	if sc.System.RecoverySpeed != DefaultRecoverySpeed {
		t.Errorf("expected default recovery speed, got %v", sc.System.RecoverySpeed)
	}

	scene, err := sc.BuildScene()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for i := 0; i < sc.Steps(); i++ {
		if err := scene.System.Step(sc.System.Dt); err != nil {
			t.Fatal(err)
		}
	}
	wheel := scene.Shafts["wheel"]
	if math.Abs(wheel.Speed-3) > 1e-9 {
		t.Errorf("expected wheel speed 3, got %v", wheel.Speed)
	}
	if math.Abs(wheel.Pos-3) > 1e-6 {
		t.Errorf("expected wheel angle 3, got %v", wheel.Pos)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed", "system: [1, 2"},
		{"negative dt", "system:\n  dt: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
