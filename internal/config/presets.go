package config

import (
	"sort"

	"github.com/akmonengine/linkage/actor"
	"github.com/akmonengine/linkage/function"
	"github.com/akmonengine/linkage/peridynamics"
	"github.com/go-gl/mathgl/mgl64"
)

var Presets = map[string]func() *Scenario{
	"shaft-lock":  shaftLock,
	"motor-ramp":  motorRamp,
	"pendulum":    pendulum,
	"sphere-drop": sphereDrop,
	"peri-block":  periBlock,
}

// GetPreset returns a fresh copy of the named scenario, or nil.
func GetPreset(name string) *Scenario {
	build, ok := Presets[name]
	if !ok {
		return nil
	}
	return build()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func directSystem(duration float64) SystemConfig {
	sys := DefaultSystem()
	sys.Duration = duration
	sys.Solver = "direct"
	sys.Mode = "bilateral"
	return sys
}

func shaftLock() *Scenario {
	return &Scenario{
		Name:        "shaft-lock",
		Description: "two shafts locked by a constant motor, torque applied on the first",
		System:      directSystem(1),
		Shafts: []ShaftConfig{
			{Name: "a", Inertia: 2, Torque: 10},
			{Name: "b", Inertia: 3},
		},
		Links: []LinkConfig{
			{Type: LinkMotor, A: "a", B: "b", Function: &function.Archive{Type: "const"}},
		},
	}
}

func motorRamp() *Scenario {
	return &Scenario{
		Name:        "motor-ramp",
		Description: "a motor drives a shaft at 1 rad/s against a fixed frame, through a 1:2 gear",
		System:      directSystem(2),
		Shafts: []ShaftConfig{
			{Name: "rotor", Inertia: 1},
			{Name: "frame", Inertia: 1, Fixed: true},
			{Name: "output", Inertia: 0.5},
		},
		Links: []LinkConfig{
			{Type: LinkMotor, A: "rotor", B: "frame", Function: &function.Archive{Type: "ramp", Slope: 1}},
			{Type: LinkGear, A: "rotor", B: "output", Ratio: 0.5},
		},
	}
}

func pendulum() *Scenario {
	sys := directSystem(4)
	sys.Dt = 0.005
	return &Scenario{
		Name:        "pendulum",
		Description: "a sphere swinging on a spherical joint around a fixed pivot",
		System:      sys,
		Bodies: []BodyConfig{
			{Name: "pivot", Shape: actor.ShapeArchive{Type: "sphere", Radius: 0.05}, Static: true},
			{Name: "bob", Shape: actor.ShapeArchive{Type: "sphere", Radius: 0.1}, Density: 1000, Position: mgl64.Vec3{1, 0, 0}},
		},
		Links: []LinkConfig{
			{Type: LinkMate, Kind: "spherical", A: "bob", B: "pivot"},
		},
	}
}

func sphereDrop() *Scenario {
	sys := DefaultSystem()
	sys.Duration = 2
	sys.Mode = "sliding"
	sys.Collision = &CollisionConfig{CellSize: DefaultCellSize, NumCells: DefaultNumCells}
	return &Scenario{
		Name:        "sphere-drop",
		Description: "a sphere dropped on the ground plane, left to rest and fall asleep",
		System:      sys,
		Bodies: []BodyConfig{
			{Name: "ground", Shape: actor.ShapeArchive{Type: "plane", Normal: mgl64.Vec3{0, 0, 1}}, Static: true},
			{Name: "ball", Shape: actor.ShapeArchive{Type: "sphere", Radius: 0.5}, Density: 1000, Position: mgl64.Vec3{0, 0, 1}, Sleeping: true},
		},
	}
}

func periBlock() *Scenario {
	sys := directSystem(0.01)
	sys.Dt = 1e-4
	material := peridynamics.DefaultVonMises()
	material.YoungModulus = 1e5
	above := 0.05
	return &Scenario{
		Name:        "peri-block",
		Description: "a peridynamic block hanging from its anchored top layer",
		System:      sys,
		Matter: []MatterConfig{
			{
				Name:        "block",
				Material:    material,
				Fill:        peridynamics.BoxFill{Size: mgl64.Vec3{0.3, 0.3, 0.3}, Spacing: 0.1},
				AnchorAbove: &above,
			},
		},
	}
}
