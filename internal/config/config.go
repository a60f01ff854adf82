package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/akmonengine/linkage/actor"
	"github.com/akmonengine/linkage/function"
	"github.com/akmonengine/linkage/peridynamics"
	"github.com/akmonengine/linkage/solver"
	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDt            = 0.01
	DefaultDuration      = 5.0
	DefaultRecoverySpeed = 0.6
	DefaultWorkers       = 1
	DefaultCellSize      = 1.0
	DefaultNumCells      = 1024
)

var ErrInvalidScenario = errors.New("config: invalid scenario")

// Link types of LinkConfig.Type.
const (
	LinkMotor = "motor"
	LinkGear  = "gear"
	LinkMate  = "mate"
)

// Scenario is a complete simulation setup. Bodies, shafts and matter are
// named so that links and output channels can refer to them.
type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	System      SystemConfig   `yaml:"system"`
	Bodies      []BodyConfig   `yaml:"bodies,omitempty"`
	Shafts      []ShaftConfig  `yaml:"shafts,omitempty"`
	Links       []LinkConfig   `yaml:"links,omitempty"`
	Matter      []MatterConfig `yaml:"matter,omitempty"`
}

type SystemConfig struct {
	Dt            float64           `yaml:"dt"`
	Duration      float64           `yaml:"duration"`
	Gravity       mgl64.Vec3        `yaml:"gravity,flow"`
	Solver        string            `yaml:"solver"`
	Mode          string            `yaml:"mode"`
	Iterations    solver.Iterations `yaml:"iterations"`
	Tolerance     float64           `yaml:"tolerance"`
	Workers       int               `yaml:"workers"`
	RecoverySpeed float64           `yaml:"recovery_speed"`
	// Collision enables the grid collision system when set.
	Collision *CollisionConfig `yaml:"collision,omitempty"`
}

type CollisionConfig struct {
	CellSize float64 `yaml:"cell_size"`
	NumCells int     `yaml:"num_cells"`
	Margin   float64 `yaml:"margin,omitempty"`
}

type BodyConfig struct {
	Name  string             `yaml:"name"`
	Shape actor.ShapeArchive `yaml:"shape"`
	// Static bodies are fixed and get no mass from the density.
	Static   bool       `yaml:"static,omitempty"`
	Density  float64    `yaml:"density,omitempty"`
	Position mgl64.Vec3 `yaml:"position,flow"`
	// Rotation is a rotation vector, in radians.
	Rotation        mgl64.Vec3      `yaml:"rotation,flow,omitempty"`
	Velocity        mgl64.Vec3      `yaml:"velocity,flow,omitempty"`
	AngularVelocity mgl64.Vec3      `yaml:"angular_velocity,flow,omitempty"`
	Material        *actor.Material `yaml:"material,omitempty"`
	Sleeping        bool            `yaml:"sleeping,omitempty"`
	LimitSpeed      bool            `yaml:"limit_speed,omitempty"`
}

type ShaftConfig struct {
	Name     string  `yaml:"name"`
	Inertia  float64 `yaml:"inertia"`
	Pos      float64 `yaml:"pos,omitempty"`
	Speed    float64 `yaml:"speed,omitempty"`
	Torque   float64 `yaml:"torque,omitempty"`
	Fixed    bool    `yaml:"fixed,omitempty"`
	Sleeping bool    `yaml:"sleeping,omitempty"`
}

// LinkConfig describes a motor or gear between two shafts, or a mate
// between two bodies.
type LinkConfig struct {
	Type string `yaml:"type"`
	A    string `yaml:"a"`
	B    string `yaml:"b"`

	// motor
	Function *function.Archive `yaml:"function,omitempty"`
	Offset   float64           `yaml:"offset,omitempty"`
	// gear
	Ratio float64 `yaml:"ratio,omitempty"`
	// mate, placed at a common world frame
	Kind       string            `yaml:"kind,omitempty"`
	Position   mgl64.Vec3        `yaml:"position,flow,omitempty"`
	Rotation   mgl64.Vec3        `yaml:"rotation,flow,omitempty"`
	Distance   float64           `yaml:"distance,omitempty"`
	Mask       []bool            `yaml:"mask,flow,omitempty"`
	Motion     *function.Archive `yaml:"motion,omitempty"`
	MotionAxis int               `yaml:"motion_axis,omitempty"`

	BreakForce float64 `yaml:"break_force,omitempty"`
}

// MatterConfig is a block of peridynamic matter.
type MatterConfig struct {
	Name      string                    `yaml:"name"`
	Material  peridynamics.VonMises     `yaml:"material"`
	Model     string                    `yaml:"model,omitempty"`
	Bulk      *peridynamics.BulkElastic `yaml:"bulk,omitempty"`
	Fill      peridynamics.BoxFill      `yaml:"fill"`
	Viscosity float64                   `yaml:"viscosity,omitempty"`
	// AnchorAbove anchors every node whose height is above the value.
	AnchorAbove *float64 `yaml:"anchor_above,omitempty"`
}

func DefaultSystem() SystemConfig {
	settings := solver.DefaultSettings()
	return SystemConfig{
		Dt:            DefaultDt,
		Duration:      DefaultDuration,
		Gravity:       mgl64.Vec3{0, 0, -9.81},
		Solver:        settings.Type.String(),
		Mode:          settings.Mode.String(),
		Iterations:    settings.MaxIterations,
		Tolerance:     settings.Tolerance,
		Workers:       DefaultWorkers,
		RecoverySpeed: DefaultRecoverySpeed,
	}
}

func DefaultScenario() *Scenario {
	return &Scenario{
		Name:   "default",
		System: DefaultSystem(),
	}
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML scenario over the defaults and validates it.
func Parse(data []byte) (*Scenario, error) {
	sc := DefaultScenario()
	if err := yaml.Unmarshal(data, sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

func Save(path string, sc *Scenario) error {
	data, err := yaml.Marshal(sc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Settings converts the solver section.
func (c SystemConfig) Settings() (solver.Settings, error) {
	settings := solver.DefaultSettings()
	if c.Solver != "" {
		t, err := solver.ParseType(c.Solver)
		if err != nil {
			return settings, err
		}
		settings.Type = t
	}
	if c.Mode != "" {
		m, err := solver.ParseMode(c.Mode)
		if err != nil {
			return settings, err
		}
		settings.Mode = m
	}
	if c.Iterations != (solver.Iterations{}) {
		settings.MaxIterations = c.Iterations
	}
	if c.Tolerance > 0 {
		settings.Tolerance = c.Tolerance
	}
	return settings, nil
}

// Steps is the number of steps covering the duration.
func (sc *Scenario) Steps() int {
	if sc.System.Dt <= 0 {
		return 0
	}
	return int(sc.System.Duration/sc.System.Dt + 0.5)
}

// Validate reports the first inconsistency of the scenario. Entity
// parameters (inertia, density, spacing) are checked again by the engine
// constructors during Build.
func (sc *Scenario) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidScenario, fmt.Sprintf(format, args...))
	}

	sys := sc.System
	if !(sys.Dt > 0) {
		return invalid("dt must be positive, got %v", sys.Dt)
	}
	if !(sys.Duration > 0) {
		return invalid("duration must be positive, got %v", sys.Duration)
	}
	if sys.Workers < 0 {
		return invalid("workers must not be negative, got %d", sys.Workers)
	}
	if _, err := sys.Settings(); err != nil {
		return invalid("%v", err)
	}
	if c := sys.Collision; c != nil && !(c.CellSize > 0) {
		return invalid("collision cell size must be positive, got %v", c.CellSize)
	}

	names := make(map[string]string)
	claim := func(kind, name string) error {
		if name == "" {
			return invalid("%s without a name", kind)
		}
		if other, ok := names[name]; ok {
			return invalid("%s %q already names a %s", kind, name, other)
		}
		names[name] = kind
		return nil
	}
	for _, b := range sc.Bodies {
		if err := claim("body", b.Name); err != nil {
			return err
		}
		if b.Shape.Type == "" {
			return invalid("body %q has no shape", b.Name)
		}
		if !b.Static && !(b.Density > 0) {
			return invalid("dynamic body %q needs a positive density", b.Name)
		}
	}
	for _, s := range sc.Shafts {
		if err := claim("shaft", s.Name); err != nil {
			return err
		}
		if !(s.Inertia > 0) {
			return invalid("shaft %q needs a positive inertia", s.Name)
		}
	}
	for _, m := range sc.Matter {
		if err := claim("matter", m.Name); err != nil {
			return err
		}
		if !(m.Fill.Spacing > 0) {
			return invalid("matter %q needs a positive spacing", m.Name)
		}
	}

	for i, l := range sc.Links {
		want := "shaft"
		switch l.Type {
		case LinkMotor, LinkGear:
		case LinkMate:
			want = "body"
		default:
			return invalid("link %d: unknown type %q", i, l.Type)
		}
		for _, end := range []string{l.A, l.B} {
			if names[end] != want {
				return invalid("link %d: %q is not a %s", i, end, want)
			}
		}
		if l.A == l.B {
			return invalid("link %d: both ends are %q", i, l.A)
		}
		if l.Type == LinkGear && l.Ratio == 0 {
			return invalid("link %d: gear ratio must not be zero", i)
		}
		if l.Type == LinkMate && l.Mask != nil && len(l.Mask) != 6 {
			return invalid("link %d: mask needs 6 entries, got %d", i, len(l.Mask))
		}
	}
	return nil
}
