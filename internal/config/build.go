package config

import (
	"fmt"

	"github.com/akmonengine/linkage"
	"github.com/akmonengine/linkage/actor"
	"github.com/akmonengine/linkage/constraint"
	"github.com/akmonengine/linkage/function"
	"github.com/akmonengine/linkage/peridynamics"
	"github.com/akmonengine/linkage/state"
)

// Scene is a built scenario: the system, plus its entities by name.
type Scene struct {
	System *linkage.System
	Bodies map[string]*actor.RigidBody
	Shafts map[string]*actor.Shaft
	Matter map[string]*peridynamics.Matter
	Links  []constraint.Link
}

// Build instantiates the engine described by the scenario.
func (sc *Scenario) Build() (*linkage.System, error) {
	scene, err := sc.BuildScene()
	if err != nil {
		return nil, err
	}
	return scene.System, nil
}

// BuildScene validates the scenario, builds every entity and sets the
// system up.
func (sc *Scenario) BuildScene() (*Scene, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	settings, err := sc.System.Settings()
	if err != nil {
		return nil, err
	}

	s := linkage.NewSystem()
	s.Gravity = sc.System.Gravity
	s.Workers = max(sc.System.Workers, linkage.DEFAULT_WORKERS)
	s.RecoverySpeed = sc.System.RecoverySpeed
	s.SetSolver(settings)
	if c := sc.System.Collision; c != nil {
		g := linkage.NewGridCollision(c.CellSize, max(c.NumCells, DefaultNumCells))
		if c.Margin > 0 {
			g.Margin = c.Margin
		}
		g.Workers = s.Workers
		s.SetCollision(g)
	}

	scene := &Scene{
		System: s,
		Bodies: make(map[string]*actor.RigidBody, len(sc.Bodies)),
		Shafts: make(map[string]*actor.Shaft, len(sc.Shafts)),
		Matter: make(map[string]*peridynamics.Matter, len(sc.Matter)),
	}

	for _, bc := range sc.Bodies {
		body, err := bc.build()
		if err != nil {
			return nil, fmt.Errorf("body %q: %w", bc.Name, err)
		}
		if err := s.AddBody(body); err != nil {
			return nil, fmt.Errorf("body %q: %w", bc.Name, err)
		}
		scene.Bodies[bc.Name] = body
	}
	for _, shc := range sc.Shafts {
		shaft, err := shc.build()
		if err != nil {
			return nil, fmt.Errorf("shaft %q: %w", shc.Name, err)
		}
		if err := s.AddShaft(shaft); err != nil {
			return nil, fmt.Errorf("shaft %q: %w", shc.Name, err)
		}
		scene.Shafts[shc.Name] = shaft
	}
	for _, mc := range sc.Matter {
		m, err := mc.build(s.Workers)
		if err != nil {
			return nil, fmt.Errorf("matter %q: %w", mc.Name, err)
		}
		if err := s.AddMatter(m); err != nil {
			return nil, fmt.Errorf("matter %q: %w", mc.Name, err)
		}
		scene.Matter[mc.Name] = m
	}
	for i, lc := range sc.Links {
		link, err := lc.build(scene)
		if err != nil {
			return nil, fmt.Errorf("link %d (%s): %w", i, lc.Type, err)
		}
		if err := s.AddLink(link); err != nil {
			return nil, fmt.Errorf("link %d (%s): %w", i, lc.Type, err)
		}
		scene.Links = append(scene.Links, link)
	}

	if err := s.Setup(); err != nil {
		return nil, err
	}
	return scene, nil
}

func (bc BodyConfig) build() (*actor.RigidBody, error) {
	shape, err := bc.Shape.Shape()
	if err != nil {
		return nil, err
	}
	transform := actor.Transform{
		Position: bc.Position,
		Rotation: state.QuatFromRotVec(bc.Rotation),
	}
	bodyType := actor.BodyTypeDynamic
	if bc.Static {
		bodyType = actor.BodyTypeStatic
	}
	body, err := actor.NewRigidBody(transform, shape, bodyType, bc.Density)
	if err != nil {
		return nil, err
	}
	if bc.Material != nil {
		material := *bc.Material
		if material.Density == 0 {
			material.Density = body.Material.Density
		}
		body.Material = material
	}
	if !bc.Static {
		body.Velocity = bc.Velocity
		body.AngularVelocity = bc.AngularVelocity
	}
	body.SetLimitSpeed(bc.LimitSpeed)
	body.SetUseSleeping(bc.Sleeping)
	return body, nil
}

func (shc ShaftConfig) build() (*actor.Shaft, error) {
	shaft, err := actor.NewShaft(shc.Inertia)
	if err != nil {
		return nil, err
	}
	shaft.Pos = shc.Pos
	shaft.Speed = shc.Speed
	shaft.SetAppliedTorque(shc.Torque)
	shaft.SetFixed(shc.Fixed)
	shaft.SetUseSleeping(shc.Sleeping)
	return shaft, nil
}

func (mc MatterConfig) build(workers int) (*peridynamics.Matter, error) {
	m := peridynamics.NewMatter(mc.Material, 0)
	m.Workers = workers
	m.Viscosity = mc.Viscosity
	switch mc.Model {
	case "", peridynamics.Correspondence{}.Name():
	case peridynamics.BulkElastic{}.Name():
		bulk := peridynamics.DefaultBulkElastic()
		if mc.Bulk != nil {
			bulk = *mc.Bulk
		}
		m.Model = bulk
	default:
		return nil, fmt.Errorf("%w: %q", peridynamics.ErrUnknownModel, mc.Model)
	}
	if err := peridynamics.FillBox(m, mc.Fill); err != nil {
		return nil, err
	}
	if mc.AnchorAbove != nil {
		for i, n := range m.Nodes() {
			if n.Pos.Z() > *mc.AnchorAbove {
				if _, err := m.Anchor(i); err != nil {
					return nil, err
				}
			}
		}
	}
	return m, nil
}

func (lc LinkConfig) build(scene *Scene) (constraint.Link, error) {
	switch lc.Type {
	case LinkMotor:
		motor, err := constraint.NewShaftsMotorAngle(scene.Shafts[lc.A], scene.Shafts[lc.B])
		if err != nil {
			return nil, err
		}
		if lc.Function != nil {
			f, err := function.ArchiveIn(*lc.Function)
			if err != nil {
				return nil, err
			}
			motor.Function = f
		}
		motor.Offset = lc.Offset
		motor.BreakForce = lc.BreakForce
		return motor, nil

	case LinkGear:
		gear, err := constraint.NewShaftsGear(scene.Shafts[lc.A], scene.Shafts[lc.B], lc.Ratio)
		if err != nil {
			return nil, err
		}
		gear.BreakForce = lc.BreakForce
		return gear, nil

	case LinkMate:
		kind, err := constraint.ParseMateKind(lc.Kind)
		if err != nil {
			return nil, err
		}
		world := actor.Transform{
			Position: lc.Position,
			Rotation: state.QuatFromRotVec(lc.Rotation),
		}
		mate, err := constraint.NewMateAt(kind, scene.Bodies[lc.A], scene.Bodies[lc.B], world)
		if err != nil {
			return nil, err
		}
		if lc.Mask != nil {
			var mask constraint.DOFMask
			copy(mask[:], lc.Mask)
			mate.SetMask(mask)
		}
		mate.Distance = lc.Distance
		if lc.Motion != nil {
			f, err := function.ArchiveIn(*lc.Motion)
			if err != nil {
				return nil, err
			}
			mate.SetMotion(lc.MotionAxis, f)
		}
		mate.BreakForce = lc.BreakForce
		return mate, nil
	}
	return nil, fmt.Errorf("%w: unknown link type %q", ErrInvalidScenario, lc.Type)
}
