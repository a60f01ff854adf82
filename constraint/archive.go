package constraint

import (
	"errors"
	"fmt"

	"github.com/akmonengine/linkage/actor"
	"github.com/akmonengine/linkage/function"
	"github.com/go-gl/mathgl/mgl64"
)

var ErrUnknownLink = errors.New("constraint: unknown link type")

const (
	linkMotorAngle = "motor_angle"
	linkGear       = "gear"
	linkMate       = "mate"
)

// TransformArchive is the persistent form of a link frame. Rotation is
// stored (w, x, y, z).
type TransformArchive struct {
	Position mgl64.Vec3 `yaml:"position,flow"`
	Rotation [4]float64 `yaml:"rotation,flow"`
}

func archiveTransform(t actor.Transform) *TransformArchive {
	return &TransformArchive{
		Position: t.Position,
		Rotation: [4]float64{t.Rotation.W, t.Rotation.V[0], t.Rotation.V[1], t.Rotation.V[2]},
	}
}

func (a *TransformArchive) transform() actor.Transform {
	if a == nil {
		return actor.NewTransform()
	}
	return actor.Transform{
		Position: a.Position,
		Rotation: mgl64.Quat{W: a.Rotation[0], V: mgl64.Vec3{a.Rotation[1], a.Rotation[2], a.Rotation[3]}}.Normalize(),
	}
}

// LinkArchive is the persistent form of any link. A and B index the
// connected entities in the owning system: shafts for the shaft couplings,
// bodies for mates.
type LinkArchive struct {
	Type string `yaml:"type"`
	A    int    `yaml:"a"`
	B    int    `yaml:"b"`

	Offset   float64           `yaml:"offset,omitempty"`
	Ratio    float64           `yaml:"ratio,omitempty"`
	Function *function.Archive `yaml:"function,omitempty"`

	Kind        string            `yaml:"kind,omitempty"`
	Mask        DOFMask           `yaml:"mask,flow"`
	FrameA      *TransformArchive `yaml:"frame_a,omitempty"`
	FrameB      *TransformArchive `yaml:"frame_b,omitempty"`
	Distance    float64           `yaml:"distance,omitempty"`
	MotionAxis  int               `yaml:"motion_axis,omitempty"`
	ForceLimits [6]float64        `yaml:"force_limits,flow"`

	BreakForce float64 `yaml:"break_force,omitempty"`
	State      string  `yaml:"state"`
}

// Resolver maps archive indices back to live entities.
type Resolver interface {
	Shaft(i int) (*actor.Shaft, error)
	Body(i int) (*actor.RigidBody, error)
}

// NewLinkFromArchive rebuilds a link and its lifecycle state.
func NewLinkFromArchive(a LinkArchive, r Resolver) (Link, error) {
	var (
		link Link
		base *Base
	)

	switch a.Type {
	case linkMotorAngle, linkGear:
		sa, err := r.Shaft(a.A)
		if err != nil {
			return nil, err
		}
		sb, err := r.Shaft(a.B)
		if err != nil {
			return nil, err
		}
		if a.Type == linkGear {
			g, err := NewShaftsGear(sa, sb, a.Ratio)
			if err != nil {
				return nil, err
			}
			g.phase = a.Offset
			link, base = g, &g.Base
			break
		}
		m, err := NewShaftsMotorAngle(sa, sb)
		if err != nil {
			return nil, err
		}
		m.Offset = a.Offset
		if a.Function != nil {
			if m.Function, err = function.ArchiveIn(*a.Function); err != nil {
				return nil, err
			}
		}
		link, base = m, &m.Base

	case linkMate:
		ba, err := r.Body(a.A)
		if err != nil {
			return nil, err
		}
		bb, err := r.Body(a.B)
		if err != nil {
			return nil, err
		}
		kind, err := ParseMateKind(a.Kind)
		if err != nil {
			return nil, err
		}
		m, err := NewMate(kind, ba, bb, a.FrameA.transform(), a.FrameB.transform())
		if err != nil {
			return nil, err
		}
		if a.Mask != (DOFMask{}) {
			m.SetMask(a.Mask)
		}
		m.Distance = a.Distance
		for dof, limit := range a.ForceLimits {
			m.SetForceLimit(dof, limit)
		}
		if a.Function != nil {
			f, err := function.ArchiveIn(*a.Function)
			if err != nil {
				return nil, err
			}
			m.SetMotion(a.MotionAxis, f)
		}
		link, base = m, &m.Base

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLink, a.Type)
	}

	base.BreakForce = a.BreakForce
	base.state = ParseLinkState(a.State)
	return link, nil
}
