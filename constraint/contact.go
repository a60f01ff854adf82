package constraint

import (
	"github.com/akmonengine/linkage/actor"
	"github.com/akmonengine/linkage/solver"
	"github.com/go-gl/mathgl/mgl64"
)

type ContactPoint struct {
	Position    mgl64.Vec3
	Penetration float64
}

// ContactConstraint is the manifold between two bodies. Normal points from
// A to B. Each point becomes one friction cone in the descriptor.
type ContactConstraint struct {
	BodyA  *actor.RigidBody
	BodyB  *actor.RigidBody
	Points []ContactPoint
	Normal mgl64.Vec3

	Friction         float64
	SpinningFriction float64
	RollingFriction  float64
	Compliance       float64

	// Previous is the manifold between the same bodies on the last step.
	// Build warm starts from it once, then drops it.
	Previous *ContactConstraint

	cones []*solver.Cone

	normalForce   float64
	frictionForce mgl64.Vec3
}

// NewContactConstraint combines the materials of both bodies.
func NewContactConstraint(a, b *actor.RigidBody, normal mgl64.Vec3, points []ContactPoint) *ContactConstraint {
	return &ContactConstraint{
		BodyA:            a,
		BodyB:            b,
		Points:           points,
		Normal:           normal,
		Friction:         ComputeFriction(a.Material.Friction, b.Material.Friction),
		SpinningFriction: ComputeFriction(a.Material.SpinningFriction, b.Material.SpinningFriction),
		RollingFriction:  ComputeFriction(a.Material.RollingFriction, b.Material.RollingFriction),
		Compliance:       ComputeCompliance(a.Material, b.Material),
	}
}

func (c *ContactConstraint) IsActive() bool {
	return len(c.Points) > 0 && (c.BodyA.IsActive() || c.BodyB.IsActive())
}

// Cones returns the cones of the last Build.
func (c *ContactConstraint) Cones() []*solver.Cone { return c.cones }

// WarmStart copies the multipliers of a previous manifold between the same
// bodies when the point count matches.
func (c *ContactConstraint) WarmStart(prev *ContactConstraint) {
	if prev == nil || len(prev.cones) != len(c.cones) {
		return
	}
	copyGamma := func(dst, src *solver.Row) {
		if dst != nil && src != nil {
			dst.Gamma = src.Gamma
		}
	}
	for i, cone := range c.cones {
		p := prev.cones[i]
		copyGamma(cone.Normal, p.Normal)
		copyGamma(cone.U, p.U)
		copyGamma(cone.V, p.V)
		copyGamma(cone.Spin, p.Spin)
		copyGamma(cone.RollU, p.RollU)
		copyGamma(cone.RollV, p.RollV)
	}
}

// Build writes the rows of every point for mode. The normal bias is
// factor*gap; when recoverySpeed is positive, the separation speed it asks
// for is capped at recoverySpeed.
func (c *ContactConstraint) Build(mode solver.Mode, factor, recoverySpeed float64) {
	c.cones = c.cones[:0]
	if mode == solver.ModeBilateral {
		c.Previous = nil
		return
	}

	va, vb := c.BodyA.Variables(), c.BodyB.Variables()
	ta, tb := c.BodyA.Transform, c.BodyB.Transform
	u, v := actor.TangentBasis(c.Normal)

	for _, p := range c.Points {
		ra := ta.DirToLocal(p.Position.Sub(ta.Position))
		rb := tb.DirToLocal(p.Position.Sub(tb.Position))

		cone := &solver.Cone{
			Friction:         c.Friction,
			SpinningFriction: c.SpinningFriction,
			RollingFriction:  c.RollingFriction,
		}

		cone.Normal = solver.NewUnilateralRow(va, vb)
		c.fillLinear(cone.Normal, c.Normal, ra, rb)
		bias := factor * -p.Penetration
		if recoverySpeed > 0 && bias < -recoverySpeed {
			bias = -recoverySpeed
		}
		cone.Normal.Bias = bias
		cone.Normal.Compliance = c.Compliance

		if mode >= solver.ModeSliding {
			cone.U = solver.NewBilateralRow(va, vb)
			cone.V = solver.NewBilateralRow(va, vb)
			c.fillLinear(cone.U, u, ra, rb)
			c.fillLinear(cone.V, v, ra, rb)
		}
		if mode >= solver.ModeSpinning {
			cone.Spin = solver.NewBilateralRow(va, vb)
			cone.RollU = solver.NewBilateralRow(va, vb)
			cone.RollV = solver.NewBilateralRow(va, vb)
			c.fillAngular(cone.Spin, c.Normal)
			c.fillAngular(cone.RollU, u)
			c.fillAngular(cone.RollV, v)
		}
		c.cones = append(c.cones, cone)
	}
	c.WarmStart(c.Previous)
	c.Previous = nil
}

// fillLinear writes the relative velocity of the contact point along dir.
// ra and rb are the contact arms in body coordinates.
func (c *ContactConstraint) fillLinear(r *solver.Row, dir, ra, rb mgl64.Vec3) {
	angA := ra.Cross(c.BodyA.Transform.DirToLocal(dir))
	angB := rb.Cross(c.BodyB.Transform.DirToLocal(dir))
	setRowSlice(r.JA, dir.Mul(-1), angA.Mul(-1))
	setRowSlice(r.JB, dir, angB)
}

// fillAngular writes the relative angular velocity about dir.
func (c *ContactConstraint) fillAngular(r *solver.Row, dir mgl64.Vec3) {
	setRowSlice(r.JA, mgl64.Vec3{}, c.BodyA.Transform.DirToLocal(dir).Mul(-1))
	setRowSlice(r.JB, mgl64.Vec3{}, c.BodyB.Transform.DirToLocal(dir))
}

func setRowSlice(dst []float64, lin, ang mgl64.Vec3) {
	copy(dst[0:3], lin[:])
	copy(dst[3:6], ang[:])
}

// InjectCones hands the cones to the descriptor.
func (c *ContactConstraint) InjectCones(d *solver.Descriptor) {
	if !c.IsActive() {
		return
	}
	for _, cone := range c.cones {
		d.InsertCone(cone)
	}
}

// GenerateSparsity is the Jacobian nonzero count of the last Build.
func (c *ContactConstraint) GenerateSparsity() int {
	n := 0
	for _, cone := range c.cones {
		for _, r := range []*solver.Row{cone.Normal, cone.U, cone.V, cone.Spin, cone.RollU, cone.RollV} {
			if r != nil {
				n += 12
			}
		}
	}
	return n
}

// FetchReactions sums the cone multipliers into forces applied on B.
func (c *ContactConstraint) FetchReactions(factor float64) {
	u, v := actor.TangentBasis(c.Normal)
	c.normalForce = 0
	c.frictionForce = mgl64.Vec3{}
	for _, cone := range c.cones {
		c.normalForce += cone.Normal.Gamma * factor
		if cone.U != nil {
			c.frictionForce = c.frictionForce.Add(u.Mul(cone.U.Gamma * factor)).Add(v.Mul(cone.V.Gamma * factor))
		}
	}
}

// NormalForce is the total normal reaction of the last solve.
func (c *ContactConstraint) NormalForce() float64 { return c.normalForce }

// FrictionForce is the total tangential reaction on B, in world frame.
func (c *ContactConstraint) FrictionForce() mgl64.Vec3 { return c.frictionForce }

// MaxPenetration is the deepest point of the manifold.
func (c *ContactConstraint) MaxPenetration() float64 {
	depth := 0.0
	for _, p := range c.Points {
		depth = max(depth, p.Penetration)
	}
	return depth
}
