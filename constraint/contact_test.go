package constraint

import (
	"math"
	"testing"

	"github.com/akmonengine/linkage/actor"
	"github.com/akmonengine/linkage/solver"
	"github.com/go-gl/mathgl/mgl64"
)

// Helper function to create a static ground box
func createStaticBody(t *testing.T, position mgl64.Vec3) *actor.RigidBody {
	t.Helper()
	rb, err := actor.NewRigidBody(
		actor.Transform{Position: position, Rotation: mgl64.QuatIdent()},
		&actor.Box{HalfExtents: mgl64.Vec3{1, 1, 1}},
		actor.BodyTypeStatic,
		0,
	)
	if err != nil {
		t.Fatal(err)
	}
	return rb
}

func stackedContact(t *testing.T, point mgl64.Vec3, penetration float64) *ContactConstraint {
	t.Helper()
	a := createBody(t, mgl64.Vec3{0, 0, 0})
	b := createBody(t, mgl64.Vec3{0, 0, 1})
	return NewContactConstraint(a, b, mgl64.Vec3{0, 0, 1}, []ContactPoint{{Position: point, Penetration: penetration}})
}

func sliceEqual(a []float64, b ...float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-12 {
			return false
		}
	}
	return true
}

func TestNewContactConstraint_Materials(t *testing.T) {
	a := createBody(t, mgl64.Vec3{})
	b := createBody(t, mgl64.Vec3{0, 0, 1})
	a.Material.Friction, b.Material.Friction = 0.2, 0.8
	a.Material.Compliance, b.Material.Compliance = 1e-7, 3e-7

	c := NewContactConstraint(a, b, mgl64.Vec3{0, 0, 1}, nil)
	if math.Abs(c.Friction-0.4) > 1e-12 {
		t.Errorf("Friction = %v, want 0.4", c.Friction)
	}
	if math.Abs(c.Compliance-4e-7) > 1e-18 {
		t.Errorf("Compliance = %v, want 4e-7", c.Compliance)
	}
	if c.IsActive() {
		t.Error("a manifold without points is inactive")
	}
}

func TestContactConstraint_BuildRows(t *testing.T) {
	c := stackedContact(t, mgl64.Vec3{0.2, 0, 0.5}, 0.01)
	c.Build(solver.ModeSpinning, 10, 0)

	cones := c.Cones()
	if len(cones) != 1 {
		t.Fatalf("expected one cone, got %d", len(cones))
	}
	cone := cones[0]
	if cone.Normal == nil || cone.U == nil || cone.V == nil || cone.Spin == nil || cone.RollU == nil || cone.RollV == nil {
		t.Fatal("spinning mode should fill every row of the cone")
	}

	if !sliceEqual(cone.Normal.JA, 0, 0, -1, 0, 0.2, 0) {
		t.Errorf("normal JA = %v", cone.Normal.JA)
	}
	if !sliceEqual(cone.Normal.JB, 0, 0, 1, 0, -0.2, 0) {
		t.Errorf("normal JB = %v", cone.Normal.JB)
	}
	if math.Abs(cone.Normal.Bias+0.1) > 1e-12 {
		t.Errorf("normal bias = %v, want -0.1", cone.Normal.Bias)
	}
	if cone.Normal.Lo != 0 {
		t.Error("normal row must be unilateral")
	}
	if !sliceEqual(cone.Spin.JA, 0, 0, 0, 0, 0, -1) || !sliceEqual(cone.Spin.JB, 0, 0, 0, 0, 0, 1) {
		t.Errorf("spin rows = %v %v", cone.Spin.JA, cone.Spin.JB)
	}
	if cone.Friction != c.Friction {
		t.Error("cone friction should come from the manifold")
	}
	if n := c.GenerateSparsity(); n != 72 {
		t.Errorf("GenerateSparsity = %d, want 72", n)
	}
}

func TestContactConstraint_BuildModes(t *testing.T) {
	tests := []struct {
		mode  solver.Mode
		cones int
		rows  int
	}{
		{solver.ModeBilateral, 0, 0},
		{solver.ModeNormal, 1, 1},
		{solver.ModeSliding, 1, 3},
		{solver.ModeSpinning, 1, 6},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			c := stackedContact(t, mgl64.Vec3{0, 0, 0.5}, 0)
			c.Build(tt.mode, 10, 0)
			if len(c.Cones()) != tt.cones {
				t.Fatalf("cones = %d, want %d", len(c.Cones()), tt.cones)
			}
			if got := c.GenerateSparsity() / 12; got != tt.rows {
				t.Errorf("rows = %d, want %d", got, tt.rows)
			}
		})
	}
}

func TestContactConstraint_RecoveryClamp(t *testing.T) {
	c := stackedContact(t, mgl64.Vec3{0, 0, 0.5}, 0.1)

	c.Build(solver.ModeNormal, 10, 0.25)
	if bias := c.Cones()[0].Normal.Bias; bias != -0.25 {
		t.Errorf("bias = %v, want the recovery clamp -0.25", bias)
	}

	c.Points[0].Penetration = -0.01
	c.Build(solver.ModeNormal, 10, 0.25)
	if bias := c.Cones()[0].Normal.Bias; math.Abs(bias-0.1) > 1e-12 {
		t.Errorf("separated bias = %v, want 0.1", bias)
	}
}

func TestContactConstraint_StopsFallingBody(t *testing.T) {
	const dt = 0.01
	ground := createStaticBody(t, mgl64.Vec3{0, 0, -1})
	box := createBody(t, mgl64.Vec3{0, 0, 0.5})
	ground.SetOffsets(0, 0)
	box.SetOffsets(7, 6)

	c := NewContactConstraint(ground, box, mgl64.Vec3{0, 0, 1}, []ContactPoint{{Position: mgl64.Vec3{0, 0, 0}}})
	c.Build(solver.ModeNormal, 1/dt, 0)

	d := solver.NewDescriptor()
	d.Begin(12, solver.ModeNormal)
	d.InsertVariables(ground.Variables())
	d.InsertVariables(box.Variables())
	d.Velocity()[8] = -1
	c.InjectCones(d)

	settings := solver.DefaultSettings()
	settings.Mode = solver.ModeNormal
	f, err := solver.NewFrontend(settings)
	if err != nil {
		t.Fatal(err)
	}
	f.Solve(d)
	c.FetchReactions(1 / dt)

	if vz := d.Velocity()[8]; math.Abs(vz) > 1e-6 {
		t.Errorf("box still moves into the ground at %v", vz)
	}
	want := box.Mass() / dt
	if math.Abs(c.NormalForce()-want) > 1e-4*want {
		t.Errorf("NormalForce = %v, want %v", c.NormalForce(), want)
	}
}

func TestContactConstraint_WarmStartAndReactions(t *testing.T) {
	prev := stackedContact(t, mgl64.Vec3{0, 0, 0.5}, 0)
	prev.Build(solver.ModeSliding, 10, 0)
	prev.Cones()[0].Normal.Gamma = 0.5
	prev.Cones()[0].U.Gamma = 0.1

	c := stackedContact(t, mgl64.Vec3{0, 0, 0.5}, 0)
	c.Build(solver.ModeSliding, 10, 0)
	c.WarmStart(prev)
	if c.Cones()[0].Normal.Gamma != 0.5 || c.Cones()[0].U.Gamma != 0.1 {
		t.Error("multipliers not carried over")
	}

	c.FetchReactions(10)
	if math.Abs(c.NormalForce()-5) > 1e-12 {
		t.Errorf("NormalForce = %v, want 5", c.NormalForce())
	}
	u, _ := actor.TangentBasis(c.Normal)
	if !c.FrictionForce().ApproxEqual(u.Mul(1)) {
		t.Errorf("FrictionForce = %v, want %v", c.FrictionForce(), u)
	}
	if c.MaxPenetration() != 0 {
		t.Errorf("MaxPenetration = %v", c.MaxPenetration())
	}
}
