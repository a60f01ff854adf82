package peridynamics

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/akmonengine/linkage/solver"
	"github.com/go-gl/mathgl/mgl64"
)

// Helper function to create a 3x3x3 lattice of spacing 0.1
func createBlock(t *testing.T) *Matter {
	t.Helper()
	m := NewMatter(DefaultVonMises(), 0)
	if err := FillBox(m, BoxFill{Size: mgl64.Vec3{0.3, 0.3, 0.3}, Spacing: 0.1}); err != nil {
		t.Fatal(err)
	}
	return m
}

func deform(m *Matter, fn func(p mgl64.Vec3) mgl64.Vec3) {
	for _, n := range m.Nodes() {
		n.Pos = fn(n.PosRef)
	}
}

func matApprox(a, b mgl64.Mat3, tol float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

// ===== FillBox Tests =====

func TestFillBox_Lattice(t *testing.T) {
	m := createBlock(t)

	if m.NumNodes() != 27 {
		t.Fatalf("expected 27 nodes, got %d", m.NumNodes())
	}
	if math.Abs(m.Horizon-0.16) > 1e-12 {
		t.Errorf("Horizon = %v, want 0.16", m.Horizon)
	}
	// 54 face neighbours and 72 face diagonals, no body diagonal
	if len(m.Bonds()) != 126 {
		t.Errorf("expected 126 bonds, got %d", len(m.Bonds()))
	}
	for i, n := range m.Nodes() {
		if want := i != 13; n.Boundary != want {
			t.Errorf("node %d: Boundary = %v, want %v", i, n.Boundary, want)
		}
	}
}

func TestFillBox_MassConservation(t *testing.T) {
	tests := []struct {
		name string
		fill BoxFill
	}{
		{"cube", BoxFill{Size: mgl64.Vec3{0.3, 0.3, 0.3}, Spacing: 0.1}},
		{"slab", BoxFill{Size: mgl64.Vec3{0.7, 0.2, 0.13}, Spacing: 0.05}},
		{"centered", BoxFill{Size: mgl64.Vec3{0.4, 0.3, 0.3}, Spacing: 0.1, Centered: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatter(DefaultVonMises(), 0)
			m.Material.Density = 2700
			if err := FillBox(m, tt.fill); err != nil {
				t.Fatal(err)
			}
			want := m.Material.Density * tt.fill.Size[0] * tt.fill.Size[1] * tt.fill.Size[2]
			if got := m.TotalMass(); got != want {
				t.Errorf("TotalMass = %v, want exactly %v", got, want)
			}
		})
	}
}

func TestFillBox_Options(t *testing.T) {
	centered := NewMatter(DefaultVonMises(), 0)
	if err := FillBox(centered, BoxFill{Size: mgl64.Vec3{0.3, 0.3, 0.3}, Spacing: 0.1, Centered: true}); err != nil {
		t.Fatal(err)
	}
	if centered.NumNodes() != 35 {
		t.Errorf("centered lattice has %d nodes, want 35", centered.NumNodes())
	}

	fill := BoxFill{Size: mgl64.Vec3{0.3, 0.3, 0.3}, Spacing: 0.1, Jitter: 0.1, Seed: 7}
	a, b := NewMatter(DefaultVonMises(), 0), NewMatter(DefaultVonMises(), 0)
	if err := FillBox(a, fill); err != nil {
		t.Fatal(err)
	}
	if err := FillBox(b, fill); err != nil {
		t.Fatal(err)
	}
	lattice := createBlock(t)
	moved := false
	for i := range a.Nodes() {
		if a.Node(i).Pos != b.Node(i).Pos {
			t.Fatalf("node %d differs between two fills with the same seed", i)
		}
		if a.Node(i).Pos != lattice.Node(i).Pos {
			moved = true
		}
		if d := a.Node(i).Pos.Sub(a.Node(i).X0); d.Len() != 0 {
			t.Errorf("node %d: X0 should be the jittered position", i)
		}
	}
	if !moved {
		t.Error("jitter did not move any node")
	}
}

func TestFillBox_InvalidSpacing(t *testing.T) {
	tests := []struct {
		name    string
		spacing float64
	}{
		{"zero", 0},
		{"negative", -0.1},
		{"larger than box", 0.5},
		{"infinite", math.Inf(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatter(DefaultVonMises(), 0)
			err := FillBox(m, BoxFill{Size: mgl64.Vec3{0.3, 0.3, 0.3}, Spacing: tt.spacing})
			if !errors.Is(err, ErrInvalidSpacing) {
				t.Errorf("expected ErrInvalidSpacing, got %v", err)
			}
			if m.NumNodes() != 0 {
				t.Error("a rejected fill must not add nodes")
			}
		})
	}
}

// ===== Bond Tests =====

func TestAddBond_Errors(t *testing.T) {
	m := NewMatter(DefaultVonMises(), 1)
	for i := 0; i < 3; i++ {
		if _, err := m.AddNode(mgl64.Vec3{float64(i), 0, 0}, 1); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := m.AddNode(mgl64.Vec3{}, 0); !errors.Is(err, ErrInvalidMass) {
		t.Errorf("expected ErrInvalidMass, got %v", err)
	}

	if err := m.AddBond(2, 0); err != nil {
		t.Fatal(err)
	}
	if b := m.Bonds()[0]; b.A != 0 || b.B != 2 {
		t.Errorf("bond stored as (%d, %d), want (0, 2)", b.A, b.B)
	}
	if err := m.AddBond(0, 2); !errors.Is(err, ErrDuplicateBond) {
		t.Errorf("expected ErrDuplicateBond, got %v", err)
	}
	if err := m.AddBond(1, 1); !errors.Is(err, ErrNodeIndex) {
		t.Errorf("expected ErrNodeIndex for a self bond, got %v", err)
	}
	if err := m.AddBond(0, 3); !errors.Is(err, ErrNodeIndex) {
		t.Errorf("expected ErrNodeIndex, got %v", err)
	}
	if _, err := m.Anchor(-1); !errors.Is(err, ErrNodeIndex) {
		t.Errorf("expected ErrNodeIndex, got %v", err)
	}
}

// ===== Correspondence Tests =====

func TestCorrespondence_RigidTranslation(t *testing.T) {
	m := createBlock(t)
	deform(m, func(p mgl64.Vec3) mgl64.Vec3 { return p.Add(mgl64.Vec3{0.01, -0.02, 0.005}) })
	m.ComputeForces()

	for i, n := range m.Nodes() {
		if !n.IsElastic() {
			t.Fatalf("node %d should have an invertible shape tensor", i)
		}
		if f := n.InternalForce(); f.Len() > 1e-6 {
			t.Errorf("node %d: internal force %v under a rigid translation", i, f)
		}
	}
}

func TestCorrespondence_UniaxialStretch(t *testing.T) {
	const e = 0.01
	m := createBlock(t)
	deform(m, func(p mgl64.Vec3) mgl64.Vec3 { return mgl64.Vec3{p[0] * (1 + e), p[1], p[2]} })
	m.ComputeForces()

	want := mgl64.Diag3(mgl64.Vec3{1 + e, 1, 1})
	for i, n := range m.Nodes() {
		if !matApprox(n.DeformationGradient(), want, 1e-9) {
			t.Errorf("node %d: F = %v, want %v", i, n.DeformationGradient(), want)
		}
	}

	center := m.Node(13)
	exx := 0.5 * ((1+e)*(1+e) - 1)
	if math.Abs(center.TStrain.At(0, 0)-exx) > 1e-9 {
		t.Errorf("strain xx = %v, want %v", center.TStrain.At(0, 0), exx)
	}
	lambda, mu := m.Material.Lame()
	if sxx := center.Stress.At(0, 0); math.Abs(sxx-(lambda+2*mu)*exx) > 1e-3 {
		t.Errorf("stress xx = %v, want %v", sxx, (lambda+2*mu)*exx)
	}
	if center.Volume() <= 0 || center.Density() <= 0 {
		t.Error("density and volume should be positive")
	}

	// the interior node sits in a symmetric neighbourhood
	if f := center.InternalForce(); f.Len() > 1e-6*m.Material.YoungModulus {
		t.Errorf("interior node not in equilibrium: %v", f)
	}
	// the faces normal to x are pulled inwards
	if f := m.Node(0).InternalForce(); f[0] <= 0 {
		t.Errorf("left face pulled outwards: %v", f)
	}
	if f := m.Node(26).InternalForce(); f[0] >= 0 {
		t.Errorf("right face pulled outwards: %v", f)
	}
}

func TestCorrespondence_BondTensor(t *testing.T) {
	m := createBlock(t)
	deform(m, func(p mgl64.Vec3) mgl64.Vec3 { return mgl64.Vec3{p[0] * 1.01, p[1], p[2] * 0.99} })
	m.ComputeForces()

	// each node carries 2·V·F·σ·A⁻¹, half of every bond it belongs to
	for i, n := range m.Nodes() {
		want := n.DeformationGradient().Mul3(n.Stress).Mul3(n.amoment).Mul(2 * n.Volume())
		if !matApprox(n.fa, want, 1e-9) {
			t.Errorf("node %d: bond tensor %v, want %v", i, n.fa, want)
		}
	}
}

func TestCorrespondence_OrderIndependence(t *testing.T) {
	ref := createBlock(t)

	shuffled := NewMatter(DefaultVonMises(), ref.Horizon)
	shuffled.Workers = 4
	for _, n := range ref.Nodes() {
		if _, err := shuffled.AddNode(n.Pos, n.Mass()); err != nil {
			t.Fatal(err)
		}
	}
	bonds := append([]Bond(nil), ref.Bonds()...)
	rng := rand.New(rand.NewPCG(1, 2))
	rng.Shuffle(len(bonds), func(i, j int) { bonds[i], bonds[j] = bonds[j], bonds[i] })
	for i, b := range bonds {
		a, c := b.A, b.B
		if i%2 == 0 {
			a, c = c, a
		}
		if err := shuffled.AddBond(a, c); err != nil {
			t.Fatal(err)
		}
	}

	shear := func(p mgl64.Vec3) mgl64.Vec3 {
		return mgl64.Vec3{p[0] + 0.02*p[1], p[1] - 0.01*p[2]*p[2], p[2] + 0.03*p[0]*p[1]}
	}
	deform(ref, shear)
	deform(shuffled, shear)
	ref.ComputeForces()
	shuffled.ComputeForces()

	for i := range ref.Nodes() {
		if a, b := ref.Node(i).InternalForce(), shuffled.Node(i).InternalForce(); a != b {
			t.Errorf("node %d: %v != %v", i, a, b)
		}
	}
}

func TestCorrespondence_SingularNode(t *testing.T) {
	m := NewMatter(DefaultVonMises(), 0.5)
	m.AddNode(mgl64.Vec3{0, 0, 0}, 1)
	m.AddNode(mgl64.Vec3{0.2, 0, 0}, 1)
	if err := m.AddBond(0, 1); err != nil {
		t.Fatal(err)
	}
	m.Node(0).EStrain = mgl64.Diag3(mgl64.Vec3{0.01, 0.01, 0.01})
	m.Node(1).Pos = mgl64.Vec3{0.25, 0, 0}

	m.ComputeForces()
	for i, n := range m.Nodes() {
		if n.IsElastic() {
			t.Errorf("node %d: a single bond cannot span a shape tensor", i)
		}
		if n.EStrain != (mgl64.Mat3{}) {
			t.Errorf("node %d: elastic strain should be dropped", i)
		}
		if n.InternalForce() != (mgl64.Vec3{}) {
			t.Errorf("node %d: inactive nodes exert no force", i)
		}
	}
}

func TestCorrespondence_Viscosity(t *testing.T) {
	m := NewMatter(DefaultVonMises(), 0.5)
	m.Viscosity = 2
	m.AddNode(mgl64.Vec3{0, 0, 0}, 1)
	m.AddNode(mgl64.Vec3{0.2, 0, 0}, 1)
	m.AddBond(0, 1)
	m.Node(1).Vel = mgl64.Vec3{1, 0, 0}

	m.ComputeForces()
	fa, fb := m.Node(0).InternalForce(), m.Node(1).InternalForce()
	if fa[0] <= 0 || fb[0] >= 0 {
		t.Errorf("viscosity should damp the separation: %v %v", fa, fb)
	}
	if fa.Add(fb).Len() != 0 {
		t.Errorf("bond forces must balance: %v %v", fa, fb)
	}
}

// ===== Plasticity Tests =====

func TestVonMises_ReturnMapping(t *testing.T) {
	mat := DefaultVonMises()

	inside := mgl64.Diag3(mgl64.Vec3{0.01, 0, 0})
	if flow := mat.ReturnMapping(inside, mgl64.Mat3{}); flow != (mgl64.Mat3{}) {
		t.Errorf("no flow expected inside the yield surface, got %v", flow)
	}

	trial := mgl64.Diag3(mgl64.Vec3{0.2, 0, 0})
	if vm := EquivalentVonMises(trial); math.Abs(vm-0.2) > 1e-12 {
		t.Fatalf("EquivalentVonMises = %v, want 0.2", vm)
	}
	flow := mat.ReturnMapping(trial, mgl64.Mat3{})
	if vm := EquivalentVonMises(trial.Sub(flow)); math.Abs(vm-mat.ElasticYield) > 1e-12 {
		t.Errorf("returned strain has von Mises %v, want %v", vm, mat.ElasticYield)
	}
	if tr := flow.Trace(); math.Abs(tr) > 1e-15 {
		t.Errorf("plastic flow must be isochoric, trace %v", tr)
	}
}

func TestIncrementPosition_PlasticFlow(t *testing.T) {
	tests := []struct {
		name   string
		dt     float64
		factor float64
	}{
		{"partial relaxation", 0.5, 0.5},
		{"clamped to full relaxation", 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatter(DefaultVonMises(), 1)
			n, _ := m.AddNode(mgl64.Vec3{1, 2, 3}, 1)
			n.Vel = mgl64.Vec3{1, 0, -1}
			n.TStrain = mgl64.Diag3(mgl64.Vec3{0.2, 0, 0})
			flow := m.Material.ReturnMapping(n.TStrain, mgl64.Mat3{})

			m.VariablesQbIncrementPosition(tt.dt)

			if !matApprox(n.PStrain, flow.Mul(tt.factor), 1e-15) {
				t.Errorf("PStrain = %v, want %v", n.PStrain, flow.Mul(tt.factor))
			}
			wantE := mgl64.Diag3(mgl64.Vec3{0.2, 0, 0}).Sub(flow.Mul(tt.factor))
			if !matApprox(n.EStrain, wantE, 1e-15) {
				t.Errorf("EStrain = %v, want %v", n.EStrain, wantE)
			}
			if n.TStrain != (mgl64.Mat3{}) {
				t.Error("strain increment should be committed")
			}
			if n.PosRef != (mgl64.Vec3{1, 2, 3}) {
				t.Errorf("PosRef = %v", n.PosRef)
			}
			if want := (mgl64.Vec3{1 + tt.dt, 2, 3 - tt.dt}); !n.Pos.ApproxEqual(want) {
				t.Errorf("Pos = %v, want %v", n.Pos, want)
			}
		})
	}
}

// ===== BulkElastic Tests =====

func TestBulkElastic_StretchAndBreak(t *testing.T) {
	m := NewMatter(DefaultVonMises(), 1.5)
	m.Model = DefaultBulkElastic()
	m.AddNode(mgl64.Vec3{0, 0, 0}, 1)
	m.AddNode(mgl64.Vec3{1, 0, 0}, 1)
	m.AddBond(0, 1)

	m.Node(1).Pos = mgl64.Vec3{1.05, 0, 0}
	m.ComputeForces()
	if s := m.Bonds()[0].Stretch(); math.Abs(s-0.05) > 1e-12 {
		t.Errorf("stretch = %v, want 0.05", s)
	}
	fa, fb := m.Node(0).InternalForce(), m.Node(1).InternalForce()
	if fa[0] <= 0 || fb[0] >= 0 {
		t.Errorf("a stretched bond should pull the nodes together: %v %v", fa, fb)
	}
	if !fa.Add(fb).ApproxEqual(mgl64.Vec3{}) {
		t.Errorf("equal masses should get opposite forces: %v %v", fa, fb)
	}

	m.Node(1).Pos = mgl64.Vec3{1.1, 0, 0}
	m.ComputeForces()
	if !m.Bonds()[0].Broken {
		t.Fatal("a bond stretched past MaxStretch should break")
	}
	if !m.Node(0).Boundary || !m.Node(1).Boundary {
		t.Error("nodes of a broken bond become boundary nodes")
	}
	if m.Node(0).InternalForce() != (mgl64.Vec3{}) {
		t.Error("a broken bond carries no force")
	}

	m.Node(1).Pos = mgl64.Vec3{1, 0, 0}
	m.ComputeForces()
	if !m.Bonds()[0].Broken {
		t.Error("breaking is permanent")
	}
}

func TestBulkElastic_Stiffness(t *testing.T) {
	b := BulkElastic{K: 100}
	if k := b.Stiffness(1); math.Abs(k-1800/math.Pi) > 1e-9 {
		t.Errorf("Stiffness(1) = %v, want %v", k, 1800/math.Pi)
	}
}

// ===== Anchor and protocol Tests =====

func TestAnchor_HoldsNode(t *testing.T) {
	const dt = 0.01
	m := NewMatter(DefaultVonMises(), 1)
	m.AddNode(mgl64.Vec3{}, 2)
	m.SetOffsets(0, 0)
	a, err := m.Anchor(0)
	if err != nil {
		t.Fatal(err)
	}

	m.Node(0).Pos = mgl64.Vec3{0.1, 0, 0}
	m.BuildAnchors(10, 0.5, true)
	if r := a.rows[0]; r.Bias != 0.5 {
		t.Errorf("clamped bias = %v, want 0.5", r.Bias)
	}
	m.BuildAnchors(10, 0, false)
	if r := a.rows[0]; math.Abs(r.Bias-1) > 1e-12 {
		t.Errorf("bias = %v, want 1", r.Bias)
	}

	m.Node(0).Pos = mgl64.Vec3{}
	m.BuildAnchors(1/dt, 0, false)

	d := solver.NewDescriptor()
	d.Begin(3, solver.ModeBilateral)
	m.InjectVariables(d)
	m.InjectRows(d)
	d.Velocity()[0] = 3

	settings := solver.DefaultSettings()
	settings.Type = solver.Direct
	f, err := solver.NewFrontend(settings)
	if err != nil {
		t.Fatal(err)
	}
	f.Solve(d)
	m.FetchReactions(1 / dt)

	if d.Counts().Continuum != m.NumRows() {
		t.Errorf("continuum rows = %d, want %d", d.Counts().Continuum, m.NumRows())
	}
	if v := d.Velocity()[0]; math.Abs(v) > 1e-9 {
		t.Errorf("anchored node still moves at %v", v)
	}
	if want := -3 * 2 / dt; math.Abs(a.Reaction()[0]-want) > 1e-6 {
		t.Errorf("Reaction = %v, want %v", a.Reaction()[0], want)
	}
}

func TestMatter_StateRoundTrip(t *testing.T) {
	m := createBlock(t)
	m.SetOffsets(7, 6)
	for i, n := range m.Nodes() {
		n.Vel = mgl64.Vec3{float64(i), 1, 0}
		if n.Variables().Offset() != 6+3*i {
			t.Fatalf("node %d at offset %d", i, n.Variables().Offset())
		}
	}

	nx := 7 + m.NumCoordsPos()
	x := make([]float64, nx)
	v := make([]float64, 6+m.NumCoordsVel())
	m.StateGather(7, x, 6, v)

	dv := make([]float64, len(v))
	for i := range dv {
		dv[i] = 0.001 * float64(i)
	}
	xNew := make([]float64, nx)
	m.StateIncrement(7, xNew, x, 6, dv)
	back := make([]float64, len(v))
	m.StateGetIncrement(7, xNew, x, 6, back)
	for i := 6; i < len(back); i++ {
		if math.Abs(back[i]-dv[i]) > 1e-15 {
			t.Fatalf("increment %d: %v != %v", i, back[i], dv[i])
		}
	}

	md := make([]float64, len(v))
	if lossy := m.LoadLumpedMass(6, md, 1); lossy != 0 {
		t.Errorf("point masses lump exactly, got %v", lossy)
	}
	if md[6] != m.Node(0).Mass() {
		t.Errorf("lumped mass = %v", md[6])
	}
}

func TestMatter_LoadResidualGravity(t *testing.T) {
	m := NewMatter(DefaultVonMises(), 0.5)
	m.AddNode(mgl64.Vec3{}, 3)
	m.Node(0).Force = mgl64.Vec3{1, 0, 0}
	m.UpdateForces(mgl64.Vec3{0, 0, -10})

	r := make([]float64, 3)
	m.LoadResidualF(0, r, 0.5)
	if r[0] != 0.5 || r[2] != -15 {
		t.Errorf("residual = %v, want [0.5 0 -15]", r)
	}
}

func TestMatter_Archive(t *testing.T) {
	m := createBlock(t)
	m.Model = DefaultBulkElastic()
	m.Node(3).PStrain = mgl64.Diag3(mgl64.Vec3{0.01, 0, 0})
	if _, err := m.Anchor(4); err != nil {
		t.Fatal(err)
	}

	back, err := NewMatterFromArchive(m.ArchiveOut())
	if err != nil {
		t.Fatal(err)
	}
	if back.NumNodes() != m.NumNodes() || len(back.Bonds()) != len(m.Bonds()) || len(back.Anchors()) != 1 {
		t.Fatalf("restored %d nodes, %d bonds, %d anchors", back.NumNodes(), len(back.Bonds()), len(back.Anchors()))
	}
	if back.TotalMass() != m.TotalMass() {
		t.Errorf("TotalMass = %v, want %v", back.TotalMass(), m.TotalMass())
	}
	if _, ok := back.Model.(BulkElastic); !ok {
		t.Errorf("model = %v, want bulk_elastic", back.Model.Name())
	}
	if back.Node(3).PStrain != m.Node(3).PStrain {
		t.Error("plastic strain lost")
	}

	bad := m.ArchiveOut()
	bad.Model = "sph"
	if _, err := NewMatterFromArchive(bad); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("expected ErrUnknownModel, got %v", err)
	}
}
