package peridynamics

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/akmonengine/linkage/internal/grid"
	"github.com/akmonengine/linkage/internal/pipeline"
	"github.com/akmonengine/linkage/state"
	"github.com/go-gl/mathgl/mgl64"
)

var (
	ErrInvalidSpacing = errors.New("peridynamics: spacing must be positive and smaller than the box")
	ErrNodeIndex      = errors.New("peridynamics: node index out of range")
	ErrDuplicateBond  = errors.New("peridynamics: bond already exists")
	ErrInvalidMass    = errors.New("peridynamics: node mass must be positive")
)

// singularDet is the shape tensor determinant below which a node loses its
// elastic response for the step.
const singularDet = 3e-5

// Bond joins two nodes within the horizon. A < B.
type Bond struct {
	A, B   int
	Broken bool

	stretch float64
	rate    float64
	dir     mgl64.Vec3
}

func (b *Bond) other(i int) int {
	if b.A == i {
		return b.B
	}
	return b.A
}

// Matter is a cloud of peridynamic nodes. It is a single entity of the
// state vectors, three position and three velocity coordinates per node.
type Matter struct {
	state.Block

	Material VonMises
	Model    ForceModel
	// Horizon is the bond cutoff radius.
	Horizon float64
	// Viscosity damps the relative velocity across bonds.
	Viscosity float64
	// Workers is the number of goroutines used by the node phases.
	Workers int

	nodes   []*Node
	bonds   []Bond
	bondSet map[[2]int]struct{}
	anchors []*Anchor

	gravity mgl64.Vec3
	time    float64
}

func NewMatter(material VonMises, horizon float64) *Matter {
	return &Matter{
		Material: material,
		Model:    Correspondence{},
		Horizon:  horizon,
		Workers:  1,
		bondSet:  make(map[[2]int]struct{}),
	}
}

func (m *Matter) NumNodes() int    { return len(m.nodes) }
func (m *Matter) Node(i int) *Node { return m.nodes[i] }
func (m *Matter) Nodes() []*Node   { return m.nodes }
func (m *Matter) Bonds() []Bond    { return m.bonds }
func (m *Matter) Anchors() []*Anchor {
	return m.anchors
}
func (m *Matter) Time() float64 { return m.time }

// AddNode appends a node at rest at pos.
func (m *Matter) AddNode(pos mgl64.Vec3, mass float64) (*Node, error) {
	if !(mass > 0) || math.IsInf(mass, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMass, mass)
	}
	n := newNode(len(m.nodes), pos, mass)
	n.variables.SetOffset(m.OffsetW() + 3*n.index)
	m.nodes = append(m.nodes, n)
	return n, nil
}

// AddBond joins nodes a and b. Bond lists stay sorted by neighbour index,
// so the force sums do not depend on the order bonds are added in.
func (m *Matter) AddBond(a, b int) error {
	if a < 0 || b < 0 || a >= len(m.nodes) || b >= len(m.nodes) || a == b {
		return fmt.Errorf("%w: bond (%d, %d)", ErrNodeIndex, a, b)
	}
	if a > b {
		a, b = b, a
	}
	if m.bondSet == nil {
		m.bondSet = make(map[[2]int]struct{})
	}
	key := [2]int{a, b}
	if _, ok := m.bondSet[key]; ok {
		return fmt.Errorf("%w: (%d, %d)", ErrDuplicateBond, a, b)
	}
	m.bondSet[key] = struct{}{}

	idx := len(m.bonds)
	m.bonds = append(m.bonds, Bond{A: a, B: b})
	m.insertBond(m.nodes[a], idx)
	m.insertBond(m.nodes[b], idx)
	return nil
}

func (m *Matter) insertBond(n *Node, idx int) {
	other := m.bonds[idx].other(n.index)
	pos := sort.Search(len(n.bonds), func(k int) bool {
		return m.bonds[n.bonds[k]].other(n.index) > other
	})
	n.bonds = append(n.bonds, 0)
	copy(n.bonds[pos+1:], n.bonds[pos:])
	n.bonds[pos] = idx
}

// SetupBonds bonds every pair of nodes closer than the horizon.
func (m *Matter) SetupBonds() error {
	if !(m.Horizon > 0) {
		return fmt.Errorf("%w: horizon %v", ErrInvalidSpacing, m.Horizon)
	}

	g := grid.New(m.Horizon, 2*len(m.nodes))
	for i, n := range m.nodes {
		g.Insert(i, n.PosRef, n.PosRef)
	}

	h2 := m.Horizon * m.Horizon
	ext := mgl64.Vec3{m.Horizon, m.Horizon, m.Horizon}
	for i, n := range m.nodes {
		var err error
		g.Query(n.PosRef.Sub(ext), n.PosRef.Add(ext), func(j int) {
			if j <= i || err != nil {
				return
			}
			if _, ok := m.bondSet[[2]int{i, j}]; ok {
				return
			}
			if m.nodes[j].PosRef.Sub(n.PosRef).LenSqr() < h2 {
				err = m.AddBond(i, j)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Anchor pins node i to its current position with three bilateral rows.
func (m *Matter) Anchor(i int) (*Anchor, error) {
	if i < 0 || i >= len(m.nodes) {
		return nil, fmt.Errorf("%w: %d", ErrNodeIndex, i)
	}
	a := newAnchor(m.nodes[i])
	m.anchors = append(m.anchors, a)
	return a, nil
}

// TotalMass sums the node masses in index order.
func (m *Matter) TotalMass() float64 {
	total := 0.0
	for _, n := range m.nodes {
		total += n.mass
	}
	return total
}

func (m *Matter) KineticEnergy() float64 {
	e := 0.0
	for _, n := range m.nodes {
		e += 0.5 * n.mass * n.Vel.LenSqr()
	}
	return e
}

func (m *Matter) SetOffsets(offX, offW int) {
	m.Block.SetOffsets(offX, offW)
	m.refreshOffsets()
}

func (m *Matter) refreshOffsets() {
	for i, n := range m.nodes {
		n.variables.SetOffset(m.OffsetW() + 3*i)
	}
}

func (m *Matter) Update(t float64) {
	m.time = t
}

// UpdateForces sets the gravity used by the next force evaluation.
func (m *Matter) UpdateForces(gravity mgl64.Vec3) {
	m.gravity = gravity
}

// ComputeForces runs the force model over all nodes and bonds.
func (m *Matter) ComputeForces() {
	model := m.Model
	if model == nil {
		model = Correspondence{}
	}
	model.computeForces(m)
}

func (m *Matter) workers() int { return max(m.Workers, 1) }

// resetAndAccumulate runs the first two phases shared by the force models:
// reset the nodes, then gather density, shape tensor and displacement
// moment from the bonds of each node.
func (m *Matter) resetAndAccumulate() {
	pipeline.Task(m.workers(), m.nodes, func(n *Node) { n.reset() })

	h2 := m.Horizon * m.Horizon
	pipeline.Task(m.workers(), m.nodes, func(n *Node) {
		n.density = n.mass * poly6(0, h2)
		uI := n.Pos.Sub(n.PosRef)
		for _, bi := range n.bonds {
			b := &m.bonds[bi]
			if b.Broken {
				continue
			}
			o := m.nodes[b.other(n.index)]
			d := o.PosRef.Sub(n.PosRef)
			w := poly6(d.LenSqr(), h2)
			g := o.Pos.Sub(o.PosRef).Sub(uI)

			n.density += o.mass * w
			n.amoment = n.amoment.Add(d.OuterProd3(d).Mul(w))
			n.gmoment = n.gmoment.Add(g.OuterProd3(d).Mul(w))
		}
	})
}

func (m *Matter) updateVolumes() {
	pipeline.Task(m.workers(), m.nodes, func(n *Node) {
		if n.density > 0 {
			n.volume = n.mass / n.density
		} else {
			n.volume = 0
		}
	})
}

func (m *Matter) nodeLoad(n *Node) mgl64.Vec3 {
	return n.internal.Add(n.Force).Add(m.gravity.Mul(n.mass))
}

// ===== state vector protocol =====

func (m *Matter) NumCoordsPos() int { return 3 * len(m.nodes) }
func (m *Matter) NumCoordsVel() int { return 3 * len(m.nodes) }

func (m *Matter) StateGather(offX int, x state.State, offV int, v state.StateDelta) float64 {
	for i, n := range m.nodes {
		x.SetVec3(offX+3*i, n.Pos)
		v.SetVec3(offV+3*i, n.Vel)
	}
	return m.time
}

func (m *Matter) StateScatter(offX int, x state.State, offV int, v state.StateDelta, t float64, fullUpdate bool) {
	for i, n := range m.nodes {
		n.Pos = x.Vec3(offX + 3*i)
		n.Vel = v.Vec3(offV + 3*i)
	}
	m.time = t
	if fullUpdate {
		m.Update(t)
	}
}

func (m *Matter) StateGatherAcceleration(offA int, a state.StateDelta) {
	for i, n := range m.nodes {
		a.SetVec3(offA+3*i, n.Acc)
	}
}

func (m *Matter) StateScatterAcceleration(offA int, a state.StateDelta) {
	for i, n := range m.nodes {
		n.Acc = a.Vec3(offA + 3*i)
	}
}

func (m *Matter) StateIncrement(offX int, xNew, x state.State, offV int, dv state.StateDelta) {
	for i := range m.nodes {
		xNew.SetVec3(offX+3*i, x.Vec3(offX+3*i).Add(dv.Vec3(offV+3*i)))
	}
}

func (m *Matter) StateGetIncrement(offX int, xNew, x state.State, offV int, dv state.StateDelta) {
	for i := range m.nodes {
		dv.SetVec3(offV+3*i, xNew.Vec3(offX+3*i).Sub(x.Vec3(offX+3*i)))
	}
}

// LoadResidualF evaluates the bond forces, then adds c*(bond force + user
// force + gravity) for every node.
func (m *Matter) LoadResidualF(offV int, r state.StateDelta, c float64) {
	m.ComputeForces()
	for i, n := range m.nodes {
		r.AddVec3(offV+3*i, m.nodeLoad(n).Mul(c))
	}
}

func (m *Matter) LoadResidualMv(offV int, r state.StateDelta, w state.StateDelta, c float64) {
	for i, n := range m.nodes {
		r.AddVec3(offV+3*i, w.Vec3(offV+3*i).Mul(c*n.mass))
	}
}

func (m *Matter) LoadLumpedMass(offV int, md state.StateDelta, c float64) float64 {
	for i, n := range m.nodes {
		md.AddVec3(offV+3*i, mgl64.Vec3{c * n.mass, c * n.mass, c * n.mass})
	}
	return 0
}

func (m *Matter) VariablesQbSetSpeed(v state.StateDelta, dt float64) {
	for i, n := range m.nodes {
		old := n.Vel
		n.Vel = v.Vec3(m.OffsetW() + 3*i)
		if dt > 0 {
			n.Acc = n.Vel.Sub(old).Mul(1 / dt)
		}
	}
}

// VariablesQbIncrementPosition advances plastic flow, commits the strain
// increment and moves the nodes. The flow advanced in one step is capped
// at one full relaxation.
func (m *Matter) VariablesQbIncrementPosition(dt float64) {
	factor := math.Min(dt*m.Material.FlowRate, 1)
	pipeline.Task(m.workers(), m.nodes, func(n *Node) {
		flow := m.Material.ReturnMapping(n.TStrain, n.EStrain).Mul(factor)
		n.PStrain = n.PStrain.Add(flow)
		n.EStrain = n.EStrain.Add(n.TStrain).Sub(flow)
		n.TStrain = mgl64.Mat3{}

		n.PosRef = n.Pos
		n.Pos = n.Pos.Add(n.Vel.Mul(dt))
	})
}
