package peridynamics

import (
	"math"

	"github.com/akmonengine/linkage/internal/pipeline"
	"github.com/go-gl/mathgl/mgl64"
)

// ForceModel computes the internal bond forces of a Matter.
type ForceModel interface {
	Name() string
	computeForces(m *Matter)
}

// Correspondence is the state based elasto-plastic model: every node
// reconstructs a deformation gradient from its bonds, the material turns it
// into a stress, and the stress is mapped back to bond forces.
type Correspondence struct{}

func (Correspondence) Name() string { return "correspondence" }

func (Correspondence) computeForces(m *Matter) {
	m.resetAndAccumulate()
	m.updateVolumes()

	pipeline.Task(m.workers(), m.nodes, func(n *Node) {
		if math.Abs(n.amoment.Det()) < singularDet {
			n.amoment = mgl64.Mat3{}
			n.EStrain = mgl64.Mat3{}
			return
		}
		ainv := n.amoment.Inv()
		n.amoment = ainv
		n.elastic = true

		f := mgl64.Ident3().Add(n.gmoment.Mul3(ainv))
		n.defGrad = f
		tstrain := f.Transpose().Mul3(f).Sub(mgl64.Ident3()).Mul(0.5)
		n.TStrain = tstrain

		flow := m.Material.ReturnMapping(tstrain, n.EStrain)
		n.Stress = m.Material.ElasticStress(n.EStrain.Add(tstrain).Sub(flow))
		n.fa = f.Mul3(n.Stress).Mul3(ainv).Mul(2 * n.volume)
	})

	h2 := m.Horizon * m.Horizon
	pipeline.Task(m.workers(), m.nodes, func(n *Node) {
		var sum mgl64.Vec3
		for _, bi := range n.bonds {
			b := &m.bonds[bi]
			if b.Broken {
				continue
			}
			f := m.bondForce(b, h2)
			if b.A == n.index {
				sum = sum.Add(f)
			} else {
				sum = sum.Sub(f)
			}
		}
		n.internal = sum
	})
}

// bondForce is the force on b.A; b.B receives its opposite.
func (m *Matter) bondForce(b *Bond, h2 float64) mgl64.Vec3 {
	lo, hi := m.nodes[b.A], m.nodes[b.B]
	d := hi.PosRef.Sub(lo.PosRef)
	w := poly6(d.LenSqr(), h2)

	f := lo.fa.Add(hi.fa).Mul3x1(d).Mul(w)
	if m.Viscosity != 0 {
		f = f.Add(hi.Vel.Sub(lo.Vel).Mul(m.Viscosity * w))
	}
	return f
}

// BulkElastic is the bond based model: every bond is a spring-dashpot on
// the stretch relative to the undeformed length, and breaks past
// MaxStretch.
type BulkElastic struct {
	// K is the bulk modulus, R the damping of the stretch rate.
	K          float64 `yaml:"k"`
	R          float64 `yaml:"r"`
	MaxStretch float64 `yaml:"max_stretch"`
}

func DefaultBulkElastic() BulkElastic {
	return BulkElastic{K: 100, R: 10, MaxStretch: 0.08}
}

func (BulkElastic) Name() string { return "bulk_elastic" }

// Stiffness is the micromodulus 18k/(πh⁴) of a horizon h.
func (e BulkElastic) Stiffness(horizon float64) float64 {
	return 18 * e.K / (math.Pi * math.Pow(horizon, 4))
}

func (e BulkElastic) computeForces(m *Matter) {
	m.resetAndAccumulate()
	m.updateVolumes()

	pipeline.Range(m.workers(), len(m.bonds), func(i int) {
		b := &m.bonds[i]
		if b.Broken {
			return
		}
		a, c := m.nodes[b.A], m.nodes[b.B]
		d := c.Pos.Sub(a.Pos)
		l := d.Len()
		l0 := c.X0.Sub(a.X0).Len()
		if l == 0 || l0 == 0 {
			b.stretch, b.dir = 0, mgl64.Vec3{}
			return
		}
		b.dir = d.Mul(1 / l)
		b.stretch = (l - l0) / l0
		b.rate = c.Vel.Sub(a.Vel).Dot(b.dir) / l0
	})

	for i := range m.bonds {
		b := &m.bonds[i]
		if !b.Broken && e.MaxStretch > 0 && b.stretch > e.MaxStretch {
			b.Broken = true
			m.nodes[b.A].Boundary = true
			m.nodes[b.B].Boundary = true
		}
	}

	k := e.Stiffness(m.Horizon)
	pipeline.Task(m.workers(), m.nodes, func(n *Node) {
		var sum mgl64.Vec3
		for _, bi := range n.bonds {
			b := &m.bonds[bi]
			if b.Broken {
				continue
			}
			fv := 0.5*k*b.stretch + 0.5*e.R*b.rate
			if b.A == n.index {
				sum = sum.Add(b.dir.Mul(fv * m.nodes[b.B].volume))
			} else {
				sum = sum.Sub(b.dir.Mul(fv * m.nodes[b.A].volume))
			}
		}
		n.internal = sum
	})
}

// Stretch is the relative elongation of the bond from the last evaluation.
func (b *Bond) Stretch() float64 { return b.stretch }
