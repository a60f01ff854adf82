package peridynamics

import (
	"github.com/akmonengine/linkage/solver"
	"github.com/go-gl/mathgl/mgl64"
)

// Node is a point of peridynamic matter. Its volume is not set directly:
// it follows from the density accumulated over its bonds at every force
// evaluation.
type Node struct {
	Pos mgl64.Vec3
	Vel mgl64.Vec3
	Acc mgl64.Vec3
	// PosRef is the position at the start of the step; strain increments are
	// measured from it.
	PosRef mgl64.Vec3
	// X0 is the undeformed position, used by BulkElastic bonds.
	X0 mgl64.Vec3
	// Force is a user applied force, kept until changed.
	Force mgl64.Vec3
	// Boundary marks nodes on a free surface, or next to a broken bond.
	Boundary bool

	// TStrain is the strain increment of the current step, EStrain and
	// PStrain the accumulated elastic and plastic strains.
	TStrain, EStrain, PStrain mgl64.Mat3
	Stress                    mgl64.Mat3

	index   int
	mass    float64
	density float64
	volume  float64

	amoment mgl64.Mat3 // Σ W d dᵀ, then its inverse
	gmoment mgl64.Mat3 // Σ W g dᵀ
	defGrad mgl64.Mat3
	fa      mgl64.Mat3 // V F σ A⁻¹
	elastic bool

	internal mgl64.Vec3
	bonds    []int

	variables solver.NodeVariables
}

func newNode(index int, pos mgl64.Vec3, mass float64) *Node {
	n := &Node{
		Pos:    pos,
		PosRef: pos,
		X0:     pos,
		index:  index,
	}
	n.setMass(mass)
	return n
}

func (n *Node) setMass(m float64) {
	n.mass = m
	n.variables.SetMass(m)
}

func (n *Node) Index() int       { return n.index }
func (n *Node) Mass() float64    { return n.mass }
func (n *Node) Density() float64 { return n.density }
func (n *Node) Volume() float64  { return n.volume }

// IsElastic reports whether the shape tensor could be inverted during the
// last force evaluation.
func (n *Node) IsElastic() bool { return n.elastic }

// DeformationGradient is the step deformation gradient of the last force
// evaluation.
func (n *Node) DeformationGradient() mgl64.Mat3 { return n.defGrad }

// InternalForce is the bond force of the last evaluation, without gravity
// and user force.
func (n *Node) InternalForce() mgl64.Vec3 { return n.internal }

func (n *Node) Variables() *solver.NodeVariables { return &n.variables }

func (n *Node) reset() {
	n.amoment = mgl64.Mat3{}
	n.gmoment = mgl64.Mat3{}
	n.defGrad = mgl64.Ident3()
	n.fa = mgl64.Mat3{}
	n.TStrain = mgl64.Mat3{}
	n.Stress = mgl64.Mat3{}
	n.internal = mgl64.Vec3{}
	n.density = 0
	n.elastic = false
}
