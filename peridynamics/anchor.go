package peridynamics

import (
	"math"

	"github.com/akmonengine/linkage/solver"
	"github.com/go-gl/mathgl/mgl64"
)

// Anchor holds one node on a fixed target point.
type Anchor struct {
	Target mgl64.Vec3

	node     *Node
	rows     [3]*solver.Row
	reaction mgl64.Vec3
}

func newAnchor(n *Node) *Anchor {
	a := &Anchor{Target: n.Pos, node: n}
	for k := range a.rows {
		r := solver.NewBilateralRow(&n.variables, nil)
		r.JA[k] = 1
		a.rows[k] = r
	}
	return a
}

func (a *Anchor) Node() *Node { return a.node }

// Violation is the distance from the node to its target, per axis.
func (a *Anchor) Violation() mgl64.Vec3 {
	return a.node.Pos.Sub(a.Target)
}

// Reaction is the force holding the node, from the last solve.
func (a *Anchor) Reaction() mgl64.Vec3 { return a.reaction }

func (a *Anchor) build(factor, recoveryClamp float64, doClamp bool) {
	c := a.Violation()
	for k, r := range a.rows {
		bias := factor * c[k]
		if doClamp {
			bias = math.Max(-recoveryClamp, math.Min(recoveryClamp, bias))
		}
		r.Bias = bias
	}
}

// BuildAnchors refreshes the anchor rows: bias factor*(pos - target),
// clamped to ±recoveryClamp when doClamp is set.
func (m *Matter) BuildAnchors(factor, recoveryClamp float64, doClamp bool) {
	for _, a := range m.anchors {
		a.build(factor, recoveryClamp, doClamp)
	}
}

// InjectVariables hands every node block to the descriptor.
func (m *Matter) InjectVariables(d *solver.Descriptor) {
	for _, n := range m.nodes {
		d.InsertVariables(&n.variables)
	}
}

// InjectRows adds the anchor rows as continuum rows.
func (m *Matter) InjectRows(d *solver.Descriptor) {
	for _, a := range m.anchors {
		for _, r := range a.rows {
			d.InsertContinuumRow(r)
		}
	}
}

// NumRows is the number of constraint rows contributed by the anchors.
func (m *Matter) NumRows() int { return 3 * len(m.anchors) }

// GenerateSparsity counts the Jacobian entries of the anchor rows.
func (m *Matter) GenerateSparsity() int { return 9 * len(m.anchors) }

// FetchReactions converts the anchor multipliers into forces.
func (m *Matter) FetchReactions(factor float64) {
	for _, a := range m.anchors {
		for k, r := range a.rows {
			a.reaction[k] = r.Gamma * factor
		}
	}
}
