package state

// Integrable is implemented by every entity that owns a block of the global
// state vectors. Offsets are assigned once by the owning system and are
// trusted: writes outside the declared block are programming errors and are
// not checked.
type Integrable interface {
	// NumCoordsPos is the size of the entity's block in x.
	NumCoordsPos() int
	// NumCoordsVel is the size of the entity's block in v and a.
	NumCoordsVel() int

	StateGather(offX int, x State, offV int, v StateDelta) (t float64)
	// StateScatter reads the entity state back from x and v. When fullUpdate
	// is set, dependent quantities (gyroscopic term, stresses, AABBs) are
	// recomputed too.
	StateScatter(offX int, x State, offV int, v StateDelta, t float64, fullUpdate bool)
	StateGatherAcceleration(offA int, a StateDelta)
	StateScatterAcceleration(offA int, a StateDelta)

	// StateIncrement writes x + dv into xNew. Rotations compose on the
	// right, in the body frame.
	StateIncrement(offX int, xNew, x State, offV int, dv StateDelta)
	// StateGetIncrement is the exact inverse of StateIncrement.
	StateGetIncrement(offX int, xNew, x State, offV int, dv StateDelta)
}

// Loadable is implemented by entities that contribute mass and forces to the
// global residual.
type Loadable interface {
	// LoadResidualF adds c*F to r, where F holds applied forces minus
	// gyroscopic terms.
	LoadResidualF(offV int, r StateDelta, c float64)
	// LoadResidualMv adds c*M*w to r.
	LoadResidualMv(offV int, r StateDelta, w StateDelta, c float64)
	// LoadLumpedMass adds c times the diagonal of M to md. The returned
	// value accumulates the magnitude of the discarded off-diagonal terms.
	LoadLumpedMass(offV int, md StateDelta, c float64) (err float64)
}

// Block stores the offsets of an entity inside the global vectors.
type Block struct {
	offsetX int
	offsetW int
}

func (b *Block) SetOffsets(offX, offW int) {
	b.offsetX = offX
	b.offsetW = offW
}

func (b *Block) OffsetX() int { return b.offsetX }
func (b *Block) OffsetW() int { return b.offsetW }
