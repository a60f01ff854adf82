package solver

import "math"

// Counts breaks the assembled row count down by origin.
type Counts struct {
	Unilateral int
	Bilateral  int
	Continuum  int
}

func (c Counts) Total() int {
	return c.Unilateral + c.Bilateral + c.Continuum
}

type coneIndex struct {
	cone                     *Cone
	n, u, v, s, rollU, rollV int
}

// Descriptor collects the variables and constraint rows of one time step and
// assembles the complementarity problem
//
//	N*gamma - R ⟂ gamma ∈ K,  N = D*M⁻¹*Dᵀ + E,  R = -b - D*(v + M⁻¹k)
//
// It is rebuilt from scratch every step.
type Descriptor struct {
	mode Mode
	ndof int

	vars      []Variables
	bilateral []*Row
	continuum []*Row
	cones     []*Cone

	rows    []*Row
	coneIdx []coneIndex
	counts  Counts

	dBuilder     SparseBuilder
	dMinvBuilder SparseBuilder
	D            *Sparse
	DMinv        *Sparse

	v, k, vFree []float64
	b, e, r     []float64
	rMasked     []float64
	tmp         []float64

	reserved int
}

func NewDescriptor() *Descriptor {
	return &Descriptor{}
}

// Begin clears the descriptor for a step with ndof velocity unknowns whose
// contacts are assembled for mode.
func (d *Descriptor) Begin(ndof int, mode Mode) {
	d.mode = mode
	d.ndof = ndof
	d.vars = d.vars[:0]
	d.bilateral = d.bilateral[:0]
	d.continuum = d.continuum[:0]
	d.cones = d.cones[:0]
	d.rows = d.rows[:0]
	d.coneIdx = d.coneIdx[:0]
	d.counts = Counts{}
	d.reserved = 0

	d.v = resize(d.v, ndof)
	d.k = resize(d.k, ndof)
	d.vFree = resize(d.vFree, ndof)
	d.tmp = resize(d.tmp, ndof)
	clear(d.v)
	clear(d.k)
}

func (d *Descriptor) Mode() Mode { return d.mode }
func (d *Descriptor) NDOF() int  { return d.ndof }

// Velocity is the global velocity vector. Entities gather into it before the
// solve and read it back afterwards.
func (d *Descriptor) Velocity() []float64 { return d.v }

// Impulse is the external impulse accumulator k = dt*F.
func (d *Descriptor) Impulse() []float64 { return d.k }

func (d *Descriptor) InsertVariables(v Variables) {
	d.vars = append(d.vars, v)
}

// InsertRow adds a link row (bilateral or boxed).
func (d *Descriptor) InsertRow(r *Row) {
	d.bilateral = append(d.bilateral, r)
}

// InsertContinuumRow adds a row contributed by continuum matter.
func (d *Descriptor) InsertContinuumRow(r *Row) {
	d.continuum = append(d.continuum, r)
}

// InsertCone adds the rows of one contact. Rows beyond the descriptor mode
// are ignored.
func (d *Descriptor) InsertCone(c *Cone) {
	if d.mode == ModeBilateral {
		return
	}
	d.cones = append(d.cones, c)
}

// Reserve declares nnz Jacobian entries ahead of assembly.
func (d *Descriptor) Reserve(nnz int) {
	d.reserved += nnz
}

// Rows returns the ordered rows of the last assembly.
func (d *Descriptor) Rows() []*Row { return d.rows }

// Counts returns the row counts of the last assembly.
func (d *Descriptor) Counts() Counts { return d.counts }

// order lays the rows out as: contact normals, contact tangents, contact
// spin and rolling rows, link rows, continuum rows. Rows whose blocks are
// all inactive are dropped.
func (d *Descriptor) order() {
	d.rows = d.rows[:0]
	d.coneIdx = d.coneIdx[:0]
	d.counts = Counts{}

	add := func(r *Row, stage Mode) int {
		if r == nil {
			return -1
		}
		r.stage = stage
		d.rows = append(d.rows, r)
		return len(d.rows) - 1
	}

	for _, c := range d.cones {
		if c.Normal == nil || !c.Normal.IsActive() {
			continue
		}
		d.coneIdx = append(d.coneIdx, coneIndex{cone: c, n: add(c.Normal, ModeNormal), u: -1, v: -1, s: -1, rollU: -1, rollV: -1})
	}
	if d.mode >= ModeSliding {
		for i := range d.coneIdx {
			c := d.coneIdx[i].cone
			d.coneIdx[i].u = add(c.U, ModeSliding)
			d.coneIdx[i].v = add(c.V, ModeSliding)
		}
	}
	if d.mode >= ModeSpinning {
		for i := range d.coneIdx {
			c := d.coneIdx[i].cone
			d.coneIdx[i].s = add(c.Spin, ModeSpinning)
			d.coneIdx[i].rollU = add(c.RollU, ModeSpinning)
			d.coneIdx[i].rollV = add(c.RollV, ModeSpinning)
		}
	}
	d.counts.Unilateral = len(d.rows)

	for _, r := range d.bilateral {
		if r.IsActive() {
			add(r, ModeBilateral)
			d.counts.Bilateral++
		}
	}
	for _, r := range d.continuum {
		if r.IsActive() {
			add(r, ModeBilateral)
			d.counts.Continuum++
		}
	}
}

// NumRows orders the rows and returns how many take part in the solve.
func (d *Descriptor) NumRows() int {
	d.order()
	return len(d.rows)
}

// Assemble builds D, D*M⁻¹, b, E and R. NumRows must have been called.
func (d *Descriptor) Assemble() {
	d.computeFreeVelocity()
	d.computeD()
	d.computeDMinv()
	d.computeE()
	d.computeR()
}

func (d *Descriptor) computeFreeVelocity() {
	copy(d.vFree, d.v)
	for _, vars := range d.vars {
		off, n := vars.Offset(), vars.NDOF()
		vars.MulInvMass(d.tmp[off:off+n], d.k[off:off+n])
		for i := off; i < off+n; i++ {
			d.vFree[i] += d.tmp[i]
		}
	}
}

func (d *Descriptor) nnzHint() int {
	n := 0
	for _, r := range d.rows {
		n += r.nnz()
	}
	return max(n, d.reserved)
}

func (d *Descriptor) computeD() {
	d.dBuilder.Reset(len(d.rows), d.ndof, d.nnzHint())
	for _, r := range d.rows {
		if r.A != nil {
			d.dBuilder.AppendBlock(r.A.Offset(), r.JA)
		}
		if r.B != nil {
			d.dBuilder.AppendBlock(r.B.Offset(), r.JB)
		}
		d.dBuilder.EndRow()
	}
	d.D = d.dBuilder.Build()
}

// computeDMinv stores D*M⁻¹, which is (M⁻¹*Dᵀ)ᵀ since M is symmetric, with
// the sparsity of D.
func (d *Descriptor) computeDMinv() {
	d.dMinvBuilder.Reset(len(d.rows), d.ndof, d.nnzHint())
	var buf [6]float64
	for _, r := range d.rows {
		if r.A != nil {
			n := r.A.NDOF()
			r.A.MulInvMass(buf[:n], r.JA)
			d.dMinvBuilder.AppendBlock(r.A.Offset(), buf[:n])
		}
		if r.B != nil {
			n := r.B.NDOF()
			r.B.MulInvMass(buf[:n], r.JB)
			d.dMinvBuilder.AppendBlock(r.B.Offset(), buf[:n])
		}
		d.dMinvBuilder.EndRow()
	}
	d.DMinv = d.dMinvBuilder.Build()
}

func (d *Descriptor) computeE() {
	d.e = resize(d.e, len(d.rows))
	for i, r := range d.rows {
		d.e[i] = r.Compliance
	}
}

func (d *Descriptor) computeR() {
	m := len(d.rows)
	d.b = resize(d.b, m)
	d.r = resize(d.r, m)
	d.rMasked = resize(d.rMasked, m)

	for i, r := range d.rows {
		d.b[i] = r.Bias
	}
	d.D.MulVec(d.r, d.vFree)
	for i := range d.r {
		d.r[i] = -d.b[i] - d.r[i]
	}
}

// R returns the full right-hand side of the last assembly.
func (d *Descriptor) R() []float64 { return d.r }

// SetR returns the right-hand side masked to the rows active in stage.
func (d *Descriptor) SetR(stage Mode) []float64 {
	for i, r := range d.rows {
		if r.stage <= stage {
			d.rMasked[i] = d.r[i]
		} else {
			d.rMasked[i] = 0
		}
	}
	return d.rMasked
}

// ShurProduct writes (D*M⁻¹*Dᵀ + E)*gamma into dst.
func (d *Descriptor) ShurProduct(dst, gamma []float64) {
	d.DMinv.MulTransVec(d.tmp, gamma)
	d.D.MulVec(dst, d.tmp)
	for i, e := range d.e {
		dst[i] += e * gamma[i]
	}
}

// Gamma returns the warm-start multipliers stored in the rows.
func (d *Descriptor) Gamma() []float64 {
	g := make([]float64, len(d.rows))
	for i, r := range d.rows {
		g[i] = r.Gamma
	}
	return g
}

// StoreGamma writes multipliers back into the rows.
func (d *Descriptor) StoreGamma(gamma []float64) {
	for i, r := range d.rows {
		r.Gamma = gamma[i]
	}
}

// ComputeImpulses updates the velocity vector:
//
//	v = v + M⁻¹k + M⁻¹Dᵀ*gamma
//
// With no rows, or a nil gamma, only the free-flight part is applied.
func (d *Descriptor) ComputeImpulses(gamma []float64) {
	if len(d.rows) == 0 || gamma == nil {
		for _, vars := range d.vars {
			off, n := vars.Offset(), vars.NDOF()
			vars.MulInvMass(d.tmp[off:off+n], d.k[off:off+n])
			for i := off; i < off+n; i++ {
				d.v[i] += d.tmp[i]
			}
		}
		return
	}

	d.DMinv.MulTransVec(d.tmp, gamma)
	for _, vars := range d.vars {
		if !vars.IsActive() {
			continue
		}
		off, n := vars.Offset(), vars.NDOF()
		for i := off; i < off+n; i++ {
			d.v[i] = d.vFree[i] + d.tmp[i]
		}
	}
}

// ConstraintVelocity writes D*v + b into dst, the residual velocity of each
// row after ComputeImpulses.
func (d *Descriptor) ConstraintVelocity(dst []float64) {
	d.D.MulVec(dst, d.v)
	for i := range dst {
		dst[i] += d.b[i]
	}
}

// Projector returns the projection onto the feasible set of stage. Rows
// that belong to later stages are held at zero.
func (d *Descriptor) Projector(stage Mode) Projector {
	return &descriptorProjector{d: d, stage: stage}
}

type descriptorProjector struct {
	d     *Descriptor
	stage Mode
}

func (p *descriptorProjector) Project(gamma []float64) {
	d := p.d
	for i := d.counts.Unilateral; i < len(d.rows); i++ {
		r := d.rows[i]
		gamma[i] = clamp(gamma[i], r.Lo, r.Hi)
	}

	for _, ci := range d.coneIdx {
		if p.stage < ModeNormal {
			zeroRows(gamma, ci.n, ci.u, ci.v, ci.s, ci.rollU, ci.rollV)
			continue
		}

		n := gamma[ci.n]
		if p.stage < ModeSliding || ci.u < 0 {
			gamma[ci.n] = max(n, 0)
			zeroRows(gamma, ci.u, ci.v, ci.s, ci.rollU, ci.rollV)
			continue
		}

		n, gamma[ci.u], gamma[ci.v] = projectCone(n, gamma[ci.u], gamma[ci.v], ci.cone.Friction)
		gamma[ci.n] = n

		if p.stage < ModeSpinning || ci.s < 0 {
			zeroRows(gamma, ci.s, ci.rollU, ci.rollV)
			continue
		}

		spin := ci.cone.SpinningFriction * n
		gamma[ci.s] = clamp(gamma[ci.s], -spin, spin)
		gamma[ci.rollU], gamma[ci.rollV] = projectDisc(gamma[ci.rollU], gamma[ci.rollV], ci.cone.RollingFriction*n)
	}
}

func zeroRows(gamma []float64, idx ...int) {
	for _, i := range idx {
		if i >= 0 {
			gamma[i] = 0
		}
	}
}

// projectCone projects (n, u, v) onto the Coulomb cone |(u, v)| <= mu*n.
func projectCone(n, u, v, mu float64) (float64, float64, float64) {
	if mu <= 0 {
		return max(n, 0), 0, 0
	}
	t := math.Hypot(u, v)
	if t <= mu*n {
		return n, u, v
	}
	if mu*t <= -n {
		return 0, 0, 0
	}
	nProj := (n + mu*t) / (mu*mu + 1)
	s := mu * nProj / t
	return nProj, u * s, v * s
}

// projectDisc scales (u, v) back onto the disc of the given radius.
func projectDisc(u, v, radius float64) (float64, float64) {
	if radius <= 0 {
		return 0, 0
	}
	t := math.Hypot(u, v)
	if t <= radius {
		return u, v
	}
	s := radius / t
	return u * s, v * s
}

func resize(s []float64, n int) []float64 {
	if cap(s) < n {
		return make([]float64, n)
	}
	return s[:n]
}
