package linkage

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/akmonengine/linkage/actor"
	"github.com/akmonengine/linkage/constraint"
	"github.com/akmonengine/linkage/internal/pipeline"
	"github.com/akmonengine/linkage/peridynamics"
	"github.com/akmonengine/linkage/solver"
	"github.com/akmonengine/linkage/state"
	"github.com/charmbracelet/log"
	"github.com/go-gl/mathgl/mgl64"
)

const DEFAULT_WORKERS = 1

// sleepable is the deactivation surface shared by bodies and shafts.
type sleepable interface {
	SleepState() actor.SleepState
	IsSleeping() bool
	Sleep()
	Awake()
}

// System owns the entities of a simulation and advances them with a
// velocity-level time stepping scheme: one complementarity solve per step,
// then an explicit position update with the new velocities.
type System struct {
	Bodies []*actor.RigidBody
	Shafts []*actor.Shaft
	Links  []constraint.Link
	Matter []*peridynamics.Matter

	// Gravity acceleration (m/s², or N/kg)
	Gravity mgl64.Vec3
	Workers int
	Solver  solver.Settings
	// RecoverySpeed caps the speed at which penetrations and link
	// violations are corrected. Zero disables the cap.
	RecoverySpeed float64

	Collision CollisionSystem
	Logger    *log.Logger
	Events    Events

	descriptor *solver.Descriptor
	frontend   *solver.Frontend
	x          state.State
	v          state.StateDelta
	needSetup  bool

	time       float64
	steps      int
	lastReport solver.Report
	contacts   []*constraint.ContactConstraint
	owners     map[solver.Variables]sleepable
}

func NewSystem() *System {
	return &System{
		Gravity:       mgl64.Vec3{0, 0, -9.81},
		Workers:       DEFAULT_WORKERS,
		Solver:        solver.DefaultSettings(),
		RecoverySpeed: 0.6,
		Logger:        log.New(io.Discard),
		Events:        NewEvents(),
		descriptor:    solver.NewDescriptor(),
		needSetup:     true,
	}
}

func (s *System) Time() float64 { return s.time }

// Steps is the number of successful calls to Step.
func (s *System) Steps() int { return s.steps }

// Report is the solver outcome of the last step.
func (s *System) Report() solver.Report { return s.lastReport }

// Contacts are the manifolds of the last step.
func (s *System) Contacts() []*constraint.ContactConstraint { return s.contacts }

// SetCollision replaces the collision system and hands it the current bodies.
func (s *System) SetCollision(c CollisionSystem) {
	s.Collision = c
	if c == nil {
		return
	}
	for _, body := range s.Bodies {
		c.Add(body)
	}
	c.Initialize()
}

// SetSolver changes the solver settings from the next step on.
func (s *System) SetSolver(settings solver.Settings) {
	s.Solver = settings
	s.needSetup = true
}

// AddBody adds a rigid body to the system
func (s *System) AddBody(body *actor.RigidBody) error {
	if body == nil {
		return fmt.Errorf("add body: %w", constraint.ErrNilBody)
	}
	for _, b := range s.Bodies {
		if b == body {
			return fmt.Errorf("add body: %w", ErrDuplicate)
		}
	}
	s.Bodies = append(s.Bodies, body)
	if s.Collision != nil {
		s.Collision.Add(body)
	}
	s.needSetup = true
	return nil
}

// RemoveBody removes a rigid body and every link attached to it.
func (s *System) RemoveBody(body *actor.RigidBody) {
	k := -1
	for i, b := range s.Bodies {
		if b == body {
			k = i
			break
		}
	}
	if k == -1 {
		return
	}
	s.Bodies = append(s.Bodies[:k], s.Bodies[k+1:]...)
	s.removeLinksOf(body.Variables())
	if s.Collision != nil {
		s.Collision.Remove(body)
	}
	s.Events.forget(body)
	s.needSetup = true
}

func (s *System) AddShaft(shaft *actor.Shaft) error {
	if shaft == nil {
		return fmt.Errorf("add shaft: %w", constraint.ErrNilBody)
	}
	for _, sh := range s.Shafts {
		if sh == shaft {
			return fmt.Errorf("add shaft: %w", ErrDuplicate)
		}
	}
	s.Shafts = append(s.Shafts, shaft)
	s.needSetup = true
	return nil
}

// RemoveShaft removes a shaft and every link attached to it.
func (s *System) RemoveShaft(shaft *actor.Shaft) {
	for i, sh := range s.Shafts {
		if sh == shaft {
			s.Shafts = append(s.Shafts[:i], s.Shafts[i+1:]...)
			s.removeLinksOf(shaft.Variables())
			delete(s.Events.shaftSleepStates, shaft)
			s.needSetup = true
			return
		}
	}
}

func (s *System) AddMatter(m *peridynamics.Matter) error {
	if m == nil {
		return fmt.Errorf("add matter: %w", constraint.ErrNilBody)
	}
	for _, o := range s.Matter {
		if o == m {
			return fmt.Errorf("add matter: %w", ErrDuplicate)
		}
	}
	s.Matter = append(s.Matter, m)
	s.needSetup = true
	return nil
}

func (s *System) RemoveMatter(m *peridynamics.Matter) {
	for i, o := range s.Matter {
		if o == m {
			s.Matter = append(s.Matter[:i], s.Matter[i+1:]...)
			s.needSetup = true
			return
		}
	}
}

// AddLink registers a link. Both connected entities must already belong to
// the system.
func (s *System) AddLink(link constraint.Link) error {
	if link == nil {
		return fmt.Errorf("add link: %w", constraint.ErrNilBody)
	}
	for _, l := range s.Links {
		if l == link {
			return fmt.Errorf("add link: %w", ErrDuplicate)
		}
	}
	if err := s.checkLink(link); err != nil {
		return fmt.Errorf("add link: %w", err)
	}
	s.Links = append(s.Links, link)
	s.needSetup = true
	return nil
}

func (s *System) RemoveLink(link constraint.Link) {
	for i, l := range s.Links {
		if l == link {
			s.Links = append(s.Links[:i], s.Links[i+1:]...)
			s.needSetup = true
			return
		}
	}
}

func (s *System) removeLinksOf(v solver.Variables) {
	kept := s.Links[:0]
	for _, l := range s.Links {
		a, b := l.Variables()
		if a == v || b == v {
			continue
		}
		kept = append(kept, l)
	}
	clear(s.Links[len(kept):])
	s.Links = kept
}

func (s *System) checkLink(link constraint.Link) error {
	a, b := link.Variables()
	for _, v := range []solver.Variables{a, b} {
		if v != nil && !s.owns(v) {
			return constraint.ErrForeignVariables
		}
	}
	return nil
}

func (s *System) owns(v solver.Variables) bool {
	for _, b := range s.Bodies {
		if b.Variables() == v {
			return true
		}
	}
	for _, sh := range s.Shafts {
		if sh.Variables() == v {
			return true
		}
	}
	return false
}

// NumCoordsPos is the size of the global position vector.
func (s *System) NumCoordsPos() int {
	n := 0
	for _, b := range s.Bodies {
		n += b.NumCoordsPos()
	}
	for _, sh := range s.Shafts {
		n += sh.NumCoordsPos()
	}
	for _, m := range s.Matter {
		n += m.NumCoordsPos()
	}
	return n
}

// NumCoordsVel is the size of the global velocity vector.
func (s *System) NumCoordsVel() int {
	n := 0
	for _, b := range s.Bodies {
		n += b.NumCoordsVel()
	}
	for _, sh := range s.Shafts {
		n += sh.NumCoordsVel()
	}
	for _, m := range s.Matter {
		n += m.NumCoordsVel()
	}
	return n
}

// Setup assigns the state offsets of every entity, in registration order:
// bodies, then shafts, then matter. It runs automatically on the first Step
// after the content of the system changed.
func (s *System) Setup() error {
	for _, l := range s.Links {
		if err := s.checkLink(l); err != nil {
			return fmt.Errorf("setup: %w: %w", ErrForeignEntity, err)
		}
	}

	frontend, err := solver.NewFrontend(s.Solver)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	s.frontend = frontend
	if s.descriptor == nil {
		s.descriptor = solver.NewDescriptor()
	}
	if s.Logger == nil {
		s.Logger = log.New(io.Discard)
	}
	s.Events.init()

	s.owners = make(map[solver.Variables]sleepable, len(s.Bodies)+len(s.Shafts))
	offX, offW := 0, 0
	for _, b := range s.Bodies {
		b.SetOffsets(offX, offW)
		offX += b.NumCoordsPos()
		offW += b.NumCoordsVel()
		s.owners[b.Variables()] = b
	}
	for _, sh := range s.Shafts {
		sh.SetOffsets(offX, offW)
		offX += sh.NumCoordsPos()
		offW += sh.NumCoordsVel()
		s.owners[sh.Variables()] = sh
	}
	for _, m := range s.Matter {
		m.SetOffsets(offX, offW)
		offX += m.NumCoordsPos()
		offW += m.NumCoordsVel()
	}

	s.x = make(state.State, offX)
	s.v = make(state.StateDelta, offW)

	md := make(state.StateDelta, offW)
	for _, b := range s.Bodies {
		if lost := b.LoadLumpedMass(b.OffsetW(), md, 1); lost > 0 {
			s.Logger.Warn("lumped mass drops products of inertia", "offset", b.OffsetW(), "err", lost)
		}
	}

	if s.Collision != nil {
		s.Collision.Initialize()
	}

	rows := 0
	for _, l := range s.Links {
		rows += l.NumRows()
	}
	for _, m := range s.Matter {
		rows += m.NumRows()
	}
	s.Logger.Debug("setup",
		"coords", offX,
		"dof", offW,
		"bodies", len(s.Bodies),
		"shafts", len(s.Shafts),
		"matter", len(s.Matter),
		"links", len(s.Links),
		"rows", rows,
	)
	s.needSetup = false
	return nil
}

// stale reports whether the offsets must be assigned again: an entity was
// added or removed, or a registered matter changed its node count.
func (s *System) stale() bool {
	return s.needSetup || len(s.x) != s.NumCoordsPos() || len(s.v) != s.NumCoordsVel()
}

func (s *System) workers() int { return max(DEFAULT_WORKERS, s.Workers) }

// Step advances the system by dt.
func (s *System) Step(dt float64) error {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return &StepError{Step: s.steps, Time: s.time, Wrapped: ErrInvalidStep}
	}
	if s.stale() {
		if err := s.Setup(); err != nil {
			return &StepError{Step: s.steps, Time: s.time, Wrapped: err}
		}
	}

	s.update()
	s.detectCollision()
	s.wakeCoupled()

	d := s.descriptor
	s.build(dt)
	s.lastReport = s.frontend.Solve(d)
	if !s.lastReport.Converged() {
		s.Logger.Warn("solver did not converge",
			"step", s.steps,
			"iterations", s.lastReport.Iterations(),
			"residual", s.lastReport.Residual(),
		)
	}

	s.integrate(dt)
	s.fetchReactions(dt)

	s.time += dt
	s.steps++
	s.trySleep(dt)

	s.Events.processSleepEvents(s.Bodies, s.Shafts)
	s.Events.recordContacts(s.contacts)
	s.Events.flush()

	if !s.isFinite() {
		return &StepError{Step: s.steps, Time: s.time, Wrapped: ErrUnstable}
	}
	return nil
}

// update refreshes every entity at the current time, then the loads.
func (s *System) update() {
	pipeline.Task(s.workers(), s.Bodies, func(body *actor.RigidBody) {
		body.Update(s.time)
		body.UpdateForces(s.Gravity)
	})
	for _, sh := range s.Shafts {
		sh.Update(s.time)
	}
	for _, m := range s.Matter {
		m.Update(s.time)
		m.UpdateForces(s.Gravity)
	}
	pipeline.Task(s.workers(), s.Links, func(l constraint.Link) {
		if l.State() == constraint.Enabled {
			l.Update(s.time)
		}
	})
}

func (s *System) detectCollision() {
	s.contacts = s.contacts[:0]
	if s.Collision == nil {
		return
	}
	s.Collision.SyncPosition()
	s.contacts = append(s.contacts, s.Collision.Contacts()...)
}

// wakeCoupled wakes sleeping entities that an enabled link or a contact ties
// to a moving one, until no more entity wakes.
func (s *System) wakeCoupled() {
	moving := func(e sleepable) bool {
		return e != nil && e.SleepState() == actor.Active && !isFixed(e)
	}
	for changed := true; changed; {
		changed = false
		s.forEachEdge(func(a, b sleepable) {
			switch {
			case a != nil && a.IsSleeping() && moving(b):
				a.Awake()
				changed = true
			case b != nil && b.IsSleeping() && moving(a):
				b.Awake()
				changed = true
			}
		})
	}
}

// forEachEdge visits the entity pairs connected by an enabled link or by a
// contact. Either side is nil when it cannot sleep.
func (s *System) forEachEdge(visit func(a, b sleepable)) {
	for _, l := range s.Links {
		if l.State() != constraint.Enabled {
			continue
		}
		va, vb := l.Variables()
		visit(s.owner(va), s.owner(vb))
	}
	for _, c := range s.contacts {
		visit(c.BodyA, c.BodyB)
	}
}

func (s *System) owner(v solver.Variables) sleepable {
	if v == nil {
		return nil
	}
	if e, ok := s.owners[v]; ok {
		return e
	}
	return nil
}

func isFixed(e sleepable) bool {
	switch e := e.(type) {
	case *actor.RigidBody:
		return e.Flags().Fixed
	case *actor.Shaft:
		return e.IsFixed()
	}
	return false
}

// build fills the descriptor for one step: variables, free velocities,
// impulses k = dt*F, then contact, link and anchor rows with the bias
// factor 1/dt.
func (s *System) build(dt float64) {
	d := s.descriptor
	d.Begin(s.NumCoordsVel(), s.frontend.Settings().Mode)

	for _, b := range s.Bodies {
		b.Variables().SetDisabled(!b.IsActive())
		d.InsertVariables(b.Variables())
	}
	for _, sh := range s.Shafts {
		sh.Variables().SetDisabled(!sh.IsActive())
		d.InsertVariables(sh.Variables())
	}
	for _, m := range s.Matter {
		m.InjectVariables(d)
	}

	v, k := state.StateDelta(d.Velocity()), state.StateDelta(d.Impulse())
	s.StateGather(s.x, v)

	pipeline.Task(s.workers(), s.Bodies, func(b *actor.RigidBody) {
		b.LoadResidualF(b.OffsetW(), k, dt)
	})
	for _, sh := range s.Shafts {
		sh.LoadResidualF(sh.OffsetW(), k, dt)
	}
	for _, m := range s.Matter {
		m.LoadResidualF(m.OffsetW(), k, dt)
	}

	factor := 1 / dt
	doClamp := s.RecoverySpeed > 0
	mode := s.frontend.Settings().Mode

	pipeline.Task(s.workers(), s.contacts, func(c *constraint.ContactConstraint) {
		c.Build(mode, factor, s.RecoverySpeed)
	})
	for _, c := range s.contacts {
		d.Reserve(c.GenerateSparsity())
		c.InjectCones(d)
	}

	active := make([]constraint.Link, 0, len(s.Links))
	for _, l := range s.Links {
		if l.IsActive() {
			active = append(active, l)
		}
	}
	pipeline.Task(s.workers(), active, func(l constraint.Link) {
		l.BuildD()
		l.BuildB(factor, s.RecoverySpeed, doClamp)
		l.BuildE()
	})
	for _, l := range active {
		d.Reserve(l.GenerateSparsity())
		l.InjectRows(d)
	}

	for _, m := range s.Matter {
		m.BuildAnchors(factor, s.RecoverySpeed, doClamp)
		d.Reserve(m.GenerateSparsity())
		m.InjectRows(d)
	}
}

// integrate reads the solved velocities back and moves every entity.
func (s *System) integrate(dt float64) {
	v := state.StateDelta(s.descriptor.Velocity())
	pipeline.Task(s.workers(), s.Bodies, func(b *actor.RigidBody) {
		b.VariablesQbSetSpeed(v, dt)
		b.VariablesQbIncrementPosition(dt)
	})
	for _, sh := range s.Shafts {
		sh.VariablesQbSetSpeed(v, dt)
		sh.VariablesQbIncrementPosition(dt)
	}
	for _, m := range s.Matter {
		m.VariablesQbSetSpeed(v, dt)
		m.VariablesQbIncrementPosition(dt)
	}
}

// fetchReactions converts multipliers to forces and checks break limits.
func (s *System) fetchReactions(dt float64) {
	factor := 1 / dt
	for _, l := range s.Links {
		if !l.IsActive() {
			continue
		}
		l.FetchReactions(factor)
		if l.CheckBreak() {
			s.Logger.Info("link broken", "step", s.steps, "time", s.time)
			s.Events.emitLinkBroken(l)
		}
	}
	for _, c := range s.contacts {
		c.FetchReactions(factor)
	}
	for _, m := range s.Matter {
		m.FetchReactions(factor)
	}
}

// trySleep confirms the sleep of the candidates that are not tied to a
// moving entity, directly or through other blocked candidates.
func (s *System) trySleep(dt float64) {
	var candidates []sleepable
	for _, b := range s.Bodies {
		if b.TrySleeping(dt) {
			candidates = append(candidates, b)
		}
	}
	for _, sh := range s.Shafts {
		if sh.TrySleeping(dt) {
			candidates = append(candidates, sh)
		}
	}
	if len(candidates) == 0 {
		return
	}

	blocked := make(map[sleepable]bool, len(candidates))
	isCandidate := make(map[sleepable]bool, len(candidates))
	for _, c := range candidates {
		isCandidate[c] = true
	}
	awake := func(e sleepable) bool {
		if e == nil || isFixed(e) || e.IsSleeping() {
			return false
		}
		return !isCandidate[e] || blocked[e]
	}
	for changed := true; changed; {
		changed = false
		s.forEachEdge(func(a, b sleepable) {
			if isCandidate[a] && !blocked[a] && awake(b) {
				blocked[a] = true
				changed = true
			}
			if isCandidate[b] && !blocked[b] && awake(a) {
				blocked[b] = true
				changed = true
			}
		})
	}

	for _, c := range candidates {
		if blocked[c] {
			continue
		}
		c.Sleep()
		s.Logger.Debug("sleep", "state", c.SleepState(), "time", s.time)
	}
}

// StateGather writes the positions and velocities of every entity into x
// and v, which must be sized NumCoordsPos and NumCoordsVel.
func (s *System) StateGather(x state.State, v state.StateDelta) float64 {
	for _, b := range s.Bodies {
		b.StateGather(b.OffsetX(), x, b.OffsetW(), v)
	}
	for _, sh := range s.Shafts {
		sh.StateGather(sh.OffsetX(), x, sh.OffsetW(), v)
	}
	for _, m := range s.Matter {
		m.StateGather(m.OffsetX(), x, m.OffsetW(), v)
	}
	return s.time
}

// StateScatter is the inverse of StateGather. Dependent quantities are
// recomputed.
func (s *System) StateScatter(x state.State, v state.StateDelta, t float64) {
	for _, b := range s.Bodies {
		b.StateScatter(b.OffsetX(), x, b.OffsetW(), v, t, true)
	}
	for _, sh := range s.Shafts {
		sh.StateScatter(sh.OffsetX(), x, sh.OffsetW(), v, t, true)
	}
	for _, m := range s.Matter {
		m.StateScatter(m.OffsetX(), x, m.OffsetW(), v, t, true)
	}
	s.time = t
}

// State returns a copy of the global state. It requires Setup.
func (s *System) State() (state.State, state.StateDelta, error) {
	if s.stale() {
		return nil, nil, ErrNotSetup
	}
	x := make(state.State, s.NumCoordsPos())
	v := make(state.StateDelta, s.NumCoordsVel())
	s.StateGather(x, v)
	return x, v, nil
}

func (s *System) isFinite() bool {
	s.StateGather(s.x, s.v)
	return s.x.IsValid() && s.v.IsValid()
}

// KineticEnergy sums the kinetic energy of bodies, shafts and matter.
func (s *System) KineticEnergy() float64 {
	e := 0.0
	for _, b := range s.Bodies {
		if !b.Flags().Fixed {
			e += b.KineticEnergy()
		}
	}
	for _, sh := range s.Shafts {
		if !sh.IsFixed() {
			e += sh.KineticEnergy()
		}
	}
	for _, m := range s.Matter {
		e += m.KineticEnergy()
	}
	return e
}

// MaxViolation is the largest absolute violation over enabled links and
// anchors.
func (s *System) MaxViolation() float64 {
	worst := 0.0
	for _, l := range s.Links {
		if l.State() != constraint.Enabled {
			continue
		}
		for _, c := range l.ConstraintViolation() {
			worst = math.Max(worst, math.Abs(c))
		}
	}
	for _, m := range s.Matter {
		for _, a := range m.Anchors() {
			c := a.Violation()
			worst = math.Max(worst, math.Max(math.Abs(c[0]), math.Max(math.Abs(c[1]), math.Abs(c[2]))))
		}
	}
	return worst
}

// SleepingCount is the number of sleeping bodies and shafts.
func (s *System) SleepingCount() int {
	n := 0
	for _, b := range s.Bodies {
		if b.IsSleeping() {
			n++
		}
	}
	for _, sh := range s.Shafts {
		if sh.IsSleeping() {
			n++
		}
	}
	return n
}

// IsUnstable reports whether err is a numerical blow up of Step.
func IsUnstable(err error) bool {
	return errors.Is(err, ErrUnstable)
}
