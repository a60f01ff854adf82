package linkage

import (
	"fmt"
	"io"

	"github.com/akmonengine/linkage/actor"
	"github.com/akmonengine/linkage/constraint"
	"github.com/akmonengine/linkage/peridynamics"
	"github.com/akmonengine/linkage/solver"
	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"
)

// SolverArchive is the persistent form of solver.Settings.
type SolverArchive struct {
	Type          string            `yaml:"type"`
	Mode          string            `yaml:"mode"`
	MaxIterations solver.Iterations `yaml:"max_iterations"`
	Tolerance     float64           `yaml:"tolerance"`
}

// SystemArchive is the YAML document written by System.ArchiveOut. Links
// refer to bodies and shafts by their index in the system.
type SystemArchive struct {
	Time          float64                      `yaml:"time"`
	Gravity       mgl64.Vec3                   `yaml:"gravity,flow"`
	Workers       int                          `yaml:"workers"`
	RecoverySpeed float64                      `yaml:"recovery_speed"`
	Solver        SolverArchive                `yaml:"solver"`
	Bodies        []actor.RigidBodyArchive     `yaml:"bodies,omitempty"`
	Shafts        []actor.ShaftArchive         `yaml:"shafts,omitempty"`
	Links         []constraint.LinkArchive     `yaml:"links,omitempty"`
	Matter        []peridynamics.MatterArchive `yaml:"matter,omitempty"`
}

// Archive captures the whole system.
func (s *System) Archive() (SystemArchive, error) {
	a := SystemArchive{
		Time:          s.time,
		Gravity:       s.Gravity,
		Workers:       s.Workers,
		RecoverySpeed: s.RecoverySpeed,
		Solver: SolverArchive{
			Type:          s.Solver.Type.String(),
			Mode:          s.Solver.Mode.String(),
			MaxIterations: s.Solver.MaxIterations,
			Tolerance:     s.Solver.Tolerance,
		},
	}

	index := make(map[solver.Variables]int, len(s.Bodies)+len(s.Shafts))
	for i, b := range s.Bodies {
		ba, err := b.ArchiveOut()
		if err != nil {
			return SystemArchive{}, fmt.Errorf("archive body %d: %w", i, err)
		}
		a.Bodies = append(a.Bodies, ba)
		index[b.Variables()] = i
	}
	for i, sh := range s.Shafts {
		a.Shafts = append(a.Shafts, sh.ArchiveOut())
		index[sh.Variables()] = i
	}
	for i, l := range s.Links {
		la, err := l.ArchiveOut()
		if err != nil {
			return SystemArchive{}, fmt.Errorf("archive link %d: %w", i, err)
		}
		va, vb := l.Variables()
		ia, okA := index[va]
		ib, okB := index[vb]
		if !okA || !okB {
			return SystemArchive{}, fmt.Errorf("archive link %d: %w", i, ErrForeignEntity)
		}
		la.A, la.B = ia, ib
		a.Links = append(a.Links, la)
	}
	for _, m := range s.Matter {
		a.Matter = append(a.Matter, m.ArchiveOut())
	}
	return a, nil
}

// ArchiveOut writes the system as YAML.
func (s *System) ArchiveOut(w io.Writer) error {
	a, err := s.Archive()
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(a); err != nil {
		return fmt.Errorf("encode system: %w", err)
	}
	return enc.Close()
}

// ArchiveIn replaces the content of s with the YAML document read from r.
// Listeners and the collision system are kept; the collision system is
// handed the new bodies.
func (s *System) ArchiveIn(r io.Reader) error {
	var a SystemArchive
	if err := yaml.NewDecoder(r).Decode(&a); err != nil {
		return fmt.Errorf("decode system: %w", err)
	}
	return s.Restore(a)
}

// Restore rebuilds every entity from a.
func (s *System) Restore(a SystemArchive) error {
	settings := solver.DefaultSettings()
	if a.Solver.Type != "" {
		t, err := solver.ParseType(a.Solver.Type)
		if err != nil {
			return err
		}
		settings.Type = t
	}
	if a.Solver.Mode != "" {
		m, err := solver.ParseMode(a.Solver.Mode)
		if err != nil {
			return err
		}
		settings.Mode = m
	}
	if a.Solver.MaxIterations != (solver.Iterations{}) {
		settings.MaxIterations = a.Solver.MaxIterations
	}
	if a.Solver.Tolerance > 0 {
		settings.Tolerance = a.Solver.Tolerance
	}

	res := &resolver{}
	for i, ba := range a.Bodies {
		b, err := actor.NewRigidBodyFromArchive(ba)
		if err != nil {
			return fmt.Errorf("restore body %d: %w", i, err)
		}
		res.bodies = append(res.bodies, b)
	}
	for i, sa := range a.Shafts {
		sh, err := actor.NewShaft(1)
		if err == nil {
			err = sh.ArchiveIn(sa)
		}
		if err != nil {
			return fmt.Errorf("restore shaft %d: %w", i, err)
		}
		res.shafts = append(res.shafts, sh)
	}
	var links []constraint.Link
	for i, la := range a.Links {
		l, err := constraint.NewLinkFromArchive(la, res)
		if err != nil {
			return fmt.Errorf("restore link %d: %w", i, err)
		}
		links = append(links, l)
	}
	var matter []*peridynamics.Matter
	for i, ma := range a.Matter {
		m, err := peridynamics.NewMatterFromArchive(ma)
		if err != nil {
			return fmt.Errorf("restore matter %d: %w", i, err)
		}
		matter = append(matter, m)
	}

	if s.Collision != nil {
		for _, b := range s.Bodies {
			s.Collision.Remove(b)
		}
	}
	events := s.Events
	events.init()
	for body := range events.sleepStates {
		events.forget(body)
	}
	clear(events.shaftSleepStates)

	s.Bodies = res.bodies
	s.Shafts = res.shafts
	s.Links = links
	s.Matter = matter
	s.Gravity = a.Gravity
	s.Workers = max(a.Workers, DEFAULT_WORKERS)
	s.RecoverySpeed = a.RecoverySpeed
	s.Solver = settings
	s.Events = events
	s.time = a.Time
	s.steps = 0
	s.contacts = nil
	s.needSetup = true

	if s.Collision != nil {
		for _, b := range s.Bodies {
			s.Collision.Add(b)
		}
	}
	for _, m := range s.Matter {
		m.Update(s.time)
	}
	return s.Setup()
}

// NewSystemFromArchive reads a YAML document into a new system.
func NewSystemFromArchive(r io.Reader) (*System, error) {
	s := NewSystem()
	if err := s.ArchiveIn(r); err != nil {
		return nil, err
	}
	return s, nil
}

type resolver struct {
	bodies []*actor.RigidBody
	shafts []*actor.Shaft
}

func (r *resolver) Body(i int) (*actor.RigidBody, error) {
	if i < 0 || i >= len(r.bodies) {
		return nil, fmt.Errorf("body %d: %w", i, ErrForeignEntity)
	}
	return r.bodies[i], nil
}

func (r *resolver) Shaft(i int) (*actor.Shaft, error) {
	if i < 0 || i >= len(r.shafts) {
		return nil, fmt.Errorf("shaft %d: %w", i, ErrForeignEntity)
	}
	return r.shafts[i], nil
}
