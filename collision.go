package linkage

import (
	"math"

	"github.com/akmonengine/linkage/actor"
	"github.com/akmonengine/linkage/constraint"
	"github.com/akmonengine/linkage/internal/grid"
	"github.com/akmonengine/linkage/internal/pipeline"
	"github.com/go-gl/mathgl/mgl64"
)

const STIFF_COMPLIANCE = CONCRETE_COMPLIANCE

const (
	CONCRETE_COMPLIANCE = 0.04e-9
	WOOD_COMPLIANCE     = 0.16e-9
	LEATHER_COMPLIANCE  = 14e-8
	TENDON_COMPLIANCE   = 0.2e-7
	RUBBER_COMPLIANCE   = 1e-6
	MUSCLE_COMPLIANCE   = 0.2e-3
	FAT_COMPLIANCE      = 1e-3
)

// CollisionSystem finds the contacts between the bodies it tracks. The
// system calls SyncPosition once per step, after the bodies have updated
// their bounds, then reads Contacts.
type CollisionSystem interface {
	Add(body *actor.RigidBody)
	Remove(body *actor.RigidBody)
	Initialize()
	SyncPosition()
	Contacts() []*constraint.ContactConstraint
}

// GridCollision is a uniform grid broad phase followed by analytic narrow
// phase tests for sphere-sphere, sphere-plane and box-plane pairs. Other
// shape pairs never collide.
type GridCollision struct {
	CellSize float64
	NumCells int
	// Margin reports contacts up to this separation, so that the solver
	// sees them one step early.
	Margin  float64
	Workers int

	bodies   []*actor.RigidBody
	grid     *grid.Grid
	previous map[pairKey]*constraint.ContactConstraint
	contacts []*constraint.ContactConstraint
}

func NewGridCollision(cellSize float64, numCells int) *GridCollision {
	return &GridCollision{
		CellSize: cellSize,
		NumCells: numCells,
		Margin:   0.01,
		Workers:  1,
	}
}

func (g *GridCollision) Add(body *actor.RigidBody) {
	g.bodies = append(g.bodies, body)
}

func (g *GridCollision) Remove(body *actor.RigidBody) {
	for i, b := range g.bodies {
		if b == body {
			g.bodies = append(g.bodies[:i], g.bodies[i+1:]...)
			break
		}
	}
	for key := range g.previous {
		if key.bodyA == body || key.bodyB == body {
			delete(g.previous, key)
		}
	}
}

func (g *GridCollision) Initialize() {
	if g.CellSize <= 0 {
		g.CellSize = 1
	}
	g.grid = grid.New(g.CellSize, max(g.NumCells, 2*len(g.bodies), 64))
	g.previous = make(map[pairKey]*constraint.ContactConstraint)
	g.contacts = g.contacts[:0]
}

// SyncPosition rebuilds the broad phase from the current bounds and runs
// the narrow phase on every candidate pair. Manifolds between the same
// two bodies are warm started from the previous step.
func (g *GridCollision) SyncPosition() {
	if g.grid == nil {
		g.Initialize()
	}
	g.grid.Clear()
	for i, body := range g.bodies {
		aabb := body.AABB().Expand(g.Margin)
		g.grid.Insert(i, aabb.Min, aabb.Max)
	}

	pairs := g.grid.Pairs()
	found := make([]*constraint.ContactConstraint, len(pairs))
	pipeline.Range(g.Workers, len(pairs), func(i int) {
		a, b := g.bodies[pairs[i].A], g.bodies[pairs[i].B]
		if !a.IsActive() && !b.IsActive() {
			return
		}
		if !a.AABB().Expand(g.Margin).Overlaps(b.AABB()) {
			return
		}
		found[i] = Collide(a, b, g.Margin)
	})

	current := make(map[pairKey]*constraint.ContactConstraint, len(found))
	g.contacts = g.contacts[:0]
	for _, c := range found {
		if c == nil {
			continue
		}
		key := makePairKey(c.BodyA, c.BodyB)
		c.Previous = g.previous[key]
		current[key] = c
		g.contacts = append(g.contacts, c)
	}
	g.previous = current
}

func (g *GridCollision) Contacts() []*constraint.ContactConstraint {
	return g.contacts
}

// Collide runs the analytic test for the shapes of a and b. The returned
// manifold has its normal pointing from BodyA to BodyB; planes are always
// BodyA. It returns nil when the shapes are further apart than margin or
// the pair is not supported.
func Collide(a, b *actor.RigidBody, margin float64) *constraint.ContactConstraint {
	if _, ok := b.Shape.(*actor.Plane); ok {
		a, b = b, a
	}

	switch sa := a.Shape.(type) {
	case *actor.Plane:
		normal, origin := sa.World(a.Transform)
		switch sb := b.Shape.(type) {
		case *actor.Sphere:
			return collideSpherePlane(a, b, sb, normal, origin, margin)
		case *actor.Box:
			return collideBoxPlane(a, b, sb, normal, origin, margin)
		}
	case *actor.Sphere:
		if sb, ok := b.Shape.(*actor.Sphere); ok {
			return collideSpheres(a, b, sa, sb, margin)
		}
	}
	return nil
}

func collideSpheres(a, b *actor.RigidBody, sa, sb *actor.Sphere, margin float64) *constraint.ContactConstraint {
	d := b.Transform.Position.Sub(a.Transform.Position)
	dist := d.Len()
	penetration := sa.Radius + sb.Radius - dist
	if penetration < -margin {
		return nil
	}

	normal := mgl64.Vec3{0, 0, 1}
	if dist > 1e-12 {
		normal = d.Mul(1 / dist)
	}
	point := a.Transform.Position.Add(normal.Mul(sa.Radius - 0.5*penetration))
	return constraint.NewContactConstraint(a, b, normal, []constraint.ContactPoint{{Position: point, Penetration: penetration}})
}

func collideSpherePlane(plane, sphere *actor.RigidBody, s *actor.Sphere, normal, origin mgl64.Vec3, margin float64) *constraint.ContactConstraint {
	c := sphere.Transform.Position
	dist := c.Sub(origin).Dot(normal)
	penetration := s.Radius - dist
	if penetration < -margin {
		return nil
	}
	point := c.Sub(normal.Mul(0.5 * (s.Radius + dist)))
	return constraint.NewContactConstraint(plane, sphere, normal, []constraint.ContactPoint{{Position: point, Penetration: penetration}})
}

// collideBoxPlane emits one point per corner within margin of the plane.
func collideBoxPlane(plane, box *actor.RigidBody, b *actor.Box, normal, origin mgl64.Vec3, margin float64) *constraint.ContactConstraint {
	var points []constraint.ContactPoint
	for _, corner := range b.Corners() {
		p := box.Transform.PointToWorld(corner)
		depth := -p.Sub(origin).Dot(normal)
		if depth < -margin || math.IsNaN(depth) {
			continue
		}
		points = append(points, constraint.ContactPoint{Position: p.Add(normal.Mul(0.5 * depth)), Penetration: depth})
	}
	if len(points) == 0 {
		return nil
	}
	return constraint.NewContactConstraint(plane, box, normal, points)
}
