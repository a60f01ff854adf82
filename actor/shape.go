package actor

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

var ErrUnknownShape = errors.New("actor: unknown shape type")

// planeExtent is the half size used for the unbounded axes of a plane AABB.
const planeExtent = 1e10

// ShapeType represents the type of collision shape
type ShapeType int

const (
	ShapeTypeSphere ShapeType = iota
	ShapeTypeBox
	ShapeTypePlane
)

func (s ShapeType) String() string {
	switch s {
	case ShapeTypeSphere:
		return "sphere"
	case ShapeTypeBox:
		return "box"
	case ShapeTypePlane:
		return "plane"
	default:
		return "unknown"
	}
}

// Shape is the geometry attached to a rigid body. It provides the volume and
// inertia used to derive mass properties, and the bounds used by the
// broadphase.
type Shape interface {
	Type() ShapeType
	ComputeAABB(transform Transform) AABB
	Volume() float64
	// ComputeInertia returns the inertia tensor about the center of mass,
	// in the body frame, for the given mass.
	ComputeInertia(mass float64) mgl64.Mat3
}

// Box represents an oriented box collision shape
// The box is defined by its half-extents (half-width, half-height, half-depth)
type Box struct {
	HalfExtents mgl64.Vec3
}

func (b *Box) Type() ShapeType { return ShapeTypeBox }

// Corners returns the 8 vertices of the box in the body frame.
func (b *Box) Corners() [8]mgl64.Vec3 {
	hx, hy, hz := b.HalfExtents.X(), b.HalfExtents.Y(), b.HalfExtents.Z()
	return [8]mgl64.Vec3{
		{-hx, -hy, -hz},
		{+hx, -hy, -hz},
		{-hx, +hy, -hz},
		{+hx, +hy, -hz},
		{-hx, -hy, +hz},
		{+hx, -hy, +hz},
		{-hx, +hy, +hz},
		{+hx, +hy, +hz},
	}
}

func (b *Box) ComputeAABB(transform Transform) AABB {
	corners := b.Corners()

	min := transform.PointToWorld(corners[0])
	max := min
	for i := 1; i < 8; i++ {
		c := transform.PointToWorld(corners[i])
		for k := 0; k < 3; k++ {
			min[k] = math.Min(min[k], c[k])
			max[k] = math.Max(max[k], c[k])
		}
	}

	return AABB{Min: min, Max: max}
}

func (b *Box) Volume() float64 {
	return 8.0 * b.HalfExtents.X() * b.HalfExtents.Y() * b.HalfExtents.Z()
}

func (b *Box) ComputeInertia(mass float64) mgl64.Mat3 {
	x := b.HalfExtents.X() * 2
	y := b.HalfExtents.Y() * 2
	z := b.HalfExtents.Z() * 2

	// I = (m/12) * (d1² + d2²)
	factor := mass / 12.0
	return mgl64.Diag3(mgl64.Vec3{
		factor * (y*y + z*z),
		factor * (x*x + z*z),
		factor * (x*x + y*y),
	})
}

// Sphere represents a spherical collision shape
type Sphere struct {
	Radius float64
}

func (s *Sphere) Type() ShapeType { return ShapeTypeSphere }

// ComputeAABB calculates the axis-aligned bounding box for the sphere
func (s *Sphere) ComputeAABB(transform Transform) AABB {
	// Sphere AABB is not affected by rotation, only by position
	r := mgl64.Vec3{s.Radius, s.Radius, s.Radius}
	return AABB{
		Min: transform.Position.Sub(r),
		Max: transform.Position.Add(r),
	}
}

func (s *Sphere) Volume() float64 {
	return (4.0 / 3.0) * math.Pi * s.Radius * s.Radius * s.Radius
}

func (s *Sphere) ComputeInertia(mass float64) mgl64.Mat3 {
	i := (2.0 / 5.0) * mass * s.Radius * s.Radius
	return mgl64.Diag3(mgl64.Vec3{i, i, i})
}

// Plane represents an infinite plane collision shape
// The plane is defined in the body frame by: Normal · p + Distance = 0
// Planes have no volume and are only meaningful on fixed bodies.
type Plane struct {
	Normal   mgl64.Vec3 // must be normalized
	Distance float64
}

func (p *Plane) Type() ShapeType { return ShapeTypePlane }

// World returns the plane normal and a point on the plane in world space.
func (p *Plane) World(transform Transform) (normal, point mgl64.Vec3) {
	normal = transform.DirToWorld(p.Normal)
	point = transform.PointToWorld(p.Normal.Mul(-p.Distance))
	return normal, point
}

func (p *Plane) ComputeAABB(transform Transform) AABB {
	const thickness = 1.0

	normal, point := p.World(transform)
	min := point.Sub(normal.Mul(thickness))
	max := point
	for k := 0; k < 3; k++ {
		if min[k] > max[k] {
			min[k], max[k] = max[k], min[k]
		}
		// only an axis aligned normal bounds its own axis
		if math.Abs(normal[k]) < 1.0 {
			min[k] = -planeExtent
			max[k] = planeExtent
		}
	}

	return AABB{Min: min, Max: max}
}

func (p *Plane) Volume() float64 { return 0 }

func (p *Plane) ComputeInertia(float64) mgl64.Mat3 {
	return mgl64.Ident3()
}

// TangentBasis returns two unit vectors completing normal into a right
// handed orthonormal basis.
func TangentBasis(normal mgl64.Vec3) (mgl64.Vec3, mgl64.Vec3) {
	var tangent1 mgl64.Vec3
	if math.Abs(normal.X()) > 0.9 {
		tangent1 = mgl64.Vec3{0, 1, 0}
	} else {
		tangent1 = mgl64.Vec3{1, 0, 0}
	}

	tangent1 = tangent1.Sub(normal.Mul(tangent1.Dot(normal))).Normalize()
	tangent2 := normal.Cross(tangent1).Normalize()

	return tangent1, tangent2
}

// ShapeArchive is the persistent form of a Shape.
type ShapeArchive struct {
	Type        string     `yaml:"type"`
	HalfExtents mgl64.Vec3 `yaml:"half_extents,omitempty,flow"`
	Radius      float64    `yaml:"radius,omitempty"`
	Normal      mgl64.Vec3 `yaml:"normal,omitempty,flow"`
	Distance    float64    `yaml:"distance,omitempty"`
}

func ArchiveShape(s Shape) (ShapeArchive, error) {
	switch sh := s.(type) {
	case *Box:
		return ShapeArchive{Type: "box", HalfExtents: sh.HalfExtents}, nil
	case *Sphere:
		return ShapeArchive{Type: "sphere", Radius: sh.Radius}, nil
	case *Plane:
		return ShapeArchive{Type: "plane", Normal: sh.Normal, Distance: sh.Distance}, nil
	case nil:
		return ShapeArchive{}, nil
	default:
		return ShapeArchive{}, fmt.Errorf("%w: %T", ErrUnknownShape, s)
	}
}

// Shape rebuilds the archived shape. An empty archive yields nil.
func (a ShapeArchive) Shape() (Shape, error) {
	switch a.Type {
	case "box":
		return &Box{HalfExtents: a.HalfExtents}, nil
	case "sphere":
		return &Sphere{Radius: a.Radius}, nil
	case "plane":
		return &Plane{Normal: a.Normal, Distance: a.Distance}, nil
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownShape, a.Type)
	}
}
