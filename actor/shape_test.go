package actor

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

// =============================================================================
// Shape Tests
// =============================================================================

func TestShapeVolumeAndInertia(t *testing.T) {
	tests := []struct {
		name    string
		shape   Shape
		volume  float64
		inertia mgl64.Vec3 // for a unit mass
	}{
		{
			name:    "unit cube",
			shape:   &Box{HalfExtents: mgl64.Vec3{0.5, 0.5, 0.5}},
			volume:  1,
			inertia: mgl64.Vec3{1.0 / 6, 1.0 / 6, 1.0 / 6},
		},
		{
			name:    "flat box",
			shape:   &Box{HalfExtents: mgl64.Vec3{1, 0.5, 0.25}},
			volume:  1,
			inertia: mgl64.Vec3{(1 + 0.25) / 12, (4 + 0.25) / 12, (4 + 1) / 12},
		},
		{
			name:    "unit sphere",
			shape:   &Sphere{Radius: 1},
			volume:  4.0 / 3.0 * math.Pi,
			inertia: mgl64.Vec3{0.4, 0.4, 0.4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if v := tt.shape.Volume(); math.Abs(v-tt.volume) > 1e-12 {
				t.Errorf("Volume() = %v, want %v", v, tt.volume)
			}
			diag := tt.shape.ComputeInertia(1).Diag()
			if !diag.ApproxEqualThreshold(tt.inertia, 1e-12) {
				t.Errorf("ComputeInertia() diagonal = %v, want %v", diag, tt.inertia)
			}
		})
	}
}

func TestBoxComputeAABB_Rotated(t *testing.T) {
	box := &Box{HalfExtents: mgl64.Vec3{1, 0.5, 0.5}}
	transform := Transform{
		Position: mgl64.Vec3{0, 0, 2},
		Rotation: mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 0, 1}),
	}

	aabb := box.ComputeAABB(transform)
	want := AABB{Min: mgl64.Vec3{-0.5, -1, 1.5}, Max: mgl64.Vec3{0.5, 1, 2.5}}
	if !aabb.Min.ApproxEqualThreshold(want.Min, 1e-12) || !aabb.Max.ApproxEqualThreshold(want.Max, 1e-12) {
		t.Errorf("ComputeAABB() = %v, want %v", aabb, want)
	}
}

func TestPlaneWorld(t *testing.T) {
	plane := &Plane{Normal: mgl64.Vec3{0, 0, 1}, Distance: -1}
	transform := Transform{
		Position: mgl64.Vec3{0, 0, 2},
		Rotation: mgl64.QuatRotate(math.Pi, mgl64.Vec3{1, 0, 0}),
	}

	normal, point := plane.World(transform)
	if !normal.ApproxEqualThreshold(mgl64.Vec3{0, 0, -1}, 1e-12) {
		t.Errorf("normal = %v, want (0, 0, -1)", normal)
	}
	if !point.ApproxEqualThreshold(mgl64.Vec3{0, 0, 1}, 1e-12) {
		t.Errorf("point = %v, want (0, 0, 1)", point)
	}
}

func TestTangentBasis(t *testing.T) {
	normals := []mgl64.Vec3{
		{0, 0, 1},
		{1, 0, 0},
		mgl64.Vec3{1, 2, 3}.Normalize(),
	}

	for _, n := range normals {
		t1, t2 := TangentBasis(n)
		if math.Abs(t1.Dot(n)) > 1e-12 || math.Abs(t2.Dot(n)) > 1e-12 || math.Abs(t1.Dot(t2)) > 1e-12 {
			t.Errorf("basis for %v is not orthogonal: %v %v", n, t1, t2)
		}
		if !t1.Cross(t2).ApproxEqualThreshold(n, 1e-12) {
			t.Errorf("basis for %v is not right handed", n)
		}
	}
}

func TestShapeArchive(t *testing.T) {
	shapes := []Shape{
		&Box{HalfExtents: mgl64.Vec3{1, 2, 3}},
		&Sphere{Radius: 0.25},
		&Plane{Normal: mgl64.Vec3{0, 1, 0}, Distance: 4},
	}

	for _, s := range shapes {
		t.Run(s.Type().String(), func(t *testing.T) {
			a, err := ArchiveShape(s)
			if err != nil {
				t.Fatal(err)
			}
			back, err := a.Shape()
			if err != nil {
				t.Fatal(err)
			}
			if back.Type() != s.Type() || back.Volume() != s.Volume() {
				t.Errorf("archive changed the shape: %#v -> %#v", s, back)
			}
		})
	}

	if _, err := (ShapeArchive{Type: "torus"}).Shape(); !errors.Is(err, ErrUnknownShape) {
		t.Errorf("expected ErrUnknownShape, got %v", err)
	}
}
