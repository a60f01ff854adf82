// Package grid is a uniform spatial hash used for broad phase queries. It
// stores integer handles and their bounds; callers keep the objects.
package grid

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
)

// maxSpan is the number of cells per axis above which an entry is kept
// out of the cells and paired with everything.
const maxSpan = 64

type CellKey struct {
	X, Y, Z int
}

type cell struct {
	indices []int
}

// Pair is an unordered candidate pair, with A < B.
type Pair struct {
	A, B int
}

type bounds struct {
	min, max CellKey
}

// Grid is a uniform grid with hashed cells.
type Grid struct {
	cellSize float64
	cells    []cell
	cellMask int

	entries map[int]bounds
	large   []int
}

// New creates a grid of numCells hashed cells (rounded up to a power of
// two) of edge cellSize.
func New(cellSize float64, numCells int) *Grid {
	numCells = nextPowerOfTwo(numCells)

	cells := make([]cell, numCells)
	for i := range cells {
		cells[i].indices = make([]int, 0, 8)
	}

	return &Grid{
		cellSize: cellSize,
		cells:    cells,
		cellMask: numCells - 1,
		entries:  make(map[int]bounds),
	}
}

func nextPowerOfTwo(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n++
	return n
}

func (g *Grid) CellSize() float64 { return g.cellSize }

// Insert registers index in every cell overlapped by [min, max]. Bounds
// that are not finite or span too many cells go to the large list.
func (g *Grid) Insert(index int, min, max mgl64.Vec3) {
	lo, okLo := g.worldToCell(min)
	hi, okHi := g.worldToCell(max)
	if !okLo || !okHi || hi.X-lo.X > maxSpan || hi.Y-lo.Y > maxSpan || hi.Z-lo.Z > maxSpan {
		g.large = append(g.large, index)
		return
	}

	g.entries[index] = bounds{lo, hi}
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for z := lo.Z; z <= hi.Z; z++ {
				c := &g.cells[g.hashCell(CellKey{x, y, z})]
				c.indices = append(c.indices, index)
			}
		}
	}
}

func (g *Grid) Clear() {
	for i := range g.cells {
		g.cells[i].indices = g.cells[i].indices[:0]
	}
	clear(g.entries)
	g.large = g.large[:0]
}

// Query calls visit once for every index sharing a cell with [min, max],
// and for every large entry, in increasing index order.
func (g *Grid) Query(min, max mgl64.Vec3, visit func(index int)) {
	lo, okLo := g.worldToCell(min)
	hi, okHi := g.worldToCell(max)

	seen := make(map[int]struct{})
	found := append([]int(nil), g.large...)
	if okLo && okHi {
		for x := lo.X; x <= hi.X; x++ {
			for y := lo.Y; y <= hi.Y; y++ {
				for z := lo.Z; z <= hi.Z; z++ {
					for _, idx := range g.cells[g.hashCell(CellKey{x, y, z})].indices {
						if _, ok := seen[idx]; !ok {
							seen[idx] = struct{}{}
							found = append(found, idx)
						}
					}
				}
			}
		}
	}
	sort.Ints(found)
	for i, idx := range found {
		if i > 0 && found[i-1] == idx {
			continue
		}
		visit(idx)
	}
}

// Pairs returns every pair of inserted indices that share a cell, and
// every pair involving a large entry, sorted by (A, B). Pairs of two large
// entries are left out.
func (g *Grid) Pairs() []Pair {
	var pairs []Pair
	seen := make(map[Pair]struct{})

	for i := range g.cells {
		idx := g.cells[i].indices
		for a := 0; a < len(idx); a++ {
			for b := a + 1; b < len(idx); b++ {
				p := makePair(idx[a], idx[b])
				if p.A == p.B {
					continue
				}
				if _, ok := seen[p]; !ok {
					seen[p] = struct{}{}
					pairs = append(pairs, p)
				}
			}
		}
	}
	for _, l := range g.large {
		for idx := range g.entries {
			p := makePair(l, idx)
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				pairs = append(pairs, p)
			}
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	return pairs
}

func makePair(a, b int) Pair {
	if a > b {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

func (g *Grid) worldToCell(pos mgl64.Vec3) (CellKey, bool) {
	x, y, z := pos.X()/g.cellSize, pos.Y()/g.cellSize, pos.Z()/g.cellSize
	const limit = 1 << 40
	if math.Abs(x) > limit || math.Abs(y) > limit || math.Abs(z) > limit || math.IsNaN(x+y+z) {
		return CellKey{}, false
	}
	return CellKey{
		X: int(math.Floor(x)),
		Y: int(math.Floor(y)),
		Z: int(math.Floor(z)),
	}, true
}

func (g *Grid) hashCell(key CellKey) int {
	h := (key.X * 73856093) ^ (key.Y * 19349663) ^ (key.Z * 83492791)
	return h & g.cellMask
}
