package peridynamics

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl64"
)

// BoxFill describes a block of matter sampled on a cubic lattice.
type BoxFill struct {
	Center  mgl64.Vec3 `yaml:"center,flow"`
	Size    mgl64.Vec3 `yaml:"size,flow"`
	Spacing float64    `yaml:"spacing"`
	// Centered adds a node at the center of every lattice cell.
	Centered bool `yaml:"centered"`
	// Jitter displaces every node by up to Jitter*Spacing per axis.
	Jitter float64 `yaml:"jitter"`
	Seed   uint64  `yaml:"seed"`
	// HorizonFactor sets the horizon to HorizonFactor*Spacing when the
	// matter has none yet.
	HorizonFactor float64 `yaml:"horizon_factor"`
}

const defaultHorizonFactor = 1.6

// FillBox samples the box into m and bonds the new nodes. The node masses
// add up to Density times the box volume.
func FillBox(m *Matter, fill BoxFill) error {
	s := fill.Spacing
	if !(s > 0) || math.IsInf(s, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidSpacing, s)
	}
	var counts [3]int
	for k := 0; k < 3; k++ {
		counts[k] = int(math.Floor(fill.Size[k]/s + 1e-9))
		if counts[k] < 1 {
			return fmt.Errorf("%w: %v in a box of %v", ErrInvalidSpacing, s, fill.Size)
		}
	}
	if !(m.Material.Density > 0) {
		return fmt.Errorf("%w: density %v", ErrInvalidMass, m.Material.Density)
	}

	lo := fill.Center.Sub(fill.Size.Mul(0.5))
	var rng *rand.Rand
	if fill.Jitter > 0 {
		rng = rand.New(rand.NewPCG(fill.Seed, fill.Seed^0x9e3779b97f4a7c15))
	}
	jitter := func(p mgl64.Vec3) mgl64.Vec3 {
		if rng == nil {
			return p
		}
		amp := fill.Jitter * s
		return p.Add(mgl64.Vec3{
			(2*rng.Float64() - 1) * amp,
			(2*rng.Float64() - 1) * amp,
			(2*rng.Float64() - 1) * amp,
		})
	}

	type sample struct {
		pos      mgl64.Vec3
		boundary bool
	}
	var samples []sample
	for i := 0; i < counts[0]; i++ {
		for j := 0; j < counts[1]; j++ {
			for k := 0; k < counts[2]; k++ {
				p := lo.Add(mgl64.Vec3{(float64(i) + 0.5) * s, (float64(j) + 0.5) * s, (float64(k) + 0.5) * s})
				edge := i == 0 || j == 0 || k == 0 || i == counts[0]-1 || j == counts[1]-1 || k == counts[2]-1
				samples = append(samples, sample{jitter(p), edge})
			}
		}
	}
	if fill.Centered {
		for i := 0; i+1 < counts[0]; i++ {
			for j := 0; j+1 < counts[1]; j++ {
				for k := 0; k+1 < counts[2]; k++ {
					p := lo.Add(mgl64.Vec3{float64(i+1) * s, float64(j+1) * s, float64(k+1) * s})
					samples = append(samples, sample{jitter(p), false})
				}
			}
		}
	}

	total := m.Material.Density * fill.Size[0] * fill.Size[1] * fill.Size[2]
	each := total / float64(len(samples))
	sum := 0.0
	for i, smp := range samples {
		mass := each
		if i == len(samples)-1 {
			mass = total - sum
		}
		sum += mass
		n, err := m.AddNode(smp.pos, mass)
		if err != nil {
			return err
		}
		n.Boundary = smp.boundary
	}

	if m.Horizon == 0 {
		factor := fill.HorizonFactor
		if factor <= 0 {
			factor = defaultHorizonFactor
		}
		m.Horizon = factor * s
	}
	return m.SetupBonds()
}
