package peridynamics

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

var ErrUnknownModel = errors.New("peridynamics: unknown force model")

type NodeArchive struct {
	Pos      mgl64.Vec3 `yaml:"pos,flow"`
	Vel      mgl64.Vec3 `yaml:"vel,flow"`
	X0       mgl64.Vec3 `yaml:"x0,flow"`
	Mass     float64    `yaml:"mass"`
	Boundary bool       `yaml:"boundary,omitempty"`
	EStrain  mgl64.Mat3 `yaml:"elastic_strain,flow"`
	PStrain  mgl64.Mat3 `yaml:"plastic_strain,flow"`
}

type BondArchive struct {
	A      int  `yaml:"a"`
	B      int  `yaml:"b"`
	Broken bool `yaml:"broken,omitempty"`
}

type AnchorArchive struct {
	Node   int        `yaml:"node"`
	Target mgl64.Vec3 `yaml:"target,flow"`
}

// MatterArchive is the persistent form of a Matter.
type MatterArchive struct {
	Material  VonMises        `yaml:"material"`
	Model     string          `yaml:"model"`
	Bulk      *BulkElastic    `yaml:"bulk,omitempty"`
	Horizon   float64         `yaml:"horizon"`
	Viscosity float64         `yaml:"viscosity"`
	Nodes     []NodeArchive   `yaml:"nodes"`
	Bonds     []BondArchive   `yaml:"bonds"`
	Anchors   []AnchorArchive `yaml:"anchors,omitempty"`
}

func (m *Matter) ArchiveOut() MatterArchive {
	a := MatterArchive{
		Material:  m.Material,
		Model:     Correspondence{}.Name(),
		Horizon:   m.Horizon,
		Viscosity: m.Viscosity,
	}
	if bulk, ok := m.Model.(BulkElastic); ok {
		a.Model = bulk.Name()
		a.Bulk = &bulk
	}
	for _, n := range m.nodes {
		a.Nodes = append(a.Nodes, NodeArchive{
			Pos:      n.Pos,
			Vel:      n.Vel,
			X0:       n.X0,
			Mass:     n.mass,
			Boundary: n.Boundary,
			EStrain:  n.EStrain,
			PStrain:  n.PStrain,
		})
	}
	for _, b := range m.bonds {
		a.Bonds = append(a.Bonds, BondArchive{A: b.A, B: b.B, Broken: b.Broken})
	}
	for _, an := range m.anchors {
		a.Anchors = append(a.Anchors, AnchorArchive{Node: an.node.index, Target: an.Target})
	}
	return a
}

// ArchiveIn replaces the content of m with a.
func (m *Matter) ArchiveIn(a MatterArchive) error {
	var model ForceModel
	switch a.Model {
	case "", Correspondence{}.Name():
		model = Correspondence{}
	case BulkElastic{}.Name():
		bulk := DefaultBulkElastic()
		if a.Bulk != nil {
			bulk = *a.Bulk
		}
		model = bulk
	default:
		return fmt.Errorf("%w: %q", ErrUnknownModel, a.Model)
	}

	m.Material = a.Material
	m.Model = model
	m.Horizon = a.Horizon
	m.Viscosity = a.Viscosity
	m.nodes = nil
	m.bonds = nil
	m.anchors = nil
	m.bondSet = make(map[[2]int]struct{})

	for _, na := range a.Nodes {
		n, err := m.AddNode(na.Pos, na.Mass)
		if err != nil {
			return err
		}
		n.Vel = na.Vel
		n.X0 = na.X0
		n.Boundary = na.Boundary
		n.EStrain = na.EStrain
		n.PStrain = na.PStrain
	}
	for _, ba := range a.Bonds {
		if err := m.AddBond(ba.A, ba.B); err != nil {
			return err
		}
		m.bonds[len(m.bonds)-1].Broken = ba.Broken
	}
	for _, aa := range a.Anchors {
		an, err := m.Anchor(aa.Node)
		if err != nil {
			return err
		}
		an.Target = aa.Target
	}
	return nil
}

// NewMatterFromArchive rebuilds a Matter from its archive.
func NewMatterFromArchive(a MatterArchive) (*Matter, error) {
	m := NewMatter(a.Material, a.Horizon)
	m.Workers = 1
	if err := m.ArchiveIn(a); err != nil {
		return nil, err
	}
	return m, nil
}
