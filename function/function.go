// Package function provides scalar functions of time used to prescribe
// motion on rheonomic constraints.
package function

import (
	"errors"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"
)

var ErrUnknownFunction = errors.New("function: unknown function type")

// Function is a scalar function y(t) with its first derivative.
type Function interface {
	Value(t float64) float64
	Derivative(t float64) float64
}

// Const is y = C.
type Const struct {
	C float64 `yaml:"c"`
}

func (f Const) Value(float64) float64      { return f.C }
func (f Const) Derivative(float64) float64 { return 0 }

// Ramp is y = Y0 + Slope*t.
type Ramp struct {
	Y0    float64 `yaml:"y0"`
	Slope float64 `yaml:"slope"`
}

func (f Ramp) Value(t float64) float64    { return f.Y0 + f.Slope*t }
func (f Ramp) Derivative(float64) float64 { return f.Slope }

// Sine is y = Amplitude*sin(2*pi*Frequency*t + Phase).
type Sine struct {
	Amplitude float64 `yaml:"amplitude"`
	Frequency float64 `yaml:"frequency"`
	Phase     float64 `yaml:"phase"`
}

func (f Sine) Value(t float64) float64 {
	return f.Amplitude * math.Sin(2*math.Pi*f.Frequency*t+f.Phase)
}

func (f Sine) Derivative(t float64) float64 {
	w := 2 * math.Pi * f.Frequency
	return f.Amplitude * w * math.Cos(w*t+f.Phase)
}

// Segment is one piece of a Sequence, active for Duration seconds.
type Segment struct {
	Duration float64  `yaml:"duration"`
	Func     Function `yaml:"-"`
}

// Sequence chains functions end to end. Each segment is evaluated on a
// local time starting at zero and shifted so the sequence stays continuous
// at the joints. Past the last segment the last function keeps running.
type Sequence struct {
	Segments []Segment
}

func (f *Sequence) locate(t float64) (idx int, local, offset float64) {
	start := 0.0
	for i, s := range f.Segments {
		if t < start+s.Duration || i == len(f.Segments)-1 {
			return i, t - start, offset
		}
		offset += s.Func.Value(s.Duration) - s.Func.Value(0)
		start += s.Duration
	}
	return -1, t, 0
}

func (f *Sequence) Value(t float64) float64 {
	i, local, offset := f.locate(t)
	if i < 0 {
		return 0
	}
	s := f.Segments[i].Func
	if i == 0 {
		return s.Value(local)
	}
	return f.Segments[0].Func.Value(0) + offset + s.Value(local) - s.Value(0)
}

func (f *Sequence) Derivative(t float64) float64 {
	i, local, _ := f.locate(t)
	if i < 0 {
		return 0
	}
	return f.Segments[i].Func.Derivative(local)
}

// Archive is the tagged persistent form of a Function.
type Archive struct {
	Type      string    `yaml:"type"`
	C         float64   `yaml:"c,omitempty"`
	Y0        float64   `yaml:"y0,omitempty"`
	Slope     float64   `yaml:"slope,omitempty"`
	Amplitude float64   `yaml:"amplitude,omitempty"`
	Frequency float64   `yaml:"frequency,omitempty"`
	Phase     float64   `yaml:"phase,omitempty"`
	Segments  []Archive `yaml:"segments,omitempty"`
	Duration  float64   `yaml:"duration,omitempty"`
}

// ArchiveOut converts f to its persistent form.
func ArchiveOut(f Function) (Archive, error) {
	switch fn := f.(type) {
	case nil:
		return Archive{}, nil
	case Const:
		return Archive{Type: "const", C: fn.C}, nil
	case Ramp:
		return Archive{Type: "ramp", Y0: fn.Y0, Slope: fn.Slope}, nil
	case Sine:
		return Archive{Type: "sine", Amplitude: fn.Amplitude, Frequency: fn.Frequency, Phase: fn.Phase}, nil
	case *Sequence:
		a := Archive{Type: "sequence"}
		for _, s := range fn.Segments {
			sa, err := ArchiveOut(s.Func)
			if err != nil {
				return Archive{}, err
			}
			sa.Duration = s.Duration
			a.Segments = append(a.Segments, sa)
		}
		return a, nil
	default:
		return Archive{}, fmt.Errorf("%w: %T", ErrUnknownFunction, f)
	}
}

// ArchiveIn rebuilds a Function. An empty archive yields nil.
func ArchiveIn(a Archive) (Function, error) {
	switch a.Type {
	case "":
		return nil, nil
	case "const":
		return Const{C: a.C}, nil
	case "ramp":
		return Ramp{Y0: a.Y0, Slope: a.Slope}, nil
	case "sine":
		return Sine{Amplitude: a.Amplitude, Frequency: a.Frequency, Phase: a.Phase}, nil
	case "sequence":
		seq := &Sequence{}
		for _, sa := range a.Segments {
			fn, err := ArchiveIn(sa)
			if err != nil {
				return nil, err
			}
			seq.Segments = append(seq.Segments, Segment{Duration: sa.Duration, Func: fn})
		}
		return seq, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, a.Type)
	}
}

// Marshal encodes f as YAML.
func Marshal(f Function) ([]byte, error) {
	a, err := ArchiveOut(f)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(a)
}

// Unmarshal decodes a Function written by Marshal.
func Unmarshal(data []byte) (Function, error) {
	var a Archive
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("function: %w", err)
	}
	return ArchiveIn(a)
}
