package function

import (
	"errors"
	"math"
	"testing"
)

func TestFunctionValues(t *testing.T) {
	tests := []struct {
		name  string
		f     Function
		t     float64
		value float64
		deriv float64
	}{
		{"const", Const{C: 2.5}, 3, 2.5, 0},
		{"unit ramp", Ramp{Slope: 1}, 0.7, 0.7, 1},
		{"offset ramp", Ramp{Y0: -1, Slope: 2}, 1.5, 2, 2},
		{"sine at zero", Sine{Amplitude: 2, Frequency: 0.5}, 0, 0, 2 * math.Pi},
		{"sine quarter period", Sine{Amplitude: 2, Frequency: 0.5}, 0.5, 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Value(tt.t); math.Abs(got-tt.value) > 1e-12 {
				t.Errorf("Value: expected %v, got %v", tt.value, got)
			}
			if got := tt.f.Derivative(tt.t); math.Abs(got-tt.deriv) > 1e-12 {
				t.Errorf("Derivative: expected %v, got %v", tt.deriv, got)
			}
		})
	}
}

func TestSequenceIsContinuous(t *testing.T) {
	seq := &Sequence{Segments: []Segment{
		{Duration: 1, Func: Ramp{Slope: 2}},
		{Duration: 1, Func: Const{C: 100}},
		{Duration: 1, Func: Ramp{Y0: 5, Slope: -1}},
	}}

	expected := map[float64]float64{
		0:   0,
		0.5: 1,
		1:   2,
		1.5: 2,
		2:   2,
		2.5: 1.5,
		4:   0,
	}
	for at, want := range expected {
		if got := seq.Value(at); math.Abs(got-want) > 1e-12 {
			t.Errorf("Value(%v): expected %v, got %v", at, want, got)
		}
	}

	if d := seq.Derivative(0.5); d != 2 {
		t.Errorf("expected slope 2 in the first segment, got %v", d)
	}
	if d := seq.Derivative(1.5); d != 0 {
		t.Errorf("expected slope 0 in the second segment, got %v", d)
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	functions := []Function{
		Const{C: 3},
		Ramp{Y0: 1, Slope: -0.5},
		Sine{Amplitude: 0.2, Frequency: 3, Phase: 0.1},
		&Sequence{Segments: []Segment{
			{Duration: 0.5, Func: Ramp{Slope: 1}},
			{Duration: 2, Func: Sine{Amplitude: 1, Frequency: 1}},
		}},
	}

	for _, f := range functions {
		data, err := Marshal(f)
		if err != nil {
			t.Fatalf("Marshal(%T): %v", f, err)
		}
		back, err := Unmarshal(data)
		if err != nil {
			t.Fatalf("Unmarshal(%T): %v", f, err)
		}
		for _, at := range []float64{0, 0.3, 1.7, 4} {
			if math.Abs(back.Value(at)-f.Value(at)) > 1e-12 {
				t.Errorf("%T: value mismatch at %v", f, at)
			}
		}
	}
}

func TestArchiveInUnknownType(t *testing.T) {
	_, err := ArchiveIn(Archive{Type: "spline"})
	if !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("expected ErrUnknownFunction, got %v", err)
	}
}
