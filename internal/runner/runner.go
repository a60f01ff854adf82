package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/akmonengine/linkage"
	"github.com/akmonengine/linkage/internal/config"
	"github.com/akmonengine/linkage/internal/metrics"
	"github.com/charmbracelet/log"
)

const DefaultSampleEvery = 1

var ErrUnknownChannel = errors.New("runner: unknown channel")

// Channel is a scalar sampled from the system during a run.
type Channel struct {
	Name   string
	Sample func() float64
}

// Table holds the sampled channels, one column per channel.
type Table struct {
	Names   []string
	Times   []float64
	Columns [][]float64
}

// Column returns the samples of the named channel.
func (t *Table) Column(name string) ([]float64, error) {
	for i, n := range t.Names {
		if n == name {
			return t.Columns[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
}

func (t *Table) Len() int { return len(t.Times) }

func (t *Table) append(time float64, channels []Channel) {
	t.Times = append(t.Times, time)
	for i, c := range channels {
		t.Columns[i] = append(t.Columns[i], c.Sample())
	}
}

type Result struct {
	Scenario   string
	Dt         float64
	StepsTaken int
	Elapsed    time.Duration
	Data       Table
	Metrics    map[string]float64
}

type Options struct {
	// SampleEvery is the number of steps between two samples.
	SampleEvery int
	Metrics     []metrics.Metric
	Logger      *log.Logger
}

// Runner drives a scenario for its duration.
type Runner struct {
	scenario *config.Scenario
	scene    *config.Scene
	channels []Channel
	metrics  []metrics.Metric
	every    int
	logger   *log.Logger
}

// New builds the scenario and registers its default channels.
func New(sc *config.Scenario, opts Options) (*Runner, error) {
	scene, err := sc.BuildScene()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	scene.System.Logger = logger

	r := &Runner{
		scenario: sc,
		scene:    scene,
		metrics:  opts.Metrics,
		every:    max(opts.SampleEvery, DefaultSampleEvery),
		logger:   logger,
	}
	r.channels = DefaultChannels(sc, scene)
	return r, nil
}

func (r *Runner) System() *linkage.System { return r.scene.System }
func (r *Runner) Scene() *config.Scene    { return r.scene }
func (r *Runner) Channels() []Channel     { return r.channels }

// AddChannel samples one more scalar.
func (r *Runner) AddChannel(c Channel) { r.channels = append(r.channels, c) }

// DefaultChannels samples the global quantities of the system, then the
// state of every named entity, in scenario order.
func DefaultChannels(sc *config.Scenario, scene *config.Scene) []Channel {
	s := scene.System
	channels := []Channel{
		{Name: "kinetic_energy", Sample: s.KineticEnergy},
		{Name: "max_violation", Sample: s.MaxViolation},
		{Name: "iterations", Sample: func() float64 { return float64(s.Report().Iterations()) }},
	}
	for _, bc := range sc.Bodies {
		b := scene.Bodies[bc.Name]
		if bc.Static {
			continue
		}
		channels = append(channels,
			Channel{Name: bc.Name + ".x", Sample: func() float64 { return b.Transform.Position.X() }},
			Channel{Name: bc.Name + ".y", Sample: func() float64 { return b.Transform.Position.Y() }},
			Channel{Name: bc.Name + ".z", Sample: func() float64 { return b.Transform.Position.Z() }},
			Channel{Name: bc.Name + ".speed", Sample: func() float64 { return b.Velocity.Len() }},
		)
	}
	for _, shc := range sc.Shafts {
		sh := scene.Shafts[shc.Name]
		if shc.Fixed {
			continue
		}
		channels = append(channels,
			Channel{Name: shc.Name + ".pos", Sample: func() float64 { return sh.Pos }},
			Channel{Name: shc.Name + ".speed", Sample: func() float64 { return sh.Speed }},
		)
	}
	for _, mc := range sc.Matter {
		m := scene.Matter[mc.Name]
		channels = append(channels,
			Channel{Name: mc.Name + ".kinetic_energy", Sample: m.KineticEnergy},
		)
	}
	return channels
}

// Run steps the system until the scenario duration is covered or ctx is
// done. The partial result is returned along with any error.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	s := r.scene.System
	dt := r.scenario.System.Dt
	steps := r.scenario.Steps()

	result := &Result{
		Scenario: r.scenario.Name,
		Dt:       dt,
		Metrics:  make(map[string]float64),
	}
	result.Data.Columns = make([][]float64, len(r.channels))
	for _, c := range r.channels {
		result.Data.Names = append(result.Data.Names, c.Name)
	}
	for _, m := range r.metrics {
		m.Reset()
	}

	r.logger.Info("run", "scenario", r.scenario.Name, "steps", steps, "dt", dt)
	start := time.Now()
	result.Data.append(s.Time(), r.channels)

	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			return r.finish(result, start, ctx.Err())
		default:
		}

		if err := s.Step(dt); err != nil {
			return r.finish(result, start, err)
		}
		result.StepsTaken++
		for _, m := range r.metrics {
			m.Observe(s)
		}
		if (i+1)%r.every == 0 || i == steps-1 {
			result.Data.append(s.Time(), r.channels)
		}
	}
	return r.finish(result, start, nil)
}

func (r *Runner) finish(result *Result, start time.Time, err error) (*Result, error) {
	result.Elapsed = time.Since(start)
	for _, m := range r.metrics {
		result.Metrics[m.Name()] = m.Value()
	}
	if err != nil {
		r.logger.Error("run stopped", "step", result.StepsTaken, "time", r.scene.System.Time(), "err", err)
		return result, err
	}
	r.logger.Info("run complete", "steps", result.StepsTaken, "elapsed", result.Elapsed)
	return result, nil
}
