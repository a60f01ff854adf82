package solver

// Iterations caps each stage of the staged solve. A zero cap skips the
// stage.
type Iterations struct {
	Bilateral int `yaml:"bilateral"`
	Normal    int `yaml:"normal"`
	Sliding   int `yaml:"sliding"`
	Spinning  int `yaml:"spinning"`
}

// Settings configures a Frontend.
type Settings struct {
	Type          Type
	Mode          Mode
	MaxIterations Iterations
	Tolerance     float64
	// RecordHistory keeps the residual of every iteration in Stats.
	RecordHistory bool
}

func DefaultSettings() Settings {
	return Settings{
		Type: APGD,
		Mode: ModeSliding,
		MaxIterations: Iterations{
			Bilateral: 50,
			Normal:    100,
			Sliding:   100,
			Spinning:  100,
		},
		Tolerance: 1e-8,
	}
}

// Report summarises one call to Frontend.Solve.
type Report struct {
	Counts Counts
	Stages []StageReport
}

// StageReport is the solver outcome of one stage.
type StageReport struct {
	Stage Mode
	Stats
}

// Iterations sums the iterations of every stage.
func (r Report) Iterations() int {
	n := 0
	for _, s := range r.Stages {
		n += s.Iterations
	}
	return n
}

// Converged reports whether the last stage converged. A report without
// stages (free flight) is trivially converged.
func (r Report) Converged() bool {
	if len(r.Stages) == 0 {
		return true
	}
	return r.Stages[len(r.Stages)-1].Converged
}

// Residual of the last stage.
func (r Report) Residual() float64 {
	if len(r.Stages) == 0 {
		return 0
	}
	return r.Stages[len(r.Stages)-1].Residual
}

// Frontend drives the solve of an assembled Descriptor: staged iterative
// solve over the enabled modes, then the velocity update.
type Frontend struct {
	settings Settings
	solver   IterativeSolver
	gamma    []float64
}

func NewFrontend(settings Settings) (*Frontend, error) {
	f := &Frontend{settings: settings}
	if err := f.ChangeSolverType(settings.Type); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Frontend) Settings() Settings { return f.settings }

// ChangeSolverType swaps the iterative solver.
func (f *Frontend) ChangeSolverType(t Type) error {
	s, err := New(t, f.settings.Tolerance)
	if err != nil {
		return err
	}
	f.settings.Type = t
	f.solver = s
	f.applyHistory()
	return nil
}

// SetMode changes the contact mode used from the next step on.
func (f *Frontend) SetMode(m Mode) { f.settings.Mode = m }

func (f *Frontend) SetMaxIterations(it Iterations) { f.settings.MaxIterations = it }

func (f *Frontend) SetRecordHistory(on bool) {
	f.settings.RecordHistory = on
	f.applyHistory()
}

func (f *Frontend) applyHistory() {
	switch s := f.solver.(type) {
	case *APGDSolver:
		s.RecordHistory = f.settings.RecordHistory
	case *BBSolver:
		s.RecordHistory = f.settings.RecordHistory
	case *SPGQPSolver:
		s.RecordHistory = f.settings.RecordHistory
	case *DirectSolver:
		s.RecordHistory = f.settings.RecordHistory
	}
}

// Solve assembles d, runs the staged solve and updates d's velocity vector.
// The descriptor must have been filled for f's mode. Without rows only the
// free-flight update is applied.
func (f *Frontend) Solve(d *Descriptor) Report {
	m := d.NumRows()
	report := Report{Counts: d.Counts()}
	if m == 0 {
		d.ComputeImpulses(nil)
		return report
	}

	d.Assemble()
	f.gamma = resize(f.gamma, m)
	for i, r := range d.Rows() {
		f.gamma[i] = r.Gamma
	}

	for _, stage := range f.stages(d) {
		proj := d.Projector(stage.mode)
		r := d.SetR(stage.mode)
		f.solver.Solve(d, proj, stage.iterations, m, r, f.gamma)
		report.Stages = append(report.Stages, StageReport{Stage: stage.mode, Stats: f.solver.Stats()})
	}

	d.StoreGamma(f.gamma)
	d.ComputeImpulses(f.gamma)
	return report
}

type stage struct {
	mode       Mode
	iterations int
}

// stages lists the solve stages for the descriptor's mode. Each stage warm
// starts from the previous one.
func (f *Frontend) stages(d *Descriptor) []stage {
	it := f.settings.MaxIterations
	mode := d.Mode()
	hasContacts := d.Counts().Unilateral > 0

	var out []stage
	if it.Bilateral > 0 && (d.Counts().Bilateral+d.Counts().Continuum > 0) {
		out = append(out, stage{ModeBilateral, it.Bilateral})
	}
	if hasContacts {
		if mode >= ModeNormal && it.Normal > 0 {
			out = append(out, stage{ModeNormal, it.Normal})
		}
		if mode >= ModeSliding && it.Sliding > 0 {
			out = append(out, stage{ModeSliding, it.Sliding})
		}
		if mode >= ModeSpinning && it.Spinning > 0 {
			out = append(out, stage{ModeSpinning, it.Spinning})
		}
	}
	if len(out) == 0 {
		// every cap is zero or no row matches a stage
		out = append(out, stage{mode, max(it.Bilateral, it.Normal, it.Sliding, it.Spinning, 1)})
	}
	return out
}
