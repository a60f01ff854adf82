package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/akmonengine/linkage"
	"github.com/akmonengine/linkage/internal/config"
	"github.com/akmonengine/linkage/internal/export"
	"github.com/akmonengine/linkage/internal/metrics"
	"github.com/akmonengine/linkage/internal/runner"
	"github.com/akmonengine/linkage/internal/storage"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
)

var (
	title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	key   = lipgloss.NewStyle().Foreground(lipgloss.Color("242")).Width(20)
	value = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	good  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	warn  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
)

func printKV(k string, v any) {
	fmt.Println(key.Render(k) + value.Render(fmt.Sprint(v)))
}

func printMetrics(m map[string]float64) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		printKV(name, fmt.Sprintf("%.6g", m[name]))
	}
}

// loadScenario resolves the scenario of run and archive: a preset name, or
// a scenario file.
func loadScenario(args []string) (*config.Scenario, error) {
	switch {
	case configFile != "" && len(args) > 0:
		return nil, fmt.Errorf("use either a preset or --config, not both")
	case configFile != "":
		sc, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return sc, nil
	case len(args) > 0:
		sc := config.GetPreset(args[0])
		if sc == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", args[0], config.ListPresets())
		}
		return sc, nil
	default:
		return nil, fmt.Errorf("a preset or --config is required (presets: %v)", config.ListPresets())
	}
}

func runScenario(cmd *cobra.Command, args []string) error {
	sc, err := loadScenario(args)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("dt") {
		sc.System.Dt = dt
	}
	if flags.Changed("time") {
		sc.System.Duration = duration
	}
	if flags.Changed("solver") {
		sc.System.Solver = solverType
	}
	if flags.Changed("mode") {
		sc.System.Mode = solverMode
	}
	if flags.Changed("workers") {
		sc.System.Workers = workers
	}

	r, err := runner.New(sc, runner.Options{
		SampleEvery: sampleEvery,
		Metrics:     metrics.Defaults(),
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Println(title.Render("running " + sc.Name))
	result, runErr := r.Run(ctx)

	printKV("steps", result.StepsTaken)
	printKV("simulated", fmt.Sprintf("%.4gs", r.System().Time()))
	printKV("elapsed", result.Elapsed)
	printKV("samples", result.Data.Len())
	fmt.Println(title.Render("metrics"))
	printMetrics(result.Metrics)

	if !noSave {
		st := storage.New(dataDir)
		runID, err := st.Save(sc, result)
		if err != nil {
			return err
		}
		printKV("run id", good.Render(runID))
	}
	if archiveOut != "" {
		if err := writeArchive(r.System(), archiveOut); err != nil {
			return err
		}
		printKV("archive", archiveOut)
	}
	if runErr != nil {
		fmt.Println(warn.Render("run stopped early"))
	}
	return runErr
}

func listPresets(cmd *cobra.Command, args []string) error {
	fmt.Println(title.Render("presets"))
	for _, name := range config.ListPresets() {
		printKV(name, config.GetPreset(name).Description)
	}
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCENARIO\tTIME\tDURATION\tDT\tSOLVER\tSTEPS")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2fs\t%.4gs\t%s\t%d\n",
			run.ID,
			run.Scenario,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Duration,
			run.Dt,
			run.Solver,
			run.Steps,
		)
	}
	return w.Flush()
}

func showRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}

	fmt.Println(title.Render(meta.ID))
	printKV("scenario", meta.Scenario)
	printKV("timestamp", meta.Timestamp.Format("2006-01-02 15:04:05"))
	printKV("dt", meta.Dt)
	printKV("duration", meta.Duration)
	printKV("steps", meta.Steps)
	printKV("solver", meta.Solver+" / "+meta.Mode)
	printKV("elapsed", fmt.Sprintf("%.3fs", meta.Elapsed))
	printKV("channels", strings.Join(meta.Channels, ", "))
	fmt.Println(title.Render("metrics"))
	printMetrics(meta.Metrics)
	return nil
}

func plotRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	table, err := st.LoadChannels(args[0])
	if err != nil {
		return err
	}
	if table.Len() == 0 {
		return export.ErrNoData
	}

	names := channels
	if len(names) == 0 {
		names = table.Names
	}
	for _, name := range names {
		data, err := table.Column(name)
		if err != nil {
			return err
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(plotHeight),
			asciigraph.Width(plotWidth),
			asciigraph.Caption(fmt.Sprintf("%s over %.4gs", name, table.Times[table.Len()-1])),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func exportPNG(cmd *cobra.Command, args []string) error {
	runID := args[0]
	st := storage.New(dataDir)
	table, err := st.LoadChannels(runID)
	if err != nil {
		return err
	}
	dir := outDir
	if dir == "" {
		dir = st.Dir(runID)
	}
	opts := export.DefaultOptions()
	opts.DPI = dpi

	if combined {
		names := channels
		if len(names) == 0 {
			names = table.Names
		}
		p, err := export.ChannelPlot(table, runID, names...)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, runID+".png")
		if err := export.SavePNG(p, path, opts); err != nil {
			return err
		}
		printKV("written", path)
		return nil
	}

	written, err := export.Channels(dir, table, opts, channels...)
	for _, path := range written {
		printKV("written", path)
	}
	return err
}

func archiveSystem(cmd *cobra.Command, args []string) error {
	var s *linkage.System
	if archiveIn != "" {
		if len(args) > 0 || configFile != "" {
			return fmt.Errorf("--in replaces the preset and --config")
		}
		f, err := os.Open(archiveIn)
		if err != nil {
			return err
		}
		s, err = linkage.NewSystemFromArchive(f)
		f.Close()
		if err != nil {
			return err
		}
	} else {
		sc, err := loadScenario(args)
		if err != nil {
			return err
		}
		if s, err = sc.Build(); err != nil {
			return err
		}
	}
	s.Logger = logger

	for i := 0; i < steps; i++ {
		if err := s.Step(dt); err != nil {
			return err
		}
	}
	logger.Debug("archive", "time", s.Time(), "bodies", len(s.Bodies), "shafts", len(s.Shafts), "links", len(s.Links))

	if archiveOut == "" {
		return s.ArchiveOut(os.Stdout)
	}
	return writeArchive(s, archiveOut)
}

func writeArchive(s *linkage.System, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return s.ArchiveOut(f)
}
