package main

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	dataDir string
	verbose bool

	// run
	configFile  string
	dt          float64
	duration    float64
	solverType  string
	solverMode  string
	workers     int
	sampleEvery int
	noSave      bool
	archiveOut  string

	// plot
	channels   []string
	plotHeight int
	plotWidth  int

	// export-png
	outDir   string
	combined bool
	dpi      int

	// archive
	archiveIn string
	steps     int

	logger *log.Logger
)

// main registers the commands and flags of the linkage CLI and executes
// the root command. It exits with status 1 if the command fails.
func main() {
	rootCmd := &cobra.Command{
		Use:           "linkage",
		Short:         "multibody and peridynamics simulation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = log.NewWithOptions(os.Stderr, log.Options{
				ReportTimestamp: true,
				Prefix:          "linkage",
			})
			if verbose {
				logger.SetLevel(log.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".linkage", "data directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	runCmd := &cobra.Command{
		Use:   "run [preset]",
		Short: "run a preset or a scenario file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runScenario,
	}
	runCmd.Flags().StringVar(&configFile, "config", "", "scenario file path (yaml)")
	runCmd.Flags().Float64Var(&dt, "dt", 0, "timestep")
	runCmd.Flags().Float64Var(&duration, "time", 0, "duration")
	runCmd.Flags().StringVar(&solverType, "solver", "", "solver: apgd, apgdref, bb, spgqp, direct")
	runCmd.Flags().StringVar(&solverMode, "mode", "", "contact mode: bilateral, normal, sliding, spinning")
	runCmd.Flags().IntVar(&workers, "workers", 0, "worker goroutines")
	runCmd.Flags().IntVar(&sampleEvery, "sample-every", 1, "steps between two samples")
	runCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")
	runCmd.Flags().StringVar(&archiveOut, "archive", "", "write the final system to this file")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		Args:  cobra.NoArgs,
		RunE:  listPresets,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		Args:  cobra.NoArgs,
		RunE:  listRuns,
	}

	showCmd := &cobra.Command{
		Use:   "show [run_id]",
		Short: "show run metadata and metrics",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot run channels in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringSliceVarP(&channels, "channel", "c", nil, "channels to plot (default: all)")
	plotCmd.Flags().IntVar(&plotHeight, "height", 10, "graph height")
	plotCmd.Flags().IntVar(&plotWidth, "width", 80, "graph width")

	exportCmd := &cobra.Command{
		Use:   "export-png [run_id]",
		Short: "export run channels as png charts",
		Args:  cobra.ExactArgs(1),
		RunE:  exportPNG,
	}
	exportCmd.Flags().StringSliceVarP(&channels, "channel", "c", nil, "channels to export (default: all)")
	exportCmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default: the run directory)")
	exportCmd.Flags().BoolVar(&combined, "combined", false, "draw the channels on a single chart")
	exportCmd.Flags().IntVar(&dpi, "dpi", 150, "resolution")

	archiveCmd := &cobra.Command{
		Use:   "archive [preset]",
		Short: "step a preset or an archived system and write it as yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE:  archiveSystem,
	}
	archiveCmd.Flags().StringVar(&archiveIn, "in", "", "archived system to restore")
	archiveCmd.Flags().StringVar(&configFile, "config", "", "scenario file path (yaml)")
	archiveCmd.Flags().IntVar(&steps, "steps", 0, "steps to take before writing")
	archiveCmd.Flags().Float64Var(&dt, "dt", 0.01, "timestep of the steps")
	archiveCmd.Flags().StringVarP(&archiveOut, "out", "o", "", "output file (default: stdout)")

	rootCmd.AddCommand(runCmd, presetsCmd, listCmd, showCmd, plotCmd, exportCmd, archiveCmd)

	if err := rootCmd.Execute(); err != nil {
		if logger == nil {
			logger = log.New(os.Stderr)
		}
		logger.Error(err)
		os.Exit(1)
	}
}
