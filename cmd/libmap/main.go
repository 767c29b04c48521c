// Command libmap segments process logs and moves mapping measurements onto
// the shared library coordinate frame.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dtu-nanolab/libmap/internal/batch"
	"github.com/dtu-nanolab/libmap/internal/config"
	"github.com/dtu-nanolab/libmap/internal/coords"
	"github.com/dtu-nanolab/libmap/internal/fsutil"
	"github.com/dtu-nanolab/libmap/internal/segment"
	"github.com/dtu-nanolab/libmap/internal/version"
)

// Flags shared by every subcommand.
var (
	configPath string
	verbose    bool
	trace      bool
	workers    int
)

// tuning is loaded once in PersistentPreRunE.
var tuning = config.EmptyTuningConfig()

// files backs every input and output of the subcommands.
var files fsutil.FileSystem = fsutil.OSFileSystem{}

var rootCmd = &cobra.Command{
	Use:           "libmap",
	Short:         "Segment process logs and unify mapping coordinates.",
	Long:          `libmap turns deposition and RTP process logs into labelled process steps and maps characterization measurements onto library coordinates.`,
	Version:       version.Version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		setupLogging(cmd.ErrOrStderr())
		if configPath != "" {
			cfg, err := config.LoadTuningConfig(configPath)
			if err != nil {
				return err
			}
			tuning = cfg
		}
		if !cmd.Flags().Changed("workers") {
			workers = tuning.GetWorkers()
		}
		return nil
	},
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "tuning config JSON (defaults to built-in values)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log diagnostics to stderr")
	rootCmd.PersistentFlags().BoolVar(&trace, "trace", false, "log per-sample tracing to stderr")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 4, "files processed concurrently")

	rootCmd.AddCommand(segmentCmd, unifyCmd, gridCmd, versionCmd)
}

// setupLogging routes the package log streams. Ops messages always go to w;
// diagnostics and tracing only when requested.
func setupLogging(w io.Writer) {
	var diag, tr io.Writer
	if verbose || trace {
		diag = w
	}
	if trace {
		tr = w
	}
	segment.SetLogWriters(w, diag, tr)
	coords.SetLogWriters(w, diag, tr)
	batch.SetLogWriters(w, diag, tr)
}

// writeOutput creates path on files and hands it to render.
func writeOutput(path string, render func(io.Writer) error) error {
	f, err := files.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := render(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "libmap: %v\n", err)
		stop()
		os.Exit(1)
	}
}
