package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/3leaps/tufup/internal/output"
	"github.com/3leaps/tufup/internal/release"
	"github.com/3leaps/tufup/internal/update"
)

var version = "dev"

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configDir   string
	output      string
	verbose     bool
	metadataURL string
	targetsURL  string
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %s\n", update.Describe(err))
		return 1
	}
	return 0
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "tufup",
		Short: "Check, download and apply signed application updates",
		Long: `tufup keeps a side-by-side versioned installation up to date.

Release metadata is verified against a pinned TUF root (tuf/root.json under
the config dir) before any release is trusted. Bundles are downloaded into a
verified cache and installed as versions/<semver>/ with the previous version
kept for rollback.`,
		Example: `  # Is a newer release published for this machine?
  tufup check

  # Download and install it
  tufup download -o json
  tufup apply ~/.config/FilesUP/tuf/targets-cache/filesup/desktop-linux-x86_64/app-1.1.0.zip 1.1.0

  # Finish bookkeeping after an interrupted apply
  tufup reconcile`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&g.configDir, "config-dir", "", "config directory (default is the platform per-app config dir)")
	pf.StringVarP(&g.output, "output", "o", "text", "output format: text, json or yaml")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "enable debug logging")
	pf.StringVar(&g.metadataURL, "metadata-url", "", "override the metadata endpoint")
	pf.StringVar(&g.targetsURL, "targets-url", "", "override the targets endpoint")

	root.AddCommand(
		newCheckCommand(g),
		newDownloadCommand(g),
		newApplyCommand(g),
		newStateCommand(g),
		newReconcileCommand(g),
		newConfigCommand(g),
		newVersionCommand(g),
	)
	return root
}

// newLogger writes to stderr so structured results on stdout stay parseable.
func newLogger(w io.Writer, level string, verbose bool) *log.Logger {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	if verbose {
		lvl = log.DebugLevel
	}
	return log.NewWithOptions(w, log.Options{
		Prefix: "tufup",
		Level:  lvl,
	})
}

type versionInfo struct {
	Version  string `json:"version" yaml:"version"`
	Platform string `json:"platform" yaml:"platform"`
	Go       string `json:"go" yaml:"go"`
}

func (v versionInfo) String() string {
	return fmt.Sprintf("tufup %s (%s, %s)", v.Version, v.Platform, v.Go)
}

func newVersionCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tufup version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := output.ParseFormat(g.output)
			if err != nil {
				return err
			}
			return output.NewWriter(cmd.OutOrStdout(), format).Write(versionInfo{
				Version:  version,
				Platform: release.DefaultPlatformID(),
				Go:       runtime.Version(),
			})
		},
	}
}
