package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/3leaps/tufup/internal/appdirs"
	"github.com/3leaps/tufup/internal/host/remote"
	"github.com/3leaps/tufup/internal/model"
	"github.com/3leaps/tufup/internal/output"
	"github.com/3leaps/tufup/internal/settings"
	"github.com/3leaps/tufup/internal/trustconfig"
	"github.com/3leaps/tufup/internal/update"
	"github.com/3leaps/tufup/internal/versionstate"
)

// app is the per-invocation wiring: one session, its settings, a logger and
// the output writer.
type app struct {
	flags    *globalFlags
	sess     *appdirs.Session
	settings settings.Settings
	logger   *log.Logger
	out      *output.Writer
}

func newApp(g *globalFlags, stdout, stderr io.Writer) (*app, error) {
	format, err := output.ParseFormat(g.output)
	if err != nil {
		return nil, err
	}
	sess, err := appdirs.New(appdirs.AppName, g.configDir)
	if err != nil {
		return nil, err
	}
	st, err := settings.Load(sess.SettingsFile())
	if err != nil {
		return nil, &model.ConfigError{Op: "load settings", Path: sess.SettingsFile(), Err: err}
	}
	logger := newLogger(stderr, st.LogLevel, g.verbose)
	logger.Debug("session", "config_dir", sess.ConfigDir, "product", st.Product)
	return &app{
		flags:    g,
		sess:     sess,
		settings: st,
		logger:   logger,
		out:      output.NewWriter(stdout, format),
	}, nil
}

func (a *app) store() *versionstate.Store {
	return versionstate.Open(a.sess)
}

// trustConfig honours --metadata-url and --targets-url; an override of one
// endpoint keeps the configured value of the other.
func (a *app) trustConfig() (*trustconfig.TrustConfig, error) {
	if a.flags.metadataURL == "" && a.flags.targetsURL == "" {
		return trustconfig.Default(a.sess, a.settings)
	}
	metadataURL, targetsURL := a.settings.MetadataURL, a.settings.TargetsURL
	if a.flags.metadataURL != "" {
		metadataURL = a.flags.metadataURL
	}
	if a.flags.targetsURL != "" {
		targetsURL = a.flags.targetsURL
	}
	a.logger.Debug("custom endpoints", "metadata", metadataURL, "targets", targetsURL)
	return trustconfig.WithCustomURLs(a.sess, a.settings, metadataURL, targetsURL)
}

// service starts an update.Service; the caller must Close it.
func (a *app) service() (*update.Service, error) {
	trust, err := a.trustConfig()
	if err != nil {
		return nil, err
	}
	return update.New(a.settings, trust, a.store(),
		update.WithLogger(a.logger),
		update.WithUserAgent(remote.UserAgent(version)),
	), nil
}

func newConfigCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage tufup settings",
	}
	cmd.AddCommand(newConfigInitCommand(g), newConfigShowCommand(g))
	return cmd
}

func newConfigInitCommand(g *globalFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the effective settings to tufup.toml in the config dir",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			path := a.sess.SettingsFile()
			if _, err := os.Stat(path); err == nil && !force {
				return &model.ConfigError{Op: "write settings", Path: path, Err: errors.New("file exists (use --force to overwrite)")}
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return &model.ConfigError{Op: "stat settings", Path: path, Err: err}
			}
			if err := settings.WriteFile(path, a.settings); err != nil {
				return &model.ConfigError{Op: "write settings", Path: path, Err: err}
			}
			a.logger.Info("wrote settings", "path", path)
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing settings file")
	return cmd
}

func newConfigShowCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return a.out.Write(a.settings)
		},
	}
}
