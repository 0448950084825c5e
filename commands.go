package main

import (
	"github.com/spf13/cobra"

	"github.com/3leaps/tufup/internal/release"
)

func newCheckCommand(g *globalFlags) *cobra.Command {
	var current, platform string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether a newer release is published",
		Long: `Refresh trusted metadata and compare the newest release for the platform
with the current version. The current version defaults to the one recorded in
versions/version_state.json.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if current == "" {
				state, err := a.store().Load()
				if err != nil {
					return err
				}
				current = state.Current
			}
			svc, err := a.service()
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.CheckForUpdates(cmd.Context(), current, platform)
			if err != nil {
				return err
			}
			return a.out.Write(res)
		},
	}
	cmd.Flags().StringVar(&current, "current", "", "version to compare against (default: recorded current version)")
	cmd.Flags().StringVar(&platform, "platform", release.DefaultPlatformID(), "platform identifier")
	return cmd
}

func newDownloadCommand(g *globalFlags) *cobra.Command {
	var platform string
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download and verify the newest release into the targets cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			svc, err := a.service()
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.DownloadUpdateBundle(cmd.Context(), platform)
			if err != nil {
				return err
			}
			return a.out.Write(res)
		},
	}
	cmd.Flags().StringVar(&platform, "platform", release.DefaultPlatformID(), "platform identifier")
	return cmd
}

func newApplyCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <bundle> <version>",
		Short: "Install a downloaded bundle as versions/<version>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			svc, err := a.service()
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.ApplyStagedUpdate(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.out.Write(res)
		},
	}
}

func newStateCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the recorded current and previous versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			state, err := a.store().Load()
			if err != nil {
				return err
			}
			return a.out.Write(state)
		},
	}
}

func newReconcileCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Finish version bookkeeping left by an interrupted apply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			svc, err := a.service()
			if err != nil {
				return err
			}
			defer svc.Close()

			state, err := svc.Reconcile()
			if err != nil {
				return err
			}
			return a.out.Write(state)
		},
	}
}
