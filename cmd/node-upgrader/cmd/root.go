package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/node-upgrader/internal/config"
	"github.com/oshokin/node-upgrader/internal/logger"
	"github.com/oshokin/node-upgrader/internal/service/upgrader"
	"github.com/oshokin/node-upgrader/internal/version"
)

var errUnknownLogLevel = errors.New("unknown log level")

//nolint:gochecknoglobals // Cobra flag bindings.
var (
	// options collects the flags shared by the root and check commands.
	options upgrader.Options

	// logLevel is the minimum level written to the log.
	logLevel string

	// rootCmd builds the latest node release and switches supervisord to it.
	rootCmd = &cobra.Command{
		Use:   "node-upgrader",
		Short: "Build the latest node release and switch supervisord to it",
		Long: "Fetch release tags into the node source tree, check out the newest one, patch and build it, " +
			"publish the binary next to the previous ones and point the supervisor program config at it.",
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		PersistentPreRunE: setupLogging,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return upgrader.Run(ctx, &options)
		},
	}

	// initSettingsCmd writes the default settings file.
	initSettingsCmd = &cobra.Command{
		Use:   "init-settings <path>",
		Short: "Write the default settings to a new YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Init(args[0]); err != nil {
				return err
			}

			_, err := fmt.Fprintf(cmd.OutOrStdout(), "default settings written to %s\n", args[0])

			return err
		},
	}

	// checkCmd reports whether a newer release is available.
	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Report the latest and deployed releases without upgrading",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			status, err := upgrader.Check(ctx, &options)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "latest: %s\ncurrent: %s\nupgrade pending: %t\n",
				status.Latest, status.Current, status.Pending)

			return err
		},
	}
)

// Execute runs the node-upgrader CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	err := rootCmd.Execute()

	_ = logger.Logger().Sync()

	if err != nil {
		os.Exit(1)
	}
}

func setupLogging(_ *cobra.Command, _ []string) error {
	level, ok := logger.ParseLogLevel(logLevel)
	if !ok {
		return fmt.Errorf("%w: %q", errUnknownLogLevel, logLevel)
	}

	logger.SetLevel(level)

	return nil
}

// bindSourceFlags adds the flags locating the deployment to cmd.
func bindSourceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&options.ConfigPath, "config", "c", "", "supervisor program config to rewrite")
	cmd.Flags().StringVarP(&options.SourceDir, "src", "s", "", "git working copy of the node sources")
	cmd.Flags().StringVar(&options.SettingsPath, "settings", "", "optional settings YAML file")

	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("src")
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	bindSourceFlags(rootCmd)
	bindSourceFlags(checkCmd)

	rootCmd.Flags().StringVarP(&options.BinaryDir, "bin", "b", "", "directory receiving built binaries")
	rootCmd.Flags().BoolVarP(&options.OnlyNew, "new", "n", false, "do nothing when the latest release is already deployed")
	rootCmd.Flags().BoolVar(&options.SkipStatus, "skip-status", false, "do not report supervisor status after reloading")

	_ = rootCmd.MarkFlagRequired("bin")

	rootCmd.AddCommand(checkCmd, initSettingsCmd)
}
