package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/markertrack/markertrack/cmd/params"
	"github.com/markertrack/markertrack/cmd/track"
	"github.com/markertrack/markertrack/cmd/validate"
	"github.com/markertrack/markertrack/internal/buildinfo"
	"github.com/markertrack/markertrack/internal/conf"
	"github.com/markertrack/markertrack/internal/cpuspec"
	"github.com/markertrack/markertrack/internal/errors"
	"github.com/markertrack/markertrack/internal/logger"
)

const sentryFlushTimeout = 2 * time.Second

// RootCommand creates and returns the root command
func RootCommand(build *buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}
	var configFile string
	var closeLogger func() error

	rootCmd := &cobra.Command{
		Use:           "markertrack",
		Short:         "Fiducial marker tracking pipeline",
		Version:       build.Version(),
		SilenceUsage:  true,
	}

	if err := setupFlags(rootCmd, &configFile); err != nil {
		panic(err)
	}

	trackCmd := track.Command(settings, build)
	validateCmd := validate.Command(&configFile, build)
	paramsCmd := params.Command()

	rootCmd.AddCommand(trackCmd, validateCmd, paramsCmd)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// validate and params report on configuration themselves
		if cmd.Name() != trackCmd.Name() {
			return nil
		}

		loaded, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded

		closeLogger, err = initialize(settings, build)
		return err
	}

	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if settings.Sentry.Enabled {
			errors.FlushSentry(sentryFlushTimeout)
		}
		if closeLogger != nil {
			return closeLogger()
		}
		return nil
	}

	return rootCmd
}

// initialize installs the central logger and error telemetry before a subcommand runs
func initialize(settings *conf.Settings, build *buildinfo.Context) (func() error, error) {
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	if settings.Sentry.Enabled {
		if err := errors.InitSentry(settings.Sentry.DSN, settings.Sentry.Environment, build.Release()); err != nil {
			// telemetry is optional, keep running without it
			central.Module("main").Warn("sentry disabled", logger.Error(err))
		}
	}

	cpu := cpuspec.GetCPUSpec()
	central.Module("main").Info("markertrack starting",
		logger.String("version", build.Version()),
		logger.String("build_date", build.BuildDate()),
		logger.String("cpu", cpu.BrandName),
		logger.Int("cpus", cpu.AvailableCPUs),
		logger.Bool("debug", settings.Main.Debug))

	return central.Close, nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	rootCmd.PersistentFlags().StringVarP(configFile, "config", "c", "", "Path to config.yaml (default: search standard locations)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	if err := viper.BindPFlag("main.debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
