package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fsabeam/internal/logging"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logger, lerr := logging.New("error", true)
		if lerr != nil {
			logger = zap.NewExample()
		}
		logger.Error("fsabeam failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// rootOpts holds the flags shared by every subcommand
type rootOpts struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOpts{}

	cmd := &cobra.Command{
		Use:   "fsabeam",
		Short: "Focused-transmit synthetic aperture beamforming",
		Long: `fsabeam recovers the full synthetic aperture dataset from a set of focused
ultrasound transmits and forms a delay-and-sum B-mode image from it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "Path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override output.logLevel (debug, info, warn, error)")

	cmd.AddCommand(
		newRunCommand(opts),
		newSimulateCommand(opts),
		newConfigCommand(),
	)
	return cmd
}
