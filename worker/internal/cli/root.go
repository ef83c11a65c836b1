// Package cli implements segctl, the operator tool for the segmentation
// worker fleet.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/spheroseg/segpipeline/worker/internal/infra/config"
)

const Version = "0.3.0"

type rootOptions struct {
	cfgFile string
	debug   bool
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "segctl",
		Short:         "Operate segmentation workers",
		Long:          "segctl extracts polygons from masks locally, publishes segmentation tasks, lists live workers and serves a synthetic segmenter.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if opts.debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", config.Path(config.DefaultPath), "worker config file")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.AddCommand(
		newExtractCmd(),
		newPublishCmd(opts),
		newInstancesCmd(opts),
		newServeSegmenterCmd(),
	)
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.cfgFile)
}

// Execute runs segctl and exits non-zero on failure.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "segctl:", err)
		os.Exit(1)
	}
}
