package main

import (
	"github.com/spf13/cobra"
)

// These are set by the build.
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "araim",
		Short: "Advanced RAIM fault detection and protection level monitor",
		Long: `araim computes ARAIM protection levels for a multi-constellation receiver,
detects and excludes faulty satellites, and exposes the result over gRPC and
Prometheus.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")

	cmd.AddCommand(
		newRunCmd(opts),
		newCheckConfigCmd(opts),
		newStatusCmd(),
		newVersionCmd(),
	)
	return cmd
}
