package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "./cyclex.yaml"

var flagConfig string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "cyclex",
		Short:        "Cyclic executive for a periodic measure/display/telemetry loop",
		Long:         "cyclex dispatches a static table of periodic tasks on a fixed tick and reports measurements over a serial-style telemetry link.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", defaultConfigPath, "path to the config file (YAML or JSON)")

	root.AddCommand(
		newRunCmd(),
		newAuditCmd(),
	)
	return root
}
