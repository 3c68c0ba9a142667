// v2
// internal/cli/root.go

// Package cli wires the pipeline services into subcommands sharing one
// layered configuration and one ops HTTP surface.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all subcommands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the onlog-pipeline root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "onlog-pipeline",
		Short: "IoT sensor normalization and KPI pipeline",
		Long: `onlog-pipeline normalizes raw factory sensor records into canonical
events, aggregates them into windowed production KPIs, and lands both in a
serving database.

Each subcommand runs one service; all of them read the same configuration
file and expose /healthz, /status, and /metrics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML configuration file")

	cmd.AddCommand(NewParserCommand(opts))
	cmd.AddCommand(NewKpiCommand(opts))
	cmd.AddCommand(NewSinkCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewInitTopicsCommand(opts))

	return cmd
}
