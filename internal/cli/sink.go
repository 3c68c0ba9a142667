// v1
// internal/cli/sink.go
package cli

import (
	"github.com/spf13/cobra"

	"github.com/OnLog-System/onlog-pipeline/internal/sink"
)

// NewSinkCommand creates the sink subcommand.
func NewSinkCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sink",
		Short: "Land canonical events and KPI snapshots in the serving database",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(opts, "sink")
			if err != nil {
				return err
			}
			defer rt.close()

			svc, err := sink.NewService(rt.cfg, rt.met, rt.log)
			if err != nil {
				return err
			}
			defer svc.Close()

			return rt.serve(svc, nil, "sink")
		},
	}
}
