// v2
// internal/cli/parser.go
package cli

import (
	"github.com/spf13/cobra"

	"github.com/OnLog-System/onlog-pipeline/internal/dlqspill"
	"github.com/OnLog-System/onlog-pipeline/internal/ops"
	"github.com/OnLog-System/onlog-pipeline/internal/pipeline"
	"github.com/OnLog-System/onlog-pipeline/internal/store"
)

// NewParserCommand creates the parser subcommand.
func NewParserCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "parser",
		Short: "Normalize raw sensor records into canonical events",
		Long: `Consume the three raw topics, decode and validate every record, drop
duplicate transmissions, and publish canonical events or dead letter
records.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(opts, "parser")
			if err != nil {
				return err
			}
			defer rt.close()

			st, err := store.Open(rt.cfg.StorePath)
			if err != nil {
				return err
			}
			defer st.Close()

			sp, err := dlqspill.New(rt.cfg.Spill.Dir, rt.cfg.Spill.MaxBytes, rt.log)
			if err != nil {
				return err
			}

			svc, err := pipeline.NewParserService(rt.cfg, st, sp, rt.met, rt.log)
			if err != nil {
				return err
			}
			defer svc.Close()

			status := func() ops.Status {
				return ops.Status{
					Service:           "parser",
					SpillBacklogBytes: sp.BacklogBytes(),
				}
			}
			return rt.serve(svc, status, "parser")
		},
	}
}
