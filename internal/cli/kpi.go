// v2
// internal/cli/kpi.go
package cli

import (
	"github.com/spf13/cobra"

	"github.com/OnLog-System/onlog-pipeline/internal/ops"
	"github.com/OnLog-System/onlog-pipeline/internal/pipeline"
	"github.com/OnLog-System/onlog-pipeline/internal/store"
)

// NewKpiCommand creates the kpi subcommand.
func NewKpiCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "kpi",
		Short: "Aggregate canonical events into windowed production KPIs",
		Long: `Consume canonical events, maintain tumbling windows per tenant and
line, and emit a production and yield snapshot when each window closes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(opts, "kpi")
			if err != nil {
				return err
			}
			defer rt.close()

			st, err := store.Open(rt.cfg.StorePath)
			if err != nil {
				return err
			}
			defer st.Close()

			svc, err := pipeline.NewKpiService(rt.cfg, st, rt.met, rt.log)
			if err != nil {
				return err
			}
			defer svc.Close()

			status := func() ops.Status {
				watermark, open := svc.Status()
				return ops.Status{
					Service:     "kpi",
					WatermarkMs: watermark,
					OpenWindows: open,
				}
			}
			return rt.serve(svc, status, "kpi")
		},
	}
}
