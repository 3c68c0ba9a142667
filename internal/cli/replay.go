// v1
// internal/cli/replay.go
package cli

import (
	"github.com/spf13/cobra"

	"github.com/OnLog-System/onlog-pipeline/internal/replay"
)

// NewReplayCommand creates the replay subcommand.
func NewReplayCommand(opts *RootOptions) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Republish edge-captured raw records to the raw topics",
		Long: `Tail the raw log databases written by edge collectors and publish
their records to the raw topics. Realtime mode starts just behind now and
follows the logs; backfill replays every log from the beginning and exits
once all are drained.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(opts, "replay")
			if err != nil {
				return err
			}
			defer rt.close()

			if mode != "" {
				rt.cfg.Replay.Mode = mode
				if err := rt.cfg.Validate(); err != nil {
					return err
				}
			}

			r, err := replay.New(rt.cfg, rt.met, rt.log)
			if err != nil {
				return err
			}
			defer r.Close()

			return rt.serve(r, nil, "replay")
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "replay mode (realtime|backfill), overrides config")
	return cmd
}
