// v1
// internal/cli/inittopics.go
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/OnLog-System/onlog-pipeline/internal/topics"
)

// NewInitTopicsCommand creates the init-topics subcommand.
func NewInitTopicsCommand(opts *RootOptions) *cobra.Command {
	var partitions, replication int

	cmd := &cobra.Command{
		Use:   "init-topics",
		Short: "Create the pipeline's Kafka topics and verify their layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(opts, "init-topics")
			if err != nil {
				return err
			}
			defer rt.close()

			layout := topics.ForConfig(rt.cfg, partitions, replication)
			return topics.Ensure(context.Background(), rt.cfg.Brokers, layout, rt.log)
		},
	}

	cmd.Flags().IntVar(&partitions, "partitions", 3, "partition count for keyed topics")
	cmd.Flags().IntVar(&replication, "replication", 1, "replication factor for all topics")
	return cmd
}
