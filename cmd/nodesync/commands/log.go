package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Analyze protocol capture files",
		Long: `Protocol captures are written with --protocol-log (or log.protocol_file)
as a stream of CBOR events, one per transport frame, decoded envelope,
connection state change and store snapshot.`,
	}
	cmd.AddCommand(newLogViewCommand(), newLogStatsCommand(), newLogExportCommand(), newLogFilterCommand())
	return cmd
}

func newLogViewCommand() *cobra.Command {
	var layer, direction, category, topic, nodeID string

	cmd := &cobra.Command{
		Use:   "view <file.nlog>",
		Short: "View a capture in human-readable format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseEventFlags(layer, direction, category)
			if err != nil {
				return err
			}
			filter.Topic = topic
			filter.NodeID = nodeID
			return RunView(args[0], filter, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&layer, "layer", "", "Filter by layer (transport, wire, store)")
	cmd.Flags().StringVar(&direction, "direction", "", "Filter by direction (in, out)")
	cmd.Flags().StringVar(&category, "category", "", "Filter by category (message, control, state, error, snapshot)")
	cmd.Flags().StringVar(&topic, "topic", "", "Filter messages by topic")
	cmd.Flags().StringVar(&nodeID, "node", "", "Filter messages by node id")
	return cmd
}

func newLogStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <file.nlog>",
		Short: "Show statistics about a capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunStats(args[0], cmd.OutOrStdout())
		},
	}
}

func newLogExportCommand() *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "export <file.nlog>",
		Short: "Export a capture to JSONL or CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunExport(args[0], format, output, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "jsonl", "Output format (jsonl, csv)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	return cmd
}

func newLogFilterCommand() *cobra.Command {
	var opts FilterOptions

	cmd := &cobra.Command{
		Use:   "filter <file.nlog>",
		Short: "Write the matching events of a capture to a new file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := RunFilter(args[0], opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Filtered %d events to %s\n", n, opts.Output)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.Output, "output", "o", "", "Output file (required)")
	flags.StringVar(&opts.ConnID, "conn-id", "", "Filter by connection id")
	flags.StringVar(&opts.Topic, "topic", "", "Filter messages by topic")
	flags.StringVar(&opts.NodeID, "node", "", "Filter messages by node id")
	flags.StringVar(&opts.TimeStart, "time-start", "", "Keep events at or after this time (RFC3339)")
	flags.StringVar(&opts.TimeEnd, "time-end", "", "Keep events before this time (RFC3339)")
	flags.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, wire, store)")
	flags.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	flags.StringVar(&opts.Category, "category", "", "Filter by category")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
