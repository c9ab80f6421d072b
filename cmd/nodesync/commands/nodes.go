package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nodesync/nodesync-go/pkg/client"
	"github.com/nodesync/nodesync-go/pkg/config"
	"github.com/nodesync/nodesync-go/pkg/model"
	"github.com/nodesync/nodesync-go/pkg/store"
)

func newNodesCommand(opts *globalOptions) *cobra.Command {
	var (
		asJSON  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "nodes [node-id]",
		Short: "Fetch the node collection once and print it",
		Long: `Connect, request a full snapshot and print it. With a node id only that
node is printed, including its values. When the daemon cannot be reached
within --timeout the cached snapshot is printed instead (requires --state-dir).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			c, logger, err := opts.newClient(ctx, cmd, func(cfg *config.Config, _ *client.Options) {
				cfg.Metrics.Enabled = false
			})
			if err != nil {
				return err
			}
			defer closeClient(c, logger)

			snap, err := fetchOnce(ctx, c, timeout)
			if err != nil {
				if snap.Len() == 0 {
					return err
				}
				logger.Warn("daemon unreachable, showing cached snapshot", "error", err)
			}

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				n, ok := snap.Node(model.NodeID(args[0]))
				if !ok {
					return fmt.Errorf("%w: %s", store.ErrUnknownNode, args[0])
				}
				if asJSON {
					return writeJSON(out, n)
				}
				printNode(out, n)
				return nil
			}

			if asJSON {
				return writeJSON(out, snap)
			}
			printNodes(out, snap.Nodes)
			if snap.Err != "" {
				fmt.Fprintf(out, "\nLast error: %s\n", snap.Err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "How long to wait for the daemon")
	return cmd
}

// fetchOnce starts c and waits for the snapshot answering the fetch issued
// on connect. On timeout the current (possibly restored) snapshot is
// returned with the error.
func fetchOnce(ctx context.Context, c *client.Client, timeout time.Duration) (store.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan store.Snapshot, 1)
	loading := false
	sub := c.Nodes.Subscribe(func(snap store.Snapshot) {
		if snap.Loading {
			loading = true
			return
		}
		if loading {
			select {
			case done <- snap:
			default:
			}
		}
	})
	defer c.Nodes.Unsubscribe(sub)

	if err := c.Start(ctx); err != nil {
		return c.Nodes.Snapshot(), err
	}

	select {
	case snap := <-done:
		return snap, nil
	case <-ctx.Done():
		return c.Nodes.Snapshot(), fmt.Errorf("no snapshot from daemon: %w", ctx.Err())
	}
}
