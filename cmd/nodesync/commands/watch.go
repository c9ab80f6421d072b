package commands

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/nodesync/nodesync-go/pkg/model"
	"github.com/nodesync/nodesync-go/pkg/store"
)

func newWatchCommand(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the node collection and print every change",
		Long: `Connect to the daemon and print a line for every snapshot published by
the store, followed by the nodes that were added, changed or removed.
Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			c, logger, err := opts.newClient(ctx, cmd, nil)
			if err != nil {
				return err
			}
			defer closeClient(c, logger)

			w := newWatcher(cmd.OutOrStdout(), asJSON)
			c.Nodes.Subscribe(w.onSnapshot)
			c.Connection.Subscribe(w.onStatus)

			if err := c.Start(ctx); err != nil {
				return err
			}
			if addr := c.MetricsAddr(); addr != "" {
				logger.Info("metrics exporter listening", "addr", addr)
			}

			<-ctx.Done()
			logger.Info("shutting down")
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print every snapshot as a JSON line")
	return cmd
}

// watcher prints snapshot and connection changes. Both stores deliver on
// their own goroutine, so output is serialized.
type watcher struct {
	mu     sync.Mutex
	out    io.Writer
	asJSON bool
	last   map[model.NodeID]model.Node
}

func newWatcher(out io.Writer, asJSON bool) *watcher {
	return &watcher{
		out:    out,
		asJSON: asJSON,
		last:   make(map[model.NodeID]model.Node),
	}
}

func (w *watcher) onSnapshot(snap store.Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.asJSON {
		_ = json.NewEncoder(w.out).Encode(snap)
		return
	}

	printSnapshotLine(w.out, snap)
	if snap.Loading {
		return
	}

	seen := make(map[model.NodeID]bool, len(snap.Nodes))
	for _, n := range snap.Nodes {
		seen[n.ID] = true
		prev, ok := w.last[n.ID]
		switch {
		case !ok:
			fprintln(w.out, "  + "+string(n.ID)+" "+n.Title())
		case model.Changed(prev, n):
			fprintln(w.out, "  ~ "+string(n.ID)+" "+n.Title())
		}
	}
	for id, prev := range w.last {
		if !seen[id] {
			fprintln(w.out, "  - "+string(id)+" "+prev.Title())
		}
	}

	w.last = make(map[model.NodeID]model.Node, len(snap.Nodes))
	for _, n := range snap.Nodes {
		w.last[n.ID] = n
	}
}

func (w *watcher) onStatus(status store.ConnectionStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.asJSON {
		return
	}
	printStatusLine(w.out, status)
}

func fprintln(w io.Writer, s string) {
	_, _ = io.WriteString(w, s+"\n")
}
