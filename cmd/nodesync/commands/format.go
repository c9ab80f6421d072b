package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/nodesync/nodesync-go/pkg/connection"
	"github.com/nodesync/nodesync-go/pkg/model"
	"github.com/nodesync/nodesync-go/pkg/store"
)

// printNodes writes one line per node.
func printNodes(w io.Writer, nodes []model.Node) {
	if len(nodes) == 0 {
		fmt.Fprintln(w, "No nodes")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tPRODUCT\tVALUES")
	for _, n := range nodes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", n.ID, n.Title(), productLabel(n), len(n.Values))
	}
	tw.Flush()
}

func productLabel(n model.Node) string {
	switch {
	case n.ManufacturerName != "" && n.ProductName != "":
		return n.ManufacturerName + " " + n.ProductName
	case n.ProductName != "":
		return n.ProductName
	case n.NodeType != "":
		return n.NodeType
	default:
		return "-"
	}
}

// printNode writes a node with all of its values.
func printNode(w io.Writer, n model.Node) {
	fmt.Fprintf(w, "%s (%s)\n", n.Title(), n.ID)
	if label := productLabel(n); label != "-" {
		fmt.Fprintf(w, "  Product:  %s\n", label)
	}
	if n.Location != "" {
		fmt.Fprintf(w, "  Location: %s\n", n.Location)
	}
	if len(n.Values) == 0 {
		return
	}

	fmt.Fprintln(w, "  Values:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, id := range n.ValueIDs() {
		v := n.Values[id]
		value := v.String
		if v.Units != "" {
			value += " " + v.Units
		}
		fmt.Fprintf(tw, "    %s\t%s\t%s\t%s\t%s\n", id, v.Label, value, v.Type, valueAccess(v))
	}
	tw.Flush()
}

// printDraft lists the staged edits of d against its confirmed node.
func printDraft(w io.Writer, d *model.Draft) {
	base, edited := d.Base(), d.Node()
	fmt.Fprintln(w, "  Staged:")
	if base.Name != edited.Name {
		fmt.Fprintf(w, "    name      %q -> %q\n", base.Name, edited.Name)
	}
	if base.Location != edited.Location {
		fmt.Fprintf(w, "    location  %q -> %q\n", base.Location, edited.Location)
	}
	for _, id := range edited.ValueIDs() {
		b, e := base.Values[id], edited.Values[id]
		if b.String != e.String {
			fmt.Fprintf(w, "    %-9s %s -> %s\n", id, b.String, e.String)
		}
		if e.ButtonPress && !b.ButtonPress {
			fmt.Fprintf(w, "    %-9s press\n", id)
		}
	}
}

func valueAccess(v model.Value) string {
	switch {
	case v.ReadOnly:
		return "ro"
	case v.WriteOnly:
		return "wo"
	default:
		return "rw"
	}
}

// printSnapshotLine writes a one-line summary of a snapshot.
func printSnapshotLine(w io.Writer, snap store.Snapshot) {
	ts := time.Now().Format("15:04:05.000")
	switch {
	case snap.Loading:
		fmt.Fprintf(w, "%s v%d loading...\n", ts, snap.Version)
	case snap.Err != "":
		fmt.Fprintf(w, "%s v%d %d nodes, error: %s\n", ts, snap.Version, snap.Len(), snap.Err)
	default:
		fmt.Fprintf(w, "%s v%d %d nodes\n", ts, snap.Version, snap.Len())
	}
}

func printStatusLine(w io.Writer, status store.ConnectionStatus) {
	switch {
	case status.Err != "":
		fmt.Fprintf(w, "%s connection %s: %s\n", status.Since.Format("15:04:05.000"), status.State, status.Err)
	case status.State == connection.StateReconnecting && status.Attempt > 0:
		fmt.Fprintf(w, "%s connection %s (attempt %d at %s)\n", status.Since.Format("15:04:05.000"), status.State,
			status.Attempt, status.RetryAt.Format("15:04:05"))
	default:
		fmt.Fprintf(w, "%s connection %s\n", status.Since.Format("15:04:05.000"), status.State)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
