package commands

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nodesync/nodesync-go/pkg/persistence"
)

// ErrNoStateDir is returned by the cache commands when caching is off.
var ErrNoStateDir = errors.New("no state directory configured (use --state-dir or state_dir)")

func newCacheCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the snapshot cache",
	}

	var asJSON bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the cached snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := opts.statePath(cmd)
			if err != nil {
				return err
			}
			return RunCacheShow(path, asJSON, cmd.OutOrStdout())
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "Print the raw cache document")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the cached snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := opts.statePath(cmd)
			if err != nil {
				return err
			}
			if err := persistence.NewSnapshotStateStore(path).Clear(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", path)
			return nil
		},
	}

	cmd.AddCommand(show, clearCmd)
	return cmd
}

func (o *globalOptions) statePath(cmd *cobra.Command) (string, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return "", err
	}
	path := cfg.StatePath()
	if path == "" {
		return "", ErrNoStateDir
	}
	return path, nil
}

// RunCacheShow prints the snapshot cache at path.
func RunCacheShow(path string, asJSON bool, w io.Writer) error {
	state, err := persistence.NewSnapshotStateStore(path).Load()
	if err != nil {
		return err
	}
	if state == nil {
		fmt.Fprintf(w, "No cached snapshot at %s\n", path)
		return nil
	}
	if asJSON {
		return writeJSON(w, state)
	}

	fmt.Fprintf(w, "Daemon:   %s\n", orDash(state.URL))
	fmt.Fprintf(w, "Saved at: %s\n", state.SavedAt.Format(time.RFC3339))
	if state.Err != "" {
		fmt.Fprintf(w, "Error:    %s\n", state.Err)
	}
	fmt.Fprintln(w)
	printNodes(w, state.Nodes)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
