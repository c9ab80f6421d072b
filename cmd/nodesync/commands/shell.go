package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/nodesync/nodesync-go/pkg/model"
	"github.com/nodesync/nodesync-go/pkg/store"
)

func newShellCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive shell for browsing and editing nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			var sh *Shell
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "nodesync> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
				AutoComplete: readline.NewPrefixCompleter(
					readline.PcItem("help"),
					readline.PcItem("list"),
					readline.PcItem("show", readline.PcItemDynamic(func(string) []string { return sh.nodeIDs() })),
					readline.PcItem("fetch"),
					readline.PcItem("toggle", readline.PcItemDynamic(func(string) []string { return sh.nodeIDs() })),
					readline.PcItem("name", readline.PcItemDynamic(func(string) []string { return sh.nodeIDs() })),
					readline.PcItem("location", readline.PcItemDynamic(func(string) []string { return sh.nodeIDs() })),
					readline.PcItem("set", readline.PcItemDynamic(func(string) []string { return sh.nodeIDs() })),
					readline.PcItem("press", readline.PcItemDynamic(func(string) []string { return sh.nodeIDs() })),
					readline.PcItem("send", readline.PcItemDynamic(func(string) []string { return sh.nodeIDs() })),
					readline.PcItem("discard", readline.PcItemDynamic(func(string) []string { return sh.nodeIDs() })),
					readline.PcItem("status"),
					readline.PcItem("quit"),
				),
			})
			if err != nil {
				return fmt.Errorf("failed to create readline: %w", err)
			}
			defer rl.Close()

			// Route log output through readline so it does not clobber the prompt.
			cmd.SetErr(rl.Stderr())

			c, logger, err := opts.newClient(ctx, cmd, nil)
			if err != nil {
				return err
			}
			defer closeClient(c, logger)

			sh = NewShell(c.Nodes, c.Connection, rl.Stdout())
			c.Nodes.Subscribe(sh.onSnapshot)
			c.Connection.Subscribe(sh.onStatus)

			if err := c.Start(ctx); err != nil {
				return err
			}
			sh.Run(ctx, rl)
			return nil
		},
	}
}

// Shell executes interactive commands against the node store.
//
// Edits are staged per node and go out with send. Every snapshot rebases the
// staged drafts, so edits survive pushes from other clients.
type Shell struct {
	nodes *store.NodeStore
	conn  *store.ConnectionStore
	out   io.Writer

	// mu guards drafts and lastErr, and serializes output.
	mu      sync.Mutex
	drafts  map[model.NodeID]*model.Draft
	lastErr string
}

// NewShell creates a shell writing to out.
func NewShell(nodes *store.NodeStore, conn *store.ConnectionStore, out io.Writer) *Shell {
	return &Shell{
		nodes:  nodes,
		conn:   conn,
		out:    out,
		drafts: make(map[model.NodeID]*model.Draft),
	}
}

// Run reads commands until quit, EOF or ctx is done.
func (s *Shell) Run(ctx context.Context, rl *readline.Instance) {
	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			return
		}
		if !s.Exec(line) {
			return
		}
	}
}

// Exec runs one command line. It returns false when the shell should exit.
func (s *Shell) Exec(line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()

	case "list", "ls":
		printNodes(s.out, s.nodes.Snapshot().Nodes)

	case "show", "s":
		s.cmdShow(args)

	case "fetch", "f":
		s.report(s.nodes.RequestFetch(), "Fetching nodes...")

	case "toggle", "t":
		if id, ok := s.nodeArg(args, "toggle <node-id>"); ok {
			s.report(s.nodes.RequestToggle(id), "Toggle sent")
		}

	case "name":
		if len(args) < 2 {
			s.usage("name <node-id> <name>")
			return true
		}
		s.stage(model.NodeID(args[0]), model.NodePatch{}.SetName(strings.Join(args[1:], " ")))

	case "location", "loc":
		if len(args) < 2 {
			s.usage("location <node-id> <location>")
			return true
		}
		s.stage(model.NodeID(args[0]), model.NodePatch{}.SetLocation(strings.Join(args[1:], " ")))

	case "set":
		if len(args) < 3 {
			s.usage("set <node-id> <value-id> <value>")
			return true
		}
		s.stage(model.NodeID(args[0]), model.NodePatch{}.SetValue(model.ValueID(args[1]), strings.Join(args[2:], " ")))

	case "press":
		if len(args) != 2 {
			s.usage("press <node-id> <value-id>")
			return true
		}
		s.stage(model.NodeID(args[0]), model.NodePatch{}.PressButton(model.ValueID(args[1])))

	case "send":
		if id, ok := s.nodeArg(args, "send <node-id>"); ok {
			s.send(id)
		}

	case "discard":
		if id, ok := s.nodeArg(args, "discard <node-id>"); ok {
			s.discard(id)
		}

	case "status":
		s.cmdStatus()

	case "quit", "exit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return false

	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
nodesync Commands:
  Browsing:
    list                          - List nodes
    show <node-id>                - Show a node and its values
    fetch                         - Reload the collection from the daemon

  Editing:
    toggle <node-id>              - Toggle a node's switches
    name <node-id> <name>         - Stage a new name
    location <node-id> <location> - Stage a new location
    set <node-id> <value-id> <v>  - Stage a value
    press <node-id> <value-id>    - Stage a button press
    send <node-id>                - Send the staged edits
    discard <node-id>             - Drop the staged edits

  General:
    status                        - Show connection and store status
    help                          - Show this help
    quit                          - Exit`)
}

func (s *Shell) cmdShow(args []string) {
	id, ok := s.nodeArg(args, "show <node-id>")
	if !ok {
		return
	}
	n, found := s.nodes.Node(id)
	if !found {
		fmt.Fprintf(s.out, "Unknown node: %s\n", id)
		return
	}
	printNode(s.out, n)

	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.drafts[id]; ok && d.Changed() {
		printDraft(s.out, d)
	}
}

func (s *Shell) cmdStatus() {
	status := s.conn.Status()
	snap := s.nodes.Snapshot()

	fmt.Fprintf(s.out, "Connection: %s (since %s)\n", status.State, status.Since.Format("15:04:05"))
	fmt.Fprintf(s.out, "Nodes:      %d\n", snap.Len())
	fmt.Fprintf(s.out, "Version:    %d\n", snap.Version)
	if snap.Loading {
		fmt.Fprintln(s.out, "Loading:    yes")
	}
	if snap.Err != "" {
		fmt.Fprintf(s.out, "Last error: %s\n", snap.Err)
	}
}

// stage merges p into the node's draft.
func (s *Shell) stage(id model.NodeID, p model.NodePatch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drafts[id]
	if !ok {
		n, found := s.nodes.Node(id)
		if !found {
			s.report(fmt.Errorf("%w: %s", store.ErrUnknownNode, id), "")
			return
		}
		d = model.NewDraft(n)
		s.drafts[id] = d
	}
	if err := d.Apply(p); err != nil {
		s.report(err, "")
		return
	}
	if !d.Changed() {
		fmt.Fprintln(s.out, "No change")
		return
	}
	fmt.Fprintf(s.out, "Staged, 'send %s' to apply\n", id)
}

// send transmits the staged edits on top of the latest confirmed node.
// The draft is kept when sending fails.
func (s *Shell) send(id model.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drafts[id]
	if !ok || !d.Changed() {
		if _, found := s.nodes.Node(id); !found {
			s.report(fmt.Errorf("%w: %s", store.ErrUnknownNode, id), "")
			return
		}
		fmt.Fprintln(s.out, "No change")
		return
	}

	sent, err := s.nodes.RequestPatch(id, d.Patch())
	if err != nil {
		s.report(err, "")
		return
	}
	d.Reset()
	if !sent {
		fmt.Fprintln(s.out, "No change")
		return
	}
	fmt.Fprintln(s.out, "Update sent")
}

func (s *Shell) discard(id model.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.drafts[id]; ok && d.Changed() {
		d.Reset()
		fmt.Fprintln(s.out, "Discarded")
		return
	}
	fmt.Fprintln(s.out, "Nothing staged")
}

func (s *Shell) nodeArg(args []string, usage string) (model.NodeID, bool) {
	if len(args) != 1 {
		s.usage(usage)
		return "", false
	}
	return model.NodeID(args[0]), true
}

func (s *Shell) usage(u string) {
	fmt.Fprintf(s.out, "Usage: %s\n", u)
}

func (s *Shell) report(err error, ok string) {
	switch {
	case err == nil:
		fmt.Fprintln(s.out, ok)
	case errors.Is(err, model.ErrReadOnlyValue), errors.Is(err, model.ErrUnknownValue), errors.Is(err, store.ErrUnknownNode):
		fmt.Fprintf(s.out, "Rejected: %v\n", err)
	default:
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
}

func (s *Shell) nodeIDs() []string {
	if s == nil {
		return nil
	}
	snap := s.nodes.Snapshot()
	ids := make([]string, len(snap.Nodes))
	for i, n := range snap.Nodes {
		ids[i] = string(n.ID)
	}
	return ids
}

// onSnapshot rebases the drafts and reports new daemon failures.
// Drafts of nodes missing from a settled snapshot are dropped.
func (s *Shell) onSnapshot(snap store.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !snap.Loading {
		confirmed := make(map[model.NodeID]model.Node, len(snap.Nodes))
		for _, n := range snap.Nodes {
			confirmed[n.ID] = n
		}
		for id, d := range s.drafts {
			n, ok := confirmed[id]
			if !ok {
				delete(s.drafts, id)
				continue
			}
			d.Rebase(n)
		}
	}

	if snap.Err != "" && snap.Err != s.lastErr {
		fmt.Fprintf(s.out, "daemon error: %s\n", snap.Err)
	}
	s.lastErr = snap.Err
}

func (s *Shell) onStatus(status store.ConnectionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	printStatusLine(s.out, status)
}
