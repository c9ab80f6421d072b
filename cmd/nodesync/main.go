// Command nodesync is a real-time state sync client for node daemons.
//
// Usage:
//
//	nodesync <command> [flags]
//
// Commands:
//
//	watch         Follow the node collection and print every change
//	nodes         Fetch the node collection once and print it
//	shell         Interactive shell for browsing and editing nodes
//	cache         Inspect the snapshot cache
//	announce      Announce a daemon URL over mDNS
//	log           Analyze protocol capture files (view, stats, export, filter)
//
// Examples:
//
//	# Follow a daemon and keep a snapshot cache
//	nodesync watch --url ws://hub.local:8080/ws --state-dir ~/.nodesync
//
//	# Capture the protocol while working in the shell
//	nodesync shell --discover --protocol-log session.nlog
//
//	# Show only outgoing messages of a capture
//	nodesync log view --direction out session.nlog
package main

import (
	"os"

	"github.com/nodesync/nodesync-go/cmd/nodesync/commands"
)

func main() {
	os.Exit(commands.Execute())
}
