// Command narpcd is the composition root: it wires a Class, loads
// configuration, registers demonstration RPCs, and runs a context until
// shutdown.
package main

import (
	"fmt"
	"os"

	"github.com/narpc/narpc/cmd/narpcd/commands"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
