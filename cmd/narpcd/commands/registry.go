package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/narpc/narpc/internal/cli/output"
	"github.com/narpc/narpc/pkg/class"
	"github.com/narpc/narpc/pkg/registry"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Print the built-in RPC registrations narpcd would serve",
	Long: `Registry builds the same Class and set of demonstration RPCs
"narpcd serve" would, then prints the registry's snapshot without opening
any transport listener or blocking for signals. Useful for checking which
ids/names a build would respond to before running it.`,
	RunE: runRegistry,
}

// registrySnapshot adapts []registry.Summary to output.TableRenderer, the
// same "named slice + Headers/Rows" shape used for every other
// table-printed listing in this CLI.
type registrySnapshot []registry.Summary

// Headers implements output.TableRenderer.
func (s registrySnapshot) Headers() []string {
	return []string{"ID", "NAME", "RESPONSE SUPPRESSED"}
}

// Rows implements output.TableRenderer.
func (s registrySnapshot) Rows() [][]string {
	rows := make([][]string, 0, len(s))
	for _, rec := range s {
		name := rec.Name
		if name == "" {
			name = "-"
		}
		rows = append(rows, []string{strconv.FormatUint(rec.ID, 10), name, strconv.FormatBool(rec.ResponseSuppressed)})
	}
	return rows
}

func runRegistry(cmd *cobra.Command, args []string) error {
	c, err := class.Init("loopback://registry-dump", false)
	if err != nil {
		return fmt.Errorf("failed to open class: %w", err)
	}

	ctx, err := c.CreateContext()
	if err != nil {
		return fmt.Errorf("failed to create context: %w", err)
	}

	registerBuiltinRPCs(c.Registry(), ctx)

	return output.PrintTable(os.Stdout, registrySnapshot(c.Registry().Snapshot()))
}
