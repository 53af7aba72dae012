// Command zapelmctl edits the zapelm rule database. A running daemon picks
// up the changes through its store watch and pushes them to open pages.
//
// Usage:
//
//	zapelmctl rules list [hostname]
//	zapelmctl rules add news.example.com '.promo' --action remove --mode observe
//	zapelmctl rules update news.example.com <id> --enabled=false
//	zapelmctl rules delete news.example.com <id>
//	zapelmctl export rules.json
//	zapelmctl import rules.json
//	zapelmctl debug on
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/zapelm/internal/store"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	db string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	root := &cobra.Command{
		Use:   "zapelmctl",
		Short: "Manage zapelm element rules",
		Long: `zapelmctl edits the rule database shared with the zapelm daemon.

Rules are stored per hostname. Each rule hides (CSS) or removes (DOM) the
elements matching its selector, either once on load (immediate) or also for
elements added later (observe).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.db, "db", "zapelm.db", "rule database path")

	open := func() (*store.Store, error) {
		return store.Open(flags.db, store.WithMkdirAll())
	}
	root.AddCommand(
		newRulesCmd(open),
		newExportCmd(open),
		newImportCmd(open),
		newDebugCmd(open),
	)
	return root
}

type opener func() (*store.Store, error)
